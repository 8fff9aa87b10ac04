package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenResponse represents the response from the OAuth token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client obtains client-credentials access tokens for a partner and caches
// them until shortly before they expire.
type Client struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenType   string
	tokenExpiry time.Time
	now         func() time.Time
}

// expirySkew refreshes tokens slightly early so in-flight pages never carry a stale token
const expirySkew = 30 * time.Second

// NewClient creates a new OAuth client. providerURL is the partner's OAuth2
// provider root; tokens are requested from <providerURL>/access_token.
func NewClient(providerURL, clientID, clientSecret string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		TokenURL:     strings.TrimRight(providerURL, "/") + "/access_token",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		Logger:       logger,
		now:          time.Now,
	}
}

// Token returns a cached token or requests a new one with the client credentials grant
func (c *Client) Token(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.tokenType, c.accessToken, nil
	}

	c.Logger.Debug("Requesting client credentials token", zap.String("client_id", c.ClientID))

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("token_type", "jwt")

	tokenResp, err := c.requestToken(ctx, data)
	if err != nil {
		return "", "", err
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenType = tokenResp.TokenType
	if c.tokenType == "" {
		c.tokenType = "Bearer"
	}
	c.tokenExpiry = c.now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - expirySkew)
	return c.tokenType, c.accessToken, nil
}

// Transport returns a RoundTripper that authenticates every outbound request
func (c *Client) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{client: c, base: base}
}

type transport struct {
	client *Client
	base   http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tokenType, token, err := t.client.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", tokenType+" "+token)
	return t.base.RoundTrip(clone)
}

// Helper function to make token requests
func (c *Client) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+c.basicAuth())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil || errorResp.Error == "" {
			return nil, fmt.Errorf("error requesting token: %d %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("error requesting token: %s - %s", errorResp.Error, errorResp.ErrorDescription)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("error requesting token: empty access token")
	}
	return &tokenResp, nil
}

func (c *Client) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
}
