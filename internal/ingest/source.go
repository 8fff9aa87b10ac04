// Package ingest loads partner catalog data from upstream HTTP sources into
// the canonical store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/coursekey"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/pkg/config"
	"github.com/suteetoe/coursecatalog/pkg/httpx"
	"github.com/suteetoe/coursecatalog/pkg/oauth"
	"go.uber.org/zap"
)

// DefaultPageSize is the page size requested from every upstream listing
const DefaultPageSize = 50

// Page is one page of an upstream listing
type Page struct {
	Count   int               `json:"count"`
	Next    string            `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// Fetcher reads one upstream page
type Fetcher interface {
	GetJSON(ctx context.Context, url string, out any) error
}

// NewFetcher builds the upstream client for a partner. Partners with OAuth
// credentials get a client-credentials token on every request.
func NewFetcher(p *model.Partner, cfg config.IngestConfig, log *zap.Logger) *httpx.Client {
	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	if p.HasOAuth() {
		hc.Transport = oauth.NewClient(p.OAuth2ProviderURL, p.OAuth2ClientID, p.OAuth2ClientSecret, log).Transport(nil)
	}
	return httpx.NewClient(hc, httpx.RetryConfig{MaxAttempts: cfg.MaxAttempts}, log)
}

// firstPageURL adds page_size to endpoint, keeping its other parameters
func firstPageURL(endpoint string, pageSize int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid upstream url %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("page_size", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Clean strips surrounding whitespace from every string in v, recursing into
// objects and arrays
func Clean(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for k, e := range t {
			t[k] = Clean(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = Clean(e)
		}
		return t
	default:
		return v
	}
}

// decodeRecord cleans raw and decodes it into out
// runKeyOf normalizes an upstream course-run id (course-v1: prefixed or
// legacy slash form) to the stored org+number+run key
func runKeyOf(id string) (string, error) {
	rk, err := coursekey.Parse(id)
	if err != nil {
		return id, apperr.Validation("%s", err.Error())
	}
	return rk.String(), nil
}

func decodeRecord(raw json.RawMessage, out any) error {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("malformed record: %w", err)
	}
	cleaned, err := json.Marshal(Clean(generic))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(cleaned, out); err != nil {
		return fmt.Errorf("malformed record: %w", err)
	}
	return nil
}
