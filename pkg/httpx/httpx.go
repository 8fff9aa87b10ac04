package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPError carries status/body for non-2xx responses.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %s %s status=%d body=%s", e.Method, e.URL, e.StatusCode, Snippet(e.Body, 500))
}

// Snippet trims a response body for logs and error messages.
func Snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// RetryConfig controls retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RetryStatuses map[int]bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    20 * time.Second,
		RetryStatuses: map[int]bool{
			http.StatusTooManyRequests:    true,
			http.StatusRequestTimeout:     true,
			http.StatusBadGateway:         true,
			http.StatusServiceUnavailable: true,
			http.StatusGatewayTimeout:     true,
		},
	}
}

// Client executes JSON GETs against upstream sources with bounded retries.
type Client struct {
	HTTP  *http.Client
	Retry RetryConfig
	Log   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient wraps an http.Client. The http.Client timeout is the per-call bound.
func NewClient(hc *http.Client, retry RetryConfig, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if retry.RetryStatuses == nil {
		retry.RetryStatuses = DefaultRetryConfig().RetryStatuses
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{HTTP: hc, Retry: retry, Log: log, sleep: sleepCtx}
}

// GetJSON fetches url and unmarshals the body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json parse error: %w body=%s", err, Snippet(body, 500))
	}
	return nil
}

// Get performs a GET with retries and returns the full body of a 2xx response.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.Retry.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if !isRetryableNetErr(err) {
				return nil, err
			}
			lastErr = err
			if err := c.backoff(ctx, attempt, 0); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := readAndClose(resp.Body)
		if readErr != nil {
			lastErr = readErr
			if err := c.backoff(ctx, attempt, 0); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		herr := &HTTPError{Method: req.Method, URL: url, StatusCode: resp.StatusCode, Body: body}
		if !c.Retry.RetryStatuses[resp.StatusCode] && resp.StatusCode < 500 {
			return nil, herr
		}
		lastErr = herr
		c.Log.Warn("Retrying upstream request",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt))
		if err := c.backoff(ctx, attempt, ParseRetryAfter(resp)); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("httpx: request failed")
	}
	return nil, lastErr
}

func (c *Client) backoff(ctx context.Context, attempt int, retryAfter time.Duration) error {
	if attempt >= c.Retry.MaxAttempts {
		return nil
	}
	d := retryAfter
	if d <= 0 {
		d = c.Retry.BaseDelay * time.Duration(1<<(attempt-1))
		if d > c.Retry.MaxDelay {
			d = c.Retry.MaxDelay
		}
		d += time.Duration(rand.Intn(250)) * time.Millisecond
	}
	return c.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readAndClose(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

func isRetryableNetErr(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}

// ParseRetryAfter parses the Retry-After header (seconds or HTTP date).
func ParseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
