// Package transport is an authenticated JSON client for the Matrix client-server API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/kit-dsn/pfennigfuchs/internal/metrics"
)

const (
	ClientPrefix = "/_matrix/client/v3"

	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
)

// Transport is what the sync driver needs from a homeserver connection.
// out may be nil when the response body is not needed.
type Transport interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, query url.Values, body, out any) error
	Put(ctx context.Context, path string, query url.Values, body, out any) error
}

// Error is a non-2xx homeserver response.
type Error struct {
	StatusCode   int
	ErrCode      string
	Message      string
	RetryAfterMs int64
}

func (e *Error) Error() string {
	if e.ErrCode == "" {
		return fmt.Sprintf("homeserver error %d", e.StatusCode)
	}
	return fmt.Sprintf("homeserver error %d: %s: %s", e.StatusCode, e.ErrCode, e.Message)
}

// IsNotFound reports whether err is a 404 or an M_NOT_FOUND response.
func IsNotFound(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.StatusCode == http.StatusNotFound || e.ErrCode == ErrCodeNotFound
}

// IsRateLimited reports whether err is an M_LIMIT_EXCEEDED response.
func IsRateLimited(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.ErrCode == ErrCodeLimitExceeded || e.StatusCode == http.StatusTooManyRequests
}

// RetryAfter returns the server's suggested wait for a rate-limited err.
func RetryAfter(err error) time.Duration {
	var e *Error
	if !errors.As(err, &e) {
		return 0
	}
	return time.Duration(e.RetryAfterMs) * time.Millisecond
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for the homeserver at baseURL. A nil httpClient
// uses one without a global timeout; long polls are bounded by the caller's context.
func NewClient(baseURL, token string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.do(ctx, http.MethodPost, path, query, body, out)
}

func (c *Client) Put(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.do(ctx, http.MethodPut, path, query, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + ClientPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else if method != http.MethodGet {
		reader = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.HomeserverRequestDuration.WithLabelValues(method, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	metrics.HomeserverRequestDuration.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		e := &Error{
			StatusCode:   resp.StatusCode,
			ErrCode:      gjson.GetBytes(respBody, "errcode").Str,
			Message:      gjson.GetBytes(respBody, "error").Str,
			RetryAfterMs: gjson.GetBytes(respBody, "retry_after_ms").Int(),
		}
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Str("errcode", e.ErrCode).Msg("homeserver request failed")
		return e
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// PathEscape escapes a single path segment such as a room or user id.
func PathEscape(segment string) string {
	return url.PathEscape(segment)
}
