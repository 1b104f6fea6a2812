// Package httpx holds the JSON GET helper shared by the location and
// transit backends.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrMalformed marks a response that arrived but could not be decoded:
// HTML error pages, empty bodies, truncated JSON.
var ErrMalformed = errors.New("malformed response")

const maxBody = 8 << 20

// Client issues GET requests with a fixed User-Agent.
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

func New(userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// GetJSON fetches base+path?query and decodes the body into out.
// Transport errors and non-200 statuses are returned as is; bodies that are
// not JSON wrap ErrMalformed.
func (c *Client) GetJSON(ctx context.Context, base, path string, query url.Values, out any) error {
	u := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return fmt.Errorf("GET %s: %w: not JSON (%s)", path, ErrMalformed, resp.Header.Get("Content-Type"))
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("GET %s: %w: %v", path, ErrMalformed, err)
	}
	return nil
}
