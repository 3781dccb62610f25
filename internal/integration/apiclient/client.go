// Package apiclient is the bearer-token JSON client shared by platform
// adapters. Failed responses become *platform.Error values classified by
// status code, and idempotent requests are retried on transport failures.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/areahub/internal/platform"
)

const maxErrorBody = 64 << 10

// Client calls one platform API.
type Client struct {
	// BaseURL is prefixed to every request path (required)
	BaseURL string

	// HTTPClient performs requests (default: 30s timeout client)
	HTTPClient *http.Client

	// Header is added to every request (e.g. a client id header)
	Header http.Header

	// Retry controls retries of idempotent requests (default: DefaultRetryConfig)
	Retry *RetryConfig
}

// New creates a client for baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, token string, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, token, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path, token string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, token, in, out)
}

// Do issues a request. in is JSON-encoded when non-nil; out is decoded when
// non-nil and the response has a body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, token string, in, out any) error {
	endpoint := c.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempt := func(ctx context.Context) (time.Duration, error) {
		return c.once(ctx, method, endpoint, token, body, out)
	}
	if !idempotent(method) {
		_, err := attempt(ctx)
		return err
	}
	retry := c.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return retry.Execute(ctx, attempt)
}

// once performs a single attempt. On failure it also returns the server's
// Retry-After hint, if any.
func (c *Client) once(ctx context.Context, method, endpoint, token string, body []byte, out any) (time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, platform.Wrap(platform.KindTransport, err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return parseRetryAfter(resp.Header.Get("Retry-After")), platform.ClassifyHTTP(resp.StatusCode, ErrorMessage(raw))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return 0, platform.Wrap(platform.KindUpstream, err, "malformed response body")
	}
	return 0, nil
}

// ErrorMessage extracts a human-readable message from a platform error body.
// It understands {"error":{"message":...}}, {"message":...} and
// {"error":"..."} shapes and falls back to the trimmed body.
func ErrorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(shaped.Error) > 0 && json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		if shaped.Message != "" {
			return shaped.Message
		}
		var flat string
		if len(shaped.Error) > 0 && json.Unmarshal(shaped.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodPut:
		return true
	}
	return false
}
