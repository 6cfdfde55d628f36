package client

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
)

// APIKeyHeader carries the NodePass API token.
const APIKeyHeader = "X-API-Key"

// DefaultEventsPath is the SSE endpoint relative to the API root.
const DefaultEventsPath = "/events"

// APIError is returned when NodePass answers with a non-2xx status.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client makes REST calls to a NodePass API root (e.g. "http://127.0.0.1:9090/api").
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a client targeting the given API root.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListInstances fetches GET /instances.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	if err := c.do(ctx, http.MethodGet, "/instances", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstance fetches GET /instances/{id}.
func (c *Client) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var out Instance
	if err := c.do(ctx, http.MethodGet, instancePath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateInstance sends POST /instances with a NodePass tunnel URL such as
// "server://:10101/127.0.0.1:8080".
func (c *Client) CreateInstance(ctx context.Context, tunnelURL string) (*Instance, error) {
	body := map[string]string{"url": tunnelURL}
	var out Instance
	if err := c.do(ctx, http.MethodPost, "/instances", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ControlInstance sends PATCH /instances/{id} with a lifecycle action.
func (c *Client) ControlInstance(ctx context.Context, id string, action Action) (*Instance, error) {
	body := map[string]string{"action": string(action)}
	var out Instance
	if err := c.do(ctx, http.MethodPatch, instancePath(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteInstance sends DELETE /instances/{id}.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, instancePath(id), nil, nil)
}

// EventsRequest builds the long-lived SSE request for the given path. The
// request is bound to ctx; cancelling ctx aborts the body read.
func (c *Client) EventsRequest(ctx context.Context, path string) (*http.Request, error) {
	if path == "" {
		path = DefaultEventsPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set(APIKeyHeader, c.token)
	}
}

func instancePath(id string) string {
	return "/instances/" + url.PathEscape(id)
}
