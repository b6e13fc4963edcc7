package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Marveltechapps/selorg-console-core/config"
)

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// Client makes REST calls to the console backend. Request failures are
// returned to the caller, not retried; the caller decides whether to roll an
// optimistic action back or surface the error.
type Client struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// New creates a client targeting the configured base URL.
func New(cfg *config.APIConfig, tokens TokenSource) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req, "")
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req, "")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return newStatusError(req, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setAuth(req *http.Request, token string) {
	if token == "" && c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// newStatusError turns a non-2xx response into an error, preferring the
// backend's own message field when the body parses.
func newStatusError(req *http.Request, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		return fmt.Errorf("%s %s: %d: %s", req.Method, req.URL.Path, resp.StatusCode, parsed.Message)
	}
	return fmt.Errorf("%s %s: %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
}
