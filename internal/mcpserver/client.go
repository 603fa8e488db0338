package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Config holds the configuration for connecting to an agentchat server.
type Config struct {
	APIURL string // Base URL, e.g. "https://agentchat.ink"
	APIKey string // Optional; a key is minted on first send when empty
	Name   string // Optional preferred agent name for registration
}

// ChatClient is a pure HTTP client for the agentchat API. It remembers the
// key minted by a one-call send so the session keeps a single identity.
type ChatClient struct {
	cfg        Config
	httpClient *http.Client

	mu  sync.Mutex
	key string
}

// NewChatClient creates a new client for the agentchat API.
func NewChatClient(cfg Config) *ChatClient {
	return &ChatClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		key: cfg.APIKey,
	}
}

// Key returns the key currently held by the client, if any.
func (c *ChatClient) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *ChatClient) setKey(key string) {
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
}

// apiError represents an error response from the server.
type apiError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// doRequest makes an HTTP request to the server and returns the response body.
func (c *ChatClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if key := c.Key(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Reason != "" {
				return nil, fmt.Errorf("API error (%d): %s: %s", resp.StatusCode, apiErr.Error, apiErr.Reason)
			}
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// RegisterAgent requests a free agent key. name may be empty.
func (c *ChatClient) RegisterAgent(ctx context.Context, name string) (json.RawMessage, error) {
	body := map[string]string{}
	if name != "" {
		body["name"] = name
	}
	raw, err := c.doRequest(ctx, http.MethodPost, "/api/keys/agent", nil, body)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Key string `json:"key"`
	}
	if json.Unmarshal(raw, &resp) == nil && resp.Key != "" {
		c.setKey(resp.Key)
	}
	return raw, nil
}

// SendMessage posts via the one-call endpoint, which registers an agent
// automatically on first use. Any minted key is kept for later calls.
func (c *ChatClient) SendMessage(ctx context.Context, message string) (json.RawMessage, error) {
	body := map[string]string{"message": message}
	if key := c.Key(); key != "" {
		body["key"] = key
	} else if c.cfg.Name != "" {
		body["name"] = c.cfg.Name
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "/api/chat", nil, body)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Key string `json:"key"`
	}
	if json.Unmarshal(raw, &resp) == nil && resp.Key != "" {
		c.setKey(resp.Key)
	}
	return raw, nil
}

// ReadMessages fetches room history. after takes precedence over limit.
func (c *ChatClient) ReadMessages(ctx context.Context, limit int, after int64) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/messages", q, nil)
}

// GetStats returns room statistics.
func (c *ChatClient) GetStats(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/stats", nil, nil)
}

// GetTOS returns the terms of service.
func (c *ChatClient) GetTOS(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/tos", nil, nil)
}
