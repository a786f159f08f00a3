package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// APIClient calls the gateway's HTTP API. Actions sent this way are synced to every subscriber.
type APIClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *APIClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *APIClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// Data returns the display projection of a topic.
func (c *APIClient) Data(ctx context.Context, topic topics.Topic) (json.RawMessage, error) {
	return c.makeRequest(ctx, http.MethodGet, "/api/"+string(topic)+"/data", nil)
}

// Match returns the display projection of the match at index.
func (c *APIClient) Match(ctx context.Context, index int) (json.RawMessage, error) {
	return c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/api/matches/%d/data", index), nil)
}

// Action runs an action and returns the resulting topic state.
func (c *APIClient) Action(ctx context.Context, topic topics.Topic, action string, body any) (json.RawMessage, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	raw, err := c.makeRequest(ctx, http.MethodPost, "/api/"+string(topic)+"/"+action, payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Data, nil
}

// Health reports whether the gateway answers its health check.
func (c *APIClient) Health(ctx context.Context) error {
	_, err := c.makeRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *APIClient) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, responseBody)
	}
	return responseBody, nil
}

// apiError decodes a gateway error body, falling back to the raw response.
func apiError(status int, body []byte) error {
	var e struct {
		Error   string             `json:"error"`
		Code    protocol.ErrorCode `json:"code"`
		Details string             `json:"details"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		return fmt.Errorf("API returned status code: %d, response: %s", status, string(body))
	}
	return &protocol.Error{Code: e.Code, Message: e.Error, Details: e.Details, Status: status}
}
