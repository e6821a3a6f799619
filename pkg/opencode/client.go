// Package opencode is a typed HTTP client for an opencode server.
package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/logger"
)

// Client manages HTTP communication with an opencode server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new opencode HTTP client.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// Health reports whether the server answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

// PromptAsync queues a prompt on a session without waiting for the reply.
func (c *Client) PromptAsync(ctx context.Context, sessionID, prompt, agent string) error {
	payload := PromptRequest{
		Parts: []TextPartInput{{Type: "text", Text: prompt}},
		Agent: agent,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal prompt request: %w", err)
	}

	path := fmt.Sprintf("/session/%s/prompt_async", sessionID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("send prompt request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("prompt failed: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Debug("queued async prompt",
		zap.String("session_id", sessionID),
		zap.String("agent", agent))
	return nil
}

// Messages returns the session transcript, oldest first.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	path := fmt.Sprintf("/session/%s/messages", sessionID)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch messages request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch messages failed: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var messages []Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("parse messages response: %w", err)
	}
	return messages, nil
}

// LastAssistantText returns the concatenated text parts of the most recent
// assistant message, or empty when the session has none.
func (c *Client) LastAssistantText(ctx context.Context, sessionID string) (string, error) {
	messages, err := c.Messages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Info.Role == "assistant" {
			return strings.TrimSpace(messages[i].Text()), nil
		}
	}
	return "", nil
}
