package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/caolabs/cao/internal/terminal/models"
)

// apiClient is a thin typed client for the orchestrator's HTTP API. Every
// tool call goes through it; the MCP process never touches the metadata
// store directly.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (%d) on %s: %s", resp.StatusCode, path, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *apiClient) GetTerminal(ctx context.Context, id string) (*models.Terminal, error) {
	var t models.Terminal
	if err := c.do(ctx, http.MethodGet, "/terminals/"+id, nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *apiClient) GetTerminalByDelegatingAgent(ctx context.Context, sessionID string) (*models.Terminal, error) {
	var t models.Terminal
	if err := c.do(ctx, http.MethodGet, "/terminals/by-delegating-agent/"+sessionID, nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *apiClient) SessionExists(ctx context.Context, session string) bool {
	err := c.do(ctx, http.MethodGet, "/sessions/"+session, nil, nil, nil)
	return err == nil
}

type createRequest struct {
	Provider          string
	AgentProfile      string
	SessionName       string
	WorkingDirectory  string
	DelegatingAgentID string
	InitialMessage    string
}

func (r createRequest) query() url.Values {
	q := url.Values{}
	q.Set("provider", r.Provider)
	q.Set("agent_profile", r.AgentProfile)
	if r.SessionName != "" {
		q.Set("session_name", r.SessionName)
	}
	if r.WorkingDirectory != "" {
		q.Set("working_directory", r.WorkingDirectory)
	}
	if r.DelegatingAgentID != "" {
		q.Set("delegating_agent_id", r.DelegatingAgentID)
	}
	return q
}

func (r createRequest) body() interface{} {
	if r.InitialMessage == "" {
		return nil
	}
	return map[string]string{"initial_message": r.InitialMessage}
}

// CreateSession creates a terminal in a brand-new multiplexer session.
func (c *apiClient) CreateSession(ctx context.Context, req createRequest) (*models.Terminal, error) {
	var t models.Terminal
	if err := c.do(ctx, http.MethodPost, "/sessions", req.query(), req.body(), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTerminal creates a terminal inside an existing session.
func (c *apiClient) CreateTerminal(ctx context.Context, session string, req createRequest) (*models.Terminal, error) {
	var t models.Terminal
	if err := c.do(ctx, http.MethodPost, "/sessions/"+session+"/terminals", req.query(), req.body(), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *apiClient) GetWorkingDirectory(ctx context.Context, id string) (string, error) {
	var resp struct {
		WorkingDirectory *string `json:"working_directory"`
	}
	if err := c.do(ctx, http.MethodGet, "/terminals/"+id+"/working-directory", nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.WorkingDirectory == nil {
		return "", nil
	}
	return *resp.WorkingDirectory, nil
}

func (c *apiClient) GetOutput(ctx context.Context, id string, mode models.OutputMode, tailLines int) (string, error) {
	q := url.Values{}
	q.Set("mode", string(mode))
	if tailLines > 0 {
		q.Set("tail_lines", fmt.Sprintf("%d", tailLines))
	}
	var resp struct {
		Output string `json:"output"`
	}
	if err := c.do(ctx, http.MethodGet, "/terminals/"+id+"/output", q, nil, &resp); err != nil {
		return "", err
	}
	return resp.Output, nil
}

func (c *apiClient) GetStatus(ctx context.Context, id string) (string, error) {
	t, err := c.GetTerminal(ctx, id)
	if err != nil {
		return "", err
	}
	return string(t.Status), nil
}

func (c *apiClient) SendInput(ctx context.Context, id, message string) error {
	return c.do(ctx, http.MethodPost, "/terminals/"+id+"/input", nil,
		map[string]string{"message": message}, nil)
}

func (c *apiClient) SendExit(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/terminals/"+id+"/exit", nil, nil, nil)
}

func (c *apiClient) SendToInbox(ctx context.Context, receiverID, senderID, message string) (*models.InboxMessage, error) {
	q := url.Values{}
	q.Set("sender_id", senderID)
	q.Set("message", message)
	var msg models.InboxMessage
	if err := c.do(ctx, http.MethodPost, "/terminals/"+receiverID+"/inbox/messages", q, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *apiClient) ListInbox(ctx context.Context, terminalID string, limit int) ([]*models.InboxMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var messages []*models.InboxMessage
	if err := c.do(ctx, http.MethodGet, "/terminals/"+terminalID+"/inbox/messages", q, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *apiClient) ListWorkers(ctx context.Context, session string) ([]*models.Terminal, error) {
	q := url.Values{}
	q.Set("session", session)
	var terminals []*models.Terminal
	if err := c.do(ctx, http.MethodGet, "/terminals", q, nil, &terminals); err != nil {
		return nil, err
	}
	return terminals, nil
}
