package opencode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caolabs/cao/internal/common/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewClient(srv.URL, log)
}

func TestHealth(t *testing.T) {
	healthy := true
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	require.NoError(t, client.Health(context.Background()))

	healthy = false
	assert.Error(t, client.Health(context.Background()))
}

func TestPromptAsync(t *testing.T) {
	var got PromptRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/abc123/prompt_async", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))

	err := client.PromptAsync(context.Background(), "abc123", "do the thing", "developer")
	require.NoError(t, err)
	require.Len(t, got.Parts, 1)
	assert.Equal(t, "do the thing", got.Parts[0].Text)
	assert.Equal(t, "developer", got.Agent)
}

func TestLastAssistantText(t *testing.T) {
	transcript := []Message{
		{Info: MessageInfo{ID: "m1", Role: "user"}, Parts: []MessagePart{{Type: "text", Text: "hi"}}},
		{Info: MessageInfo{ID: "m2", Role: "assistant"}, Parts: []MessagePart{
			{Type: "text", Text: "old answer"},
		}},
		{Info: MessageInfo{ID: "m3", Role: "user"}, Parts: []MessagePart{{Type: "text", Text: "more"}}},
		{Info: MessageInfo{ID: "m4", Role: "assistant"}, Parts: []MessagePart{
			{Type: "step-start"},
			{Type: "text", Text: "final "},
			{Type: "text", Text: "answer"},
		}},
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/abc123/messages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(transcript)
	}))

	text, err := client.LastAssistantText(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "final answer", text)
}

func TestLastAssistantTextEmptySession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Message{})
	}))

	text, err := client.LastAssistantText(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Empty(t, text)
}
