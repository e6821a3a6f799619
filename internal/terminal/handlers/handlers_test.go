package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/profile"
	"github.com/caolabs/cao/internal/provider"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/terminal/repository/sqlite"
	"github.com/caolabs/cao/internal/terminal/service"
	"github.com/caolabs/cao/internal/tmux"
)

// stubTmux tracks sessions and serves a canned claude pane for every
// window. The default pane shows an idle prompt so provider initialization
// returns immediately.
type stubTmux struct {
	mu       sync.Mutex
	sessions map[string]bool
	sent     []string
	pane     string
}

func newStubTmux() *stubTmux {
	return &stubTmux{
		sessions: make(map[string]bool),
		pane:     "Welcome to claude\n> ",
	}
}

func (f *stubTmux) setPane(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pane = content
}

func (f *stubTmux) SessionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name], nil
}

func (f *stubTmux) CreateSession(_ context.Context, session, window, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session] = true
	return window, nil
}

func (f *stubTmux) CreateWindow(_ context.Context, _, window, _, _ string) (string, error) {
	return window, nil
}

func (f *stubTmux) SendKeys(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *stubTmux) SendControl(context.Context, string, string, string) error { return nil }

func (f *stubTmux) GetHistory(context.Context, string, string, int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pane, nil
}

func (f *stubTmux) PipePane(context.Context, string, string, string) error { return nil }

func (f *stubTmux) StopPipePane(context.Context, string, string) error { return nil }

func (f *stubTmux) PaneWorkingDirectory(context.Context, string, string) (string, error) {
	return "/work/project", nil
}

func (f *stubTmux) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	return nil
}

func (f *stubTmux) SessionWindows(context.Context, string) ([]tmux.Window, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *stubTmux, *sqlite.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("HOME", t.TempDir())

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "terminals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	client := newStubTmux()
	registry := provider.NewRegistry(client, repo, profile.NewStoreAt(t.TempDir()), nil, log)
	svc := service.New(client, repo, registry, nil, log)

	router := gin.New()
	New(svc, repo, client, models.ProviderClaudeCode, log).RegisterRoutes(router)
	return router, client, repo
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestTerminal(t *testing.T, router *gin.Engine) models.Terminal {
	t.Helper()
	w := doRequest(router, http.MethodPost,
		"/sessions?provider=claude-code&agent_profile=developer",
		`{"initial_message":"look around"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var term models.Terminal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &term))
	return term
}

func TestCreateSession(t *testing.T) {
	router, _, _ := newTestRouter(t)

	term := createTestTerminal(t, router)
	assert.True(t, models.ValidTerminalID(term.ID))
	assert.NotEmpty(t, term.TmuxSession)
	assert.Equal(t, models.ProviderClaudeCode, term.Provider)
	assert.Equal(t, "developer", term.AgentProfile)
	assert.Equal(t, "look around", term.InitialMessage)
}

func TestCreateSessionUnknownProvider(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/sessions?provider=codex", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSessionConflict(t *testing.T) {
	router, client, _ := newTestRouter(t)
	client.sessions["taken"] = true

	w := doRequest(router, http.MethodPost, "/sessions?session_name=taken", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateTerminalInMissingSession(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/sessions/ghost/terminals", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTerminalInExistingSession(t *testing.T) {
	router, _, _ := newTestRouter(t)
	first := createTestTerminal(t, router)

	w := doRequest(router, http.MethodPost,
		"/sessions/"+first.TmuxSession+"/terminals?provider=claude-code&agent_profile=reviewer", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var term models.Terminal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &term))
	assert.Equal(t, first.TmuxSession, term.TmuxSession)
	assert.NotEqual(t, first.ID, term.ID)
}

func TestGetTerminal(t *testing.T) {
	router, _, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	w := doRequest(router, http.MethodGet, "/terminals/"+term.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got models.Terminal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, term.ID, got.ID)
	assert.Equal(t, models.StatusIdle, got.Status, "live status comes from the pane")
}

func TestGetTerminalNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/terminals/deadbeef", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSession(t *testing.T) {
	router, _, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	w := doRequest(router, http.MethodGet, "/sessions/"+term.TmuxSession, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, term.TmuxSession, got["session_name"])
	assert.Equal(t, float64(1), got["terminals"])

	w = doRequest(router, http.MethodGet, "/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTerminalsBySessionQuery(t *testing.T) {
	router, _, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	w := doRequest(router, http.MethodGet, "/terminals?session="+term.TmuxSession, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []models.Terminal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, term.ID, got[0].ID)
	assert.NotEmpty(t, got[0].Status)
}

func TestGetByDelegatingAgent(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost,
		"/sessions?provider=claude-code&delegating_agent_id=ses_abc", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var term models.Terminal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &term))

	w = doRequest(router, http.MethodGet, "/terminals/by-delegating-agent/ses_abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Terminal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, term.ID, got.ID)

	w = doRequest(router, http.MethodGet, "/terminals/by-delegating-agent/ses_unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOutputModes(t *testing.T) {
	router, client, _ := newTestRouter(t)
	term := createTestTerminal(t, router)
	client.setPane("⏺ Ready when you are.\n\n> ")

	w := doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/output?mode=last", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Ready when you are.", got["output"])

	w = doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/output?mode=sideways", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/output?mode=tail&tail_lines=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendInput(t *testing.T) {
	router, client, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	w := doRequest(router, http.MethodPost, "/terminals/"+term.ID+"/input", `{"message":"do the thing"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, client.sent, "do the thing")

	// Query fallback for clients that cannot send a body.
	w = doRequest(router, http.MethodPost, "/terminals/"+term.ID+"/input?message=via+query", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, client.sent, "via query")

	w = doRequest(router, http.MethodPost, "/terminals/"+term.ID+"/input", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkingDirectory(t *testing.T) {
	router, _, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	w := doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/working-directory", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "/work/project", got["working_directory"])

	w = doRequest(router, http.MethodGet, "/terminals/deadbeef/working-directory", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteTerminal(t *testing.T) {
	router, _, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	w := doRequest(router, http.MethodDelete, "/terminals/"+term.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodGet, "/terminals/"+term.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInboxCreateAndList(t *testing.T) {
	router, _, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	w := doRequest(router, http.MethodPost,
		"/terminals/"+term.ID+"/inbox/messages?sender_id=aaaa0001&message=hello+there", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var msg models.InboxMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "hello there", msg.Message)
	assert.Equal(t, models.MessagePending, msg.Status)

	w = doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/inbox/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []models.InboxMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "aaaa0001", list[0].SenderID)
}

func TestInboxValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)
	term := createTestTerminal(t, router)

	// Missing message text.
	w := doRequest(router, http.MethodPost, "/terminals/"+term.ID+"/inbox/messages?sender_id=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown receiver.
	w = doRequest(router, http.MethodPost, "/terminals/deadbeef/inbox/messages?message=hi", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Limit out of range.
	w = doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/inbox/messages?limit=150", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/inbox/messages?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown status filter.
	w = doRequest(router, http.MethodGet, "/terminals/"+term.ID+"/inbox/messages?status=archived", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
