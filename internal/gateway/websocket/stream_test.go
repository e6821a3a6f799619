package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/terminal/repository/sqlite"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

type streamFixture struct {
	repo   *sqlite.Repository
	logDir string
	server *httptest.Server
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "terminals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	logDir := t.TempDir()
	handler := NewStreamHandler(repo, logDir, newTestLogger(t))

	router := gin.New()
	router.GET("/terminals/:id/stream", handler.HandleStream)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &streamFixture{repo: repo, logDir: logDir, server: server}
}

func (f *streamFixture) createTerminal(t *testing.T, id string) {
	t.Helper()
	err := f.repo.CreateTerminal(context.Background(), &models.Terminal{
		ID:          id,
		TmuxSession: "sess-" + id,
		TmuxWindow:  "developer-" + id[:4],
		Provider:    models.ProviderClaudeCode,
	})
	require.NoError(t, err)
}

func (f *streamFixture) wsURL(path string) string {
	return strings.Replace(f.server.URL, "http://", "ws://", 1) + path
}

func TestStreamUnknownTerminal(t *testing.T) {
	f := newStreamFixture(t)

	resp, err := http.Get(f.server.URL + "/terminals/deadbeef/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamMissingPaneLog(t *testing.T) {
	f := newStreamFixture(t)
	f.createTerminal(t, "aaaa0001")

	resp, err := http.Get(f.server.URL + "/terminals/aaaa0001/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamReplayThenFollow(t *testing.T) {
	f := newStreamFixture(t)
	f.createTerminal(t, "aaaa0001")

	logPath := filepath.Join(f.logDir, "aaaa0001.log")
	require.NoError(t, os.WriteFile(logPath, []byte("hello "), 0o644))

	conn, resp, err := gorillaws.DefaultDialer.Dial(f.wsURL("/terminals/aaaa0001/stream"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gorillaws.BinaryMessage, msgType)
	assert.Equal(t, "hello ", string(data))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString("world")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	f := newStreamFixture(t)
	f.createTerminal(t, "aaaa0001")
	logPath := filepath.Join(f.logDir, "aaaa0001.log")
	require.NoError(t, os.WriteFile(logPath, []byte("x"), 0o644))

	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := gorillaws.DefaultDialer.Dial(f.wsURL("/terminals/aaaa0001/stream"), header)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckStreamOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		allow  bool
	}{
		{"no origin header", "", "api.example.com:9889", true},
		{"localhost origin", "http://localhost:3000", "api.example.com:9889", true},
		{"loopback origin", "http://127.0.0.1:3000", "api.example.com:9889", true},
		{"same host", "https://api.example.com", "api.example.com:9889", true},
		{"foreign host", "https://evil.example", "api.example.com:9889", false},
		{"malformed origin", "http://%zz", "api.example.com:9889", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/terminals/aaaa0001/stream", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.allow, checkStreamOrigin(req))
		})
	}
}
