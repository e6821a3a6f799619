// Package websocket streams live pane output to browser clients.
package websocket

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/repository"
)

// streamPollInterval is how often the pane log is checked for new bytes.
const streamPollInterval = 500 * time.Millisecond

// StreamHandler serves the pane-log tail of a terminal over a WebSocket.
// Frames are raw pane bytes, suitable for an xterm.js AttachAddon.
type StreamHandler struct {
	repo   repository.Repository
	logDir string
	logger *logger.Logger
}

// NewStreamHandler creates a pane stream handler reading logs from logDir.
func NewStreamHandler(repo repository.Repository, logDir string, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		repo:   repo,
		logDir: logDir,
		logger: log.WithFields(zap.String("component", "pane_stream")),
	}
}

var streamUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkStreamOrigin,
}

// checkStreamOrigin allows non-browser clients and localhost origins; any
// other origin must match the request host.
func checkStreamOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	reqHost := r.Host
	if h, _, splitErr := net.SplitHostPort(reqHost); splitErr == nil {
		reqHost = h
	}
	return host == reqHost
}

// HandleStream upgrades /terminals/:id/stream and follows the pane log.
// The existing log content is replayed first, then appended bytes are
// forwarded as they arrive.
func (h *StreamHandler) HandleStream(c *gin.Context) {
	terminalID := c.Param("id")
	if _, err := h.repo.GetTerminal(c.Request.Context(), terminalID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "terminal not found"})
		return
	}

	logPath := filepath.Join(h.logDir, terminalID+".log")
	file, err := os.Open(logPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pane log for terminal"})
		return
	}
	defer file.Close()

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade stream connection",
			zap.String("terminal_id", terminalID), zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("pane stream connected", zap.String("terminal_id", terminalID))
	defer h.logger.Info("pane stream disconnected", zap.String("terminal_id", terminalID))

	// Reads only serve to detect the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	buf := make([]byte, 32*1024)
	for {
		for {
			n, readErr := file.Read(buf)
			if n > 0 {
				if err := conn.WriteMessage(gorillaws.BinaryMessage, buf[:n]); err != nil {
					return
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					h.logger.Warn("pane log read error",
						zap.String("terminal_id", terminalID), zap.Error(readErr))
					return
				}
				break
			}
		}
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
