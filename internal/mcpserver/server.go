// Package mcpserver exposes the delegation tools over MCP. It serves SSE
// and Streamable HTTP on one port for networked agents, or stdio for a
// locally spawned tool process; all tools operate against the
// orchestrator's HTTP API.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

// Config holds the MCP server configuration.
type Config struct {
	Port            int    // Port for the sse/http transports
	Transport       string // stdio, sse or http (sse and http serve both endpoints)
	BaseURL         string // Orchestrator API URL (e.g. http://localhost:9889)
	DefaultProvider models.ProviderKind
	EnableCWD       bool // Expose the working_directory tool parameter
}

// Server wraps the SSE and Streamable HTTP transports with lifecycle
// management. Both transports share one tool registry:
// - SSE (/sse) for Claude Desktop, Cursor, etc.
// - Streamable HTTP (/mcp) for Codex
type Server struct {
	cfg                  Config
	mcpServer            *server.MCPServer
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	mu                   sync.Mutex
	running              bool
	logger               *logger.Logger
}

// New creates an MCP server with the delegation tools registered.
func New(cfg Config, client tmux.Client, log *logger.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: log,
	}

	s.mcpServer = server.NewMCPServer(
		"cao-mcp-server",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(
			"Tools for delegating tasks to other CLI agents running in orchestrated terminals. "+
				"Use specific agent profiles and clear, self-contained task messages."),
	)

	registerTools(s.mcpServer, &toolset{
		api:             newAPIClient(cfg.BaseURL),
		client:          client,
		defaultProvider: cfg.DefaultProvider,
		enableCWD:       cfg.EnableCWD,
		log:             log,
	})
	return s
}

// ServeStdio blocks, serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP over stdio")
	return server.ServeStdio(s.mcpServer)
}

// Start starts the network transports in a goroutine and returns once
// listening. Both SSE and Streamable HTTP are served on the same port.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	// session_id arrives as a query parameter on both transports.
	s.sseServer = server.NewSSEServer(s.mcpServer,
		server.WithSSEContextFunc(withSessionID),
	)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(s.mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(withSessionID),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("MCP server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the network transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown Streamable HTTP server", zap.Error(err))
		}
	}
	return nil
}

// SSEEndpoint returns the SSE URL for clients using that transport.
func (s *Server) SSEEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/sse", s.cfg.Port)
}

// StreamableHTTPEndpoint returns the Streamable HTTP URL.
func (s *Server) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/mcp", s.cfg.Port)
}
