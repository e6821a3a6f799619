package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/caolabs/cao/internal/common/constants"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
	"go.uber.org/zap"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Port:            constants.DefaultMCPPort,
		Transport:       "sse",
		BaseURL:         "http://localhost:9889",
		DefaultProvider: models.ProviderClaudeCode,
	}
}

// Provide starts the MCP server and returns a cleanup function to stop it.
// Used when the tool server is embedded in the orchestrator process.
func Provide(ctx context.Context, cfg Config, client tmux.Client, log *logger.Logger) (*Server, func() error, error) {
	srv := New(cfg, client, log.WithFields(zap.String("component", "mcp-server")))
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}

	var stopOnce sync.Once
	cleanup := func() error {
		var stopErr error
		stopOnce.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr = srv.Stop(stopCtx)
		})
		return stopErr
	}

	return srv, cleanup, nil
}
