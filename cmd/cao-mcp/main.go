// Package main runs the delegation tool server as a standalone process.
// Supports stdio for locally spawned agents and sse/http for networked
// ones; every tool call is proxied to the orchestrator's HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/config"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/mcpserver"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// stdio uses stdout for the protocol, so logs must go to stderr.
	logCfg := logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	}
	if cfg.MCP.Transport == "stdio" && logCfg.OutputPath == "" {
		logCfg.OutputPath = "stderr"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	defaultProvider, ok := models.ParseProviderKind(cfg.Provider.Default)
	if !ok {
		log.Fatal("invalid default provider", zap.String("provider", cfg.Provider.Default))
	}

	srv := mcpserver.New(mcpserver.Config{
		Port:            cfg.MCP.Port,
		Transport:       cfg.MCP.Transport,
		BaseURL:         cfg.Server.BaseURL(),
		DefaultProvider: defaultProvider,
		EnableCWD:       cfg.Tools.EnableWorkingDirectory,
	}, tmux.New(), log)

	switch cfg.MCP.Transport {
	case "stdio":
		if err := srv.ServeStdio(); err != nil {
			log.Fatal("stdio server error", zap.Error(err))
		}
	case "sse", "http":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Start(ctx); err != nil {
			log.Fatal("failed to start MCP server", zap.Error(err))
		}
		log.Info("MCP server ready",
			zap.String("sse", srv.SSEEndpoint()),
			zap.String("streamable_http", srv.StreamableHTTPEndpoint()))

		<-ctx.Done()
		if err := srv.Stop(context.Background()); err != nil {
			log.Error("MCP server stop error", zap.Error(err))
		}
	default:
		log.Fatal("unsupported MCP transport", zap.String("transport", cfg.MCP.Transport))
	}
}
