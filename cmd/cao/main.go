// Package main is the entry point for the orchestrator server. One binary
// runs the HTTP API, the inbox delivery scheduler and the embedded MCP
// tool server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caolabs/cao/internal/common/config"
	"github.com/caolabs/cao/internal/common/constants"
	"github.com/caolabs/cao/internal/common/httpmw"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/common/tracing"
	"github.com/caolabs/cao/internal/events"
	"github.com/caolabs/cao/internal/gateway/websocket"
	"github.com/caolabs/cao/internal/inbox"
	"github.com/caolabs/cao/internal/mcpserver"
	"github.com/caolabs/cao/internal/profile"
	"github.com/caolabs/cao/internal/provider"
	"github.com/caolabs/cao/internal/terminal/handlers"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/terminal/repository/sqlite"
	"github.com/caolabs/cao/internal/terminal/service"
	"github.com/caolabs/cao/internal/tmux"
	"github.com/caolabs/cao/pkg/opencode"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("starting cao server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()
	eventBus := providedBus.Bus
	if providedBus.NATS != nil {
		log.Info("using NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("using in-memory event bus")
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = constants.DatabasePath()
		if err != nil {
			log.Fatal("failed to resolve database path", zap.Error(err))
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatal("failed to create state directory", zap.Error(err))
	}
	repo, err := sqlite.New(dbPath)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err), zap.String("db_path", dbPath))
	}
	defer repo.Close()
	log.Info("database initialized", zap.String("db_path", dbPath))

	logDir, err := constants.TerminalLogDir()
	if err != nil {
		log.Fatal("failed to resolve terminal log directory", zap.Error(err))
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Fatal("failed to create terminal log directory", zap.Error(err))
	}

	defaultProvider, ok := models.ParseProviderKind(cfg.Provider.Default)
	if !ok {
		log.Fatal("invalid default provider", zap.String("provider", cfg.Provider.Default))
	}

	tmuxClient := tmux.New()
	profiles, err := profile.NewStore()
	if err != nil {
		log.Fatal("failed to initialize agent profile store", zap.Error(err))
	}
	opencodeClient := opencode.NewClient(cfg.Provider.OpencodeURL, log)

	registry := provider.NewRegistry(tmuxClient, repo, profiles, opencodeClient, log)
	svc := service.New(tmuxClient, repo, registry, eventBus, log)
	scheduler := inbox.New(repo, svc, registry, eventBus, log, logDir)

	// HTTP API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Server.CORSOrigins))
	router.Use(httpmw.RequestLogger(log, "cao-server"))
	router.Use(httpmw.OtelTracing("cao-server"))

	api := handlers.New(svc, repo, tmuxClient, defaultProvider, log)
	api.RegisterRoutes(router)

	stream := websocket.NewStreamHandler(repo, logDir, log)
	router.GET("/terminals/:id/stream", stream.HandleStream)

	eventsStream := websocket.NewEventsHandler(eventBus, log)
	router.GET("/events/stream", eventsStream.HandleEvents)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "cao"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// Embedded MCP tool server
	var mcpCleanup func() error
	if cfg.MCP.Enabled {
		_, cleanup, err := mcpserver.Provide(ctx, mcpserver.Config{
			Port:            cfg.MCP.Port,
			Transport:       cfg.MCP.Transport,
			BaseURL:         cfg.Server.BaseURL(),
			DefaultProvider: defaultProvider,
			EnableCWD:       cfg.Tools.EnableWorkingDirectory,
		}, tmuxClient, log)
		if err != nil {
			log.Fatal("failed to start MCP server", zap.Error(err))
		}
		mcpCleanup = cleanup
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := scheduler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info("HTTP API listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("base_url", cfg.Server.BaseURL()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}

	if mcpCleanup != nil {
		if err := mcpCleanup(); err != nil {
			log.Error("MCP server stop error", zap.Error(err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracing shutdown error", zap.Error(err))
	}

	log.Info("cao server stopped")
}

// corsMiddleware allows the configured origins; "*" allows everything.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[strings.TrimRight(origin, "/")]:
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
