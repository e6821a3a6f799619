// Package handlers exposes the terminal orchestration HTTP API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/terminal/repository"
	"github.com/caolabs/cao/internal/terminal/service"
	"github.com/caolabs/cao/internal/tmux"
)

// Handlers wires the terminal service into gin routes.
type Handlers struct {
	svc             *service.Service
	repo            repository.Repository
	client          tmux.Client
	defaultProvider models.ProviderKind
	logger          *logger.Logger
}

// New creates the HTTP handler set.
func New(svc *service.Service, repo repository.Repository, client tmux.Client, defaultProvider models.ProviderKind, log *logger.Logger) *Handlers {
	return &Handlers{
		svc:             svc,
		repo:            repo,
		client:          client,
		defaultProvider: defaultProvider,
		logger:          log,
	}
}

// RegisterRoutes attaches all terminal and inbox routes.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.POST("/sessions", h.createSession)
	r.GET("/sessions/:session", h.getSession)
	r.POST("/sessions/:session/terminals", h.createTerminalInSession)

	r.GET("/terminals", h.listTerminals)
	r.GET("/terminals/by-delegating-agent/:sessionId", h.getByDelegatingAgent)
	r.GET("/terminals/:id", h.getTerminal)
	r.GET("/terminals/:id/working-directory", h.getWorkingDirectory)
	r.GET("/terminals/:id/output", h.getOutput)
	r.POST("/terminals/:id/input", h.sendInput)
	r.POST("/terminals/:id/exit", h.sendExit)
	r.DELETE("/terminals/:id", h.deleteTerminal)

	r.POST("/terminals/:id/inbox/messages", h.createInboxMessage)
	r.GET("/terminals/:id/inbox/messages", h.listInboxMessages)
}

// createBody is the optional JSON body accompanying the create endpoints.
type createBody struct {
	InitialMessage string `json:"initial_message"`
}

func (h *Handlers) createParams(c *gin.Context, sessionName string, newSession bool) (service.CreateTerminalParams, error) {
	providerName := c.Query("provider")
	if providerName == "" {
		providerName = string(h.defaultProvider)
	}
	provider, ok := models.ParseProviderKind(providerName)
	if !ok {
		return service.CreateTerminalParams{}, apperrors.InvalidArgument("unknown provider: " + providerName)
	}

	var body createBody
	// The body is optional; ignore bind errors on empty payloads.
	_ = c.ShouldBindJSON(&body)

	return service.CreateTerminalParams{
		Provider:          provider,
		AgentProfile:      c.Query("agent_profile"),
		SessionName:       sessionName,
		NewSession:        newSession,
		WorkingDirectory:  c.Query("working_directory"),
		DelegatingAgentID: c.Query("delegating_agent_id"),
		InitialMessage:    body.InitialMessage,
	}, nil
}

func (h *Handlers) createSession(c *gin.Context) {
	params, err := h.createParams(c, c.Query("session_name"), true)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	terminal, err := h.svc.CreateTerminal(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, terminal)
}

func (h *Handlers) createTerminalInSession(c *gin.Context) {
	params, err := h.createParams(c, c.Param("session"), false)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	terminal, err := h.svc.CreateTerminal(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, terminal)
}

func (h *Handlers) getSession(c *gin.Context) {
	session := c.Param("session")
	exists, err := h.client.SessionExists(c.Request.Context(), session)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	terminals, err := h.repo.ListTerminalsBySession(c.Request.Context(), session)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_name": session,
		"terminals":    len(terminals),
	})
}

func (h *Handlers) listTerminals(c *gin.Context) {
	if session := c.Query("session"); session != "" {
		terminals, err := h.svc.ListWorkers(c.Request.Context(), session)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, terminals)
		return
	}
	terminals, err := h.repo.ListTerminals(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, terminals)
}

func (h *Handlers) getTerminal(c *gin.Context) {
	terminal, err := h.svc.GetTerminal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, terminal)
}

func (h *Handlers) getByDelegatingAgent(c *gin.Context) {
	terminal, err := h.svc.GetTerminalByDelegatingAgent(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, terminal)
}

// getWorkingDirectory reports the pane's live cwd. A pane that cannot be
// inspected yields null rather than an error so callers can fall back to
// their own default.
func (h *Handlers) getWorkingDirectory(c *gin.Context) {
	wd, err := h.svc.GetWorkingDirectory(c.Request.Context(), c.Param("id"))
	if err != nil {
		if apperrors.IsNotFound(err) {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"working_directory": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"working_directory": wd})
}

func (h *Handlers) getOutput(c *gin.Context) {
	modeName := c.DefaultQuery("mode", string(models.OutputFull))
	mode, ok := models.ParseOutputMode(modeName)
	if !ok {
		respondError(c, h.logger, apperrors.InvalidArgument("unknown output mode: "+modeName))
		return
	}
	tailLines := 0
	if v := c.Query("tail_lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(c, h.logger, apperrors.InvalidArgument("tail_lines must be an integer"))
			return
		}
		tailLines = n
	}
	output, err := h.svc.GetOutput(c.Request.Context(), c.Param("id"), mode, tailLines)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"terminal_id": c.Param("id"),
		"mode":        string(mode),
		"output":      output,
	})
}

type inputBody struct {
	Message string `json:"message"`
}

func (h *Handlers) sendInput(c *gin.Context) {
	var body inputBody
	_ = c.ShouldBindJSON(&body)
	if body.Message == "" {
		body.Message = c.Query("message")
	}
	if body.Message == "" {
		respondError(c, h.logger, apperrors.InvalidArgument("message is required"))
		return
	}
	if err := h.svc.SendInput(c.Request.Context(), c.Param("id"), body.Message); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (h *Handlers) sendExit(c *gin.Context) {
	if err := h.svc.SendExit(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "exiting"})
}

func (h *Handlers) deleteTerminal(c *gin.Context) {
	if err := h.svc.DeleteTerminal(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
