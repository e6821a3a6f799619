// Package service orchestrates terminals: multiplexer windows, metadata,
// providers and pane-log pipes.
package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/constants"
	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/events/bus"
	"github.com/caolabs/cao/internal/provider"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/terminal/repository"
	"github.com/caolabs/cao/internal/tmux"
)

// CreateTerminalParams collects the inputs for spawning a terminal.
type CreateTerminalParams struct {
	Provider          models.ProviderKind
	AgentProfile      string
	SessionName       string
	NewSession        bool
	WorkingDirectory  string
	DelegatingAgentID string
	TargetWindowName  string
	InitialMessage    string
}

// Service composes the multiplexer client, metadata store and provider
// registry into the terminal lifecycle facade.
type Service struct {
	client   tmux.Client
	repo     repository.Repository
	registry *provider.Registry
	events   bus.EventBus
	log      *logger.Logger

	// Provider input is not safe to interleave, so sends are serialized
	// per terminal id.
	inputMu sync.Mutex
	inputs  map[string]*sync.Mutex
}

// New creates a terminal service.
func New(client tmux.Client, repo repository.Repository, registry *provider.Registry, events bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		client:   client,
		repo:     repo,
		registry: registry,
		events:   events,
		log:      log,
		inputs:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) inputLock(terminalID string) *sync.Mutex {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	mu, ok := s.inputs[terminalID]
	if !ok {
		mu = &sync.Mutex{}
		s.inputs[terminalID] = mu
	}
	return mu
}

func (s *Service) releaseInputLock(terminalID string) {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	delete(s.inputs, terminalID)
}

// CreateTerminal spawns a window, persists metadata, initializes the
// provider and starts the pane-log pipe. Failure is transactional for new
// sessions: the session is killed if any later step fails.
func (s *Service) CreateTerminal(ctx context.Context, params CreateTerminalParams) (t *models.Terminal, err error) {
	if _, ok := models.ParseProviderKind(string(params.Provider)); !ok {
		return nil, apperrors.InvalidArgument(fmt.Sprintf("unknown provider kind %q", params.Provider))
	}

	terminalID := models.NewTerminalID()
	sessionName := params.SessionName
	if sessionName == "" {
		sessionName = models.NewSessionName()
	}
	windowName := params.TargetWindowName
	if windowName == "" {
		windowName = models.NewWindowName(params.AgentProfile)
	}

	log := s.log.WithTerminalID(terminalID)

	defer func() {
		if err != nil && params.NewSession {
			if killErr := s.client.KillSession(context.Background(), sessionName); killErr != nil {
				log.Warn("failed to kill session after create failure", zap.Error(killErr))
			}
		}
	}()

	exists, err := s.client.SessionExists(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	if params.NewSession {
		if exists {
			return nil, apperrors.Conflict(fmt.Sprintf("session '%s' already exists", sessionName))
		}
		if _, err = s.client.CreateSession(ctx, sessionName, windowName, terminalID, params.WorkingDirectory); err != nil {
			return nil, err
		}
	} else {
		if !exists {
			return nil, apperrors.NotFound("session", sessionName)
		}
		if windowName, err = s.client.CreateWindow(ctx, sessionName, windowName, terminalID, params.WorkingDirectory); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	t = &models.Terminal{
		ID:                terminalID,
		TmuxSession:       sessionName,
		TmuxWindow:        windowName,
		Provider:          params.Provider,
		AgentProfile:      params.AgentProfile,
		DelegatingAgentID: params.DelegatingAgentID,
		InitialMessage:    params.InitialMessage,
		CreatedAt:         now,
		LastActive:        &now,
		Status:            models.StatusIdle,
	}
	if err = s.repo.CreateTerminal(ctx, t); err != nil {
		return nil, err
	}

	p, err := s.registry.New(params.Provider, terminalID, sessionName, windowName, params.AgentProfile)
	if err != nil {
		return nil, err
	}
	if err = p.Initialize(ctx); err != nil {
		return nil, err
	}
	s.registry.Register(terminalID, p)

	logPath, err := constants.TerminalLogPath(terminalID)
	if err != nil {
		return nil, apperrors.InternalError("failed to resolve terminal log path", err)
	}
	// Ensure the file exists before the watcher sees the directory change.
	if f, ferr := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY, 0o644); ferr == nil {
		_ = f.Close()
	}
	if err = s.client.PipePane(ctx, sessionName, windowName, logPath); err != nil {
		return nil, err
	}

	s.publish(ctx, bus.SubjectTerminalCreated, map[string]interface{}{
		"terminal_id": terminalID,
		"session":     sessionName,
		"provider":    string(params.Provider),
	})
	log.Info("created terminal",
		zap.String("session", sessionName),
		zap.String("window", windowName),
		zap.Bool("new_session", params.NewSession))
	return t, nil
}

// GetTerminal returns metadata enriched with the live provider status.
func (s *Service) GetTerminal(ctx context.Context, terminalID string) (*models.Terminal, error) {
	t, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	p, err := s.registry.Get(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	status, err := p.Status(ctx, 0)
	if err != nil {
		return nil, err
	}
	t.Status = status
	return t, nil
}

// GetTerminalByDelegatingAgent resolves the terminal spawned by the given
// delegating agent id.
func (s *Service) GetTerminalByDelegatingAgent(ctx context.Context, delegatingAgentID string) (*models.Terminal, error) {
	return s.repo.GetTerminalByDelegatingAgent(ctx, delegatingAgentID)
}

// ListWorkers returns all terminals in a session with best-effort live
// status; status failures downgrade to IDLE silently.
func (s *Service) ListWorkers(ctx context.Context, sessionName string) ([]*models.Terminal, error) {
	terminals, err := s.repo.ListTerminalsBySession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	for _, t := range terminals {
		t.Status = models.StatusIdle
		p, err := s.registry.Get(ctx, t.ID)
		if err != nil {
			s.log.Warn("failed to resolve provider for worker",
				zap.String("terminal_id", t.ID), zap.Error(err))
			continue
		}
		status, err := p.Status(ctx, 0)
		if err != nil {
			s.log.Warn("failed to get live status for worker",
				zap.String("terminal_id", t.ID), zap.Error(err))
			continue
		}
		t.Status = status
	}
	return terminals, nil
}

// SendInput delivers one prompt to the terminal's provider and bumps
// last_active. Inputs for the same terminal never interleave.
func (s *Service) SendInput(ctx context.Context, terminalID, message string) error {
	if _, err := s.repo.GetTerminal(ctx, terminalID); err != nil {
		return err
	}
	p, err := s.registry.Get(ctx, terminalID)
	if err != nil {
		return err
	}

	mu := s.inputLock(terminalID)
	mu.Lock()
	defer mu.Unlock()

	if err := p.SendInput(ctx, message); err != nil {
		return err
	}
	if err := s.repo.UpdateLastActive(ctx, terminalID, time.Now().UTC()); err != nil {
		s.log.Warn("failed to update last_active",
			zap.String("terminal_id", terminalID), zap.Error(err))
	}
	return nil
}

// GetOutput returns pane output in the requested mode. FULL and TAIL read
// pane history; LAST asks the provider for the final reply.
func (s *Service) GetOutput(ctx context.Context, terminalID string, mode models.OutputMode, tailLines int) (string, error) {
	t, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return "", err
	}

	lines := 0
	if mode == models.OutputTail {
		lines = tailLines
		if lines <= 0 {
			lines = constants.SchedulerTailLines
		}
	}
	output, err := s.client.GetHistory(ctx, t.TmuxSession, t.TmuxWindow, lines)
	if err != nil {
		return "", err
	}

	if mode != models.OutputLast {
		return output, nil
	}

	p, err := s.registry.Get(ctx, terminalID)
	if err != nil {
		return "", err
	}
	return p.ExtractLastMessage(ctx, output)
}

// GetWorkingDirectory returns the live working directory of the
// terminal's pane.
func (s *Service) GetWorkingDirectory(ctx context.Context, terminalID string) (string, error) {
	t, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return "", err
	}
	return s.client.PaneWorkingDirectory(ctx, t.TmuxSession, t.TmuxWindow)
}

// SendExit retires the terminal's CLI using the provider's exit command.
func (s *Service) SendExit(ctx context.Context, terminalID string) error {
	t, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return err
	}
	p, err := s.registry.Get(ctx, terminalID)
	if err != nil {
		return err
	}
	exit := p.ExitCommand()
	switch {
	case exit.Control != "":
		return s.client.SendControl(ctx, t.TmuxSession, t.TmuxWindow, exit.Control)
	case exit.Text != "":
		return s.client.SendKeys(ctx, t.TmuxSession, t.TmuxWindow, exit.Text)
	default:
		return nil
	}
}

// DeleteTerminal stops the pane pipe, releases the provider and removes
// metadata. Each step is best-effort so a half-dead terminal can still be
// cleaned up.
func (s *Service) DeleteTerminal(ctx context.Context, terminalID string) error {
	t, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return err
	}

	if err := s.client.StopPipePane(ctx, t.TmuxSession, t.TmuxWindow); err != nil {
		s.log.Warn("failed to stop pipe-pane",
			zap.String("terminal_id", terminalID), zap.Error(err))
	}
	if err := s.registry.Cleanup(terminalID); err != nil {
		s.log.Warn("provider cleanup failed",
			zap.String("terminal_id", terminalID), zap.Error(err))
	}
	s.releaseInputLock(terminalID)

	if err := s.repo.DeleteTerminal(ctx, terminalID); err != nil {
		return err
	}

	s.publish(ctx, bus.SubjectTerminalDeleted, map[string]interface{}{
		"terminal_id": terminalID,
		"session":     t.TmuxSession,
	})
	s.log.Info("deleted terminal", zap.String("terminal_id", terminalID))
	return nil
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, bus.NewEvent(subject, "terminal-service", data)); err != nil {
		s.log.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
