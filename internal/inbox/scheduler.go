// Package inbox delivers queued messages and relays worker results, driven
// by pane-log file changes.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/constants"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/events/bus"
	"github.com/caolabs/cao/internal/provider"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/terminal/repository"
	"github.com/caolabs/cao/internal/terminal/service"
	"github.com/caolabs/cao/internal/tmux"
)

// Scheduler watches the terminal pane-log directory and reacts to output:
// completed workers get their results relayed to the supervisor, and idle
// terminals receive the oldest pending inbox message.
type Scheduler struct {
	repo     repository.Repository
	svc      *service.Service
	registry *provider.Registry
	events   bus.EventBus
	log      *logger.Logger
	logDir   string

	// relayed remembers the last task key relayed per terminal so a
	// completed worker does not spam its supervisor until it gets a new
	// assignment.
	mu      sync.Mutex
	relayed map[string]string
}

// New creates a scheduler watching logDir.
func New(repo repository.Repository, svc *service.Service, registry *provider.Registry, events bus.EventBus, log *logger.Logger, logDir string) *Scheduler {
	return &Scheduler{
		repo:     repo,
		svc:      svc,
		registry: registry,
		events:   events,
		log:      log,
		logDir:   logDir,
		relayed:  make(map[string]string),
	}
}

// Run watches the log directory until the context is canceled. Handling is
// serialized: one log change is fully processed before the next is read.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.logDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.logDir, err)
	}
	s.log.Info("inbox scheduler started", zap.String("log_dir", s.logDir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			terminalID := terminalIDFromLogPath(event.Name)
			if terminalID == "" {
				continue
			}
			s.HandleLogChange(ctx, terminalID)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// terminalIDFromLogPath maps <dir>/<id>.log to the terminal id.
func terminalIDFromLogPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".log") {
		return ""
	}
	id := strings.TrimSuffix(base, ".log")
	if !models.ValidTerminalID(id) {
		return ""
	}
	return id
}

// HandleLogChange runs the relay and delivery checks for one terminal.
// Errors are logged and swallowed so a bad terminal never stalls the loop.
func (s *Scheduler) HandleLogChange(ctx context.Context, terminalID string) {
	if err := s.handleAutoRelay(ctx, terminalID); err != nil {
		s.log.Error("auto-relay failed",
			zap.String("terminal_id", terminalID), zap.Error(err))
	}
	if err := s.deliverPending(ctx, terminalID); err != nil {
		s.log.Error("inbox delivery failed",
			zap.String("terminal_id", terminalID), zap.Error(err))
	}
}

// handleAutoRelay sends a completed worker's final answer to the terminal
// that delegated it. Each task is relayed at most once; assigning the
// worker a new message resets the guard via the task key.
func (s *Scheduler) handleAutoRelay(ctx context.Context, terminalID string) error {
	p, err := s.registry.Get(ctx, terminalID)
	if err != nil {
		return nil
	}
	status, err := p.Status(ctx, constants.SchedulerTailLines)
	if err != nil || status != models.StatusCompleted {
		return nil
	}

	t, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return err
	}
	if t.DelegatingAgentID == "" {
		return nil
	}

	taskKey := terminalID + ":" + t.InitialMessage
	s.mu.Lock()
	already := s.relayed[terminalID] == taskKey
	s.mu.Unlock()
	if already {
		return nil
	}

	output, err := s.svc.GetOutput(ctx, terminalID, models.OutputLast, 0)
	if err != nil {
		return err
	}
	if strings.TrimSpace(output) == "" {
		s.log.Warn("terminal completed but no output extracted",
			zap.String("terminal_id", terminalID))
		return nil
	}

	s.log.Info("relaying worker results to supervisor",
		zap.String("terminal_id", terminalID),
		zap.String("supervisor_id", t.DelegatingAgentID))
	reply := fmt.Sprintf("Subagent %s results:\n\n%s", terminalID, output)
	if err := s.svc.SendInput(ctx, t.DelegatingAgentID, reply); err != nil {
		return err
	}

	s.mu.Lock()
	s.relayed[terminalID] = taskKey
	s.mu.Unlock()

	s.publish(ctx, bus.SubjectRelaySent, map[string]interface{}{
		"terminal_id":   terminalID,
		"supervisor_id": t.DelegatingAgentID,
	})
	return nil
}

// deliverPending sends the oldest pending message when the terminal is
// ready. A cheap idle-pattern scan of the log tail gates the expensive
// capture-pane status check.
func (s *Scheduler) deliverPending(ctx context.Context, terminalID string) error {
	pending, err := s.repo.ListInboxMessages(ctx, terminalID, 1, models.MessagePending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if !s.logTailIdle(ctx, terminalID) {
		return nil
	}
	_, err = s.DeliverNext(ctx, terminalID)
	return err
}

// DeliverNext attempts delivery of the oldest pending message for a
// terminal. Returns true if a message was sent. The message is marked
// DELIVERED on success and FAILED when the send errors; both states are
// final.
func (s *Scheduler) DeliverNext(ctx context.Context, terminalID string) (bool, error) {
	pending, err := s.repo.ListInboxMessages(ctx, terminalID, 1, models.MessagePending)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}
	msg := pending[0]

	p, err := s.registry.Get(ctx, terminalID)
	if err != nil {
		return false, err
	}
	status, err := p.Status(ctx, constants.SchedulerTailLines)
	if err != nil {
		return false, err
	}
	if status != models.StatusIdle && status != models.StatusCompleted {
		s.log.Debug("terminal not ready for delivery",
			zap.String("terminal_id", terminalID), zap.String("status", string(status)))
		return false, nil
	}

	if err := s.svc.SendInput(ctx, terminalID, msg.Message); err != nil {
		if uerr := s.repo.UpdateMessageStatus(ctx, msg.ID, models.MessageFailed); uerr != nil {
			s.log.Error("failed to mark message failed",
				zap.Int64("message_id", msg.ID), zap.Error(uerr))
		}
		s.publish(ctx, bus.SubjectInboxFailed, map[string]interface{}{
			"message_id":  msg.ID,
			"terminal_id": terminalID,
		})
		return false, err
	}

	if err := s.repo.UpdateMessageStatus(ctx, msg.ID, models.MessageDelivered); err != nil {
		return true, err
	}
	s.log.Info("delivered inbox message",
		zap.Int64("message_id", msg.ID), zap.String("terminal_id", terminalID))
	s.publish(ctx, bus.SubjectInboxDelivered, map[string]interface{}{
		"message_id":  msg.ID,
		"terminal_id": terminalID,
	})
	return true, nil
}

// logTailIdle reports whether the tail of the terminal's pane log matches
// the provider's idle pattern. Any failure reads as not idle.
func (s *Scheduler) logTailIdle(ctx context.Context, terminalID string) bool {
	tail, err := s.readLogTail(terminalID, constants.SchedulerTailLines)
	if err != nil || tail == "" {
		return false
	}
	p, err := s.registry.Get(ctx, terminalID)
	if err != nil {
		return false
	}
	return p.IdleLogPattern().MatchString(tail)
}

// readLogTail returns the last n lines of the terminal's pane log. The
// whole file is read; pane logs are truncated by retention, not size.
func (s *Scheduler) readLogTail(terminalID string, n int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.logDir, terminalID+".log"))
	if err != nil {
		return "", err
	}
	return tmux.TailLines(string(data), n), nil
}

func (s *Scheduler) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, bus.NewEvent(subject, "inbox-scheduler", data)); err != nil {
		s.log.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
