package provider

import (
	"context"
	"regexp"
	"strings"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

// TUI detection patterns, applied to ANSI-stripped capture-pane output.
var (
	// The footer of an idle TUI names the agents/commands keybindings.
	attachIdlePattern = regexp.MustCompile(`(?m)(agents|commands)\s*$`)
	// A visible spinner advertises esc-to-interrupt.
	attachProcessingPattern = regexp.MustCompile(`esc\s+(interrupt|again to interrupt)`)
)

// OpencodeAttach drives an already-attached opencode TUI. The TUI is a
// presentation layer over the server's internal queue, so input is always
// accepted and status is a constant IDLE.
type OpencodeAttach struct {
	terminalID   string
	session      string
	window       string
	agentProfile string

	client tmux.Client
	log    *logger.Logger
}

// NewOpencodeAttach constructs an attached-TUI provider.
func NewOpencodeAttach(terminalID, session, window, agentProfile string, client tmux.Client, log *logger.Logger) *OpencodeAttach {
	return &OpencodeAttach{
		terminalID:   terminalID,
		session:      session,
		window:       window,
		agentProfile: agentProfile,
		client:       client,
		log:          log.WithTerminalID(terminalID).WithProvider(string(models.ProviderOpencodeAttach)),
	}
}

func (p *OpencodeAttach) Kind() models.ProviderKind { return models.ProviderOpencodeAttach }

// Initialize is a no-op: the TUI is already running in the window.
func (p *OpencodeAttach) Initialize(_ context.Context) error {
	return nil
}

func (p *OpencodeAttach) SendInput(ctx context.Context, message string) error {
	return p.client.SendKeys(ctx, p.session, p.window, message)
}

// Status is a constant IDLE; the server queues input internally.
func (p *OpencodeAttach) Status(_ context.Context, _ int) (models.TerminalStatus, error) {
	return models.StatusIdle, nil
}

// ExtractLastMessage walks the stripped TUI output in reverse, skipping
// keybinding hints and spinner lines, accumulating content until the idle
// marker above the message is crossed.
func (p *OpencodeAttach) ExtractLastMessage(_ context.Context, paneOutput string) (string, error) {
	clean := StripANSI(paneOutput)
	lines := strings.Split(clean, "\n")

	var parts []string
	for i := len(lines) - 1; i >= 0; i-- {
		stripped := strings.TrimSpace(lines[i])
		if stripped == "" {
			continue
		}
		if attachIdlePattern.MatchString(stripped) {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if attachProcessingPattern.MatchString(stripped) {
			parts = nil
			continue
		}
		lower := strings.ToLower(stripped)
		if strings.Contains(lower, "esc") &&
			(strings.Contains(lower, "interrupt") || strings.Contains(lower, "again")) {
			continue
		}
		parts = append([]string{stripped}, parts...)
	}

	result := strings.TrimSpace(strings.Join(parts, "\n"))
	if result == "" {
		return "", apperrors.ProviderError("no message found in attached TUI output", nil)
	}
	return result, nil
}

// IdleLogPattern matches anything so queued deliveries go out immediately.
func (p *OpencodeAttach) IdleLogPattern() *regexp.Regexp {
	return matchAnythingPattern
}

func (p *OpencodeAttach) ExitCommand() ExitCommand {
	return ExitCommand{Control: "C-c"}
}

func (p *OpencodeAttach) Cleanup() error { return nil }
