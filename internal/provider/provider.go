// Package provider implements the per-CLI state machines that interpret
// raw pane output into terminal statuses.
package provider

import (
	"context"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

// ExitCommand is how a provider's CLI is retired. Exactly one of Text or
// Control is set: Text is sent as a command line, Control as a tmux key
// such as "C-c". Both empty means the provider needs no exit input.
type ExitCommand struct {
	Text    string
	Control string
}

// Provider drives one agent CLI inside one multiplexer window.
type Provider interface {
	Kind() models.ProviderKind

	// Initialize launches or readies the CLI and blocks until it can
	// accept input.
	Initialize(ctx context.Context) error

	// SendInput delivers one prompt to the CLI.
	SendInput(ctx context.Context, message string) error

	// Status derives the live execution state from pane output.
	// tailLines <= 0 inspects the full captured history.
	Status(ctx context.Context, tailLines int) (models.TerminalStatus, error)

	// ExtractLastMessage returns the agent's final reply from a pane
	// transcript.
	ExtractLastMessage(ctx context.Context, paneOutput string) (string, error)

	// IdleLogPattern is a cheap pre-check the delivery scheduler matches
	// against the tail of the pane log before querying Status.
	IdleLogPattern() *regexp.Regexp

	// ExitCommand is the input that retires the CLI.
	ExitCommand() ExitCommand

	// Cleanup releases held resources; idempotent.
	Cleanup() error
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes SGR color sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// EscapePrompt rewrites backslashes and newlines as escape sequences so a
// multi-line system prompt survives transmission through send-keys without
// being chunked into separate commands.
func EscapePrompt(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

// waitUntilStatus polls the provider until it reports target or the
// timeout elapses.
func waitUntilStatus(ctx context.Context, p Provider, target models.TerminalStatus, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := p.Status(ctx, 0)
		if err == nil && status == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return apperrors.Timeout(string(p.Kind()) + " did not reach " + string(target))
}

// waitForShell waits for the pane to show a stable shell: two consecutive
// identical non-empty reads.
func waitForShell(ctx context.Context, client tmux.Client, session, window string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	previous := ""
	havePrevious := false
	for time.Now().Before(deadline) {
		output, err := client.GetHistory(ctx, session, window, 0)
		if err == nil && strings.TrimSpace(output) != "" && havePrevious && output == previous {
			return nil
		}
		previous = output
		havePrevious = true
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return apperrors.Timeout("shell did not become ready in " + session + ":" + window)
}

// shellQuote quotes a single argument for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>()*?[]#~=%{}!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellJoin joins arguments into one shell-safe command line.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}
