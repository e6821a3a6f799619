// Package tmux wraps the tmux CLI for window-per-terminal orchestration.
package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caolabs/cao/internal/common/constants"
	apperrors "github.com/caolabs/cao/internal/common/errors"
)

// Window describes one window inside a tmux session.
type Window struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Client is the multiplexer surface the orchestrator depends on.
// All operations are synchronous and fail with a MuxError.
type Client interface {
	SessionExists(ctx context.Context, name string) (bool, error)
	CreateSession(ctx context.Context, session, window, terminalID, cwd string) (string, error)
	CreateWindow(ctx context.Context, session, window, terminalID, cwd string) (string, error)
	SendKeys(ctx context.Context, session, window, text string) error
	SendControl(ctx context.Context, session, window, key string) error
	GetHistory(ctx context.Context, session, window string, tailLines int) (string, error)
	PipePane(ctx context.Context, session, window, logPath string) error
	StopPipePane(ctx context.Context, session, window string) error
	PaneWorkingDirectory(ctx context.Context, session, window string) (string, error)
	KillSession(ctx context.Context, name string) error
	SessionWindows(ctx context.Context, session string) ([]Window, error)
}

type execClient struct {
	bin string
}

// New returns a Client backed by the tmux binary on PATH.
func New() Client {
	return &execClient{bin: "tmux"}
}

func (c *execClient) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", apperrors.MuxError(
			fmt.Sprintf("tmux %s failed: %s", args[0], strings.TrimSpace(string(out))), err)
	}
	return string(out), nil
}

func target(session, window string) string {
	return session + ":" + window
}

// ResolveWorkingDir canonicalizes a requested working directory.
// Empty input means the process's current directory. Symlinks are
// resolved and the result must be an existing directory.
func ResolveWorkingDir(cwd string) (string, error) {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", apperrors.MuxError("failed to determine current directory", err)
		}
		cwd = wd
	}
	resolved, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		return "", apperrors.InvalidArgument(fmt.Sprintf("working directory %q does not exist", cwd))
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", apperrors.InvalidArgument(fmt.Sprintf("working directory %q is not accessible", cwd))
	}
	if !info.IsDir() {
		return "", apperrors.InvalidArgument(fmt.Sprintf("working directory %q is not a directory", cwd))
	}
	return resolved, nil
}

func (c *execClient) SessionExists(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.bin, "has-session", "-t", name)
	if err := cmd.Run(); err != nil {
		// has-session exits non-zero when the session is missing.
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, apperrors.MuxError("tmux has-session failed", err)
	}
	return true, nil
}

func (c *execClient) CreateSession(ctx context.Context, session, window, terminalID, cwd string) (string, error) {
	resolved, err := ResolveWorkingDir(cwd)
	if err != nil {
		return "", err
	}
	_, err = c.run(ctx, "new-session", "-d",
		"-s", session,
		"-n", window,
		"-c", resolved,
		"-e", constants.TerminalIDEnvVar+"="+terminalID,
	)
	if err != nil {
		return "", err
	}
	return window, nil
}

func (c *execClient) CreateWindow(ctx context.Context, session, window, terminalID, cwd string) (string, error) {
	exists, err := c.SessionExists(ctx, session)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apperrors.MuxError(fmt.Sprintf("session %q does not exist", session), nil)
	}
	resolved, err := ResolveWorkingDir(cwd)
	if err != nil {
		return "", err
	}
	_, err = c.run(ctx, "new-window",
		"-t", session,
		"-n", window,
		"-c", resolved,
		"-e", constants.TerminalIDEnvVar+"="+terminalID,
	)
	if err != nil {
		return "", err
	}
	return window, nil
}

// SendKeys delivers text followed by Enter. The text is sent literally so
// embedded quotes and dollar signs survive; callers remain responsible for
// escaping newlines their CLI cannot accept.
func (c *execClient) SendKeys(ctx context.Context, session, window, text string) error {
	t := target(session, window)
	if _, err := c.run(ctx, "send-keys", "-t", t, "-l", "--", text); err != nil {
		return err
	}
	_, err := c.run(ctx, "send-keys", "-t", t, "Enter")
	return err
}

// SendControl sends a tmux key name such as "C-c" without a trailing Enter.
func (c *execClient) SendControl(ctx context.Context, session, window, key string) error {
	_, err := c.run(ctx, "send-keys", "-t", target(session, window), key)
	return err
}

// GetHistory returns scrollback plus the visible pane. tailLines <= 0
// returns the full captured history (bounded by the capture limit).
func (c *execClient) GetHistory(ctx context.Context, session, window string, tailLines int) (string, error) {
	out, err := c.run(ctx, "capture-pane", "-p",
		"-t", target(session, window),
		"-S", "-"+strconv.Itoa(constants.TmuxHistoryLines),
	)
	if err != nil {
		return "", err
	}
	if tailLines <= 0 {
		return out, nil
	}
	return TailLines(out, tailLines), nil
}

// TailLines returns the last n lines of s.
func TailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// PipePane tees the pane's output stream into logPath. Calling it again
// for the same pane replaces the previous pipe, so it is idempotent.
func (c *execClient) PipePane(ctx context.Context, session, window, logPath string) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return apperrors.MuxError("failed to create log directory", err)
	}
	_, err := c.run(ctx, "pipe-pane", "-t", target(session, window),
		"-o", fmt.Sprintf("cat >> %s", shellQuote(logPath)))
	return err
}

// StopPipePane stops an active pipe. A pane without a pipe is a no-op.
func (c *execClient) StopPipePane(ctx context.Context, session, window string) error {
	_, err := c.run(ctx, "pipe-pane", "-t", target(session, window))
	return err
}

func (c *execClient) PaneWorkingDirectory(ctx context.Context, session, window string) (string, error) {
	out, err := c.run(ctx, "display-message", "-p",
		"-t", target(session, window), "#{pane_current_path}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *execClient) KillSession(ctx context.Context, name string) error {
	_, err := c.run(ctx, "kill-session", "-t", name)
	return err
}

func (c *execClient) SessionWindows(ctx context.Context, session string) ([]Window, error) {
	out, err := c.run(ctx, "list-windows", "-t", session,
		"-F", "#{window_index}\t#{window_name}")
	if err != nil {
		return nil, err
	}
	var windows []Window
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		windows = append(windows, Window{Index: idx, Name: parts[1]})
	}
	return windows, nil
}

// shellQuote single-quotes s for use inside a pipe-pane command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
