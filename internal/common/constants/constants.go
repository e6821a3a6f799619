// Package constants provides application-wide constants and timeouts.
package constants

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultServerPort is the HTTP API listen port.
	DefaultServerPort = 9889

	// DefaultMCPPort is the delegation tool server listen port.
	DefaultMCPPort = 9888

	// HomeDirName is the orchestrator state directory under the user's home.
	HomeDirName = ".agent-orchestrator"

	// TerminalLogDirName is the pane log directory under the home dir.
	TerminalLogDirName = "logs/terminal"

	// AgentStoreDirName is the agent profile directory under the home dir.
	AgentStoreDirName = "agent-store"

	// DatabaseFileName is the SQLite database file under the home dir.
	DatabaseFileName = "terminals.db"

	// TmuxHistoryLines is the pane history capture limit.
	TmuxHistoryLines = 200

	// SchedulerTailLines is how many trailing log lines the delivery
	// scheduler inspects per tick.
	SchedulerTailLines = 5

	// RetentionDays is how long terminal records are kept before an
	// external sweep may remove them.
	RetentionDays = 14

	// TerminalIDEnvVar is set in every spawned window so tools running
	// inside the pane can identify their own terminal.
	TerminalIDEnvVar = "CAO_TERMINAL_ID"
)

// Timeouts for terminal lifecycle operations.
const (
	// ProviderInitTimeout is the maximum time to wait for a provider to
	// reach IDLE after launch.
	ProviderInitTimeout = 30 * time.Second

	// ShellReadyTimeout is the maximum time to wait for a stable shell
	// prompt before launching a provider.
	ShellReadyTimeout = 10 * time.Second

	// HandoffTimeout bounds a synchronous handoff end to end.
	HandoffTimeout = 10 * time.Minute

	// HandoffSettleDelay is the pause between a worker reaching IDLE and
	// the task being sent.
	HandoffSettleDelay = 2 * time.Second

	// HandoffPollInterval is the status poll cadence during a handoff.
	HandoffPollInterval = 1 * time.Second

	// AssignSessionWait is how long an async assign waits to capture the
	// worker's agent session id before returning.
	AssignSessionWait = 5 * time.Second

	// AssignPollInterval is the poll cadence during an assign wait.
	AssignPollInterval = 500 * time.Millisecond
)

// HomeDir returns the orchestrator state directory, creating nothing.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, HomeDirName), nil
}

// TerminalLogDir returns the pane log directory.
func TerminalLogDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, TerminalLogDirName), nil
}

// TerminalLogPath returns the pane log file for a terminal.
func TerminalLogPath(terminalID string) (string, error) {
	dir, err := TerminalLogDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, terminalID+".log"), nil
}

// AgentStoreDir returns the agent profile directory.
func AgentStoreDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, AgentStoreDirName), nil
}

// DatabasePath returns the SQLite database file path.
func DatabasePath() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DatabaseFileName), nil
}
