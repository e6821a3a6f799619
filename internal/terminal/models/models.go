package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderKind identifies which CLI agent runs inside a terminal.
type ProviderKind string

const (
	// ProviderClaudeCode is the TUI-decorated claude CLI.
	ProviderClaudeCode ProviderKind = "claude-code"
	// ProviderOpencode is the opencode CLI in JSON streaming mode.
	ProviderOpencode ProviderKind = "opencode"
	// ProviderOpencodeAPI drives an opencode server over HTTP.
	ProviderOpencodeAPI ProviderKind = "opencode-api"
	// ProviderOpencodeAttach attaches to an interactive opencode TUI.
	ProviderOpencodeAttach ProviderKind = "opencode-attach"
)

// ParseProviderKind validates a provider name.
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch ProviderKind(s) {
	case ProviderClaudeCode, ProviderOpencode, ProviderOpencodeAPI, ProviderOpencodeAttach:
		return ProviderKind(s), true
	}
	return "", false
}

// TerminalStatus is the live execution state derived from pane output.
type TerminalStatus string

const (
	StatusIdle              TerminalStatus = "idle"
	StatusProcessing        TerminalStatus = "processing"
	StatusCompleted         TerminalStatus = "completed"
	StatusWaitingUserAnswer TerminalStatus = "waiting_user_answer"
	StatusError             TerminalStatus = "error"
)

// OutputMode selects how much of a terminal's pane output to return.
type OutputMode string

const (
	// OutputFull returns the entire captured pane history.
	OutputFull OutputMode = "full"
	// OutputLast returns only the agent's most recent reply.
	OutputLast OutputMode = "last"
	// OutputTail returns the trailing N lines of pane history.
	OutputTail OutputMode = "tail"
)

// ParseOutputMode validates an output mode name.
func ParseOutputMode(s string) (OutputMode, bool) {
	switch OutputMode(s) {
	case OutputFull, OutputLast, OutputTail:
		return OutputMode(s), true
	}
	return "", false
}

var terminalIDPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// ValidTerminalID reports whether id is an 8-char lowercase hex string.
func ValidTerminalID(id string) bool {
	return terminalIDPattern.MatchString(id)
}

// NewTerminalID generates a new terminal identifier.
func NewTerminalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewSessionName generates a unique multiplexer session name.
func NewSessionName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewWindowName generates a window name from an agent profile with a
// unique suffix.
func NewWindowName(agentProfile string) string {
	return agentProfile + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
}

// Terminal represents one agent CLI running in one multiplexer window.
type Terminal struct {
	ID                string       `json:"id" db:"id"`
	TmuxSession       string       `json:"tmux_session" db:"tmux_session"`
	TmuxWindow        string       `json:"tmux_window" db:"tmux_window"`
	Provider          ProviderKind `json:"provider" db:"provider"`
	AgentProfile      string       `json:"agent_profile,omitempty" db:"agent_profile"`
	DelegatingAgentID string       `json:"delegating_agent_id,omitempty" db:"delegating_agent_id"`
	InitialMessage    string       `json:"initial_message,omitempty" db:"initial_message"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	LastActive        *time.Time   `json:"last_active,omitempty" db:"last_active"`

	// Status is derived from live pane output and never persisted.
	Status TerminalStatus `json:"status,omitempty" db:"-"`
}

// MessageStatus is the delivery state of an inbox message.
// PENDING transitions to DELIVERED or FAILED; both are absorbing.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// InboxMessage is a single queued delivery to a terminal.
type InboxMessage struct {
	ID         int64         `json:"id" db:"id"`
	SenderID   string        `json:"sender_id" db:"sender_id"`
	ReceiverID string        `json:"receiver_id" db:"receiver_id"`
	Message    string        `json:"message" db:"message"`
	Status     MessageStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// Flow is a scheduled recurrent agent invocation. The cron engine that
// executes flows is external; the core only stores the records.
type Flow struct {
	Name         string       `json:"name" db:"name"`
	FilePath     string       `json:"file_path" db:"file_path"`
	Schedule     string       `json:"schedule" db:"schedule"`
	AgentProfile string       `json:"agent_profile" db:"agent_profile"`
	Provider     ProviderKind `json:"provider" db:"provider"`
	Script       string       `json:"script,omitempty" db:"script"`
	LastRun      *time.Time   `json:"last_run,omitempty" db:"last_run"`
	NextRun      *time.Time   `json:"next_run,omitempty" db:"next_run"`
	Enabled      bool         `json:"enabled" db:"enabled"`
}
