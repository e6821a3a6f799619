package mcpserver

// HandoffResult is the structured return value of the handoff and assign
// tools. Tools never fail at the protocol level; failure is expressed as
// success=false with a human-readable message and whatever identifiers
// were resolved before the error.
type HandoffResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Output       string `json:"output,omitempty"`
	TerminalID   string `json:"terminal_id,omitempty"`
	SubagentID   string `json:"subagent_id,omitempty"`
	TmuxWindowID *int   `json:"tmux_window_id,omitempty"`
	AgentProfile string `json:"agent_profile,omitempty"`
}

// CheckTerminalResult is the return value of the check_terminal tool.
type CheckTerminalResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Output  string `json:"output,omitempty"`
}
