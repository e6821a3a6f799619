package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/caolabs/cao/internal/common/constants"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

// toolset holds the dependencies shared by all delegation tools.
type toolset struct {
	api             *apiClient
	client          tmux.Client
	defaultProvider models.ProviderKind
	enableCWD       bool
	log             *logger.Logger
}

func registerTools(s *server.MCPServer, t *toolset) {
	handoffOpts := []mcp.ToolOption{
		mcp.WithDescription("Hand off a task to another agent and wait for completion. " +
			"Creates a worker terminal in the caller's session, sends the message, " +
			"monitors until the worker completes, returns its final answer, and retires the worker."),
		mcp.WithString("agent_profile", mcp.Required(),
			mcp.Description(`The agent profile to hand off to (e.g., "developer", "analyst")`)),
		mcp.WithString("message", mcp.Required(),
			mcp.Description("The message/task to send to the target agent")),
		mcp.WithNumber("timeout",
			mcp.Description("Maximum time to wait for the agent to complete the task (in seconds)")),
	}
	assignOpts := []mcp.ToolOption{
		mcp.WithDescription("Assign a task to another agent without blocking. " +
			"The worker's final answer is relayed back to your terminal automatically; " +
			"you can also poll it with check_terminal."),
		mcp.WithString("agent_profile", mcp.Required(),
			mcp.Description(`The agent profile for the worker agent (e.g., "developer", "analyst")`)),
		mcp.WithString("message", mcp.Required(),
			mcp.Description("The task message to send. Include callback instructions for the worker to send results back.")),
	}
	if t.enableCWD {
		cwdOpt := mcp.WithString("working_directory",
			mcp.Description("Optional working directory where the agent should execute"))
		handoffOpts = append(handoffOpts, cwdOpt)
		assignOpts = append(assignOpts, cwdOpt)
	}

	s.AddTool(mcp.NewTool("handoff", handoffOpts...), t.handoffHandler)
	s.AddTool(mcp.NewTool("assign", assignOpts...), t.assignHandler)

	s.AddTool(
		mcp.NewTool("check_terminal",
			mcp.WithDescription("Check the status and tail the output of a background terminal. "+
				"Use this to monitor a task you previously assigned."),
			mcp.WithString("terminal_id", mcp.Required(),
				mcp.Description("The 8-character terminal ID to check (e.g., from a previous assign)")),
			mcp.WithNumber("tail_lines",
				mcp.Description("Number of recent terminal lines to capture (default 100)")),
		),
		t.checkTerminalHandler,
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to another terminal's inbox. "+
				"The message is delivered when the destination terminal is IDLE, oldest first."),
			mcp.WithString("receiver_id", mcp.Required(),
				mcp.Description("Target terminal ID to send message to")),
			mcp.WithString("message", mcp.Required(),
				mcp.Description("Message content to send")),
		),
		t.sendMessageHandler,
	)

	s.AddTool(
		mcp.NewTool("check_inbox",
			mcp.WithDescription("Check inbox for messages from subagents or other terminals."),
			mcp.WithString("terminal_id",
				mcp.Description("Terminal ID to check inbox for. Defaults to your own terminal.")),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of messages to retrieve (default 10)")),
		),
		t.checkInboxHandler,
	)

	s.AddTool(
		mcp.NewTool("list_workers",
			mcp.WithDescription("List active worker agents for the current session, "+
				"with their status and initial task assignments."),
		),
		t.listWorkersHandler,
	)

	s.AddTool(
		mcp.NewTool("done",
			mcp.WithDescription("Finish the current subagent task and send the final results "+
				"back to the supervisor that delegated it."),
			mcp.WithString("message", mcp.Required(),
				mcp.Description("The final result message to relay to the supervisor")),
		),
		t.doneHandler,
	)

	t.log.Info("registered delegation tools", zap.Int("count", 7))
}

func toolResultJSON(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// createWorker spawns a worker terminal for a delegation tool, resolving
// the caller context per the precedence: tracked terminal env, then the
// transport's session id, then a fresh session.
func (t *toolset) createWorker(ctx context.Context, agentProfile, message, workingDirectory string) (*models.Terminal, error) {
	callerID := t.callerTerminalID(ctx)

	if callerID != "" {
		caller, err := t.api.GetTerminal(ctx, callerID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve calling terminal %s: %w", callerID, err)
		}
		provider := downgradeProvider(caller.Provider)
		if provider != caller.Provider {
			t.log.Info("downgrading worker provider to local equivalent",
				zap.String("from", string(caller.Provider)), zap.String("to", string(provider)))
		}
		if workingDirectory == "" {
			if wd, err := t.api.GetWorkingDirectory(ctx, callerID); err == nil && wd != "" {
				workingDirectory = wd
			}
		}
		return t.api.CreateTerminal(ctx, caller.TmuxSession, createRequest{
			Provider:          string(provider),
			AgentProfile:      agentProfile,
			WorkingDirectory:  workingDirectory,
			DelegatingAgentID: callerID,
			InitialMessage:    message,
		})
	}

	if sid := sessionIDFromContext(ctx); sid != "" {
		req := createRequest{
			Provider:          string(t.defaultProvider),
			AgentProfile:      agentProfile,
			WorkingDirectory:  workingDirectory,
			DelegatingAgentID: sid,
			InitialMessage:    message,
		}
		if t.api.SessionExists(ctx, sid) {
			return t.api.CreateTerminal(ctx, sid, req)
		}
		req.SessionName = sid
		return t.api.CreateSession(ctx, req)
	}

	return t.api.CreateSession(ctx, createRequest{
		Provider:         string(t.defaultProvider),
		AgentProfile:     agentProfile,
		WorkingDirectory: workingDirectory,
		InitialMessage:   message,
	})
}

// waitForStatus polls the API until the terminal reaches want or the
// timeout expires.
func (t *toolset) waitForStatus(ctx context.Context, terminalID string, want models.TerminalStatus, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := t.api.GetStatus(ctx, terminalID)
		if err == nil && terminalStatusOf(status) == want {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(constants.HandoffPollInterval):
		}
	}
	return false
}

func (t *toolset) handoffHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentProfile, err := req.RequireString("agent_profile")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := time.Duration(req.GetFloat("timeout", constants.HandoffTimeout.Seconds())) * time.Second
	workingDirectory := ""
	if t.enableCWD {
		workingDirectory = req.GetString("working_directory", "")
	}

	start := time.Now()
	result := t.runHandoff(ctx, agentProfile, message, workingDirectory, timeout)
	if result.Success {
		result.Message = fmt.Sprintf("Successfully handed off to %s in %.2fs", agentProfile, time.Since(start).Seconds())
	}
	return toolResultJSON(result), nil
}

func (t *toolset) runHandoff(ctx context.Context, agentProfile, message, workingDirectory string, timeout time.Duration) HandoffResult {
	worker, err := t.createWorker(ctx, agentProfile, message, workingDirectory)
	if err != nil {
		return HandoffResult{Success: false, Message: fmt.Sprintf("Handoff failed: %v", err)}
	}

	result := HandoffResult{
		TerminalID:   worker.ID,
		AgentProfile: worker.AgentProfile,
		TmuxWindowID: resolveWindowIndex(ctx, t.client, worker.TmuxSession, worker.TmuxWindow),
	}

	if !t.waitForStatus(ctx, worker.ID, models.StatusIdle, constants.ProviderInitTimeout) {
		result.Message = fmt.Sprintf("Terminal %s did not reach IDLE status within %v", worker.ID, constants.ProviderInitTimeout)
		return result
	}
	time.Sleep(constants.HandoffSettleDelay)

	if err := t.api.SendInput(ctx, worker.ID, message); err != nil {
		result.Message = fmt.Sprintf("Failed to send task to worker: %v", err)
		return result
	}

	// Poll for completion, capturing the worker's internal session id
	// along the way: it appears in the pane only once the agent starts.
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			result.Message = fmt.Sprintf("Handoff timed out after %v", timeout)
			return result
		}
		if result.SubagentID == "" {
			result.SubagentID = extractSubagentID(ctx, t.client, worker.TmuxSession, worker.TmuxWindow)
		}
		status, err := t.api.GetStatus(ctx, worker.ID)
		if err == nil {
			s := terminalStatusOf(status)
			if s == models.StatusCompleted || s == models.StatusError {
				break
			}
		}
		select {
		case <-ctx.Done():
			result.Message = "Handoff canceled"
			return result
		case <-time.After(constants.HandoffPollInterval):
		}
	}

	if result.SubagentID == "" {
		result.SubagentID = extractSubagentID(ctx, t.client, worker.TmuxSession, worker.TmuxWindow)
	}

	output, err := t.api.GetOutput(ctx, worker.ID, models.OutputLast, 0)
	if err != nil {
		result.Message = fmt.Sprintf("Worker finished but output fetch failed: %v", err)
		return result
	}
	if err := t.api.SendExit(ctx, worker.ID); err != nil {
		t.log.Warn("failed to retire worker", zap.String("terminal_id", worker.ID), zap.Error(err))
	}

	result.Success = true
	result.Output = output
	return result
}

func (t *toolset) assignHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentProfile, err := req.RequireString("agent_profile")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workingDirectory := ""
	if t.enableCWD {
		workingDirectory = req.GetString("working_directory", "")
	}

	worker, err := t.createWorker(ctx, agentProfile, message, workingDirectory)
	if err != nil {
		return toolResultJSON(HandoffResult{
			Success: false,
			Message: fmt.Sprintf("Assignment failed: %v", err),
		}), nil
	}

	result := HandoffResult{
		TerminalID:   worker.ID,
		AgentProfile: worker.AgentProfile,
		TmuxWindowID: resolveWindowIndex(ctx, t.client, worker.TmuxSession, worker.TmuxWindow),
	}

	if err := t.api.SendInput(ctx, worker.ID, message); err != nil {
		result.Message = fmt.Sprintf("Worker created but task send failed: %v", err)
		return toolResultJSON(result), nil
	}

	// Brief poll for the internal session id; the worker keeps running
	// either way and auto-relay reports the result later.
	result.SubagentID = waitForSubagentID(ctx, t.client, worker.TmuxSession, worker.TmuxWindow,
		constants.AssignSessionWait, constants.AssignPollInterval)

	result.Success = true
	result.Message = fmt.Sprintf("Task assigned to %s (terminal: %s)", agentProfile, worker.ID)
	return toolResultJSON(result), nil
}

func (t *toolset) checkTerminalHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	terminalID, err := req.RequireString("terminal_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tailLines := int(req.GetFloat("tail_lines", 100))

	status, err := t.api.GetStatus(ctx, terminalID)
	if err != nil {
		return toolResultJSON(CheckTerminalResult{
			Success: false,
			Status:  string(models.StatusError),
			Message: fmt.Sprintf("Failed to check terminal: %v", err),
		}), nil
	}
	output, err := t.api.GetOutput(ctx, terminalID, models.OutputTail, tailLines)
	if err != nil {
		return toolResultJSON(CheckTerminalResult{
			Success: false,
			Status:  status,
			Message: fmt.Sprintf("Failed to fetch terminal output: %v", err),
		}), nil
	}
	return toolResultJSON(CheckTerminalResult{
		Success: true,
		Status:  status,
		Message: fmt.Sprintf("Successfully fetched terminal %s status", terminalID),
		Output:  output,
	}), nil
}

func (t *toolset) sendMessageHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	receiverID, err := req.RequireString("receiver_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	senderID := t.callerTerminalID(ctx)
	if senderID == "" {
		return toolResultJSON(map[string]interface{}{
			"success": false,
			"error":   "Sender identity not found (no CAO_TERMINAL_ID and no session context)",
		}), nil
	}

	msg, err := t.api.SendToInbox(ctx, receiverID, senderID, message)
	if err != nil {
		return toolResultJSON(map[string]interface{}{"success": false, "error": err.Error()}), nil
	}
	return toolResultJSON(msg), nil
}

func (t *toolset) checkInboxHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	terminalID := req.GetString("terminal_id", "")
	if terminalID == "" {
		terminalID = t.callerTerminalID(ctx)
	}
	if terminalID == "" {
		return toolResultJSON(map[string]interface{}{
			"success": false,
			"error":   "No terminal_id provided and caller terminal unknown",
		}), nil
	}
	limit := int(req.GetFloat("limit", 10))

	messages, err := t.api.ListInbox(ctx, terminalID, limit)
	if err != nil {
		return toolResultJSON(map[string]interface{}{"success": false, "error": err.Error()}), nil
	}
	return toolResultJSON(map[string]interface{}{
		"success":     true,
		"terminal_id": terminalID,
		"messages":    messages,
		"count":       len(messages),
	}), nil
}

func (t *toolset) listWorkersHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := ""
	if callerID := t.callerTerminalID(ctx); callerID != "" {
		if caller, err := t.api.GetTerminal(ctx, callerID); err == nil {
			session = caller.TmuxSession
		}
	}
	if session == "" {
		session = sessionIDFromContext(ctx)
	}
	if session == "" {
		return toolResultJSON(map[string]interface{}{
			"success": false,
			"error":   "Could not determine session for worker discovery",
		}), nil
	}

	workers, err := t.api.ListWorkers(ctx, session)
	if err != nil {
		return toolResultJSON(map[string]interface{}{"success": false, "error": err.Error()}), nil
	}
	return toolResultJSON(map[string]interface{}{"success": true, "workers": workers}), nil
}

func (t *toolset) doneHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	callerID := t.callerTerminalID(ctx)
	if callerID == "" {
		return mcp.NewToolResultError("This terminal is not tracked by the orchestrator; no supervisor to report to."), nil
	}

	caller, err := t.api.GetTerminal(ctx, callerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve own terminal: %v", err)), nil
	}
	supervisorID := caller.DelegatingAgentID
	if supervisorID == "" {
		if sid := sessionIDFromContext(ctx); sid != "" {
			if sup, err := t.api.GetTerminalByDelegatingAgent(ctx, sid); err == nil {
				supervisorID = sup.ID
			}
		}
	}
	if supervisorID == "" {
		return mcp.NewToolResultError("Could not identify your supervisor terminal; nobody to send results to."), nil
	}

	if err := t.api.SendInput(ctx, supervisorID, message); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to relay results: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Results relayed to supervisor terminal %s. You can now exit.", supervisorID)), nil
}
