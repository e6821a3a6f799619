package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caolabs/cao/internal/common/constants"
	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/profile"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

// Regex patterns for claude output analysis. The marker glyphs come from
// the TUI itself: spinners while thinking, ⏺ in front of responses, the
// `>` input prompt, and ❯ beside numbered selection menus.
var (
	claudeResponsePattern   = regexp.MustCompile("⏺(?:\x1b\\[[0-9;]*m)*[\\s ]+")
	claudeProcessingPattern = regexp.MustCompile(`[✶✢✽✻·✳].*….*\(esc to interrupt.*\)`)
	claudeIdlePattern       = regexp.MustCompile(">[\\s ]")
	claudeWaitingPattern    = regexp.MustCompile(`❯.*\d+\.`)
	claudeNextPromptPattern = regexp.MustCompile(`^>\s`)
)

// ClaudeCode drives the TUI-decorated claude CLI.
type ClaudeCode struct {
	terminalID   string
	session      string
	window       string
	agentProfile string

	client   tmux.Client
	profiles *profile.Store
	log      *logger.Logger
}

// NewClaudeCode constructs a claude provider for an existing window.
func NewClaudeCode(terminalID, session, window, agentProfile string, client tmux.Client, profiles *profile.Store, log *logger.Logger) *ClaudeCode {
	return &ClaudeCode{
		terminalID:   terminalID,
		session:      session,
		window:       window,
		agentProfile: agentProfile,
		client:       client,
		profiles:     profiles,
		log:          log.WithTerminalID(terminalID).WithProvider(string(models.ProviderClaudeCode)),
	}
}

func (p *ClaudeCode) Kind() models.ProviderKind { return models.ProviderClaudeCode }

// buildCommand composes the claude launch command from the agent profile.
func (p *ClaudeCode) buildCommand() (string, error) {
	parts := []string{"claude"}

	if p.agentProfile != "" {
		prof, err := p.profiles.Load(p.agentProfile)
		if err != nil {
			return "", apperrors.ProviderError(
				fmt.Sprintf("failed to load agent profile '%s'", p.agentProfile), err)
		}

		if prof.SystemPrompt != "" {
			parts = append(parts, "--append-system-prompt", EscapePrompt(prof.SystemPrompt))
		}

		mcpConfig, err := prof.MCPConfigJSON()
		if err != nil {
			return "", apperrors.ProviderError(
				fmt.Sprintf("failed to render MCP config for profile '%s'", p.agentProfile), err)
		}
		if mcpConfig != "" {
			parts = append(parts, "--mcp-config", mcpConfig)
		}
	}

	return shellJoin(parts), nil
}

// Initialize starts the claude CLI and waits for its prompt.
func (p *ClaudeCode) Initialize(ctx context.Context) error {
	command, err := p.buildCommand()
	if err != nil {
		return err
	}

	if err := p.client.SendKeys(ctx, p.session, p.window, command); err != nil {
		return err
	}

	if err := waitUntilStatus(ctx, p, models.StatusIdle, constants.ProviderInitTimeout, time.Second); err != nil {
		return apperrors.Timeout("claude initialization timed out")
	}
	p.log.Info("claude ready")
	return nil
}

func (p *ClaudeCode) SendInput(ctx context.Context, message string) error {
	return p.client.SendKeys(ctx, p.session, p.window, message)
}

// Status analyzes terminal output. Rules apply in priority order:
// processing spinner, selection menu, response plus idle prompt, bare
// idle prompt, otherwise error.
func (p *ClaudeCode) Status(ctx context.Context, tailLines int) (models.TerminalStatus, error) {
	output, err := p.client.GetHistory(ctx, p.session, p.window, tailLines)
	if err != nil {
		return models.StatusError, err
	}
	return claudeStatusFromOutput(output), nil
}

func claudeStatusFromOutput(output string) models.TerminalStatus {
	if output == "" {
		return models.StatusError
	}
	if claudeProcessingPattern.MatchString(output) {
		return models.StatusProcessing
	}
	if claudeWaitingPattern.MatchString(output) {
		return models.StatusWaitingUserAnswer
	}
	hasResponse := claudeResponsePattern.MatchString(output)
	hasIdle := claudeIdlePattern.MatchString(output)
	if hasResponse && hasIdle {
		return models.StatusCompleted
	}
	if hasIdle {
		return models.StatusIdle
	}
	return models.StatusError
}

// ExtractLastMessage returns the text after the final ⏺ marker, stopping
// at the next input prompt or box separator.
func (p *ClaudeCode) ExtractLastMessage(_ context.Context, paneOutput string) (string, error) {
	matches := claudeResponsePattern.FindAllStringIndex(paneOutput, -1)
	if len(matches) == 0 {
		return "", apperrors.ProviderError("no claude response found in output", nil)
	}

	last := matches[len(matches)-1]
	remaining := paneOutput[last[1]:]

	var responseLines []string
	for _, line := range strings.Split(remaining, "\n") {
		if claudeNextPromptPattern.MatchString(line) || strings.Contains(line, "────────") {
			break
		}
		responseLines = append(responseLines, strings.TrimSpace(line))
	}

	answer := strings.TrimSpace(StripANSI(strings.Join(responseLines, "\n")))
	if answer == "" {
		return "", apperrors.ProviderError("empty claude response after ⏺ marker", nil)
	}
	return answer, nil
}

func (p *ClaudeCode) IdleLogPattern() *regexp.Regexp {
	return claudeIdlePattern
}

func (p *ClaudeCode) ExitCommand() ExitCommand {
	return ExitCommand{Text: "/exit"}
}

func (p *ClaudeCode) Cleanup() error { return nil }
