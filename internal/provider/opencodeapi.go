package provider

import (
	"context"
	"regexp"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/pkg/opencode"
)

var matchAnythingPattern = regexp.MustCompile(`.*`)

// OpencodeAPI drives an opencode server over HTTP. The terminal's session
// name doubles as the opencode session id; the server queues prompts
// internally, so the provider reports a constant IDLE.
type OpencodeAPI struct {
	terminalID   string
	session      string
	agentProfile string

	api *opencode.Client
	log *logger.Logger
}

// NewOpencodeAPI constructs a server-backed opencode provider.
func NewOpencodeAPI(terminalID, session, agentProfile string, api *opencode.Client, log *logger.Logger) *OpencodeAPI {
	return &OpencodeAPI{
		terminalID:   terminalID,
		session:      session,
		agentProfile: agentProfile,
		api:          api,
		log:          log.WithTerminalID(terminalID).WithProvider(string(models.ProviderOpencodeAPI)),
	}
}

func (p *OpencodeAPI) Kind() models.ProviderKind { return models.ProviderOpencodeAPI }

// Initialize verifies the server answers its health endpoint.
func (p *OpencodeAPI) Initialize(ctx context.Context) error {
	if err := p.api.Health(ctx); err != nil {
		return apperrors.Upstream("opencode server health check failed", err)
	}
	return nil
}

// SendInput queues the prompt on the server; fire and forget.
func (p *OpencodeAPI) SendInput(ctx context.Context, message string) error {
	if err := p.api.PromptAsync(ctx, p.session, message, p.agentProfile); err != nil {
		return apperrors.Upstream("failed to queue prompt on opencode server", err)
	}
	return nil
}

// Status is a constant IDLE; the server handles queuing internally.
func (p *OpencodeAPI) Status(_ context.Context, _ int) (models.TerminalStatus, error) {
	return models.StatusIdle, nil
}

// ExtractLastMessage ignores pane output and reads the transcript from
// the server instead.
func (p *OpencodeAPI) ExtractLastMessage(ctx context.Context, _ string) (string, error) {
	text, err := p.api.LastAssistantText(ctx, p.session)
	if err != nil {
		return "", apperrors.Upstream("failed to fetch messages from opencode server", err)
	}
	if text == "" {
		return "No assistant message found in session history.", nil
	}
	return text, nil
}

// IdleLogPattern matches anything: deliveries never need to wait on the
// pane log for this provider.
func (p *OpencodeAPI) IdleLogPattern() *regexp.Regexp {
	return matchAnythingPattern
}

// ExitCommand is empty: there is no interactive CLI to retire.
func (p *OpencodeAPI) ExitCommand() ExitCommand {
	return ExitCommand{}
}

func (p *OpencodeAPI) Cleanup() error { return nil }
