package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caolabs/cao/internal/common/constants"
	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/common/logger"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

// Cleaning patterns for the JSON event stream. Newlines, carriage returns
// and tabs are kept; every other control character is dropped.
var (
	opencodeEscapePattern  = regexp.MustCompile(`\[[?0-9;]*[a-zA-Z]`)
	opencodeControlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)

	// A shell prompt at the very tail is the ground-truth signal that the
	// opencode run process has returned.
	opencodePromptPattern = regexp.MustCompile(`(?:[#$]|root@.*[#$])\s*$`)

	opencodeJSONLinePattern = regexp.MustCompile(`(\{.*\})`)
	opencodeIdleLogPattern  = regexp.MustCompile(`"type":\s*"step[_-]finish"`)
)

var opencodeFinishMarkers = []string{
	`"type":"step-finish"`, `"type":"step_finish"`,
	`"type": "step-finish"`, `"type": "step_finish"`,
}

var opencodeErrorMarkers = []string{
	`"type":"error"`, `"type": "error"`,
}

var opencodeProcessingTypes = map[string]bool{
	"step_start":  true,
	"text":        true,
	"call":        true,
	"result":      true,
	"tool_use":    true,
	"step_finish": true,
}

// Opencode drives the opencode CLI in one-shot JSON streaming mode. Each
// prompt is a full `opencode run` invocation that streams typed events to
// stdout and then returns to the shell.
type Opencode struct {
	terminalID   string
	session      string
	window       string
	agentProfile string

	client tmux.Client
	log    *logger.Logger
}

// NewOpencode constructs an opencode provider for an existing window.
func NewOpencode(terminalID, session, window, agentProfile string, client tmux.Client, log *logger.Logger) *Opencode {
	return &Opencode{
		terminalID:   terminalID,
		session:      session,
		window:       window,
		agentProfile: agentProfile,
		client:       client,
		log:          log.WithTerminalID(terminalID).WithProvider(string(models.ProviderOpencode)),
	}
}

func (p *Opencode) Kind() models.ProviderKind { return models.ProviderOpencode }

// Initialize waits for a stable shell; the CLI itself launches per prompt.
func (p *Opencode) Initialize(ctx context.Context) error {
	if err := waitForShell(ctx, p.client, p.session, p.window, constants.ShellReadyTimeout, 500*time.Millisecond); err != nil {
		return apperrors.Timeout("shell initialization timed out")
	}
	return nil
}

// SendInput runs one opencode turn. The message travels inside a quoted
// heredoc so embedded quotes and newlines survive the shell.
func (p *Opencode) SendInput(ctx context.Context, message string) error {
	command := fmt.Sprintf(
		"opencode run --format json --continue --agent %s << 'EOF_OPENCODE'\n%s\nEOF_OPENCODE",
		p.agentProfile, message,
	)
	return p.client.SendKeys(ctx, p.session, p.window, command)
}

func (p *Opencode) Status(ctx context.Context, tailLines int) (models.TerminalStatus, error) {
	output, err := p.client.GetHistory(ctx, p.session, p.window, tailLines)
	if err != nil {
		return models.StatusError, err
	}
	return opencodeStatusFromOutput(output), nil
}

func cleanOpencodeOutput(output string) string {
	clean := StripANSI(output)
	clean = opencodeEscapePattern.ReplaceAllString(clean, "")
	return opencodeControlPattern.ReplaceAllString(clean, "")
}

func opencodeStatusFromOutput(output string) models.TerminalStatus {
	if strings.TrimSpace(output) == "" {
		return models.StatusIdle
	}

	clean := cleanOpencodeOutput(output)

	var lines []string
	for _, line := range strings.Split(clean, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	collapsed := strings.NewReplacer("\n", "", "\r", "").Replace(clean)
	hasFinish := containsAny(collapsed, opencodeFinishMarkers)
	hasError := containsAny(collapsed, opencodeErrorMarkers)

	lastLine := ""
	if len(lines) > 0 {
		lastLine = lines[len(lines)-1]
	}
	atPrompt := lastLine != "" && opencodePromptPattern.MatchString(lastLine)

	if atPrompt {
		switch {
		case hasFinish:
			return models.StatusCompleted
		case hasError:
			return models.StatusError
		default:
			return models.StatusIdle
		}
	}

	// Not at prompt: look for streaming events on recent lines.
	for i := len(lines) - 1; i >= 0; i-- {
		match := opencodeJSONLinePattern.FindString(lines[i])
		if match == "" {
			continue
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(match), &event); err != nil {
			continue
		}
		eventType, _ := event["type"].(string)
		eventType = strings.ReplaceAll(eventType, "-", "_")
		if opencodeProcessingTypes[eventType] {
			return models.StatusProcessing
		}
		if eventType == "error" {
			return models.StatusError
		}
	}

	// Command is still running between events.
	return models.StatusProcessing
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// decodeJSONObjects extracts every well-formed JSON object embedded in s,
// tolerating arbitrary text between objects.
func decodeJSONObjects(s string) []map[string]interface{} {
	var objects []map[string]interface{}
	pos := 0
	for pos < len(s) {
		start := strings.IndexByte(s[pos:], '{')
		if start == -1 {
			break
		}
		start += pos
		dec := json.NewDecoder(strings.NewReader(s[start:]))
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err == nil {
			objects = append(objects, obj)
			pos = start + int(dec.InputOffset())
		} else {
			pos = start + 1
		}
	}
	return objects
}

func eventMessageID(event map[string]interface{}) string {
	if id, ok := event["messageID"].(string); ok && id != "" {
		return id
	}
	if part, ok := event["part"].(map[string]interface{}); ok {
		if id, ok := part["messageID"].(string); ok {
			return id
		}
	}
	return ""
}

func eventText(event map[string]interface{}) string {
	if part, ok := event["part"].(map[string]interface{}); ok {
		if text, ok := part["text"].(string); ok {
			return text
		}
	}
	if text, ok := event["text"].(string); ok {
		return text
	}
	return ""
}

// ExtractLastMessage gathers the text parts of the final message block.
// The stream is collapsed before decoding so objects split across wrapped
// lines reassemble.
func (p *Opencode) ExtractLastMessage(_ context.Context, paneOutput string) (string, error) {
	clean := cleanOpencodeOutput(paneOutput)
	collapsed := strings.NewReplacer("\n", "", "\r", "").Replace(clean)

	objects := decodeJSONObjects(collapsed)

	// Identify the message id of the last step_finish event.
	lastMessageID := ""
	for i := len(objects) - 1; i >= 0; i-- {
		eventType, _ := objects[i]["type"].(string)
		if strings.ReplaceAll(eventType, "-", "_") == "step_finish" {
			if id := eventMessageID(objects[i]); id != "" {
				lastMessageID = id
				break
			}
		}
	}

	var parts []string
	for _, event := range objects {
		eventType, _ := event["type"].(string)
		if strings.ReplaceAll(eventType, "-", "_") != "text" {
			continue
		}
		if lastMessageID != "" && eventMessageID(event) != lastMessageID {
			continue
		}
		if text := eventText(event); text != "" {
			parts = append(parts, text)
		}
	}

	answer := strings.TrimSpace(strings.Join(parts, ""))
	if answer != "" {
		return answer, nil
	}

	// Nothing parseable: surface the cleaned raw output so callers can
	// see what actually happened.
	if fallback := strings.TrimSpace(clean); fallback != "" {
		return fallback, nil
	}
	return strings.TrimSpace(paneOutput), nil
}

func (p *Opencode) IdleLogPattern() *regexp.Regexp {
	return opencodeIdleLogPattern
}

func (p *Opencode) ExitCommand() ExitCommand {
	return ExitCommand{Control: "C-c"}
}

func (p *Opencode) Cleanup() error { return nil }
