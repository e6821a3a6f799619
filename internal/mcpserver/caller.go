package mcpserver

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caolabs/cao/internal/common/constants"
	"github.com/caolabs/cao/internal/terminal/models"
	"github.com/caolabs/cao/internal/tmux"
)

// sessionIDKey carries the caller's agent-internal session id, extracted
// from the transport's query string.
type sessionIDKey struct{}

// withSessionID stores the session_id query param in the context. Used as
// the SSE and StreamableHTTP context func; stdio callers have no session id.
func withSessionID(ctx context.Context, r *http.Request) context.Context {
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		return context.WithValue(ctx, sessionIDKey{}, sid)
	}
	return ctx
}

func sessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDKey{}).(string)
	return sid
}

// callerTerminalID resolves the terminal id of the calling agent. The
// process environment wins; a session_id from the transport is resolved
// through the delegating-agent index.
func (t *toolset) callerTerminalID(ctx context.Context) string {
	if id := os.Getenv(constants.TerminalIDEnvVar); id != "" {
		return id
	}
	if sid := sessionIDFromContext(ctx); sid != "" {
		if terminal, err := t.api.GetTerminalByDelegatingAgent(ctx, sid); err == nil {
			return terminal.ID
		}
	}
	return ""
}

var subagentIDPattern = regexp.MustCompile(`"sessionID"\s*:\s*"(ses_[A-Za-z0-9_]+)"`)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	ansiSequence  = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
)

// extractSubagentID pulls the agent-internal session id from the worker's
// pane. The pane wraps long JSON lines, so all whitespace is collapsed
// before matching.
func extractSubagentID(ctx context.Context, client tmux.Client, session, window string) string {
	if client == nil || session == "" || window == "" {
		return ""
	}
	output, err := client.GetHistory(ctx, session, window, 0)
	if err != nil || output == "" {
		return ""
	}
	collapsed := whitespaceRun.ReplaceAllString(output, "")
	collapsed = ansiSequence.ReplaceAllString(collapsed, "")
	if m := subagentIDPattern.FindStringSubmatch(collapsed); m != nil {
		return m[1]
	}
	return ""
}

// waitForSubagentID polls the worker pane until the agent-internal session
// id appears, the wait elapses, or the context is canceled.
func waitForSubagentID(ctx context.Context, client tmux.Client, session, window string, wait, interval time.Duration) string {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if id := extractSubagentID(ctx, client, session, window); id != "" {
			return id
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(interval):
		}
	}
	return ""
}

// resolveWindowIndex maps a window name back to its numeric index. Window
// names carry a random suffix, so the index cannot be parsed from the name.
func resolveWindowIndex(ctx context.Context, client tmux.Client, session, window string) *int {
	if client == nil || session == "" || window == "" {
		return nil
	}
	windows, err := client.SessionWindows(ctx, session)
	if err != nil {
		return nil
	}
	for _, w := range windows {
		if w.Name == window {
			idx := w.Index
			return &idx
		}
	}
	return nil
}

// downgradeProvider keeps delegation local: a server-backed provider would
// loop workers through the same external server, so children of an
// opencode-api terminal run the plain opencode CLI instead.
func downgradeProvider(kind models.ProviderKind) models.ProviderKind {
	if kind == models.ProviderOpencodeAPI {
		return models.ProviderOpencode
	}
	return kind
}

// terminalStatusOf normalizes an API status string.
func terminalStatusOf(s string) models.TerminalStatus {
	return models.TerminalStatus(strings.ToLower(s))
}
