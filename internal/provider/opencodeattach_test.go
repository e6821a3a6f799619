package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caolabs/cao/internal/terminal/models"
)

func TestOpencodeAttachExtractLastMessage(t *testing.T) {
	p := &OpencodeAttach{}

	output := `opencode v1
/help  agents
> summarize the repo
The repo is a terminal orchestrator.
It stores metadata in SQLite.
tab  agents
`
	answer, err := p.ExtractLastMessage(context.Background(), output)
	require.NoError(t, err)
	assert.Equal(t, "> summarize the repo\nThe repo is a terminal orchestrator.\nIt stores metadata in SQLite.", answer)
}

func TestOpencodeAttachExtractSkipsSpinnerFooter(t *testing.T) {
	p := &OpencodeAttach{}

	// While a spinner is visible, the last complete answer sits above it.
	output := "Previous complete answer\nworking  esc interrupt\ntab  agents\n"
	answer, err := p.ExtractLastMessage(context.Background(), output)
	require.NoError(t, err)
	assert.Equal(t, "Previous complete answer", answer)
}

func TestOpencodeAttachExtractNoMessage(t *testing.T) {
	p := &OpencodeAttach{}
	_, err := p.ExtractLastMessage(context.Background(), "tab  agents\n")
	require.Error(t, err)
}

func TestConstantIdleProviders(t *testing.T) {
	attach := &OpencodeAttach{}
	status, err := attach.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, status)
	assert.True(t, attach.IdleLogPattern().MatchString("anything at all"))
	assert.Equal(t, "C-c", attach.ExitCommand().Control)

	api := &OpencodeAPI{}
	status, err = api.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, status)
	empty := api.ExitCommand()
	assert.Empty(t, empty.Text)
	assert.Empty(t, empty.Control)
}
