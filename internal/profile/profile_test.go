package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	content := `system_prompt: |
  You are a careful code reviewer.
mcp_servers:
  cao:
    type: sse
    url: http://localhost:9888/sse
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reviewer.yaml"), []byte(content), 0o644))

	store := NewStoreAt(dir)
	p, err := store.Load("reviewer")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", p.Name)
	assert.Equal(t, "You are a careful code reviewer.\n", p.SystemPrompt)
	require.Contains(t, p.MCPServers, "cao")
}

func TestLoadMissingProfileIsBare(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	p, err := store.Load("ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", p.Name)
	assert.Empty(t, p.SystemPrompt)
	assert.Empty(t, p.MCPServers)
}

func TestLoadMalformedProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("system_prompt: [unclosed"), 0o644))

	_, err := NewStoreAt(dir).Load("broken")
	require.Error(t, err)
}

func TestMCPConfigJSON(t *testing.T) {
	p := &Profile{
		MCPServers: map[string]interface{}{
			"cao": map[string]interface{}{"type": "sse", "url": "http://localhost:9888/sse"},
		},
	}
	out, err := p.MCPConfigJSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"mcpServers"`)
	assert.Contains(t, out, `"http://localhost:9888/sse"`)

	empty := &Profile{}
	out, err = empty.MCPConfigJSON()
	require.NoError(t, err)
	assert.Empty(t, out)
}
