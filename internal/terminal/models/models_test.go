package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderKind(t *testing.T) {
	tests := []struct {
		input string
		want  ProviderKind
		ok    bool
	}{
		{"claude-code", ProviderClaudeCode, true},
		{"opencode", ProviderOpencode, true},
		{"opencode-api", ProviderOpencodeAPI, true},
		{"opencode-attach", ProviderOpencodeAttach, true},
		{"codex", "", false},
		{"", "", false},
		{"Claude-Code", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseProviderKind(tt.input)
		assert.Equal(t, tt.ok, ok, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestParseOutputMode(t *testing.T) {
	for _, valid := range []string{"full", "last", "tail"} {
		mode, ok := ParseOutputMode(valid)
		require.True(t, ok, "mode %q", valid)
		assert.Equal(t, OutputMode(valid), mode)
	}
	for _, invalid := range []string{"", "FULL", "head", "tail "} {
		_, ok := ParseOutputMode(invalid)
		assert.False(t, ok, "mode %q", invalid)
	}
}

func TestNewTerminalID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTerminalID()
		require.True(t, ValidTerminalID(id), "generated id %q", id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestValidTerminalID(t *testing.T) {
	assert.True(t, ValidTerminalID("a1b2c3d4"))
	assert.True(t, ValidTerminalID("00000000"))

	assert.False(t, ValidTerminalID(""))
	assert.False(t, ValidTerminalID("a1b2c3d"))
	assert.False(t, ValidTerminalID("a1b2c3d45"))
	assert.False(t, ValidTerminalID("A1B2C3D4"))
	assert.False(t, ValidTerminalID("g1b2c3d4"))
	assert.False(t, ValidTerminalID("a1b2-3d4"))
}

func TestNewWindowName(t *testing.T) {
	name := NewWindowName("developer")
	assert.Regexp(t, `^developer-[a-f0-9]{4}$`, name)

	other := NewWindowName("developer")
	assert.NotEqual(t, name, other)
}

func TestNewSessionName(t *testing.T) {
	name := NewSessionName()
	assert.Regexp(t, `^[a-f0-9]{8}$`, name)
}
