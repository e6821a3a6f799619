package tmux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/caolabs/cao/internal/common/errors"
)

func TestTailLines(t *testing.T) {
	text := "one\ntwo\nthree\nfour\nfive\n"

	assert.Equal(t, "four\nfive", TailLines(text, 2))
	assert.Equal(t, "five", TailLines(text, 1))
	assert.Equal(t, "one\ntwo\nthree\nfour\nfive", TailLines(text, 5))
	assert.Equal(t, "one\ntwo\nthree\nfour\nfive", TailLines(text, 50))
	assert.Equal(t, "", TailLines("", 3))
}

func TestResolveWorkingDirDefaultsToCwd(t *testing.T) {
	resolved, err := ResolveWorkingDir("")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(wd)
	require.NoError(t, err)
	assert.Equal(t, expected, resolved)
}

func TestResolveWorkingDirResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	resolved, err := ResolveWorkingDir(link)
	require.NoError(t, err)

	expected, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	assert.Equal(t, expected, resolved)
}

func TestResolveWorkingDirRejectsMissingPath(t *testing.T) {
	_, err := ResolveWorkingDir(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.GetHTTPStatus(err))
}

func TestResolveWorkingDirRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := ResolveWorkingDir(file)
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.GetHTTPStatus(err))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/tmp/log file.log'", shellQuote("/tmp/log file.log"))
	assert.Equal(t, `'it'\''s.log'`, shellQuote("it's.log"))
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "sess:win", target("sess", "win"))
}
