package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd"), 0o644))

	lines, err := TailLines(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c\n", "d"}, lines)

	lines, err = TailLines(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a\n", "b\n", "c\n", "d"}, lines)

	lines, err = TailLines(path, 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTailLines_Missing(t *testing.T) {
	_, err := TailLines(filepath.Join(t.TempDir(), "nope.log"), 5)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogFile(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "planner.log"), LogFile("logs", "planner"))
}
