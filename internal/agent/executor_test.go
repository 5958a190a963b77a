package agent

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoExecutor(t *testing.T) {
	out, err := EchoExecutor{}.Execute(context.Background(), json.RawMessage(`{"task":"x"}`))
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"dummy":true,"received":{"task":"x"}}`, string(raw))
}

func TestCommandExecutor(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	t.Run("json stdout is decoded", func(t *testing.T) {
		e, err := NewCommandExecutor("cat", "")
		require.NoError(t, err)

		out, err := e.Execute(context.Background(), json.RawMessage(`{"task":"plan"}`))
		require.NoError(t, err)
		raw, err := json.Marshal(out)
		require.NoError(t, err)
		assert.JSONEq(t, `{"task":"plan"}`, string(raw))
	})

	t.Run("plain stdout is returned as a string", func(t *testing.T) {
		if _, err := exec.LookPath("echo"); err != nil {
			t.Skip("echo not available")
		}
		e, err := NewCommandExecutor("echo hello world", "")
		require.NoError(t, err)

		out, err := e.Execute(context.Background(), json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.Equal(t, "hello world", out)
	})

	t.Run("failure surfaces as error", func(t *testing.T) {
		if _, err := exec.LookPath("false"); err != nil {
			t.Skip("false not available")
		}
		e, err := NewCommandExecutor("false", "")
		require.NoError(t, err)

		_, err = e.Execute(context.Background(), json.RawMessage(`{}`))
		assert.Error(t, err)
	})
}

func TestNewCommandExecutor_Empty(t *testing.T) {
	_, err := NewCommandExecutor("   ", "")
	assert.Error(t, err)
}
