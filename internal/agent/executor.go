package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Executor runs one unit of agent work. params is the JSON object the
// manager sent as "parameters".
type Executor interface {
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

// EchoExecutor is the lightweight agent used with --dummy.
type EchoExecutor struct{}

func (EchoExecutor) Execute(_ context.Context, params json.RawMessage) (any, error) {
	return map[string]any{
		"ok":       true,
		"dummy":    true,
		"received": params,
	}, nil
}

// CommandExecutor runs an external program per request. The parameters are
// written to its stdin; stdout is decoded as JSON when possible and
// returned as a string otherwise.
type CommandExecutor struct {
	name string
	args []string
	dir  string
}

func NewCommandExecutor(command, dir string) (*CommandExecutor, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty command")
	}
	return &CommandExecutor{name: fields[0], args: fields[1:], dir: dir}, nil
}

func (e *CommandExecutor) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	cmd := exec.CommandContext(ctx, e.name, e.args...)
	cmd.Dir = e.dir
	cmd.Stdin = bytes.NewReader(params)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", e.name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if json.Valid(out) && len(out) > 0 {
		return json.RawMessage(out), nil
	}
	return string(out), nil
}
