//go:build !unix

package agent

import (
	"errors"
	"os"
)

// OSProcess terminates the running worker. Replacing the process image is
// not supported here; restart falls back to a non-zero exit so a supervisor
// relaunches the worker.
type OSProcess struct{}

func (OSProcess) Exit(code int) {
	os.Exit(code)
}

func (OSProcess) ReplaceSelf(args []string) error {
	return errors.New("in-place restart is not supported on this platform")
}
