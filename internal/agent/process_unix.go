//go:build unix

package agent

import (
	"fmt"
	"os"
	"syscall"
)

// OSProcess terminates or re-executes the running worker.
type OSProcess struct{}

func (OSProcess) Exit(code int) {
	os.Exit(code)
}

// ReplaceSelf execs the current binary with args. It only returns on
// failure.
func (OSProcess) ReplaceSelf(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := syscall.Exec(exe, args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}
