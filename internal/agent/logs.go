package agent

import (
	"bufio"
	"os"
	"path/filepath"
)

// LogFile returns the path a worker tees its log output into.
func LogFile(dir, agentID string) string {
	return filepath.Join(dir, agentID+".log")
}

// TailLines returns the last n lines of the file at path, each with its
// trailing newline kept.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		return []string{}, nil
	}
	ring := make([]string, 0, n)
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if len(ring) == n {
				ring = append(ring[:0], ring[1:]...)
			}
			ring = append(ring, line)
		}
		if err != nil {
			break
		}
	}
	return ring, nil
}
