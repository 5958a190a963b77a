package domain

import (
	"fmt"
	"time"
)

// DefaultDrainTimeout bounds a worker drain when nothing else is configured.
const DefaultDrainTimeout = 30 * time.Second

// CatalogAgent is an agent declared in the manager's configuration file.
type CatalogAgent struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name,omitempty" yaml:"name"`
	Description  string `json:"description,omitempty" yaml:"description"`
	EntryPoint   string `json:"entryPoint,omitempty" yaml:"entryPoint"`
	Port         int    `json:"port,omitempty" yaml:"port"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel"`
}

type RuntimeSettings struct {
	DrainTimeoutSeconds *int   `json:"drainTimeoutSeconds,omitempty" yaml:"drainTimeoutSeconds"`
	LogDirectory        string `json:"logDirectory,omitempty" yaml:"logDirectory"`
}

// Catalog is the parsed agents configuration file.
type Catalog struct {
	Agents  []CatalogAgent  `json:"agents" yaml:"agents"`
	Runtime RuntimeSettings `json:"runtime" yaml:"runtime"`
}

// Lookup returns the agent with the given id and its position in the file.
func (c *Catalog) Lookup(id string) (CatalogAgent, int, bool) {
	for i, a := range c.Agents {
		if a.ID == id {
			return a, i, true
		}
	}
	return CatalogAgent{}, -1, false
}

func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		if a.Port < 0 || a.Port > 65535 {
			return fmt.Errorf("agents[%d]: port %d out of range", i, a.Port)
		}
		seen[a.ID] = true
	}
	if d := c.Runtime.DrainTimeoutSeconds; d != nil && *d < 0 {
		return fmt.Errorf("runtime.drainTimeoutSeconds must not be negative")
	}
	return nil
}

// LogDirectory falls back to "logs" like the workers do.
func (c *Catalog) LogDirectory() string {
	if c.Runtime.LogDirectory == "" {
		return "logs"
	}
	return c.Runtime.LogDirectory
}
