package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"crewfleet.hub/internal/core/domain"
)

// DrainTimeoutEnv overrides the catalog's runtime.drainTimeoutSeconds.
const DrainTimeoutEnv = "AGENT_DRAIN_TIMEOUT"

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadCatalog reads and validates an agent catalog. ${VAR} references are
// expanded from the environment before parsing. Files ending in .json are
// decoded as JSON, anything else as YAML.
func LoadCatalog(path string) (*domain.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return ParseCatalog(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

func ParseCatalog(data []byte, isJSON bool) (*domain.Catalog, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var cat domain.Catalog
	if isJSON {
		if err := json.Unmarshal(expanded, &cat); err != nil {
			return nil, fmt.Errorf("parsing catalog file: %w", err)
		}
	} else if err := yaml.Unmarshal(expanded, &cat); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validating catalog: %w", err)
	}
	return &cat, nil
}

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or an empty
// string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// DefaultCatalog is used when no catalog file exists.
func DefaultCatalog() *domain.Catalog {
	return &domain.Catalog{
		Agents: []domain.CatalogAgent{
			{ID: "planner", Name: "Planner Agent", Description: "Breaks work into tasks"},
			{ID: "executor", Name: "Executor Agent", Description: "Carries out tasks"},
			{ID: "reviewer", Name: "Reviewer Agent", Description: "Reviews results"},
		},
	}
}

// CatalogFile serves the catalog at path and re-reads it when the file's
// modification time changes. A missing file yields DefaultCatalog; a file
// that fails to parse keeps the last good catalog.
type CatalogFile struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	loaded  bool
	current *domain.Catalog
}

func NewCatalogFile(path string, logger *slog.Logger) *CatalogFile {
	return &CatalogFile{
		path:    path,
		logger:  logger.With("component", "catalog"),
		current: DefaultCatalog(),
	}
}

// Catalog implements ports.CatalogSource.
func (c *CatalogFile) Catalog() *domain.Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if c.loaded {
				c.logger.Warn("catalog file disappeared, using defaults", "path", c.path)
				c.current = DefaultCatalog()
				c.loaded = false
				c.modTime = time.Time{}
			}
		} else {
			c.logger.Warn("failed to stat catalog file", "path", c.path, "error", err)
		}
		return c.current
	}

	if c.loaded && info.ModTime().Equal(c.modTime) {
		return c.current
	}

	cat, err := LoadCatalog(c.path)
	if err != nil {
		c.logger.Error("failed to load catalog, keeping previous", "path", c.path, "error", err)
		return c.current
	}
	c.current = cat
	c.modTime = info.ModTime()
	c.loaded = true
	c.logger.Info("catalog loaded", "path", c.path, "agents", len(cat.Agents))
	return c.current
}

// ResolveDrainTimeout picks the worker drain timeout: the seconds in
// envValue when set, else the catalog setting, else the default. A set but
// unusable envValue means the default, not the catalog.
func ResolveDrainTimeout(envValue string, cat *domain.Catalog) time.Duration {
	if envValue = strings.TrimSpace(envValue); envValue != "" {
		secs, err := strconv.ParseFloat(envValue, 64)
		if err != nil || secs < 0 {
			return domain.DefaultDrainTimeout
		}
		return time.Duration(secs * float64(time.Second))
	}
	if cat != nil && cat.Runtime.DrainTimeoutSeconds != nil && *cat.Runtime.DrainTimeoutSeconds >= 0 {
		return time.Duration(*cat.Runtime.DrainTimeoutSeconds) * time.Second
	}
	return domain.DefaultDrainTimeout
}
