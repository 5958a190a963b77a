package services

import (
	"context"
	"log/slog"
	"time"
)

// stalePurger is the part of the registry the cleaner needs.
type stalePurger interface {
	PurgeStale(ttl time.Duration) []string
}

// RegistryCleaner periodically drops registry entries that missed their
// heartbeats.
type RegistryCleaner struct {
	registry stalePurger
	interval time.Duration
	ttl      time.Duration
	onPurge  func(ids []string)
	logger   *slog.Logger
}

func NewRegistryCleaner(registry stalePurger, interval, ttl time.Duration, logger *slog.Logger) *RegistryCleaner {
	return &RegistryCleaner{
		registry: registry,
		interval: interval,
		ttl:      ttl,
		logger:   logger.With("component", "registry-cleaner"),
	}
}

// OnPurge sets a callback invoked with the ids removed in each sweep that
// removed something.
func (c *RegistryCleaner) OnPurge(fn func(ids []string)) {
	c.onPurge = fn
}

// Run sweeps until ctx is cancelled. Cancellation is the normal way to stop
// it and is not reported as an error.
func (c *RegistryCleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("registry cleaner started", "interval", c.interval, "ttl", c.ttl)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("registry cleaner stopped")
			return nil
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *RegistryCleaner) sweep() {
	removed := c.registry.PurgeStale(c.ttl)
	if len(removed) == 0 {
		return
	}
	c.logger.Warn("purged stale agent services", "count", len(removed), "agent_ids", removed)
	if c.onPurge != nil {
		c.onPurge(removed)
	}
}
