package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crewfleet.hub/internal/core/domain"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	notifyTimeout            = 2 * time.Second
)

// Notifier keeps the manager's registry informed about this worker. Every
// call is best-effort: failures are logged and never returned.
type Notifier struct {
	managerURL string
	payload    domain.RegisterRequest
	interval   time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewNotifier returns nil when managerURL is empty; a nil Notifier does
// nothing.
func NewNotifier(managerURL string, payload domain.RegisterRequest, client *http.Client, logger *slog.Logger) *Notifier {
	if managerURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{}
	}
	if payload.Metadata == nil {
		payload.Metadata = map[string]any{}
	}
	return &Notifier{
		managerURL: strings.TrimRight(managerURL, "/"),
		payload:    payload,
		interval:   DefaultHeartbeatInterval,
		client:     client,
		logger:     logger.With("component", "notifier"),
	}
}

// WithInterval overrides the heartbeat period.
func (n *Notifier) WithInterval(d time.Duration) *Notifier {
	if n != nil && d > 0 {
		n.interval = d
	}
	return n
}

func (n *Notifier) Register(ctx context.Context) {
	if n == nil {
		return
	}
	if err := n.post(ctx, "/api/agent-services/register", n.payload); err != nil {
		n.logger.Warn("could not register with manager", "manager_url", n.managerURL, "error", err)
		return
	}
	n.logger.Info("registered with manager", "manager_url", n.managerURL, "service_url", n.payload.ServiceURL)
}

// Run sends heartbeats until ctx is cancelled. A heartbeat already sent is
// allowed to finish before Run returns.
func (n *Notifier) Run(ctx context.Context) {
	if n == nil {
		return
	}
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.post(context.WithoutCancel(ctx), "/api/agent-services/heartbeat", n.payload); err != nil {
				n.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

// Unregister runs on a fresh context so it still goes out while the
// caller's context is being torn down.
func (n *Notifier) Unregister() {
	if n == nil {
		return
	}
	body := map[string]string{"id": n.payload.ID}
	if err := n.post(context.Background(), "/api/agent-services/unregister", body); err != nil {
		n.logger.Warn("could not unregister from manager", "error", err)
		return
	}
	n.logger.Info("unregistered from manager")
}

func (n *Notifier) post(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.managerURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("manager returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
