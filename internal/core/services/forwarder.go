package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewfleet.hub/internal/core/circuitbreaker"
	"crewfleet.hub/internal/core/domain"
	"crewfleet.hub/internal/core/ports"
)

// Forwarder operations, used as metric and audit labels.
const (
	OpExecute = "execute"
	OpAction  = "action"
	OpStatus  = "status"
	OpLogs    = "logs"
)

// DefaultLogLines is used when the caller does not ask for a line count.
const DefaultLogLines = 200

type ForwarderConfig struct {
	FallbackHost   string
	BasePort       int
	ExecuteTimeout time.Duration
	ActionTimeout  time.Duration
}

// Forwarder proxies manager commands to the worker owning an agent id.
type Forwarder struct {
	catalog  ports.CatalogSource
	registry *ServiceRegistry
	client   *http.Client
	breakers *circuitbreaker.Set
	cfg      ForwarderConfig
	auditor  ports.ActionAuditor
	observe  func(operation, outcome string)
	logger   *slog.Logger
}

// NewForwarder builds a forwarder. The client carries no timeout of its own;
// each call is bounded by the per-operation timeout in cfg.
func NewForwarder(catalog ports.CatalogSource, registry *ServiceRegistry, client *http.Client, cfg ForwarderConfig, logger *slog.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.FallbackHost == "" {
		cfg.FallbackHost = "127.0.0.1"
	}
	if cfg.BasePort == 0 {
		cfg.BasePort = 8100
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 60 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	l := logger.With("component", "forwarder")
	f := &Forwarder{
		catalog:  catalog,
		registry: registry,
		client:   client,
		breakers: circuitbreaker.NewSet(l),
		cfg:      cfg,
		logger:   l,
	}
	// A worker that (re)registers gets a clean slate.
	registry.OnChange(f.breakers.Reset)
	return f
}

// SetAuditor enables recording of forwarded lifecycle actions.
func (f *Forwarder) SetAuditor(a ports.ActionAuditor) {
	f.auditor = a
}

// SetObserver installs a hook called once per forwarded request.
func (f *Forwarder) SetObserver(fn func(operation, outcome string)) {
	f.observe = fn
}

// Execute posts params to the worker wrapped as {"parameters": params}.
func (f *Forwarder) Execute(ctx context.Context, agentID string, params json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage("{}")
	}
	body, err := json.Marshal(map[string]json.RawMessage{"parameters": params})
	if err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "invalid execute parameters", err)
	}
	return f.forward(ctx, agentID, OpExecute, http.MethodPost, "/execute", nil, body, f.cfg.ExecuteTimeout)
}

// Action forwards a lifecycle action body unchanged.
func (f *Forwarder) Action(ctx context.Context, agentID string, body json.RawMessage) (json.RawMessage, error) {
	out, err := f.forward(ctx, agentID, OpAction, http.MethodPost, "/action", nil, body, f.cfg.ActionTimeout)
	f.audit(ctx, agentID, body, err)
	return out, err
}

func (f *Forwarder) Status(ctx context.Context, agentID string) (json.RawMessage, error) {
	return f.forward(ctx, agentID, OpStatus, http.MethodGet, "/status", nil, nil, f.cfg.ActionTimeout)
}

func (f *Forwarder) Logs(ctx context.Context, agentID string, lines int) (json.RawMessage, error) {
	if lines <= 0 {
		lines = DefaultLogLines
	}
	q := url.Values{"lines": []string{strconv.Itoa(lines)}}
	return f.forward(ctx, agentID, OpLogs, http.MethodGet, "/logs", q, nil, f.cfg.ActionTimeout)
}

// ResolveURL returns the base URL for a catalog agent: its registered URL,
// else its configured port, else basePort plus its catalog position.
func (f *Forwarder) ResolveURL(agentID string) (string, error) {
	cat := f.catalog.Catalog()
	agent, idx, ok := cat.Lookup(agentID)
	if !ok {
		return "", domain.NewError(domain.ErrNotFound, "agent not found in config")
	}
	return f.registry.Resolve(agentID, func() string {
		return f.fallbackURL(agent, idx)
	}), nil
}

// Services merges the catalog with the registry. Catalog agents come first
// in file order, then registered services the catalog does not know.
func (f *Forwarder) Services() []domain.ServiceListing {
	cat := f.catalog.Catalog()
	registered := f.registry.List()
	byID := make(map[string]domain.RegisteredService, len(registered))
	for _, s := range registered {
		byID[s.ID] = s
	}

	out := make([]domain.ServiceListing, 0, len(cat.Agents)+len(registered))
	for i, a := range cat.Agents {
		row := domain.ServiceListing{
			ID:          a.ID,
			Description: a.Description,
			EntryPoint:  a.EntryPoint,
		}
		if s, ok := byID[a.ID]; ok {
			seen := s.LastSeen
			row.ServiceURL = s.ServiceURL
			row.Metadata = s.Metadata
			row.RegisteredAt = &seen
			delete(byID, a.ID)
		} else {
			row.ServiceURL = f.fallbackURL(a, i)
			row.Metadata = map[string]any{}
		}
		out = append(out, row)
	}
	for _, s := range registered {
		if _, extra := byID[s.ID]; !extra {
			continue
		}
		seen := s.LastSeen
		out = append(out, domain.ServiceListing{
			ID:           s.ID,
			ServiceURL:   s.ServiceURL,
			Metadata:     s.Metadata,
			RegisteredAt: &seen,
		})
	}
	return out
}

func (f *Forwarder) fallbackURL(a domain.CatalogAgent, idx int) string {
	port := a.Port
	if port == 0 {
		port = f.cfg.BasePort + idx
	}
	return fmt.Sprintf("http://%s:%d", f.cfg.FallbackHost, port)
}

func (f *Forwarder) forward(ctx context.Context, agentID, op, method, path string, query url.Values, body []byte, timeout time.Duration) (json.RawMessage, error) {
	base, err := f.ResolveURL(agentID)
	if err != nil {
		f.record(op, "not_found")
		return nil, err
	}
	target := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		status  int
		payload []byte
	)
	// Only transport failures count against the breaker; a worker answering
	// 409 is healthy. A long task outliving the execute timeout is not a
	// transport failure either.
	err = f.breakers.For(agentID).Execute(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if op == OpExecute && errors.Is(err, context.DeadlineExceeded) {
				return circuitbreaker.Neutral(err)
			}
			return err
		}
		defer resp.Body.Close()
		payload, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		status = resp.StatusCode
		return nil
	})
	if err != nil {
		f.record(op, "unreachable")
		f.logger.Warn("agent service unreachable", "agent_id", agentID, "operation", op, "url", target, "error", err)
		return nil, domain.WrapError(domain.ErrUnreachable, "Error contacting agent service", err)
	}

	if status >= 400 {
		f.record(op, "remote_error")
		return nil, &domain.RemoteError{StatusCode: status, Body: string(payload)}
	}
	if !json.Valid(payload) {
		f.record(op, "bad_gateway")
		return nil, domain.NewError(domain.ErrBadGateway, "agent service returned a non-JSON body")
	}
	f.record(op, "ok")
	return json.RawMessage(payload), nil
}

func (f *Forwarder) record(op, outcome string) {
	if f.observe != nil {
		f.observe(op, outcome)
	}
}

func (f *Forwarder) audit(ctx context.Context, agentID string, body json.RawMessage, err error) {
	if f.auditor == nil {
		return
	}
	var req domain.ActionRequest
	_ = json.Unmarshal(body, &req)

	entry := &domain.ActionAudit{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Action:     req.Action,
		Target:     domain.AuditTargetService,
		StatusCode: http.StatusOK,
		CreatedAt:  time.Now().UTC(),
	}
	var remote *domain.RemoteError
	switch {
	case err == nil:
	case errors.As(err, &remote):
		entry.StatusCode = remote.StatusCode
		entry.Detail = remote.Body
	case errors.Is(err, domain.ErrNotFound):
		entry.StatusCode = http.StatusNotFound
		entry.Detail = err.Error()
	case errors.Is(err, domain.ErrUnreachable):
		entry.StatusCode = http.StatusServiceUnavailable
		entry.Detail = err.Error()
	default:
		entry.StatusCode = http.StatusBadGateway
		entry.Detail = err.Error()
	}

	// Audit writes must not outlive or fail the forwarded call.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := f.auditor.RecordAction(actx, entry); err != nil {
		f.logger.Warn("failed to record action audit", "agent_id", agentID, "error", err)
	}
}
