package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crewfleet.hub/internal/core/domain"
	"crewfleet.hub/internal/core/tracing"
)

const (
	defaultLogLines = 200
	maxBodyBytes    = 1 << 20
)

// ProcessController ends or replaces the worker process once a drain is
// over.
type ProcessController interface {
	Exit(code int)
	// ReplaceSelf only returns if the replacement failed.
	ReplaceSelf(args []string) error
}

type Config struct {
	ID           string
	Name         string
	DefaultModel string
	LogDir       string
	DrainTimeout time.Duration
	// Args is the argv a restart re-executes with.
	Args []string
}

// Agent is the HTTP surface of one worker process.
type Agent struct {
	cfg       Config
	lifecycle *Lifecycle
	executor  Executor
	notifier  *Notifier
	process   ProcessController
	router    *chi.Mux
	logger    *slog.Logger

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// New builds a worker. notifier may be nil when no manager is configured.
func New(cfg Config, executor Executor, notifier *Notifier, process ProcessController, logger *slog.Logger) *Agent {
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if process == nil {
		process = OSProcess{}
	}
	a := &Agent{
		cfg:       cfg,
		lifecycle: NewLifecycle(cfg.DrainTimeout),
		executor:  executor,
		notifier:  notifier,
		process:   process,
		router:    chi.NewRouter(),
		logger:    logger.With("component", "agent", "agent_id", cfg.ID),
	}
	a.routes()
	return a
}

func (a *Agent) routes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Recoverer)

	a.router.Get("/health", a.handleHealth)
	a.router.Get("/info", a.handleInfo)
	a.router.Post("/execute", a.handleExecute)
	a.router.Get("/status", a.handleStatus)
	a.router.Post("/action", a.handleAction)
	a.router.Get("/logs", a.handleLogs)
}

// Handler extracts trace context propagated by the manager's forwarder.
func (a *Agent) Handler() http.Handler {
	return otelhttp.NewHandler(a.router, "agent-"+a.cfg.ID)
}

func (a *Agent) Lifecycle() *Lifecycle {
	return a.lifecycle
}

// Run serves until ctx is cancelled, then drains in-flight work, stops the
// listener and unregisters from the manager.
func (a *Agent) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("agent service listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.notifier.Register(ctx)
	a.startHeartbeat(ctx)
	defer a.stopHeartbeat()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received, draining")
	_ = a.lifecycle.RequestShutdown()
	if !a.lifecycle.WaitIdle() {
		a.logger.Warn("drain timeout reached, in-flight work abandoned")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}
	a.stopHeartbeat()
	a.notifier.Unregister()
	return nil
}

func (a *Agent) startHeartbeat(ctx context.Context) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.hbMu.Lock()
	a.hbCancel, a.hbDone = cancel, done
	a.hbMu.Unlock()

	go func() {
		defer close(done)
		a.notifier.Run(hbCtx)
	}()
}

// stopHeartbeat ends the heartbeat loop and waits out a heartbeat already
// in flight, so nothing re-registers the worker after it unregisters.
func (a *Agent) stopHeartbeat() {
	a.hbMu.Lock()
	cancel, done := a.hbCancel, a.hbDone
	a.hbCancel, a.hbDone = nil, nil
	a.hbMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *Agent) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"id":           a.cfg.ID,
		"name":         a.cfg.Name,
		"defaultModel": a.cfg.DefaultModel,
	})
}

type executeRequest struct {
	Parameters json.RawMessage `json:"parameters"`
}

func (a *Agent) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	params := req.Parameters
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}

	if err := a.lifecycle.BeginTask(taskName(params)); err != nil {
		writeError(w, err)
		return
	}
	result, err := a.executor.Execute(r.Context(), params)
	a.lifecycle.EndTask()
	if err != nil {
		a.logger.Error("execute failed", "error", err, "trace_id", tracing.TraceID(r.Context()))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// taskName picks the current-task label out of the parameters.
func taskName(params json.RawMessage) string {
	var p struct {
		Task any `json:"task"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Task == nil {
		return "execute"
	}
	if s, ok := p.Task.(string); ok {
		if s == "" {
			return "execute"
		}
		return s
	}
	raw, _ := json.Marshal(p.Task)
	return string(raw)
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lifecycle": a.lifecycle.Snapshot()})
}

func (a *Agent) handleAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action == "" {
		writeDetail(w, http.StatusBadRequest, "Missing action")
		return
	}

	var (
		message string
		err     error
	)
	switch action {
	case "pause":
		err = a.lifecycle.Pause()
		message = "paused"
	case "resume":
		err = a.lifecycle.Resume()
		message = "resumed"
	case "stop":
		if err = a.lifecycle.RequestShutdown(); err == nil {
			message = "stopping"
			go a.drainAndExit(false)
		}
	case "restart":
		if err = a.lifecycle.RequestShutdown(); err == nil {
			message = "restarting"
			go a.drainAndExit(true)
		}
	default:
		writeDetail(w, http.StatusBadRequest, "Unsupported action")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	a.logger.Info("lifecycle action applied", "action", action)
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// drainAndExit waits for in-flight work, bounded by the drain timeout, then
// exits or re-executes the process.
func (a *Agent) drainAndExit(restart bool) {
	if !a.lifecycle.WaitIdle() {
		a.logger.Warn("drain timeout reached", "timeout", a.lifecycle.DrainTimeout())
	}
	if !restart {
		a.stopHeartbeat()
		a.notifier.Unregister()
		a.logger.Info("agent stopped")
		a.process.Exit(0)
		return
	}
	a.logger.Info("agent restarting", "args", a.cfg.Args)
	if err := a.process.ReplaceSelf(a.cfg.Args); err != nil {
		a.logger.Error("restart failed, exiting", "error", err)
		a.process.Exit(1)
	}
}

func (a *Agent) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = n
	}

	tail, err := TailLines(LogFile(a.cfg.LogDir, a.cfg.ID), lines)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeJSON(w, http.StatusOK, map[string]any{"logs": []string{}, "note": "log file not found"})
	case err != nil:
		a.logger.Warn("failed to read log file", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"logs": []string{}, "note": "error reading logs"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"logs": tail})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAgentPaused), errors.Is(err, domain.ErrAgentStopping):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	}
	writeDetail(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return domain.WrapError(domain.ErrValidation, "failed to read body", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.NewError(domain.ErrValidation, "Invalid JSON")
	}
	return nil
}
