package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewfleet.hub/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProcess records what the worker would have done to its own process.
type fakeProcess struct {
	mu         sync.Mutex
	exitCode   int
	exited     bool
	replaced   []string
	replaceErr error
	done       chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exitCode: -1, done: make(chan struct{}, 2)}
}

func (p *fakeProcess) Exit(code int) {
	p.mu.Lock()
	p.exitCode = code
	p.exited = true
	p.mu.Unlock()
	p.done <- struct{}{}
}

func (p *fakeProcess) ReplaceSelf(args []string) error {
	p.mu.Lock()
	p.replaced = args
	err := p.replaceErr
	p.mu.Unlock()
	if err == nil {
		p.done <- struct{}{}
	}
	return err
}

func (p *fakeProcess) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(3 * time.Second):
		t.Fatal("process was neither stopped nor replaced")
	}
}

// gateExecutor blocks every call until release is closed.
type gateExecutor struct {
	started chan struct{}
	release chan struct{}
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gateExecutor) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	g.started <- struct{}{}
	<-g.release
	return "done", nil
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, json.RawMessage) (any, error) {
	return nil, errors.New("model exploded")
}

func newTestAgent(t *testing.T, exec Executor, drain time.Duration) (*Agent, *fakeProcess, *httptest.Server) {
	t.Helper()
	proc := newFakeProcess()
	a := New(Config{
		ID:           "planner",
		Name:         "Planner",
		DefaultModel: "gpt-test",
		LogDir:       t.TempDir(),
		DrainTimeout: drain,
		Args:         []string{"crewfleet-agent", "--agent-id", "planner"},
	}, exec, nil, proc, testLogger())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, proc, srv
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAgent_HealthAndInfo(t *testing.T) {
	_, _, srv := newTestAgent(t, EchoExecutor{}, time.Second)

	code, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, body = doJSON(t, http.MethodGet, srv.URL+"/info", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "planner", body["id"])
	assert.Equal(t, "Planner", body["name"])
	assert.Equal(t, "gpt-test", body["defaultModel"])
}

func TestAgent_ExecuteEcho(t *testing.T) {
	_, _, srv := newTestAgent(t, EchoExecutor{}, time.Second)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/execute", `{"parameters":{"task":"hello"}}`)
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]any)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, true, result["dummy"])
	assert.Equal(t, map[string]any{"task": "hello"}, result["received"])

	code, body = doJSON(t, http.MethodPost, srv.URL+"/execute", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{}, body["result"].(map[string]any)["received"])
}

func TestAgent_ExecuteFailureIs500(t *testing.T) {
	a, _, srv := newTestAgent(t, failingExecutor{}, time.Second)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/execute", `{"parameters":{}}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "model exploded", body["detail"])
	assert.Nil(t, a.Lifecycle().Snapshot().CurrentTask)
}

func TestAgent_ExecuteMarksCurrentTask(t *testing.T) {
	gate := newGateExecutor()
	a, _, srv := newTestAgent(t, gate, time.Second)

	done := make(chan int, 1)
	go func() {
		code, _ := doJSON(t, http.MethodPost, srv.URL+"/execute", `{"parameters":{"task":"summarize"}}`)
		done <- code
	}()
	<-gate.started

	_, body := doJSON(t, http.MethodGet, srv.URL+"/status", "")
	lifecycle := body["lifecycle"].(map[string]any)
	assert.Equal(t, "running", lifecycle["status"])
	assert.Equal(t, "summarize", lifecycle["current_task"])

	close(gate.release)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Nil(t, a.Lifecycle().Snapshot().CurrentTask)
}

func TestAgent_PauseRejectsExecute(t *testing.T) {
	_, _, srv := newTestAgent(t, EchoExecutor{}, time.Second)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"pause"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paused", body["message"])

	code, body = doJSON(t, http.MethodPost, srv.URL+"/execute", `{"parameters":{}}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "agent is paused", body["detail"])

	code, _ = doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"pause"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"resume"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "resumed", body["message"])

	code, _ = doJSON(t, http.MethodPost, srv.URL+"/execute", `{"parameters":{}}`)
	assert.Equal(t, http.StatusOK, code)
}

func TestAgent_ActionValidation(t *testing.T) {
	_, _, srv := newTestAgent(t, EchoExecutor{}, time.Second)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/action", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing action", body["detail"])

	code, body = doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Unsupported action", body["detail"])

	code, body = doJSON(t, http.MethodPost, srv.URL+"/action", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid JSON", body["detail"])
}

func TestAgent_StopDrainsBeforeExit(t *testing.T) {
	gate := newGateExecutor()
	_, proc, srv := newTestAgent(t, gate, 5*time.Second)

	execDone := make(chan int, 1)
	go func() {
		code, _ := doJSON(t, http.MethodPost, srv.URL+"/execute", `{"parameters":{"task":"long"}}`)
		execDone <- code
	}()
	<-gate.started

	code, body := doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"stop"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopping", body["message"])

	code, body = doJSON(t, http.MethodPost, srv.URL+"/execute", `{"parameters":{}}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "agent is stopping", body["detail"])

	code, _ = doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"restart"}`)
	assert.Equal(t, http.StatusConflict, code)

	// Still draining: the in-flight task holds the exit back.
	time.Sleep(200 * time.Millisecond)
	proc.mu.Lock()
	assert.False(t, proc.exited)
	proc.mu.Unlock()

	close(gate.release)
	assert.Equal(t, http.StatusOK, <-execDone)
	proc.wait(t)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.True(t, proc.exited)
	assert.Equal(t, 0, proc.exitCode)
	assert.Nil(t, proc.replaced)
}

func TestAgent_StopAfterDrainTimeout(t *testing.T) {
	gate := newGateExecutor()
	_, proc, srv := newTestAgent(t, gate, 200*time.Millisecond)

	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		resp, err := http.Post(srv.URL+"/execute", "application/json", strings.NewReader(`{"parameters":{}}`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-gate.started

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"stop"}`)
	require.Equal(t, http.StatusOK, code)
	proc.wait(t)

	proc.mu.Lock()
	assert.True(t, proc.exited)
	assert.Equal(t, 0, proc.exitCode)
	proc.mu.Unlock()

	close(gate.release)
	<-execDone
}

func TestAgent_RestartReplacesProcess(t *testing.T) {
	_, proc, srv := newTestAgent(t, EchoExecutor{}, time.Second)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"restart"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "restarting", body["message"])
	proc.wait(t)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, []string{"crewfleet-agent", "--agent-id", "planner"}, proc.replaced)
	assert.False(t, proc.exited)
}

func TestAgent_RestartFailureExitsNonZero(t *testing.T) {
	_, proc, srv := newTestAgent(t, EchoExecutor{}, time.Second)
	proc.replaceErr = errors.New("exec format error")

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"restart"}`)
	require.Equal(t, http.StatusOK, code)
	proc.wait(t)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.True(t, proc.exited)
	assert.Equal(t, 1, proc.exitCode)
}

func TestAgent_Logs(t *testing.T) {
	a, _, srv := newTestAgent(t, EchoExecutor{}, time.Second)

	code, body := doJSON(t, http.MethodGet, srv.URL+"/logs", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["logs"])
	assert.Equal(t, "log file not found", body["note"])

	path := filepath.Join(a.cfg.LogDir, "planner.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	code, body = doJSON(t, http.MethodGet, srv.URL+"/logs?lines=2", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"two\n", "three\n"}, body["logs"])
	assert.NotContains(t, body, "note")

	code, _ = doJSON(t, http.MethodGet, srv.URL+"/logs?lines=zero", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTaskName(t *testing.T) {
	tests := []struct {
		params string
		want   string
	}{
		{`{}`, "execute"},
		{`{"task":"plan"}`, "plan"},
		{`{"task":""}`, "execute"},
		{`{"task":7}`, "7"},
		{`[1,2]`, "execute"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, taskName(json.RawMessage(tt.params)), tt.params)
	}
}

func TestAgent_StopSilencesHeartbeatBeforeUnregister(t *testing.T) {
	mgr := &fakeManager{}
	mgrSrv := httptest.NewServer(mgr)
	t.Cleanup(mgrSrv.Close)

	notifier := NewNotifier(mgrSrv.URL, domain.RegisterRequest{
		ID:         "planner",
		ServiceURL: "http://127.0.0.1:8101",
	}, nil, testLogger()).WithInterval(5 * time.Millisecond)

	proc := newFakeProcess()
	a := New(Config{ID: "planner", LogDir: t.TempDir(), DrainTimeout: time.Second}, EchoExecutor{}, notifier, proc, testLogger())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	a.startHeartbeat(context.Background())
	t.Cleanup(a.stopHeartbeat)
	require.Eventually(t, func() bool {
		calls, _ := mgr.snapshot()
		return len(calls) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/action", `{"action":"stop"}`)
	require.Equal(t, http.StatusOK, code)
	proc.wait(t)

	// The fake process keeps running, so a live heartbeat loop would show up.
	time.Sleep(50 * time.Millisecond)
	calls, _ := mgr.snapshot()
	require.NotEmpty(t, calls)
	assert.Equal(t, "/api/agent-services/unregister", calls[len(calls)-1])
	unregisters := 0
	for _, c := range calls {
		if c == "/api/agent-services/unregister" {
			unregisters++
		}
	}
	assert.Equal(t, 1, unregisters)
}
