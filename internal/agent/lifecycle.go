package agent

import (
	"sync"
	"time"

	"crewfleet.hub/internal/core/domain"
)

// drainPollInterval is how often WaitIdle re-checks the in-flight count.
const drainPollInterval = 100 * time.Millisecond

// Lifecycle is the worker's own state. The manager only sees it through
// GET /status.
type Lifecycle struct {
	mu                sync.Mutex
	status            domain.LifecycleStatus
	currentTask       *string
	inflight          int
	shutdownRequested bool
	drainTimeout      time.Duration
}

func NewLifecycle(drainTimeout time.Duration) *Lifecycle {
	if drainTimeout < 0 {
		drainTimeout = domain.DefaultDrainTimeout
	}
	return &Lifecycle{
		status:       domain.LifecycleRunning,
		drainTimeout: drainTimeout,
	}
}

// BeginTask admits a new execute request and marks it as the current task.
func (l *Lifecycle) BeginTask(task string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.shutdownRequested || l.status == domain.LifecycleStopping {
		return domain.NewError(domain.ErrAgentStopping, "agent is stopping")
	}
	if l.status == domain.LifecyclePaused {
		return domain.NewError(domain.ErrAgentPaused, "agent is paused")
	}
	l.inflight++
	l.currentTask = &task
	return nil
}

// EndTask releases a task admitted by BeginTask. The current task clears
// once nothing is in flight.
func (l *Lifecycle) EndTask() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inflight > 0 {
		l.inflight--
	}
	if l.inflight == 0 {
		l.currentTask = nil
	}
}

func (l *Lifecycle) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.status {
	case domain.LifecycleStopping:
		return domain.NewError(domain.ErrAgentStopping, "agent is stopping")
	case domain.LifecycleRunning:
		l.status = domain.LifecyclePaused
		return nil
	default:
		return domain.NewError(domain.ErrInvalidTransition, "Can only pause running agents")
	}
}

func (l *Lifecycle) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.status {
	case domain.LifecycleStopping:
		return domain.NewError(domain.ErrAgentStopping, "agent is stopping")
	case domain.LifecyclePaused:
		l.status = domain.LifecycleRunning
		return nil
	default:
		return domain.NewError(domain.ErrInvalidTransition, "Can only resume paused agents")
	}
}

// RequestShutdown moves the worker to stopping. It fails if a stop or
// restart is already under way, so only one drain ever runs.
func (l *Lifecycle) RequestShutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.shutdownRequested {
		return domain.NewError(domain.ErrAgentStopping, "agent is already stopping")
	}
	l.shutdownRequested = true
	l.status = domain.LifecycleStopping
	return nil
}

// WaitIdle blocks until no task is in flight or the drain timeout elapses.
// It reports whether the worker drained cleanly.
func (l *Lifecycle) WaitIdle() bool {
	deadline := time.Now().Add(l.DrainTimeout())
	for {
		if l.idle() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(drainPollInterval)
	}
}

func (l *Lifecycle) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight == 0
}

func (l *Lifecycle) DrainTimeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainTimeout
}

func (l *Lifecycle) Snapshot() domain.LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()

	var task *string
	if l.currentTask != nil {
		t := *l.currentTask
		task = &t
	}
	return domain.LifecycleState{
		Status:              l.status,
		CurrentTask:         task,
		ShutdownRequested:   l.shutdownRequested,
		DrainTimeoutSeconds: l.drainTimeout.Seconds(),
	}
}
