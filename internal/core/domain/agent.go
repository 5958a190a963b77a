package domain

import (
	"fmt"
	"time"
)

// AgentStatus is the dashboard-facing state of an agent. It is the manager's
// own bookkeeping and is not reconciled with the real worker lifecycle.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusPaused  AgentStatus = "paused"
	AgentStatusStopped AgentStatus = "stopped"
	AgentStatusError   AgentStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusRunning, AgentStatusPaused, AgentStatusStopped, AgentStatusError:
		return true
	}
	return false
}

type AgentRecord struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Status         AgentStatus    `json:"status"`
	CurrentTask    *string        `json:"currentTask"`
	TasksCompleted int            `json:"tasksCompleted"`
	TasksPending   int            `json:"tasksPending"`
	TasksFailed    int            `json:"tasksFailed"`
	LastUpdate     time.Time      `json:"lastUpdate"`
	Metadata       map[string]any `json:"metadata"`
}

// Clone returns a deep enough copy that callers can hold it without racing
// the store.
func (a *AgentRecord) Clone() AgentRecord {
	out := *a
	if a.CurrentTask != nil {
		task := *a.CurrentTask
		out.CurrentTask = &task
	}
	out.Metadata = make(map[string]any, len(a.Metadata))
	for k, v := range a.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// AgentPatch carries a partial update. Nil fields are left untouched.
// ClearCurrentTask wins over CurrentTask.
type AgentPatch struct {
	Name             *string        `json:"name,omitempty"`
	Status           *AgentStatus   `json:"status,omitempty"`
	CurrentTask      *string        `json:"currentTask,omitempty"`
	ClearCurrentTask bool           `json:"clearCurrentTask,omitempty"`
	TasksCompleted   *int           `json:"tasksCompleted,omitempty"`
	TasksPending     *int           `json:"tasksPending,omitempty"`
	TasksFailed      *int           `json:"tasksFailed,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Validate rejects unknown statuses and negative counters.
func (p *AgentPatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, *p.Status)
	}
	for name, v := range map[string]*int{
		"tasksCompleted": p.TasksCompleted,
		"tasksPending":   p.TasksPending,
		"tasksFailed":    p.TasksFailed,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrValidation, name)
		}
	}
	return nil
}

// Dashboard actions accepted by the agent store.
const (
	ActionPause      = "pause"
	ActionResume     = "resume"
	ActionStop       = "stop"
	ActionRestart    = "restart"
	ActionPrioritize = "prioritize"
)

type ActionRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}
