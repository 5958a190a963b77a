package domain

// LifecycleStatus is a worker's own view of itself. The manager only ever
// sees it through status polls.
type LifecycleStatus string

const (
	LifecycleRunning  LifecycleStatus = "running"
	LifecyclePaused   LifecycleStatus = "paused"
	LifecycleStopping LifecycleStatus = "stopping"
)

type LifecycleState struct {
	Status              LifecycleStatus `json:"status"`
	CurrentTask         *string         `json:"current_task"`
	ShutdownRequested   bool            `json:"shutdown_requested"`
	DrainTimeoutSeconds float64         `json:"drain_timeout_seconds"`
}
