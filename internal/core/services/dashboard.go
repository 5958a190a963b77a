package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewfleet.hub/internal/core/domain"
	"crewfleet.hub/internal/core/ports"
)

// DemoAgents are seeded into the dashboard at startup when enabled.
var DemoAgents = []struct{ ID, Name string }{
	{"planner", "Planner Agent"},
	{"executor", "Executor Agent"},
	{"reviewer", "Reviewer Agent"},
}

// DashboardService applies dashboard mutations to the store and announces
// them to subscribers. Broadcasts happen after the store lock is released.
type DashboardService struct {
	store       *AgentStore
	broadcaster ports.Broadcaster
	auditor     ports.ActionAuditor
	observe     func(action, result string)
	logger      *slog.Logger
}

func NewDashboardService(store *AgentStore, broadcaster ports.Broadcaster, logger *slog.Logger) *DashboardService {
	return &DashboardService{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.With("component", "dashboard"),
	}
}

func (d *DashboardService) SetAuditor(a ports.ActionAuditor) {
	d.auditor = a
}

func (d *DashboardService) SetObserver(fn func(action, result string)) {
	d.observe = fn
}

func (d *DashboardService) Store() *AgentStore {
	return d.store
}

// SeedDefaults ensures the demo agents exist.
func (d *DashboardService) SeedDefaults() {
	for _, a := range DemoAgents {
		d.store.EnsureAgent(a.ID, a.Name)
	}
	d.logger.Info("seeded demo agents", "count", len(DemoAgents))
}

// Action applies a dashboard action and broadcasts the updated record.
func (d *DashboardService) Action(ctx context.Context, id string, req domain.ActionRequest) (domain.AgentRecord, string, error) {
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	rec, message, err := d.store.ApplyAction(id, req.Action, req.Parameters)
	d.audit(ctx, id, req.Action, err)
	if err != nil {
		label := req.Action
		if errors.Is(err, domain.ErrUnknownAction) {
			label = "unknown"
		}
		d.count(label, "rejected")
		return domain.AgentRecord{}, "", err
	}
	d.count(req.Action, "applied")
	d.logger.Info("dashboard action applied", "agent_id", id, "action", req.Action, "status", rec.Status)
	d.broadcaster.Broadcast(domain.NewMessage(domain.MessageAgentUpdated, rec))
	return rec, message, nil
}

func (d *DashboardService) Create(id, name string) (domain.AgentRecord, error) {
	rec, err := d.store.Create(id, name)
	if err != nil {
		return rec, err
	}
	d.broadcaster.Broadcast(domain.NewMessage(domain.MessageAgentUpdated, rec))
	return rec, nil
}

func (d *DashboardService) Update(id string, patch domain.AgentPatch) (domain.AgentRecord, error) {
	rec, err := d.store.Update(id, patch)
	if err != nil {
		return rec, err
	}
	d.broadcaster.Broadcast(domain.NewMessage(domain.MessageAgentUpdated, rec))
	return rec, nil
}

func (d *DashboardService) Remove(id string) error {
	if !d.store.Remove(id) {
		return notFound(id)
	}
	return nil
}

// AddTask announces a new pending task and bumps the pending counter.
func (d *DashboardService) AddTask(id, taskID, description string) (domain.TaskInfo, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	task := domain.TaskInfo{TaskID: taskID, Description: description, Status: "pending"}

	_, err := d.store.Modify(id, func(a domain.AgentRecord) (domain.AgentPatch, error) {
		pending := a.TasksPending + 1
		return domain.AgentPatch{TasksPending: &pending}, nil
	})
	if err != nil {
		return domain.TaskInfo{}, err
	}
	d.broadcaster.Broadcast(domain.NewMessage(domain.MessageTaskAdded, domain.TaskAddedEvent{AgentID: id, Task: task}))
	return task, nil
}

// CompleteTask announces a finished task and moves it from pending to
// completed or failed.
func (d *DashboardService) CompleteTask(id, taskID string, success bool) (domain.AgentRecord, error) {
	rec, err := d.store.Modify(id, func(a domain.AgentRecord) (domain.AgentPatch, error) {
		pending := max(0, a.TasksPending-1)
		p := domain.AgentPatch{TasksPending: &pending, ClearCurrentTask: true}
		if success {
			n := a.TasksCompleted + 1
			p.TasksCompleted = &n
		} else {
			n := a.TasksFailed + 1
			p.TasksFailed = &n
		}
		return p, nil
	})
	if err != nil {
		return rec, err
	}
	d.broadcaster.Broadcast(domain.NewMessage(domain.MessageTaskCompleted, domain.TaskCompletedEvent{AgentID: id, TaskID: taskID, Success: success}))
	return rec, nil
}

func (d *DashboardService) LogLine(id, level, message string) {
	if level == "" {
		level = "info"
	}
	d.broadcaster.Broadcast(domain.NewMessage(domain.MessageLogLine, domain.LogLineEvent{AgentID: id, Level: level, Message: message}))
}

func (d *DashboardService) count(action, result string) {
	if d.observe != nil {
		d.observe(action, result)
	}
}

func (d *DashboardService) audit(ctx context.Context, id, action string, err error) {
	if d.auditor == nil {
		return
	}
	entry := &domain.ActionAudit{
		ID:         uuid.NewString(),
		AgentID:    id,
		Action:     action,
		Target:     domain.AuditTargetDashboard,
		StatusCode: http.StatusOK,
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		entry.Detail = err.Error()
		entry.StatusCode = http.StatusBadRequest
		if errors.Is(err, domain.ErrNotFound) {
			entry.StatusCode = http.StatusNotFound
		}
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.auditor.RecordAction(actx, entry); err != nil {
		d.logger.Warn("failed to record action audit", "agent_id", id, "error", err)
	}
}
