package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"crewfleet.hub/internal/core/domain"
)

// AgentStore is the manager's dashboard view of its agents. It is updated
// by dashboard actions only and is never reconciled with real workers.
type AgentStore struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentRecord
	now    func() time.Time
}

func NewAgentStore() *AgentStore {
	return &AgentStore{
		agents: make(map[string]*domain.AgentRecord),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureAgent creates the record if it is missing. An existing record keeps
// its name.
func (s *AgentStore) EnsureAgent(id, name string) domain.AgentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.agents[id]; ok {
		return a.Clone()
	}
	a := s.newRecord(id, name)
	s.agents[id] = a
	return a.Clone()
}

// Create adds a new record and fails if the id is taken.
func (s *AgentStore) Create(id, name string) (domain.AgentRecord, error) {
	if strings.TrimSpace(id) == "" {
		return domain.AgentRecord{}, domain.NewError(domain.ErrValidation, "Missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; ok {
		return domain.AgentRecord{}, domain.NewError(domain.ErrAlreadyExists, fmt.Sprintf("Agent %s already exists", id))
	}
	a := s.newRecord(id, name)
	s.agents[id] = a
	return a.Clone(), nil
}

func (s *AgentStore) Get(id string) (domain.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return domain.AgentRecord{}, notFound(id)
	}
	return a.Clone(), nil
}

// List returns all records sorted by id.
func (s *AgentStore) List() []domain.AgentRecord {
	s.mu.RLock()
	out := make([]domain.AgentRecord, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update merges the provided fields and stamps LastUpdate.
func (s *AgentStore) Update(id string, patch domain.AgentPatch) (domain.AgentRecord, error) {
	if err := patch.Validate(); err != nil {
		return domain.AgentRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return domain.AgentRecord{}, notFound(id)
	}
	s.apply(a, patch)
	return a.Clone(), nil
}

// Modify runs fn against the current record under the store lock and applies
// the patch it returns. It lets callers derive counters from current values
// without a read-then-write race.
func (s *AgentStore) Modify(id string, fn func(current domain.AgentRecord) (domain.AgentPatch, error)) (domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return domain.AgentRecord{}, notFound(id)
	}
	patch, err := fn(a.Clone())
	if err != nil {
		return domain.AgentRecord{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.AgentRecord{}, err
	}
	s.apply(a, patch)
	return a.Clone(), nil
}

// Remove deletes the record and reports whether it existed.
func (s *AgentStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.agents[id]
	delete(s.agents, id)
	return ok
}

// ApplyAction checks the action's precondition against the current status
// and applies its effect atomically.
func (s *AgentStore) ApplyAction(id, action string, params map[string]any) (domain.AgentRecord, string, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	var message string

	rec, err := s.Modify(id, func(a domain.AgentRecord) (domain.AgentPatch, error) {
		var p domain.AgentPatch
		switch action {
		case domain.ActionPause:
			if a.Status != domain.AgentStatusRunning {
				return p, domain.NewError(domain.ErrInvalidTransition, "Can only pause running agents")
			}
			p.Status = statusPtr(domain.AgentStatusPaused)
			message = fmt.Sprintf("Agent %s paused", id)
		case domain.ActionResume:
			if a.Status != domain.AgentStatusPaused {
				return p, domain.NewError(domain.ErrInvalidTransition, "Can only resume paused agents")
			}
			p.Status = statusPtr(domain.AgentStatusRunning)
			message = fmt.Sprintf("Agent %s resumed", id)
		case domain.ActionStop:
			if a.Status == domain.AgentStatusStopped {
				return p, domain.NewError(domain.ErrInvalidTransition, "Agent is already stopped")
			}
			p.Status = statusPtr(domain.AgentStatusStopped)
			p.ClearCurrentTask = true
			message = fmt.Sprintf("Agent %s stopped", id)
		case domain.ActionRestart:
			zero := 0
			p.Status = statusPtr(domain.AgentStatusRunning)
			p.ClearCurrentTask = true
			p.TasksCompleted = &zero
			p.TasksPending = &zero
			message = fmt.Sprintf("Agent %s restarted", id)
		case domain.ActionPrioritize:
			priority, ok := params["priority"]
			if !ok || priority == nil {
				return p, domain.NewError(domain.ErrValidation, "Priority parameter required")
			}
			p.Metadata = map[string]any{"priority": priority}
			message = fmt.Sprintf("Agent %s priority set to %v", id, priority)
		default:
			return p, domain.NewError(domain.ErrUnknownAction, fmt.Sprintf("Unknown action: %s", action))
		}
		return p, nil
	})
	if err != nil {
		return domain.AgentRecord{}, "", err
	}
	return rec, message, nil
}

func (s *AgentStore) newRecord(id, name string) *domain.AgentRecord {
	if name == "" {
		name = "Agent " + id
	}
	return &domain.AgentRecord{
		ID:         id,
		Name:       name,
		Status:     domain.AgentStatusIdle,
		LastUpdate: s.now(),
		Metadata:   map[string]any{},
	}
}

// apply must be called with s.mu held.
func (s *AgentStore) apply(a *domain.AgentRecord, p domain.AgentPatch) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.ClearCurrentTask {
		a.CurrentTask = nil
	} else if p.CurrentTask != nil {
		task := *p.CurrentTask
		a.CurrentTask = &task
	}
	if p.TasksCompleted != nil {
		a.TasksCompleted = *p.TasksCompleted
	}
	if p.TasksPending != nil {
		a.TasksPending = *p.TasksPending
	}
	if p.TasksFailed != nil {
		a.TasksFailed = *p.TasksFailed
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	for k, v := range p.Metadata {
		a.Metadata[k] = v
	}
	a.LastUpdate = s.now()
}

func notFound(id string) error {
	return domain.NewError(domain.ErrNotFound, fmt.Sprintf("Agent %s not found", id))
}

func statusPtr(s domain.AgentStatus) *domain.AgentStatus {
	return &s
}
