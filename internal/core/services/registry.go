package services

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"crewfleet.hub/internal/core/domain"
)

// ServiceRegistry tracks where running workers can be reached. All access
// goes through a single mutex and no method performs I/O while holding it.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]*domain.RegisteredService
	now      func() time.Time
	onChange []func(id string)
	logger   *slog.Logger
}

func NewServiceRegistry(logger *slog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]*domain.RegisteredService),
		now:      time.Now,
		logger:   logger.With("component", "registry"),
	}
}

// WithClock replaces the time source. Tests only.
func (r *ServiceRegistry) WithClock(now func() time.Time) *ServiceRegistry {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

// OnChange installs a hook called after an id is registered or its URL
// changes. Hooks run outside the lock. Install them before serving.
func (r *ServiceRegistry) OnChange(fn func(id string)) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Register inserts or replaces the entry unconditionally.
func (r *ServiceRegistry) Register(id, serviceURL string, metadata map[string]any) {
	r.mu.Lock()
	r.services[id] = &domain.RegisteredService{
		ID:         id,
		ServiceURL: serviceURL,
		Metadata:   copyMap(metadata),
		LastSeen:   r.now(),
	}
	hooks := r.onChange
	r.mu.Unlock()

	r.logger.Info("agent service registered", "agent_id", id, "service_url", serviceURL)
	notify(hooks, id)
}

// Heartbeat refreshes lastSeen and overwrites the URL and metadata only when
// they are provided. An unknown id is registered implicitly; created reports
// whether that happened.
func (r *ServiceRegistry) Heartbeat(id, serviceURL string, metadata map[string]any) (created bool) {
	r.mu.Lock()
	existing, ok := r.services[id]
	if !ok {
		r.services[id] = &domain.RegisteredService{
			ID:         id,
			ServiceURL: serviceURL,
			Metadata:   copyMap(metadata),
			LastSeen:   r.now(),
		}
		hooks := r.onChange
		r.mu.Unlock()

		r.logger.Info("heartbeat from unknown agent service, registering", "agent_id", id)
		notify(hooks, id)
		return true
	}

	existing.LastSeen = r.now()
	moved := serviceURL != "" && serviceURL != existing.ServiceURL
	if serviceURL != "" {
		existing.ServiceURL = serviceURL
	}
	if len(metadata) > 0 {
		existing.Metadata = copyMap(metadata)
	}
	hooks := r.onChange
	r.mu.Unlock()

	if moved {
		notify(hooks, id)
	}
	return false
}

// Unregister removes the entry. It reports whether one was present.
func (r *ServiceRegistry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.services[id]
	delete(r.services, id)
	if ok {
		r.logger.Info("agent service unregistered", "agent_id", id)
	}
	return ok
}

// Get returns a copy of the entry for id.
func (r *ServiceRegistry) Get(id string) (domain.RegisteredService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.services[id]
	if !ok {
		return domain.RegisteredService{}, false
	}
	out := *s
	out.Metadata = copyMap(s.Metadata)
	return out, true
}

// Resolve returns the registered URL for id, or the result of fallback when
// there is no entry or the entry has no URL. fallback runs outside the lock.
func (r *ServiceRegistry) Resolve(id string, fallback func() string) string {
	r.mu.RLock()
	s, ok := r.services[id]
	var url string
	if ok {
		url = s.ServiceURL
	}
	r.mu.RUnlock()

	if url != "" || fallback == nil {
		return url
	}
	return fallback()
}

// List returns copies of all entries sorted by id.
func (r *ServiceRegistry) List() []domain.RegisteredService {
	r.mu.RLock()
	out := make([]domain.RegisteredService, 0, len(r.services))
	for _, s := range r.services {
		cp := *s
		cp.Metadata = copyMap(s.Metadata)
		out = append(out, cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PurgeStale removes every entry whose last heartbeat is older than ttl and
// returns the removed ids.
func (r *ServiceRegistry) PurgeStale(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed []string
	for id, s := range r.services {
		if now.Sub(s.LastSeen) > ttl {
			delete(r.services, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func (r *ServiceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

func notify(hooks []func(string), id string) {
	for _, fn := range hooks {
		fn(id)
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
