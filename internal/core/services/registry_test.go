package services

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry() (*ServiceRegistry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewServiceRegistry(testLogger()).WithClock(clock.Now), clock
}

func TestServiceRegistry_LastWriteWins(t *testing.T) {
	r, _ := newTestRegistry()
	none := func() string { return "fallback" }

	r.Register("planner", "http://a:1", nil)
	r.Heartbeat("planner", "http://b:2", nil)
	assert.Equal(t, "http://b:2", r.Resolve("planner", none))

	r.Heartbeat("planner", "", nil)
	assert.Equal(t, "http://b:2", r.Resolve("planner", none), "empty url must not overwrite")

	r.Register("planner", "http://c:3", map[string]any{"v": 1})
	assert.Equal(t, "http://c:3", r.Resolve("planner", none))

	assert.True(t, r.Unregister("planner"))
	assert.Equal(t, "fallback", r.Resolve("planner", none))
	assert.False(t, r.Unregister("planner"))
}

func TestServiceRegistry_HeartbeatRegistersImplicitly(t *testing.T) {
	r, _ := newTestRegistry()

	created := r.Heartbeat("executor", "http://127.0.0.1:8101", map[string]any{"pid": 42})
	assert.True(t, created)

	s, ok := r.Get("executor")
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:8101", s.ServiceURL)
	assert.Equal(t, 42, s.Metadata["pid"])

	assert.False(t, r.Heartbeat("executor", "", nil))
}

func TestServiceRegistry_HeartbeatKeepsMetadataWhenEmpty(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register("reviewer", "http://x", map[string]any{"model": "m1"})

	r.Heartbeat("reviewer", "", map[string]any{})
	s, _ := r.Get("reviewer")
	assert.Equal(t, "m1", s.Metadata["model"])

	r.Heartbeat("reviewer", "", map[string]any{"model": "m2"})
	s, _ = r.Get("reviewer")
	assert.Equal(t, "m2", s.Metadata["model"])
}

func TestServiceRegistry_ResolveEmptyURLFallsBack(t *testing.T) {
	r, _ := newTestRegistry()
	r.Heartbeat("planner", "", nil)

	assert.Equal(t, "http://127.0.0.1:8100", r.Resolve("planner", func() string { return "http://127.0.0.1:8100" }))
}

func TestServiceRegistry_PurgeStaleExact(t *testing.T) {
	ttl := 30 * time.Second

	tests := []struct {
		name    string
		age     time.Duration
		removed bool
	}{
		{"fresh", 0, false},
		{"just under ttl", ttl - time.Nanosecond, false},
		{"exactly ttl", ttl, false},
		{"just over ttl", ttl + time.Nanosecond, true},
		{"long gone", 10 * ttl, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clock := newTestRegistry()
			r.Register("a", "http://a", nil)
			clock.Advance(tt.age)
			r.Register("b", "http://b", nil)

			removed := r.PurgeStale(ttl)
			if tt.removed {
				assert.Equal(t, []string{"a"}, removed)
			} else {
				assert.Empty(t, removed)
			}
			_, ok := r.Get("b")
			assert.True(t, ok)
		})
	}
}

func TestServiceRegistry_PurgeZeroTTL(t *testing.T) {
	r, clock := newTestRegistry()
	r.Register("a", "http://a", nil)

	assert.Empty(t, r.PurgeStale(0))
	clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"a"}, r.PurgeStale(0))
	assert.Equal(t, 0, r.Count())
}

func TestServiceRegistry_Concurrent(t *testing.T) {
	r := NewServiceRegistry(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", i%5)
			r.Register(id, "http://x", nil)
			r.Heartbeat(id, "http://y", map[string]any{"i": i})
			r.Resolve(id, nil)
			r.List()
			r.PurgeStale(time.Hour)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, r.Count())
	list := r.List()
	require.Len(t, list, 5)
	assert.Equal(t, "agent-0", list[0].ID)
}

func TestServiceRegistry_OnChange(t *testing.T) {
	r, _ := newTestRegistry()
	var changed []string
	r.OnChange(func(id string) { changed = append(changed, id) })

	r.Register("planner", "http://127.0.0.1:8100", nil)
	r.Heartbeat("planner", "", nil)
	r.Heartbeat("planner", "http://127.0.0.1:8100", nil)
	r.Heartbeat("planner", "http://127.0.0.1:9100", nil)
	r.Heartbeat("executor", "http://127.0.0.1:8101", nil)
	r.Register("planner", "http://127.0.0.1:9100", nil)

	assert.Equal(t, []string{"planner", "planner", "executor", "planner"}, changed)
}
