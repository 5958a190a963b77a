package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
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

type fakeSubscriber struct {
	id     string
	fail   bool
	block  chan struct{}
	mu     sync.Mutex
	got    []domain.Message
	closed bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg domain.Message) error {
	if f.block != nil {
		<-f.block
	}
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSubscriber) messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.got...)
}

func snapshotOf(ids ...string) func() []domain.AgentRecord {
	return func() []domain.AgentRecord {
		out := make([]domain.AgentRecord, 0, len(ids))
		for _, id := range ids {
			out = append(out, domain.AgentRecord{ID: id, Status: domain.AgentStatusIdle})
		}
		return out
	}
}

func TestHub_SnapshotFirst(t *testing.T) {
	h := NewHub(snapshotOf("planner"), testLogger())
	sub := &fakeSubscriber{id: "a"}
	require.NoError(t, h.Connect(sub))

	h.Broadcast(domain.NewMessage(domain.MessageAgentUpdated, domain.AgentRecord{ID: "planner"}))

	msgs := sub.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageSnapshot, msgs[0].Type)
	assert.Len(t, msgs[0].Data, 1)
	assert.Equal(t, domain.MessageAgentUpdated, msgs[1].Type)
}

func TestHub_FailingSubscriberDoesNotAffectOthers(t *testing.T) {
	h := NewHub(snapshotOf(), testLogger())

	var good []*fakeSubscriber
	for _, id := range []string{"a", "b", "c", "d"} {
		s := &fakeSubscriber{id: id}
		good = append(good, s)
		require.NoError(t, h.Connect(s))
	}
	bad := &fakeSubscriber{id: "bad"}
	require.NoError(t, h.Connect(bad))
	bad.fail = true

	h.Broadcast(domain.NewMessage(domain.MessageLogLine, domain.LogLineEvent{Message: "hi"}))

	for _, s := range good {
		assert.Len(t, s.messages(), 2, "subscriber %s", s.id)
	}
	assert.Equal(t, 4, h.Count())
	assert.True(t, bad.closed)
}

func TestHub_SlowSubscriberDoesNotDelayOthers(t *testing.T) {
	h := NewHub(snapshotOf(), testLogger())
	fast := &fakeSubscriber{id: "fast"}
	slow := &fakeSubscriber{id: "slow"}
	require.NoError(t, h.Connect(fast))
	require.NoError(t, h.Connect(slow))
	slow.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		h.Deliver(domain.NewMessage(domain.MessageLogLine, nil))
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fast.messages()) == 2 }, time.Second, 5*time.Millisecond)
	close(slow.block)
	<-done
	assert.Len(t, slow.messages(), 2)
}

func TestHub_DisconnectIdempotent(t *testing.T) {
	h := NewHub(snapshotOf(), testLogger())
	s := &fakeSubscriber{id: "a"}
	require.NoError(t, h.Connect(s))

	h.Disconnect("a")
	h.Disconnect("a")
	h.Disconnect("never")
	assert.Equal(t, 0, h.Count())
	assert.True(t, s.closed)
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recordingSink) Name() string { return "memory" }
func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) Publish(_ context.Context, msg domain.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestHub_MirrorsToSinks(t *testing.T) {
	h := NewHub(snapshotOf(), testLogger())
	sink := &recordingSink{}
	h.AddSink(sink)

	h.Broadcast(domain.NewMessage(domain.MessageTaskAdded, nil))
	h.Broadcast(domain.NewMessage(domain.MessageTaskCompleted, nil))

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
}
