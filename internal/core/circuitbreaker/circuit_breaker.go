package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a circuit breaker that trips after three requests with at
// least 60% transport failures and probes again after 30 seconds.
func New(name string, logger *slog.Logger) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Second * 60,
		Timeout:     time.Second * 30,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			}
		},
	}

	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs fn with circuit breaker protection. Only errors returned by fn
// count as failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := cb.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	var n neutralError
	if errors.As(err, &n) {
		return n.err
	}
	return err
}

// Neutral marks err as saying nothing about the destination's health, so it
// does not count against the breaker. Execute returns the unwrapped err.
func Neutral(err error) error {
	if err == nil {
		return nil
	}
	return neutralError{err: err}
}

type neutralError struct {
	err error
}

func (e neutralError) Error() string { return e.err.Error() }
func (e neutralError) Unwrap() error { return e.err }

// A caller giving up is not a failure of the destination.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var n neutralError
	return errors.As(err, &n)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.cb.State()
}

// Set lazily creates one breaker per key, so one dead worker cannot trip
// calls to the others.
type Set struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	logger   *slog.Logger
}

func NewSet(logger *slog.Logger) *Set {
	return &Set{breakers: make(map[string]*CircuitBreaker), logger: logger}
}

func (s *Set) For(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	cb := New("agent-service:"+key, s.logger)
	s.breakers[key] = cb
	return cb
}

// Reset drops the breaker for key; the next For starts closed.
func (s *Set) Reset(key string) {
	s.mu.Lock()
	_, ok := s.breakers[key]
	delete(s.breakers, key)
	s.mu.Unlock()
	if ok && s.logger != nil {
		s.logger.Debug("circuit breaker reset", "name", "agent-service:"+key)
	}
}
