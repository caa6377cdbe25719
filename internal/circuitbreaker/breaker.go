// Package circuitbreaker keeps one breaker per push endpoint so a dead
// gateway stops costing a request per notification.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type endpoint struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker trips an endpoint open after threshold consecutive
// failures. After the cooldown a single trial request is let through; its outcome
// closes or re-opens the circuit.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
	onChange  func(endpoint string, to State)
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// OnStateChange registers a callback invoked under the breaker lock; it must
// not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(endpoint string, to State)) *CircuitBreaker {
	cb.onChange = fn
	return cb
}

func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[key]
	if !ok {
		return nil
	}

	switch e.state {
	case StateOpen:
		if cb.clock().Sub(e.openedAt) >= cb.cooldown {
			cb.set(key, e, StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[key]
	if !ok {
		return
	}
	e.consecutiveFailures = 0
	cb.set(key, e, StateClosed)
}

func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[key]
	if !ok {
		e = &endpoint{}
		cb.endpoints[key] = e
	}

	e.consecutiveFailures++
	if e.state == StateHalfOpen || e.consecutiveFailures >= cb.threshold {
		e.openedAt = cb.clock()
		cb.set(key, e, StateOpen)
	}
}

// State reports the current state of an endpoint.
func (cb *CircuitBreaker) State(key string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if e, ok := cb.endpoints[key]; ok {
		return e.state
	}
	return StateClosed
}

func (cb *CircuitBreaker) set(key string, e *endpoint, to State) {
	if e.state == to {
		return
	}
	e.state = to
	if cb.onChange != nil {
		cb.onChange(key, to)
	}
}
