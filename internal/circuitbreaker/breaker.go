// Package circuitbreaker stops calling a target url after repeated failures
// and lets a single probe through once the cooldown has passed.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/djlord-it/cronhook/internal/errors"
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
		return "half-open"
	default:
		return "closed"
	}
}

type target struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks failures per url. Safe for concurrent use.
type CircuitBreaker struct {
	mu        sync.Mutex
	targets   map[string]*target
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New returns a breaker that opens after threshold consecutive failures. A
// threshold below 1 is treated as 1.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		targets:   make(map[string]*target),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow returns ErrCircuitOpen while url is open, or while a half-open probe
// is outstanding.
func (cb *CircuitBreaker) Allow(url string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	t, ok := cb.targets[url]
	if !ok {
		return nil
	}

	switch t.state {
	case StateOpen:
		if cb.clock().Sub(t.openedAt) >= cb.cooldown {
			t.state = StateHalfOpen
			return nil
		}
		return errors.WithDetailf(ErrCircuitOpen, "url=%s failures=%d", url, t.consecutiveFailures)
	case StateHalfOpen:
		return errors.WithDetail(ErrCircuitOpen, "probe in flight")
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(url string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.targets, url)
}

func (cb *CircuitBreaker) RecordFailure(url string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	t, ok := cb.targets[url]
	if !ok {
		t = &target{}
		cb.targets[url] = t
	}

	t.consecutiveFailures++
	if t.state == StateHalfOpen || t.consecutiveFailures >= cb.threshold {
		t.state = StateOpen
		t.openedAt = cb.clock()
	}
}

// State reports the current state for url without changing it.
func (cb *CircuitBreaker) State(url string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if t, ok := cb.targets[url]; ok {
		return t.state
	}
	return StateClosed
}

// OpenCount is the number of urls not currently closed.
func (cb *CircuitBreaker) OpenCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	n := 0
	for _, t := range cb.targets {
		if t.state != StateClosed {
			n++
		}
	}
	return n
}
