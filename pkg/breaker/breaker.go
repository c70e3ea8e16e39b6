// Package breaker implements a circuit breaker that guards calls to an
// unreliable dependency. One breaker instance is created per guarded
// dependency (translation engine, remote API, message bus) and shared by
// every caller of that dependency.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lingorelay/lingorelay/internal/build"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped function. Callers can use it to distinguish "the
// dependency is degraded" from "this particular call failed".
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultCoolDown         = 60 * time.Second
)

var stateTransitionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "circuit_breaker_state_transitions_total",
	Help:      "Number of circuit breaker state transitions, labeled by breaker name and new state.",
}, []string{"name", "state"})

// Breaker is safe for concurrent use by multiple goroutines sharing one
// instance. Counting policy: every failure counts toward the threshold,
// permanent errors included.
type Breaker struct {
	name             string
	failureThreshold int
	coolDown         time.Duration
	clock            func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

type Opt func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures that open
// the circuit.
func WithFailureThreshold(n int) Opt {
	return func(b *Breaker) {
		b.failureThreshold = n
	}
}

// WithCoolDown sets how long the circuit stays open before a probe call is
// allowed through.
func WithCoolDown(d time.Duration) Opt {
	return func(b *Breaker) {
		b.coolDown = d
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) Opt {
	return func(b *Breaker) {
		b.clock = clock
	}
}

func New(name string, opts ...Opt) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		coolDown:         DefaultCoolDown,
		clock:            time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState resolves open -> half_open lazily once the cool-down has
// elapsed. Callers must hold b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.clock().Sub(b.lastFailure) >= b.coolDown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Do executes fn under the breaker. In the open state it fails fast with an
// error wrapping ErrCircuitOpen. In the half-open state exactly one probe
// call is admitted; concurrent callers fail fast until the probe resolves.
// Errors returned by fn are recorded and then propagated unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	switch b.currentState() {
	case StateOpen:
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailure = b.clock()

	if b.state == StateHalfOpen {
		// The probe failed, go back to open and restart the cool-down clock.
		b.transition(StateOpen)
		return
	}
	if b.state == StateClosed && b.failures >= b.failureThreshold {
		b.transition(StateOpen)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(next State) {
	b.state = next
	stateTransitionsCounter.WithLabelValues(b.name, next.String()).Inc()
}

// Reset forces the breaker back to closed with a zeroed failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}
