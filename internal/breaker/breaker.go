// Package breaker implements a per-dependency circuit breaker used to
// protect the part-sprite CDN and the remote object store from
// cascading retries: a three-state machine keyed by dependency name.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by callers of Allow (the object store client and
// the render coordinator) when the breaker is open and rejecting calls.
var ErrOpen = errors.New("circuit breaker open")

// State represents the state of a circuit breaker.
type State int

const (
	// Closed means the circuit is healthy; calls flow through.
	Closed State = iota
	// Open means the circuit has tripped; calls are rejected.
	Open
	// HalfOpen means the circuit is testing recovery; a single probe is allowed.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker implements a circuit breaker with three states:
// Closed → Open (after failureThreshold consecutive failures)
// Open → HalfOpen (after resetTimeout elapses)
// HalfOpen → Closed (after halfOpenMax consecutive successes) or back to Open on failure.
type Breaker struct {
	mu sync.Mutex

	state            State
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int

	consecutiveFailures int
	halfOpenSuccesses   int
	probeInFlight       bool
	lastFailureTime     time.Time
}

// New creates a circuit breaker with the given parameters.
func New(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *Breaker {
	return &Breaker{
		state:            Closed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Allow reports whether a call should be permitted through the
// circuit. In the Open state, it transitions to HalfOpen once the
// reset timeout has elapsed, admitting a single probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastFailureTime) >= b.resetTimeout {
			b.state = HalfOpen
			b.halfOpenSuccesses = 0
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		// One probe at a time; concurrent callers are rejected until
		// the outstanding probe reports back.
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful call. In HalfOpen state, after
// enough successes the circuit transitions back to Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0

	if b.state == HalfOpen {
		b.probeInFlight = false
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.halfOpenMax {
			b.state = Closed
		}
	}
}

// RecordFailure records a failed call. In Closed state, transitions to
// Open after the failure threshold is reached. In HalfOpen state,
// transitions directly back to Open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
		b.halfOpenSuccesses = 0
		b.probeInFlight = false
	}
}

// State returns the current circuit breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry is a thread-safe registry of per-dependency circuit
// breakers, keyed by name ("cdn", "objectstore"). Breakers are created
// lazily on first access via Get.
type Registry struct {
	mu sync.Mutex

	breakers         map[string]*Breaker
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int
}

// NewRegistry creates a new registry with the given default parameters.
func NewRegistry(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Get returns the circuit breaker for the given dependency, creating
// one if necessary.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(r.failureThreshold, r.resetTimeout, r.halfOpenMax)
		r.breakers[name] = b
	}
	return b
}

// State returns the current state of the named dependency's breaker
// without creating it, reporting Closed for an unknown name. Used by
// /health to report dependency status without side effects.
func (r *Registry) State(name string) State {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return Closed
	}
	return b.State()
}
