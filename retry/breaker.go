package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meridianlabs/testorch/models"
)

// ErrCircuitOpen is returned by Breaker.Call while the breaker is open.
var ErrCircuitOpen = errors.New("retry: circuit breaker open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker wraps a single callable, opening after failureThreshold
// consecutive failures and blocking new calls until recoveryTimeout has
// elapsed, at which point it allows exactly one probing call through
// (half-open). A successful probe closes the breaker; a failed probe
// reopens it. State machine: Closed -> Open -> HalfOpen -> Closed | Open.
type Breaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	clock            Clock

	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	openedAt         time.Time
}

// Clock abstracts time for deterministic breaker tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CreateBreaker builds a new Breaker in the closed state.
func CreateBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{failureThreshold: failureThreshold, recoveryTimeout: recoveryTimeout, clock: realClock{}, state: stateClosed}
}

// WithClock overrides the breaker's clock, for tests.
func (b *Breaker) WithClock(c Clock) *Breaker {
	if c != nil {
		b.clock = c
	}
	return b
}

// State reports the breaker's current state as a label.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked().String()
}

func (b *Breaker) stateLocked() breakerState {
	if b.state == stateOpen && b.clock.Now().Sub(b.openedAt) >= b.recoveryTimeout {
		return stateHalfOpen
	}
	return b.state
}

// allow reports whether a call may proceed, transitioning Open->HalfOpen
// as a side effect once recoveryTimeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		// the one probe admitted on the Open->HalfOpen transition has not
		// reported back yet
		return false
	case stateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.recoveryTimeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = stateClosed
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = b.clock.Now()
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = stateOpen
		b.openedAt = b.clock.Now()
	}
}

// Call invokes fn if the breaker permits it, recording the outcome.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// BreakerRegistry hands out one Breaker per (chainId, category), created
// lazily on first use, mirroring the Resource Pool's keyed-cache pattern.
type BreakerRegistry struct {
	mu               sync.Mutex
	breakers         map[breakerKey]*Breaker
	failureThreshold int
	recoveryTimeout  time.Duration
}

type breakerKey struct {
	chainID  uint64
	category models.ErrorCategory
}

// NewBreakerRegistry builds a registry whose breakers all share the given
// failureThreshold and recoveryTimeout.
func NewBreakerRegistry(failureThreshold int, recoveryTimeout time.Duration) *BreakerRegistry {
	return &BreakerRegistry{breakers: map[breakerKey]*Breaker{}, failureThreshold: failureThreshold, recoveryTimeout: recoveryTimeout}
}

// Get returns the breaker for (chainID, category), creating it if absent.
func (r *BreakerRegistry) Get(chainID uint64, category models.ErrorCategory) *Breaker {
	key := breakerKey{chainID: chainID, category: category}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := CreateBreaker(r.failureThreshold, r.recoveryTimeout)
	r.breakers[key] = b
	return b
}
