// Package resilience provides a circuit breaker for calls to flaky
// backends. Outbound request pacing is handled by golang.org/x/time/rate at
// the call sites that need it.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MiraAI/mira-guide/pkg/fn"
)

// Breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // rejecting calls
	StateHalfOpen              // allowing probe calls
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// Threshold is how many consecutive failures trip the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is how many calls may pass while half-open.
	Probes int
	// OnChange, when set, observes every state transition.
	OnChange func(from, to State)
}

// DefaultBreakerOpts trip after 5 failures and probe after 30s.
var DefaultBreakerOpts = BreakerOpts{
	Threshold: 5,
	Cooldown:  30 * time.Second,
	Probes:    1,
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time // injectable for tests
}

// NewBreaker creates a Breaker, filling zero options from defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultBreakerOpts.Threshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.Probes <= 0 {
		opts.Probes = DefaultBreakerOpts.Probes
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the current state, applying the open→half-open timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick()
}

// tick advances open→half-open when the cooldown has elapsed. Caller holds mu.
func (b *Breaker) tick() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.transition(StateHalfOpen)
		b.probes = 0
	}
	return b.state
}

// transition switches state and fires OnChange. Caller holds mu.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.opts.OnChange != nil {
		b.opts.OnChange(from, to)
	}
}

// admit decides whether a call may proceed. Caller holds mu.
func (b *Breaker) admit() error {
	switch b.tick() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probes >= b.opts.Probes {
			return ErrOpen
		}
		b.probes++
	}
	return nil
}

// settle records a call outcome. Caller holds mu.
func (b *Breaker) settle(failed bool) {
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.Threshold {
			b.transition(StateOpen)
			b.openedAt = b.now()
			b.failures = 0
			b.probes = 0
		}
		return
	}
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// Call runs f through the breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	b.settle(err != nil)
	b.mu.Unlock()
	return err
}

// CallResult is Call for fn.Result-returning functions.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		b.mu.Unlock()
		return fn.Err[T](err)
	}
	b.mu.Unlock()

	r := f(ctx)

	b.mu.Lock()
	b.settle(r.Failed())
	b.mu.Unlock()
	return r
}
