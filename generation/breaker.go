package generation

import (
	"time"

	"go.uber.org/atomic"

	"github.com/creatorlens/onboarding-rag/metrics"
)

// BreakerState is the circuit state of one provider.
type BreakerState int32

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
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

// BreakerOptions configures breakers created by a Pool.
type BreakerOptions struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Now              func() time.Time
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	State               BreakerState
	ConsecutiveFailures int
	LastFailure         time.Time
}

// Breaker is a per-provider circuit breaker. After FailureThreshold
// consecutive failures it opens; once ResetTimeout has elapsed exactly one
// caller is admitted as a half-open trial.
type Breaker struct {
	name      string
	threshold int32
	reset     time.Duration
	now       func() time.Time

	state       atomic.Int32
	failures    atomic.Int32
	openedAt    atomic.Int64
	lastFailure atomic.Int64
}

func NewBreaker(name string, opts BreakerOptions) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{name: name, threshold: int32(opts.FailureThreshold), reset: opts.ResetTimeout, now: opts.Now}
}

// Allow reports whether a call may proceed. In the open state the first
// caller after the reset timeout moves the breaker to half-open and is the
// only one admitted until the trial resolves.
func (b *Breaker) Allow() bool {
	switch BreakerState(b.state.Load()) {
	case Closed:
		return true
	case Open:
		if b.now().UnixNano()-b.openedAt.Load() < int64(b.reset) {
			return false
		}
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			metrics.IncBreakerTransition(b.name, HalfOpen.String())
			return true
		}
		return false
	default:
		return false
	}
}

// Success closes the breaker and clears the failure streak.
func (b *Breaker) Success() {
	b.failures.Store(0)
	if prev := BreakerState(b.state.Swap(int32(Closed))); prev != Closed {
		metrics.IncBreakerTransition(b.name, Closed.String())
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	now := b.now().UnixNano()
	b.lastFailure.Store(now)
	n := b.failures.Inc()
	switch BreakerState(b.state.Load()) {
	case HalfOpen:
		b.openedAt.Store(now)
		if b.state.CompareAndSwap(int32(HalfOpen), int32(Open)) {
			metrics.IncBreakerTransition(b.name, Open.String())
		}
	case Closed:
		if n >= b.threshold {
			b.openedAt.Store(now)
			if b.state.CompareAndSwap(int32(Closed), int32(Open)) {
				metrics.IncBreakerTransition(b.name, Open.String())
			}
		}
	}
}

// Abandon releases a half-open trial that ended without a provider verdict,
// for example when the caller cancelled. The next caller becomes the trial.
func (b *Breaker) Abandon() {
	b.state.CompareAndSwap(int32(HalfOpen), int32(Open))
}

func (b *Breaker) State() BreakerState { return BreakerState(b.state.Load()) }

func (b *Breaker) Snapshot() BreakerSnapshot {
	s := BreakerSnapshot{
		State:               b.State(),
		ConsecutiveFailures: int(b.failures.Load()),
	}
	if ts := b.lastFailure.Load(); ts > 0 {
		s.LastFailure = time.Unix(0, ts)
	}
	return s
}
