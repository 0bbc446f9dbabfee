// Package resilience protects the gateway's external providers from
// cascading failures.
//
// The central type is [Breaker], a three-state circuit breaker
// (closed, open, half-open). [Group] composes multiple instances of any
// provider type with per-entry breakers so a failing primary is bypassed in
// favour of healthy fallbacks. [Recognizer] and [Speech] apply a Group to
// the gateway's recognition and synthesis providers.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] when the breaker is open and
// the cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls immediately with [ErrBreakerOpen] until the
	// cooldown elapses.
	StateOpen

	// StateHalfOpen allows a limited number of probe calls through. If they
	// succeed the breaker closes, otherwise it re-opens.
	StateHalfOpen
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

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// TripAfter is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	TripAfter int

	// Cooldown is how long the breaker stays open before allowing probe
	// calls. Default: 30s.
	Cooldown time.Duration

	// ProbeBudget is the number of probe calls allowed in the half-open
	// state before the breaker decides to close or re-open. Default: 3.
	ProbeBudget int
}

// Breaker implements a three-state circuit breaker.
// Safe for concurrent use.
type Breaker struct {
	name        string
	tripAfter   int
	cooldown    time.Duration
	probeBudget int

	mu          sync.Mutex
	state       State
	failStreak  int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker creates a [Breaker]. Zero-valued config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &Breaker{
		name:        cfg.Name,
		tripAfter:   cfg.TripAfter,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		state:       StateClosed,
	}
}

// Do runs fn if the breaker allows it. In the open state it returns
// [ErrBreakerOpen] without calling fn. In the half-open state only calls
// within the probe budget are permitted.
func (b *Breaker) Do(fn func() error) error {
	probing, err := b.allow()
	if err != nil {
		return err
	}

	err = fn()
	b.record(err, probing)
	return err
}

// allow decides whether a call may proceed, performing the open to half-open
// transition when the cooldown has elapsed. The returned bool reports
// whether the call counts against the probe budget.
func (b *Breaker) allow() (probing bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			return false, ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker half-open, probing", "name", b.name)

	case StateHalfOpen:
		if b.probes >= b.probeBudget {
			return false, ErrBreakerOpen
		}
	}

	if b.state == StateHalfOpen {
		b.probes++
		return true, nil
	}
	return false, nil
}

// record updates breaker state after a call completed.
func (b *Breaker) record(callErr error, probing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		if probing {
			if b.probes-b.probeFails >= b.probeBudget {
				b.state = StateClosed
				b.failStreak = 0
				b.probes = 0
				b.probeFails = 0
				slog.Info("breaker closed after successful probes", "name", b.name)
			}
			return
		}
		b.failStreak = 0
		return
	}

	b.lastFailure = time.Now()

	if probing {
		// Any probe failure re-opens immediately.
		b.probeFails++
		b.state = StateOpen
		b.failStreak = b.tripAfter
		slog.Warn("breaker re-opened from half-open", "name", b.name)
		return
	}

	b.failStreak++
	if b.failStreak >= b.tripAfter {
		b.state = StateOpen
		slog.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.failStreak)
	}
}

// State returns the current [State]. If the breaker is open and the cooldown
// has elapsed, [StateHalfOpen] is reported; the actual transition happens on
// the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failStreak = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("breaker manually reset", "name", b.name)
}
