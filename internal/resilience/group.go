package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Group] fails or has an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// GroupConfig configures the per-entry breaker created for each provider in
// a [Group].
type GroupConfig struct {
	Breaker BreakerConfig
}

// entry pairs a provider value with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails or its breaker is open, the next
// healthy fallback is tried in registration order.
//
// Group is safe for concurrent use once assembled. AddFallback is not safe
// to call concurrently with Do.
type Group[T any] struct {
	entries []entry[T]
	cfg     GroupConfig
}

// NewGroup creates a [Group] with primary as the first entry.
func NewGroup[T any](primary T, primaryName string, cfg GroupConfig) *Group[T] {
	bc := cfg.Breaker
	bc.Name = primaryName
	return &Group[T]{
		entries: []entry[T]{{
			name:    primaryName,
			value:   primary,
			breaker: NewBreaker(bc),
		}},
		cfg: cfg,
	}
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order
// they are added, after the primary.
func (g *Group[T]) AddFallback(name string, fallback T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   fallback,
		breaker: NewBreaker(bc),
	})
}

// Do tries fn against each entry in order until one succeeds. Entries with
// an open breaker are skipped. Returns [ErrAllFailed] wrapped with the last
// error if every entry fails.
func (g *Group[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Do(func() error {
			return fn(e.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// DoWithResult tries fn against each entry until one succeeds, returning
// both the result and the error. Package-level because Go does not support
// method-level type parameters.
func DoWithResult[T any, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(e.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
