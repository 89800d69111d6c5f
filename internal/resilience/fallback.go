package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrAllFailed is matched (via [errors.Is]) by the error returned when every
// entry in a [FallbackGroup] fails or has an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// ErrEmptyGroup is returned when a [FallbackGroup] has no entries.
var ErrEmptyGroup = errors.New("fallback group has no entries")

// Attempt records the outcome of trying one entry.
type Attempt struct {
	Name string
	Err  error
}

// AllFailedError lists every failed attempt in the order they were tried.
// It matches [ErrAllFailed] and unwraps to each attempt's error.
type AllFailedError struct {
	Attempts []Attempt
}

// Error names every attempted entry with its failure.
func (e *AllFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Name + ": " + a.Err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAllFailed, strings.Join(parts, "; "))
}

// Is reports whether target is [ErrAllFailed].
func (e *AllFailedError) Is(target error) bool {
	return target == ErrAllFailed
}

// Unwrap exposes each attempt's error to [errors.Is] and [errors.As].
func (e *AllFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// replaced with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// OnFallback, if set, is called whenever an entry other than the current
	// primary serviced a call.
	OnFallback func(from, to string)
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in order.
//
// FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	mu      sync.RWMutex
	entries []*fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.entries = append(fg.entries, &fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the name of the entry tried first.
func (fg *FallbackGroup[T]) Primary() string {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	if len(fg.entries) == 0 {
		return ""
	}
	return fg.entries[0].name
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Get returns the value registered under name.
func (fg *FallbackGroup[T]) Get(name string) (T, bool) {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	for _, e := range fg.entries {
		if e.name == name {
			return e.value, true
		}
	}
	var zero T
	return zero, false
}

// Breaker returns the circuit breaker guarding name, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Promote moves name to the front of the try order. It reports whether the
// entry exists.
func (fg *FallbackGroup[T]) Promote(name string) bool {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	for i, e := range fg.entries {
		if e.name != name {
			continue
		}
		if i > 0 {
			copy(fg.entries[1:i+1], fg.entries[0:i])
			fg.entries[0] = e
			slog.Info("fallback entry promoted to primary", "provider", name)
		}
		return true
	}
	return false
}

// snapshot returns the entries in current try order.
func (fg *FallbackGroup[T]) snapshot() []*fallbackEntry[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	out := make([]*fallbackEntry[T], len(fg.entries))
	copy(out, fg.entries)
	return out
}

// Execute tries fn against each entry in order until one succeeds and returns
// the name of the entry that succeeded. Circuit-breaker-open entries are
// skipped. If every entry fails the error is an [*AllFailedError].
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) (string, error) {
	_, name, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return name, err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning the result, the name of the entry that produced it, and an error.
// This is a package-level function because Go does not support method-level
// type parameters.
//
// Once ctx is done no further entry is tried and ctx's error is returned.
// Failures observed after ctx ended do not count against any breaker.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var zero R
	entries := fg.snapshot()
	if len(entries) == 0 {
		return zero, "", ErrEmptyGroup
	}

	attempts := make([]Attempt, 0, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var result R
		err := entry.breaker.ExecuteContext(ctx, func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			if i > 0 && fg.cfg.OnFallback != nil {
				fg.cfg.OnFallback(entries[0].name, entry.name)
			}
			return result, entry.name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
		attempts = append(attempts, Attempt{Name: entry.name, Err: err})
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, "", &AllFailedError{Attempts: attempts}
}
