package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker configuration applied to every entry of a
// [FallbackGroup]. The breaker name is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and optional fallbacks of the same
// type, each behind its own breaker. Entries are tried in registration order.
//
// AddFallback must not be called concurrently with Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback, breaker: NewCircuitBreaker(cb)})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Execute runs fn against the entries until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// ExecuteWithResult runs fn against the entries until one succeeds and
// returns its result. Entries with an open breaker are skipped. An error the
// entry's breaker treats as neutral is returned as is without trying further
// entries, since another backend would give the same answer. When every
// entry fails the last error is returned wrapped in [ErrAllFailed].
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i, entry := range fg.entries {
		result, err := attempt(entry, fn)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: provider skipped, circuit open", "provider", entry.name)
		} else if entry.breaker.isNeutral(err) {
			return zero, err
		} else if i+1 < len(fg.entries) {
			slog.Warn("resilience: provider failed, trying next", "provider", entry.name, "next", fg.entries[i+1].name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func attempt[T any, R any](entry fallbackEntry[T], fn func(T) (R, error)) (R, error) {
	var result R
	err := entry.breaker.Execute(func() error {
		var err error
		result, err = fn(entry.value)
		return err
	})
	return result, err
}
