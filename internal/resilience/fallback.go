package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [FirstOf] when no candidate succeeds.
var ErrAllFailed = errors.New("resilience: all candidates failed")

// Candidate is one named option for [FirstOf].
type Candidate[T any] struct {
	Name  string
	Value T
}

// FirstOf calls fn for each candidate in order and returns the first
// successful result together with the winning candidate's name. When every
// candidate fails the returned error wraps [ErrAllFailed] and each
// candidate's error.
func FirstOf[T, R any](candidates []Candidate[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i, c := range candidates {
		r, err := fn(c.Value)
		if err == nil {
			if i > 0 {
				slog.Warn("resilience: using fallback", "candidate", c.Name, "skipped", i)
			}
			return r, c.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		if i < len(candidates)-1 {
			slog.Warn("resilience: candidate failed, trying next", "candidate", c.Name, "err", err)
		}
	}
	if len(errs) == 0 {
		return zero, "", fmt.Errorf("%w: no candidates", ErrAllFailed)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
