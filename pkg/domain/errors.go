package domain

import (
	"errors"
	"fmt"
)

// ErrCacheConflict is returned when an observation contradicts the automaton cache.
var ErrCacheConflict = errors.New("cache conflict")

// ErrConsistencyExhausted is returned when conflict retries ran out of budget.
var ErrConsistencyExhausted = errors.New("consistency retries exhausted")

// ErrCacheInvalidated is returned after the durable store was corrected and the
// in-memory cache must be rebuilt by its owner.
var ErrCacheInvalidated = errors.New("cache invalidated, rebuild required")

// ErrStoreUnavailable wraps failures of the durable observation store.
var ErrStoreUnavailable = errors.New("observation store unavailable")

// ErrMalformedObservation is returned when a response does not align with its input word.
var ErrMalformedObservation = errors.New("malformed observation")

// ErrUnknownSymbol is returned for symbols outside the configured alphabet.
var ErrUnknownSymbol = errors.New("unknown symbol")

// ErrFlowViolation is returned when a probe repeatedly contradicts an expected flow.
var ErrFlowViolation = errors.New("expected flow violated")

// ConflictError identifies where two observations diverge.
// Prefix is the input word up to and including the diverging position;
// Old and New are the output words of the same length.
type ConflictError struct {
	Prefix Word
	Old    Word
	New    Word
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cache conflict at %s: recorded %s, observed %s", e.Prefix, e.Old, e.New)
}

// Is makes errors.Is(err, ErrCacheConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrCacheConflict
}

// ConsistencyError is the fatal outcome of conflict resolution.
// Kind is ErrConsistencyExhausted or ErrCacheInvalidated.
type ConsistencyError struct {
	Kind     error
	Prefix   Word
	Old      Word
	New      Word
	Attempts int
	Pruned   int64
}

func (e *ConsistencyError) Error() string {
	if e.Kind == ErrCacheInvalidated {
		return fmt.Sprintf("%v: majority for %s is %s, pruned %d records", e.Kind, e.Prefix, e.New, e.Pruned)
	}
	return fmt.Sprintf("%v: %s after %d attempts (recorded %s, observed %s)", e.Kind, e.Prefix, e.Attempts, e.Old, e.New)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Kind
}
