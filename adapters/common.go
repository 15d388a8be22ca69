package adapters

import (
	"fmt"
	"iter"
)

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when the stored version of an aggregate no longer matches
// the version the writer loaded.
type ConcurrencyError struct {
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(aggregateID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	if e.ActualVersion < 0 {
		return fmt.Sprintf("huddle: concurrency conflict on aggregate %q at version %d",
			e.AggregateID, e.ExpectedVersion)
	}
	return fmt.Sprintf("huddle: concurrency conflict on aggregate %q: expected version %d, got %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// ValidateAppend checks a batch of events before it is written.
// All events must belong to one aggregate and carry contiguous, increasing versions.
func ValidateAppend(events []EventRecord) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	first := events[0]
	for i, e := range events {
		if e.AggregateID == "" {
			return ErrEmptyAggregateID
		}
		if e.AggregateID != first.AggregateID {
			return fmt.Errorf("huddle: append batch spans aggregates %q and %q", first.AggregateID, e.AggregateID)
		}
		if e.Version != first.Version+int64(i) || e.Version < 1 {
			return fmt.Errorf("huddle: non-contiguous version %d at position %d for aggregate %q",
				e.Version, i, e.AggregateID)
		}
	}
	return nil
}

// Collect drains an event sequence into a slice.
func Collect(seq iter.Seq2[EventRecord, error]) ([]EventRecord, error) {
	var out []EventRecord
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ErrorSeq returns a sequence that yields only the given error.
func ErrorSeq(err error) iter.Seq2[EventRecord, error] {
	return func(yield func(EventRecord, error) bool) {
		yield(EventRecord{}, err)
	}
}
