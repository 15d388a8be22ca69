package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-huddle"
)

// Domain errors. Validation errors also match huddle.ErrValidationFailed.
var (
	// ErrMatchStartTime is returned when an operation is attempted at the wrong
	// side of the match start.
	ErrMatchStartTime = errors.New("match: operation not allowed at this point relative to match start")

	// ErrMatchCanceled is returned for operations on a canceled match.
	ErrMatchCanceled = errors.New("match: match is canceled")

	// ErrMatchNotPlanned is returned for operations on a match without a MatchPlannedEvent.
	ErrMatchNotPlanned = errors.New("match: match is not planned")

	// ErrMatchAlreadyPlanned is returned when planning an existing match.
	ErrMatchAlreadyPlanned = errors.New("match: match is already planned")

	ErrInvalidPlayerCount = errors.New("match: invalid player count")
	ErrGuestBounds        = errors.New("match: guest count out of bounds")
	ErrInvalidResult      = errors.New("match: invalid result")
	ErrInvalidStatus      = errors.New("match: invalid player status")
)

// StartTimeError details an ErrMatchStartTime failure.
type StartTimeError struct {
	Operation string
	Start     time.Time
	Now       time.Time
}

// Error returns the error message.
func (e *StartTimeError) Error() string {
	return fmt.Sprintf("match: %s not allowed: match starts %s, now %s",
		e.Operation, e.Start.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

// Is reports whether this error matches the target error.
func (e *StartTimeError) Is(target error) bool {
	return target == ErrMatchStartTime
}

// domainValidationError matches both its domain sentinel and huddle.ErrValidationFailed.
type domainValidationError struct {
	*huddle.ValidationError
	kind error
}

func (e *domainValidationError) Is(target error) bool {
	return target == e.kind || target == huddle.ErrValidationFailed
}

func (e *domainValidationError) As(target any) bool {
	if t, ok := target.(**huddle.ValidationError); ok {
		*t = e.ValidationError
		return true
	}
	return false
}

func newValidationError(kind error, field, message string) error {
	return &domainValidationError{
		ValidationError: huddle.NewValidationError(AggregateType, field, message),
		kind:            kind,
	}
}
