package huddle

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
var (
	// ErrAggregateNotFound indicates that replay ended at version 0.
	ErrAggregateNotFound = errors.New("huddle: aggregate not found")

	// ErrUnknownEventType indicates an event or stored type tag the serializer does not know.
	ErrUnknownEventType = errors.New("huddle: unknown event type")

	// ErrSerializationFailed indicates a payload could not be encoded or decoded.
	ErrSerializationFailed = errors.New("huddle: serialization failed")

	// ErrSerializerNotRegistered indicates no serializer is registered for an aggregate type.
	ErrSerializerNotRegistered = errors.New("huddle: serializer not registered")

	// ErrFactoryNotRegistered indicates no factory is registered for an aggregate type.
	ErrFactoryNotRegistered = errors.New("huddle: aggregate factory not registered")

	// ErrConcurrencyConflict indicates the aggregate changed since it was loaded.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("huddle: nil aggregate")

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrPublisherClosed indicates events were published after Close.
	ErrPublisherClosed = errors.New("huddle: publisher closed")

	// Command and handler related errors

	// ErrHandlerNotFound indicates no handler is registered for a command type.
	ErrHandlerNotFound = errors.New("huddle: handler not found")

	// ErrValidationFailed indicates command or domain validation failed.
	ErrValidationFailed = errors.New("huddle: validation failed")

	// ErrUnauthorized indicates the caller may not act on the resource.
	ErrUnauthorized = errors.New("huddle: unauthorized")

	// ErrNilCommand indicates a nil command was passed.
	ErrNilCommand = errors.New("huddle: nil command")

	// ErrCommandBusClosed indicates a dispatch after Close.
	ErrCommandBusClosed = errors.New("huddle: command bus closed")

	// ErrHandlerPanicked indicates a handler panicked during execution.
	ErrHandlerPanicked = errors.New("huddle: handler panicked")
)

// ConcurrencyError provides details about a stale save.
type ConcurrencyError = adapters.ConcurrencyError

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(aggregateID string, expected, actual int64) *ConcurrencyError {
	return adapters.NewConcurrencyError(aggregateID, expected, actual)
}

// UnknownEventTypeError provides details about an unrecognized event.
type UnknownEventTypeError struct {
	AggregateType string
	EventType     string
}

// Error returns the error message.
func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("huddle: unknown event type %q for aggregate type %q", e.EventType, e.AggregateType)
}

// Is reports whether this error matches the target error.
func (e *UnknownEventTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

// NewUnknownEventTypeError creates a new UnknownEventTypeError.
func NewUnknownEventTypeError(aggregateType, eventType string) *UnknownEventTypeError {
	return &UnknownEventTypeError{AggregateType: aggregateType, EventType: eventType}
}

// SerializationError provides details about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("huddle: failed to %s event %q: %v", e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// SerializerNotRegisteredError is the configuration error raised by the registry.
type SerializerNotRegisteredError struct {
	AggregateType string
}

// Error returns the error message.
func (e *SerializerNotRegisteredError) Error() string {
	return fmt.Sprintf("huddle: no serializer registered for aggregate type %q", e.AggregateType)
}

// Is reports whether this error matches the target error.
func (e *SerializerNotRegisteredError) Is(target error) bool {
	return target == ErrSerializerNotRegistered
}

// AggregateNotFoundError provides details about a missing aggregate.
type AggregateNotFoundError struct {
	AggregateType string
	AggregateID   string
}

// Error returns the error message.
func (e *AggregateNotFoundError) Error() string {
	return fmt.Sprintf("huddle: %s %q not found", e.AggregateType, e.AggregateID)
}

// Is reports whether this error matches the target error.
func (e *AggregateNotFoundError) Is(target error) bool {
	return target == ErrAggregateNotFound
}

// NewAggregateNotFoundError creates a new AggregateNotFoundError.
func NewAggregateNotFoundError(aggregateType, aggregateID string) *AggregateNotFoundError {
	return &AggregateNotFoundError{AggregateType: aggregateType, AggregateID: aggregateID}
}

// UnauthorizedError describes a rejected authorization check.
type UnauthorizedError struct {
	UserID   string
	Resource Resource
	Reason   string
}

// Error returns the error message.
func (e *UnauthorizedError) Error() string {
	msg := fmt.Sprintf("huddle: user %q may not act on %s %q", e.UserID, e.Resource.Kind, e.Resource.ID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports whether this error matches the target error.
func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// PanicError wraps a recovered handler panic.
type PanicError struct {
	CommandType string
	Value       interface{}
	Stack       string
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("huddle: handler for %q panicked: %v", e.CommandType, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// NewPanicError creates a new PanicError.
func NewPanicError(cmdType string, value interface{}, stack string) *PanicError {
	return &PanicError{CommandType: cmdType, Value: value, Stack: stack}
}

// HandlerNotFoundError indicates no handler exists for a command type.
type HandlerNotFoundError struct {
	CommandType string
}

// Error returns the error message.
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("huddle: no handler registered for command %q", e.CommandType)
}

// Is reports whether this error matches the target error.
func (e *HandlerNotFoundError) Is(target error) bool {
	return target == ErrHandlerNotFound
}

// NewHandlerNotFoundError creates a new HandlerNotFoundError.
func NewHandlerNotFoundError(cmdType string) *HandlerNotFoundError {
	return &HandlerNotFoundError{CommandType: cmdType}
}

// ValidationError names the command or operation and the field that failed
// a check. Domain packages may wrap their own sentinel as Cause.
type ValidationError struct {
	CommandType string
	Field       string
	Message     string
	Cause       error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("huddle: validation failed for %q: %s", e.CommandType, e.Message)
	}
	return fmt.Sprintf("huddle: validation failed for %q field %q: %s", e.CommandType, e.Field, e.Message)
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the cause.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a ValidationError.
func NewValidationError(cmdType, field, message string) *ValidationError {
	return &ValidationError{CommandType: cmdType, Field: field, Message: message}
}

// NewValidationErrorWithCause creates a ValidationError wrapping cause.
func NewValidationErrorWithCause(cmdType, field, message string, cause error) *ValidationError {
	return &ValidationError{CommandType: cmdType, Field: field, Message: message, Cause: cause}
}
