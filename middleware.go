package huddle

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// ValidationMiddleware validates commands before they reach the handler.
func ValidationMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if err := cmd.Validate(); err != nil {
				return NewErrorResult(err), err
			}
			return next(ctx, cmd)
		}
	}
}

// RecoveryMiddleware turns handler panics into PanicError results.
func RecoveryMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (result CommandResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					panicErr := NewPanicError(cmd.CommandType(), r, string(debug.Stack()))
					result = NewErrorResult(panicErr)
					err = panicErr
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// LoggingMiddleware logs command execution.
func LoggingMiddleware(logger Logger) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			start := time.Now()
			result, err := next(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				logger.Warn("command failed",
					"type", cmd.CommandType(),
					"duration", duration,
					"error", err,
				)
			} else {
				logger.Info("command completed",
					"type", cmd.CommandType(),
					"duration", duration,
					"aggregateId", result.AggregateID,
					"version", result.Version,
				)
			}
			return result, err
		}
	}
}

type correlationIDKey struct{}

// WithCorrelationID returns a context carrying the correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID in ctx, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// CorrelationIDMiddleware assigns a correlation ID to commands that arrive without one.
// A nil generator uses random UUIDs.
func CorrelationIDMiddleware(generator func() string) Middleware {
	if generator == nil {
		generator = uuid.NewString
	}
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if CorrelationIDFromContext(ctx) == "" {
				ctx = WithCorrelationID(ctx, generator())
			}
			return next(ctx, cmd)
		}
	}
}

// MetadataFromContext builds event metadata from the correlation ID and identity in ctx.
func MetadataFromContext(ctx context.Context) Metadata {
	md := Metadata{CorrelationID: CorrelationIDFromContext(ctx)}
	if id, ok := IdentityFromContext(ctx); ok {
		md.UserID = id.UserID
	}
	return md
}
