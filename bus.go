package huddle

import (
	"context"
	"sync"
	"sync/atomic"
)

// MiddlewareFunc is one step of the dispatch pipeline.
type MiddlewareFunc func(ctx context.Context, cmd Command) (CommandResult, error)

// Middleware wraps the next step of the pipeline.
type Middleware func(next MiddlewareFunc) MiddlewareFunc

// CommandBus routes each command to the handler registered for its type.
// Middleware runs outermost first, in the order it was added.
type CommandBus struct {
	mu         sync.RWMutex
	handlers   map[string]CommandHandler
	middleware []Middleware
	closed     atomic.Bool
}

// CommandBusOption configures a CommandBus.
type CommandBusOption func(*CommandBus)

// WithMiddleware appends middleware to the pipeline.
func WithMiddleware(middleware ...Middleware) CommandBusOption {
	return func(b *CommandBus) {
		b.middleware = append(b.middleware, middleware...)
	}
}

// NewCommandBus creates a CommandBus.
func NewCommandBus(opts ...CommandBusOption) *CommandBus {
	b := &CommandBus{handlers: make(map[string]CommandHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register routes the handler's command type to it. A later registration
// for the same type replaces the earlier one.
func (b *CommandBus) Register(handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[handler.CommandType()] = handler
}

// Use appends middleware to the pipeline.
func (b *CommandBus) Use(middleware ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware...)
}

// HasHandler reports whether cmdType has a handler.
func (b *CommandBus) HasHandler(cmdType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[cmdType]
	return ok
}

// Dispatch runs cmd through the middleware and its handler.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (CommandResult, error) {
	if b.closed.Load() {
		return NewErrorResult(ErrCommandBusClosed), ErrCommandBusClosed
	}
	if cmd == nil {
		return NewErrorResult(ErrNilCommand), ErrNilCommand
	}

	b.mu.RLock()
	handler, ok := b.handlers[cmd.CommandType()]
	pipeline := b.pipeline(handler)
	b.mu.RUnlock()

	if !ok {
		err := NewHandlerNotFoundError(cmd.CommandType())
		return NewErrorResult(err), err
	}
	return pipeline(ctx, cmd)
}

// pipeline wraps handler in the middleware. Callers hold b.mu.
func (b *CommandBus) pipeline(handler CommandHandler) MiddlewareFunc {
	if handler == nil {
		return nil
	}
	next := MiddlewareFunc(handler.Handle)
	for i := len(b.middleware) - 1; i >= 0; i-- {
		next = b.middleware[i](next)
	}
	return next
}

// Close rejects every later Dispatch with ErrCommandBusClosed.
func (b *CommandBus) Close() error {
	b.closed.Store(true)
	return nil
}
