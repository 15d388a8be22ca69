package huddle

import (
	"context"
	"fmt"
)

// CommandHandler executes one command type.
type CommandHandler interface {
	CommandType() string
	Handle(ctx context.Context, cmd Command) (CommandResult, error)
}

type handlerFunc struct {
	cmdType string
	fn      func(ctx context.Context, cmd Command) (CommandResult, error)
}

func (h handlerFunc) CommandType() string { return h.cmdType }

func (h handlerFunc) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	return h.fn(ctx, cmd)
}

// NewCommandHandlerFunc handles cmdType with fn.
func NewCommandHandlerFunc(cmdType string, fn func(ctx context.Context, cmd Command) (CommandResult, error)) CommandHandler {
	return handlerFunc{cmdType: cmdType, fn: fn}
}

// commandAs asserts cmd to the handler's command type.
func commandAs[C Command](cmd Command) (C, error) {
	typed, ok := cmd.(C)
	if !ok {
		var zero C
		return zero, fmt.Errorf("huddle: expected command type %T, got %T", zero, cmd)
	}
	return typed, nil
}

// GenericHandler handles the command type C with a typed function.
type GenericHandler[C Command] struct {
	fn func(ctx context.Context, cmd C) (CommandResult, error)
}

// NewGenericHandler wraps fn. The command type is taken from C's zero value.
func NewGenericHandler[C Command](fn func(ctx context.Context, cmd C) (CommandResult, error)) *GenericHandler[C] {
	return &GenericHandler[C]{fn: fn}
}

// CommandType implements CommandHandler.
func (h *GenericHandler[C]) CommandType() string {
	var zero C
	return zero.CommandType()
}

// Handle implements CommandHandler.
func (h *GenericHandler[C]) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	typed, err := commandAs[C](cmd)
	if err != nil {
		return NewErrorResult(err), err
	}
	return h.fn(ctx, typed)
}

// AggregateHandlerConfig configures an AggregateHandler.
type AggregateHandlerConfig[C AggregateCommand, A Aggregate] struct {
	Repository *Repository
	Factory    func(id string) A
	Executor   func(ctx context.Context, agg A, cmd C) error

	// NewIDFunc names the aggregate of commands with an empty AggregateID.
	// Without it such commands fail.
	NewIDFunc func() string
}

// AggregateHandler runs a command as one unit of work: load the aggregate
// (or create it when the command carries no ID), execute, save.
// Event metadata comes from the dispatch context.
type AggregateHandler[C AggregateCommand, A Aggregate] struct {
	cfg AggregateHandlerConfig[C, A]
}

// NewAggregateHandler creates an AggregateHandler.
func NewAggregateHandler[C AggregateCommand, A Aggregate](cfg AggregateHandlerConfig[C, A]) *AggregateHandler[C, A] {
	return &AggregateHandler[C, A]{cfg: cfg}
}

// CommandType implements CommandHandler.
func (h *AggregateHandler[C, A]) CommandType() string {
	var zero C
	return zero.CommandType()
}

// Handle implements CommandHandler.
func (h *AggregateHandler[C, A]) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	typed, err := commandAs[C](cmd)
	if err != nil {
		return NewErrorResult(err), err
	}

	agg, err := h.aggregateFor(ctx, typed)
	if err != nil {
		return NewErrorResult(err), err
	}

	if err := h.cfg.Executor(ctx, agg, typed); err != nil {
		return NewErrorResult(err), err
	}

	raised := len(agg.PendingChanges())
	if err := h.cfg.Repository.Save(ctx, agg, WithSaveMetadata(MetadataFromContext(ctx))); err != nil {
		return NewErrorResult(err), err
	}

	result := NewSuccessResult(agg.AggregateID(), agg.Version())
	result.Events = raised
	return result, nil
}

func (h *AggregateHandler[C, A]) aggregateFor(ctx context.Context, cmd C) (A, error) {
	id := cmd.AggregateID()
	if id != "" {
		agg := h.cfg.Factory(id)
		return agg, h.cfg.Repository.LoadInto(ctx, agg)
	}
	if h.cfg.NewIDFunc == nil {
		var zero A
		return zero, fmt.Errorf("huddle: command %q has no aggregate ID and no ID generator configured", cmd.CommandType())
	}
	return h.cfg.Factory(h.cfg.NewIDFunc()), nil
}
