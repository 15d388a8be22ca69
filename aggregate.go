package huddle

// Aggregate defines the interface for event-sourced aggregates.
// An aggregate is a consistency boundary whose state is derived solely from
// an ordered event sequence.
//
// Aggregates are implemented by embedding AggregateBase and providing
// ApplyEvent. State changes go through the package functions Apply (new
// domain activity) and Rehydrate (replay); never call ApplyEvent directly.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the type tag of this aggregate (e.g. "Match").
	AggregateType() string

	// Version returns the number of events folded into the aggregate.
	Version() int64

	// ApplyEvent folds an event into the aggregate's state.
	// It must be deterministic and must not record the event anywhere.
	ApplyEvent(event interface{}) error

	// PendingChanges returns events applied but not yet persisted, in order.
	PendingChanges() []interface{}

	// ClearPendingChanges drops all pending changes after a successful save.
	ClearPendingChanges()

	root() *AggregateBase
}

// AggregateBase tracks identity, version and pending changes.
// Embed it in aggregate types.
type AggregateBase struct {
	id            string
	aggregateType string
	version       int64
	pending       []interface{}
}

// NewAggregateBase creates a new AggregateBase with the given ID and type.
func NewAggregateBase(id, aggregateType string) AggregateBase {
	return AggregateBase{
		id:            id,
		aggregateType: aggregateType,
	}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// AggregateType returns the aggregate type.
func (a *AggregateBase) AggregateType() string {
	return a.aggregateType
}

// Version returns the current version of the aggregate.
func (a *AggregateBase) Version() int64 {
	return a.version
}

// PendingChanges returns events that haven't been persisted yet.
func (a *AggregateBase) PendingChanges() []interface{} {
	return a.pending
}

// ClearPendingChanges removes all pending changes.
func (a *AggregateBase) ClearPendingChanges() {
	a.pending = nil
}

// HasPendingChanges returns true if there are events waiting to be persisted.
func (a *AggregateBase) HasPendingChanges() bool {
	return len(a.pending) > 0
}

// PersistedVersion returns the version the aggregate had in storage before
// its pending changes were applied.
func (a *AggregateBase) PersistedVersion() int64 {
	return a.version - int64(len(a.pending))
}

func (a *AggregateBase) root() *AggregateBase {
	return a
}

// Apply records new domain activity: it folds the event into the aggregate,
// increments the version and enqueues the event as a pending change.
// When the fold fails nothing changes.
func Apply(agg Aggregate, event interface{}) error {
	if agg == nil {
		return ErrNilAggregate
	}
	if err := agg.ApplyEvent(event); err != nil {
		return err
	}
	b := agg.root()
	b.version++
	b.pending = append(b.pending, event)
	return nil
}

// Rehydrate replays a stored event: it folds the event into the aggregate and
// increments the version without enqueuing anything.
func Rehydrate(agg Aggregate, event interface{}) error {
	if agg == nil {
		return ErrNilAggregate
	}
	if err := agg.ApplyEvent(event); err != nil {
		return err
	}
	agg.root().version++
	return nil
}

// restoreVersion sets the version after a snapshot was decoded into agg.
func restoreVersion(agg Aggregate, version int64) {
	agg.root().version = version
}

// AggregateFactory creates a zero-value aggregate (version 0) for the given ID.
type AggregateFactory func(id string) Aggregate
