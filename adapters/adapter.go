// Package adapters provides the storage interfaces behind the aggregate repository.
//
// An adapter exposes two stores, an append-only event log and a single-row-per-aggregate
// snapshot store, plus a transaction that groups appends, snapshot upserts and the
// per-aggregate writer lock into one commit boundary.
package adapters

import (
	"context"
	"errors"
	"iter"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// so the repository can handle failures the same way across backends.
var (
	// ErrConcurrencyConflict is returned when a second writer raced the first one.
	ErrConcurrencyConflict = errors.New("huddle: concurrency conflict")

	// ErrEmptyAggregateID is returned when an empty aggregate ID is provided.
	ErrEmptyAggregateID = errors.New("huddle: aggregate ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("huddle: no events to append")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("huddle: adapter is closed")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("huddle: transaction already committed or rolled back")
)

// EventRecord is a stored domain event. It is immutable once written.
// Version is the aggregate version after this event was applied; versions
// for one aggregate form a contiguous sequence starting at 1.
type EventRecord struct {
	// ID is the unique event identifier.
	ID string

	AggregateID   string
	AggregateType string

	// EventType is the stable, versioned type tag (e.g. "MATCH_PLANNED_V1").
	EventType string

	Version int64

	// Data is the serialized event payload.
	Data []byte

	// Metadata is the serialized event metadata.
	Metadata []byte

	Timestamp time.Time
}

// SnapshotRecord is a compacted checkpoint of an aggregate's state.
// There is at most one snapshot per aggregate; Version equals the version of
// the last event it incorporates.
type SnapshotRecord struct {
	ID            string
	AggregateID   string
	AggregateType string
	Data          []byte
	Metadata      []byte
	Version       int64
	Timestamp     time.Time
}

// EventLog appends and reads the events of aggregates.
type EventLog interface {
	// Append inserts each event as an independent row.
	// The caller guarantees version contiguity; a duplicate (aggregate, version)
	// pair must fail with an error matching ErrConcurrencyConflict.
	Append(ctx context.Context, events []EventRecord) error

	// LoadSince returns all events of the aggregate with a version strictly greater
	// than the given version, in ascending version order. The sequence is lazy and
	// meant to be consumed once.
	LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[EventRecord, error]
}

// SnapshotStore loads and replaces the latest snapshot of aggregates.
type SnapshotStore interface {
	// Load returns the snapshot of the aggregate, or (nil, nil) when none exists.
	Load(ctx context.Context, aggregateID string) (*SnapshotRecord, error)

	// Upsert replaces any existing snapshot of the aggregate.
	Upsert(ctx context.Context, snapshot SnapshotRecord) error
}

// Tx is a unit of work against an adapter. Nothing written through a Tx is
// visible to other readers until Commit returns nil.
type Tx interface {
	// LockAggregate acquires the single-writer lock of the aggregate and returns
	// its currently stored version. The lock is held until Commit or Rollback;
	// concurrent callers block until it is released.
	LockAggregate(ctx context.Context, aggregateID string) (int64, error)

	// Events returns the event log bound to this transaction.
	Events() EventLog

	// Snapshots returns the snapshot store bound to this transaction.
	Snapshots() SnapshotStore

	Commit() error
	Rollback() error
}

// Adapter is a storage backend for the aggregate repository.
type Adapter interface {
	// Events returns the event log for reads outside of a transaction.
	Events() EventLog

	// Snapshots returns the snapshot store for reads outside of a transaction.
	Snapshots() SnapshotStore

	// BeginTx starts a new transaction.
	BeginTx(ctx context.Context) (Tx, error)

	// Close releases any resources held by the adapter.
	Close() error
}

// HealthChecker is implemented by adapters that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Migrator is implemented by adapters that manage their own schema.
type Migrator interface {
	// Migrate creates the tables and indexes the adapter needs. It is idempotent.
	Migrate(ctx context.Context) error
}
