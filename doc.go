// Package huddle is an event-sourced persistence engine for aggregates.
//
// Events are appended to an append-only log; every SnapshotFrequency versions
// a compacted snapshot of the aggregate is stored so that loading replays at
// most SnapshotFrequency-1 events.
//
// # Quick Start
//
// Create a repository with the in-memory adapter for development:
//
//	import (
//	    "github.com/AshkanYarmoradi/go-huddle"
//	    "github.com/AshkanYarmoradi/go-huddle/adapters/memory"
//	    "github.com/AshkanYarmoradi/go-huddle/match"
//	)
//
//	registry := huddle.NewSerializerRegistry(match.NewSerializer())
//	repo := huddle.NewRepository(memory.NewAdapter(), registry,
//	    huddle.WithFactory(match.AggregateType, match.Factory()))
//
// For production, use the PostgreSQL adapter:
//
//	adapter, err := postgres.NewAdapter(connStr, postgres.WithSchema("huddle"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := adapter.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Defining Aggregates
//
// Aggregates embed AggregateBase and fold events in ApplyEvent:
//
//	type Counter struct {
//	    huddle.AggregateBase
//	    N int
//	}
//
//	func (c *Counter) ApplyEvent(e interface{}) error {
//	    switch e.(type) {
//	    case Incremented:
//	        c.N++
//	        return nil
//	    }
//	    return fmt.Errorf("unknown event %T", e)
//	}
//
// Domain methods validate first and then call huddle.Apply, which folds the
// event, bumps the version and queues the event for the next save. The
// repository replays stored events with huddle.Rehydrate, which folds without
// queuing anything.
//
// # Saving
//
//	agg, err := repo.Load(ctx, "Counter", id)
//	// ... domain calls ...
//	err = repo.Save(ctx, agg)
//
// Save appends the pending events in one transaction, takes the aggregate's
// writer lock when the aggregate already exists, writes a snapshot when the
// save crosses a snapshot boundary, and publishes the events after commit.
package huddle
