package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
)

// AdapterFactory returns a fresh, empty adapter for one test.
type AdapterFactory func(t *testing.T) adapters.Adapter

// Records builds n contiguous event records for an aggregate, starting at version from.
func Records(aggregateID string, from int64, n int) []adapters.EventRecord {
	out := make([]adapters.EventRecord, n)
	for i := range n {
		v := from + int64(i)
		out[i] = adapters.EventRecord{
			AggregateID:   aggregateID,
			AggregateType: "Match",
			EventType:     "PLAYER_REGISTERED_V1",
			Version:       v,
			Data:          []byte(fmt.Sprintf(`{"n":%d}`, v)),
			Metadata:      []byte(`{"correlationId":"c-1"}`),
		}
	}
	return out
}

// SaveBatch appends events in one transaction after locking the aggregate at
// the expected version.
func SaveBatch(ctx context.Context, a adapters.Adapter, events []adapters.EventRecord) error {
	tx, err := a.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	id := events[0].AggregateID
	current, err := tx.LockAggregate(ctx, id)
	if err != nil {
		return err
	}
	if base := events[0].Version - 1; base != current {
		return adapters.NewConcurrencyError(id, base, current)
	}
	if err := tx.Events().Append(ctx, events); err != nil {
		return err
	}
	return tx.Commit()
}

// RunAdapterSuite runs the behavior every storage adapter must provide.
func RunAdapterSuite(t *testing.T, newAdapter AdapterFactory) {
	t.Run("append and load", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)

		require.NoError(t, a.Events().Append(ctx, Records("m-1", 1, 3)))
		require.NoError(t, a.Events().Append(ctx, Records("m-1", 4, 2)))
		require.NoError(t, a.Events().Append(ctx, Records("m-2", 1, 1)))

		all, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, e := range all {
			assert.Equal(t, int64(i+1), e.Version)
			assert.Equal(t, "m-1", e.AggregateID)
			assert.Equal(t, "Match", e.AggregateType)
			assert.Equal(t, "PLAYER_REGISTERED_V1", e.EventType)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+1), string(e.Data))
			assert.JSONEq(t, `{"correlationId":"c-1"}`, string(e.Metadata))
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
		}

		tail, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 3))
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, int64(4), tail[0].Version)

		none, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 5))
		require.NoError(t, err)
		assert.Empty(t, none)

		unknown, err := adapters.Collect(a.Events().LoadSince(ctx, "nobody", 0))
		require.NoError(t, err)
		assert.Empty(t, unknown)
	})

	t.Run("explicit timestamps are kept", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

		recs := Records("m-1", 1, 1)
		recs[0].Timestamp = at
		require.NoError(t, a.Events().Append(ctx, recs))

		got, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, at.Equal(got[0].Timestamp), "got %v", got[0].Timestamp)
	})

	t.Run("stopping the sequence early", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		require.NoError(t, a.Events().Append(ctx, Records("m-1", 1, 10)))

		seen := 0
		for _, err := range a.Events().LoadSince(ctx, "m-1", 0) {
			require.NoError(t, err)
			seen++
			if seen == 2 {
				break
			}
		}
		assert.Equal(t, 2, seen)
	})

	t.Run("duplicate version conflicts", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		require.NoError(t, a.Events().Append(ctx, Records("m-1", 1, 2)))

		err := a.Events().Append(ctx, Records("m-1", 2, 1))
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		got, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("invalid batches", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		assert.ErrorIs(t, a.Events().Append(ctx, nil), adapters.ErrNoEvents)
		assert.ErrorIs(t, a.Events().Append(ctx, Records("", 1, 1)), adapters.ErrEmptyAggregateID)
	})

	t.Run("snapshots", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)

		snap, err := a.Snapshots().Load(ctx, "m-1")
		require.NoError(t, err)
		assert.Nil(t, snap)

		require.NoError(t, a.Snapshots().Upsert(ctx, adapters.SnapshotRecord{
			AggregateID: "m-1", AggregateType: "Match", Data: []byte(`{"v":25}`), Version: 25,
		}))
		require.NoError(t, a.Snapshots().Upsert(ctx, adapters.SnapshotRecord{
			AggregateID: "m-1", AggregateType: "Match", Data: []byte(`{"v":50}`), Version: 50,
		}))

		snap, err = a.Snapshots().Load(ctx, "m-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(50), snap.Version)
		assert.Equal(t, "Match", snap.AggregateType)
		assert.JSONEq(t, `{"v":50}`, string(snap.Data))
		assert.NotEmpty(t, snap.ID)
	})

	t.Run("transaction commit", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)

		tx, err := a.BeginTx(ctx)
		require.NoError(t, err)
		current, err := tx.LockAggregate(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), current)

		require.NoError(t, tx.Events().Append(ctx, Records("m-1", 1, 2)))
		require.NoError(t, tx.Snapshots().Upsert(ctx, adapters.SnapshotRecord{
			AggregateID: "m-1", AggregateType: "Match", Data: []byte(`{}`), Version: 2,
		}))

		before, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		assert.Empty(t, before, "uncommitted events must not be visible")

		require.NoError(t, tx.Commit())

		after, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		assert.Len(t, after, 2)

		snap, err := a.Snapshots().Load(ctx, "m-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(2), snap.Version)

		tx, err = a.BeginTx(ctx)
		require.NoError(t, err)
		current, err = tx.LockAggregate(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), current)
		require.NoError(t, tx.Rollback())
	})

	t.Run("transaction rollback", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)

		tx, err := a.BeginTx(ctx)
		require.NoError(t, err)
		_, err = tx.LockAggregate(ctx, "m-1")
		require.NoError(t, err)
		require.NoError(t, tx.Events().Append(ctx, Records("m-1", 1, 2)))
		require.NoError(t, tx.Snapshots().Upsert(ctx, adapters.SnapshotRecord{
			AggregateID: "m-1", AggregateType: "Match", Data: []byte(`{}`), Version: 2,
		}))
		require.NoError(t, tx.Rollback())
		require.NoError(t, tx.Rollback(), "second rollback is a no-op")

		got, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		assert.Empty(t, got)

		snap, err := a.Snapshots().Load(ctx, "m-1")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("stale transaction writes nothing", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)
		require.NoError(t, a.Events().Append(ctx, Records("m-1", 1, 3)))

		err := SaveBatch(ctx, a, Records("m-1", 3, 1))
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		var ce *adapters.ConcurrencyError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, int64(2), ce.ExpectedVersion)
		assert.Equal(t, int64(3), ce.ActualVersion)

		got, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("concurrent writers keep versions contiguous", func(t *testing.T) {
		ctx := context.Background()
		a := newAdapter(t)

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- appendOneWithRetry(ctx, a, "m-1")
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.NoError(t, err)
		require.Len(t, got, writers)
		for i, e := range got {
			assert.Equal(t, int64(i+1), e.Version)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		a := newAdapter(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		assert.Error(t, err)
	})
}

// appendOneWithRetry appends the next event of the aggregate, retrying on conflicts.
func appendOneWithRetry(ctx context.Context, a adapters.Adapter, id string) error {
	for attempt := 0; attempt < 50; attempt++ {
		tx, err := a.BeginTx(ctx)
		if err != nil {
			return err
		}
		current, err := tx.LockAggregate(ctx, id)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		err = tx.Events().Append(ctx, Records(id, current+1, 1))
		if err == nil {
			err = tx.Commit()
		}
		if err == nil {
			return nil
		}
		_ = tx.Rollback()
		if !errors.Is(err, adapters.ErrConcurrencyConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt) * time.Millisecond)
	}
	return fmt.Errorf("aggregate %s: too many conflicts", id)
}
