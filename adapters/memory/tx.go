package memory

import (
	"context"
	"iter"
	"sync"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
)

// memTx buffers appends and snapshot upserts until Commit.
// Reads through the transaction see committed data only.
type memTx struct {
	a *MemoryAdapter

	mu        sync.Mutex
	done      bool
	batches   [][]adapters.EventRecord
	snapshots []adapters.SnapshotRecord
	held      []chan struct{}
}

func (t *memTx) LockAggregate(ctx context.Context, aggregateID string) (int64, error) {
	if aggregateID == "" {
		return 0, adapters.ErrEmptyAggregateID
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return 0, adapters.ErrTxDone
	}
	t.mu.Unlock()

	ch := t.a.lockChan(aggregateID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	t.mu.Lock()
	t.held = append(t.held, ch)
	t.mu.Unlock()

	t.a.mu.RLock()
	defer t.a.mu.RUnlock()
	return int64(len(t.a.events[aggregateID])), nil
}

func (t *memTx) Events() adapters.EventLog {
	return &txEventLog{t: t}
}

func (t *memTx) Snapshots() adapters.SnapshotStore {
	return &txSnapshotStore{t: t}
}

// Commit applies all buffered writes atomically and releases held locks.
func (t *memTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return adapters.ErrTxDone
	}
	t.done = true
	defer t.release()

	t.a.mu.Lock()
	defer t.a.mu.Unlock()
	if t.a.closed {
		return adapters.ErrAdapterClosed
	}

	// Validate every batch before touching state so a failed commit writes nothing.
	pending := make(map[string]int64)
	for _, b := range t.batches {
		if err := adapters.ValidateAppend(b); err != nil {
			return err
		}
		id := b[0].AggregateID
		current, ok := pending[id]
		if !ok {
			current = int64(len(t.a.events[id]))
		}
		if b[0].Version != current+1 {
			return adapters.NewConcurrencyError(id, b[0].Version-1, current)
		}
		pending[id] = b[len(b)-1].Version
	}

	for _, b := range t.batches {
		if err := t.a.appendLocked(b); err != nil {
			return err
		}
	}
	for _, s := range t.snapshots {
		if err := t.a.upsertLocked(s); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards buffered writes and releases held locks.
func (t *memTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	t.batches = nil
	t.snapshots = nil
	return nil
}

func (t *memTx) release() {
	for _, ch := range t.held {
		<-ch
	}
	t.held = nil
}

type txEventLog struct {
	t *memTx
}

func (l *txEventLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := adapters.ValidateAppend(events); err != nil {
		return err
	}
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.t.done {
		return adapters.ErrTxDone
	}
	batch := make([]adapters.EventRecord, len(events))
	copy(batch, events)
	l.t.batches = append(l.t.batches, batch)
	return nil
}

func (l *txEventLog) LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return l.t.a.loadSince(ctx, aggregateID, version)
}

type txSnapshotStore struct {
	t *memTx
}

func (s *txSnapshotStore) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	return s.t.a.loadSnapshot(ctx, aggregateID)
}

func (s *txSnapshotStore) Upsert(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.t.done {
		return adapters.ErrTxDone
	}
	s.t.snapshots = append(s.t.snapshots, snapshot)
	return nil
}
