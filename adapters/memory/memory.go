// Package memory provides an in-memory storage adapter.
// This adapter is primarily intended for testing, the CLI demo and development.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/google/uuid"
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.Adapter       = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker = (*MemoryAdapter)(nil)
	_ adapters.Migrator      = (*MemoryAdapter)(nil)
)

// MemoryAdapter is a thread-safe in-memory adapter.
// Writers of the same aggregate are serialized by a per-aggregate lock that
// behaves like a row lock: it is held until the owning transaction finishes.
type MemoryAdapter struct {
	mu        sync.RWMutex
	events    map[string][]adapters.EventRecord
	snapshots map[string]adapters.SnapshotRecord
	closed    bool

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now func() time.Time
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the time source used to stamp events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		a.now = now
	}
}

// NewAdapter creates a new in-memory adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	a := &MemoryAdapter{
		events:    make(map[string][]adapters.EventRecord),
		snapshots: make(map[string]adapters.SnapshotRecord),
		locks:     make(map[string]chan struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Migrate is a no-op for the memory adapter.
func (a *MemoryAdapter) Migrate(ctx context.Context) error {
	return nil
}

// Ping reports whether the adapter is still open.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Close marks the adapter closed. Further operations fail with ErrAdapterClosed.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Events returns the auto-committing event log.
func (a *MemoryAdapter) Events() adapters.EventLog {
	return &eventLog{a: a}
}

// Snapshots returns the auto-committing snapshot store.
func (a *MemoryAdapter) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{a: a}
}

// BeginTx starts a buffered transaction.
func (a *MemoryAdapter) BeginTx(ctx context.Context) (adapters.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.Ping(ctx); err != nil {
		return nil, err
	}
	return &memTx{a: a}, nil
}

// Reset clears all stored data. Useful between tests.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = make(map[string][]adapters.EventRecord)
	a.snapshots = make(map[string]adapters.SnapshotRecord)
}

// EventCount returns the number of stored events of an aggregate.
func (a *MemoryAdapter) EventCount(aggregateID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events[aggregateID])
}

// AggregateIDs returns the IDs of all aggregates with at least one event, sorted.
func (a *MemoryAdapter) AggregateIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.events))
	for id := range a.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *MemoryAdapter) lockChan(aggregateID string) chan struct{} {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	ch, ok := a.locks[aggregateID]
	if !ok {
		ch = make(chan struct{}, 1)
		a.locks[aggregateID] = ch
	}
	return ch
}

// appendLocked validates the batch against stored versions and appends it.
// The caller must hold a.mu for writing.
func (a *MemoryAdapter) appendLocked(batch []adapters.EventRecord) error {
	if err := adapters.ValidateAppend(batch); err != nil {
		return err
	}
	id := batch[0].AggregateID
	current := int64(len(a.events[id]))
	if batch[0].Version != current+1 {
		return adapters.NewConcurrencyError(id, batch[0].Version-1, current)
	}
	for _, e := range batch {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = a.now()
		}
		e.Data = cloneBytes(e.Data)
		e.Metadata = cloneBytes(e.Metadata)
		a.events[id] = append(a.events[id], e)
	}
	return nil
}

func (a *MemoryAdapter) upsertLocked(s adapters.SnapshotRecord) error {
	if s.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = a.now()
	}
	s.Data = cloneBytes(s.Data)
	s.Metadata = cloneBytes(s.Metadata)
	a.snapshots[s.AggregateID] = s
	return nil
}

func (a *MemoryAdapter) loadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return func(yield func(adapters.EventRecord, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(adapters.EventRecord{}, err)
			return
		}
		a.mu.RLock()
		if a.closed {
			a.mu.RUnlock()
			yield(adapters.EventRecord{}, adapters.ErrAdapterClosed)
			return
		}
		stored := a.events[aggregateID]
		start := version
		if start < 0 {
			start = 0
		}
		var page []adapters.EventRecord
		if start < int64(len(stored)) {
			page = make([]adapters.EventRecord, len(stored)-int(start))
			copy(page, stored[start:])
		}
		a.mu.RUnlock()

		for _, e := range page {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (a *MemoryAdapter) loadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}
	s, ok := a.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	s.Data = cloneBytes(s.Data)
	s.Metadata = cloneBytes(s.Metadata)
	return &s, nil
}

type eventLog struct {
	a *MemoryAdapter
}

func (l *eventLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.a.mu.Lock()
	defer l.a.mu.Unlock()
	if l.a.closed {
		return adapters.ErrAdapterClosed
	}
	return l.a.appendLocked(events)
}

func (l *eventLog) LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return l.a.loadSince(ctx, aggregateID, version)
}

type snapshotStore struct {
	a *MemoryAdapter
}

func (s *snapshotStore) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	return s.a.loadSnapshot(ctx, aggregateID)
}

func (s *snapshotStore) Upsert(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	if s.a.closed {
		return adapters.ErrAdapterClosed
	}
	return s.a.upsertLocked(snapshot)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
