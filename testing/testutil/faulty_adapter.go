// Package testutil provides test utilities for storage adapters: a conformance
// suite every adapter must pass and a fault-injecting adapter wrapper.
package testutil

import (
	"context"
	"iter"
	"sync"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
)

// FaultyAdapter wraps an adapter and fails selected operations.
// Fields may be changed between operations; they are read under a lock.
type FaultyAdapter struct {
	adapters.Adapter

	mu          sync.Mutex
	BeginErr    error
	LockErr     error
	AppendErr   error
	UpsertErr   error
	CommitErr   error
	LoadErr     error
	SnapshotErr error

	commits   int
	rollbacks int
}

// NewFaultyAdapter wraps inner.
func NewFaultyAdapter(inner adapters.Adapter) *FaultyAdapter {
	return &FaultyAdapter{Adapter: inner}
}

// Set changes the injected errors under the adapter lock.
func (f *FaultyAdapter) Set(fn func(f *FaultyAdapter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Reset clears all injected errors.
func (f *FaultyAdapter) Reset() {
	f.Set(func(f *FaultyAdapter) {
		f.BeginErr, f.LockErr, f.AppendErr, f.UpsertErr = nil, nil, nil, nil
		f.CommitErr, f.LoadErr, f.SnapshotErr = nil, nil, nil
	})
}

func (f *FaultyAdapter) get(field *error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *field
}

// Commits returns the number of successful commits.
func (f *FaultyAdapter) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

// Rollbacks returns the number of rollbacks.
func (f *FaultyAdapter) Rollbacks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

// Events implements adapters.Adapter.
func (f *FaultyAdapter) Events() adapters.EventLog {
	return &faultyLog{EventLog: f.Adapter.Events(), f: f}
}

// Snapshots implements adapters.Adapter.
func (f *FaultyAdapter) Snapshots() adapters.SnapshotStore {
	return &faultySnapshots{SnapshotStore: f.Adapter.Snapshots(), f: f}
}

// BeginTx implements adapters.Adapter.
func (f *FaultyAdapter) BeginTx(ctx context.Context) (adapters.Tx, error) {
	if err := f.get(&f.BeginErr); err != nil {
		return nil, err
	}
	tx, err := f.Adapter.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, f: f}, nil
}

type faultyTx struct {
	adapters.Tx
	f *FaultyAdapter
}

func (t *faultyTx) LockAggregate(ctx context.Context, aggregateID string) (int64, error) {
	if err := t.f.get(&t.f.LockErr); err != nil {
		return 0, err
	}
	return t.Tx.LockAggregate(ctx, aggregateID)
}

func (t *faultyTx) Events() adapters.EventLog {
	return &faultyLog{EventLog: t.Tx.Events(), f: t.f}
}

func (t *faultyTx) Snapshots() adapters.SnapshotStore {
	return &faultySnapshots{SnapshotStore: t.Tx.Snapshots(), f: t.f}
}

func (t *faultyTx) Commit() error {
	if err := t.f.get(&t.f.CommitErr); err != nil {
		_ = t.Tx.Rollback()
		return err
	}
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.f.mu.Lock()
	t.f.commits++
	t.f.mu.Unlock()
	return nil
}

func (t *faultyTx) Rollback() error {
	t.f.mu.Lock()
	t.f.rollbacks++
	t.f.mu.Unlock()
	return t.Tx.Rollback()
}

type faultyLog struct {
	adapters.EventLog
	f *FaultyAdapter
}

func (l *faultyLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	if err := l.f.get(&l.f.AppendErr); err != nil {
		return err
	}
	return l.EventLog.Append(ctx, events)
}

func (l *faultyLog) LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	if err := l.f.get(&l.f.LoadErr); err != nil {
		return adapters.ErrorSeq(err)
	}
	return l.EventLog.LoadSince(ctx, aggregateID, version)
}

type faultySnapshots struct {
	adapters.SnapshotStore
	f *FaultyAdapter
}

func (s *faultySnapshots) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if err := s.f.get(&s.f.SnapshotErr); err != nil {
		return nil, err
	}
	return s.SnapshotStore.Load(ctx, aggregateID)
}

func (s *faultySnapshots) Upsert(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if err := s.f.get(&s.f.UpsertErr); err != nil {
		return err
	}
	return s.SnapshotStore.Upsert(ctx, snapshot)
}
