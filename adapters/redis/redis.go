// Package redis provides a Redis implementation of the storage adapter.
//
// Each aggregate's events are kept in a list whose length is the aggregate
// version; snapshots are single keys. Redis has no row locks, so writers are
// serialized with a compare-and-swap on the expected list length
// (WATCH/MULTI/EXEC). A writer that loses the race gets a ConcurrencyError and
// must reload, the same outcome as a stale writer behind a row lock.
package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultPrefix namespaces all keys written by the adapter.
const DefaultPrefix = "huddle"

const loadPageSize = 128

// Ensure RedisAdapter implements required interfaces.
var (
	_ adapters.Adapter       = (*RedisAdapter)(nil)
	_ adapters.HealthChecker = (*RedisAdapter)(nil)
	_ adapters.Migrator      = (*RedisAdapter)(nil)
)

// RedisAdapter stores events and snapshots in Redis.
type RedisAdapter struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
	now    func() time.Time
}

// Option configures a RedisAdapter.
type Option func(*RedisAdapter)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(a *RedisAdapter) {
		a.prefix = prefix
	}
}

// NewAdapter wraps an existing client.
func NewAdapter(client redis.UniversalClient, opts ...Option) *RedisAdapter {
	a := &RedisAdapter{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect creates a client for addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("huddle/redis: connecting to redis: %w", err)
	}
	return NewAdapter(client, opts...), nil
}

// Migrate is a no-op; Redis needs no schema.
func (a *RedisAdapter) Migrate(ctx context.Context) error {
	return nil
}

// Ping checks connectivity.
func (a *RedisAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return a.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (a *RedisAdapter) Close() error {
	a.closed.Store(true)
	return a.client.Close()
}

// Client returns the underlying Redis client.
func (a *RedisAdapter) Client() redis.UniversalClient {
	return a.client
}

func (a *RedisAdapter) eventsKey(aggregateID string) string {
	return fmt.Sprintf("%s:events:%s", a.prefix, aggregateID)
}

func (a *RedisAdapter) snapshotKey(aggregateID string) string {
	return fmt.Sprintf("%s:snapshot:%s", a.prefix, aggregateID)
}

// Events returns the auto-committing event log.
func (a *RedisAdapter) Events() adapters.EventLog {
	return &eventLog{a: a}
}

// Snapshots returns the auto-committing snapshot store.
func (a *RedisAdapter) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{a: a}
}

// BeginTx starts a buffered transaction committed with a single MULTI/EXEC.
func (a *RedisAdapter) BeginTx(ctx context.Context) (adapters.Tx, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	return &redisTx{a: a, expected: make(map[string]int64)}, nil
}

// commit writes batches and snapshots if every watched list still has the
// expected length.
func (a *RedisAdapter) commit(ctx context.Context, expected map[string]int64, batches [][]adapters.EventRecord, snaps []adapters.SnapshotRecord) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	want := make(map[string]int64, len(expected))
	for id, v := range expected {
		want[id] = v
	}
	encoded := make([][]any, len(batches))
	for i, b := range batches {
		if err := adapters.ValidateAppend(b); err != nil {
			return err
		}
		id := b[0].AggregateID
		if v, ok := want[id]; ok && v != b[0].Version-1 {
			return adapters.NewConcurrencyError(id, b[0].Version-1, v)
		}
		want[id] = b[0].Version - 1
		vals, err := a.encodeEvents(b)
		if err != nil {
			return err
		}
		encoded[i] = vals
	}

	keys := make([]string, 0, len(want))
	for id := range want {
		keys = append(keys, a.eventsKey(id))
	}

	txf := func(tx *redis.Tx) error {
		for id, v := range want {
			n, err := tx.LLen(ctx, a.eventsKey(id)).Result()
			if err != nil {
				return fmt.Errorf("huddle/redis: reading version of %q: %w", id, err)
			}
			if n != v {
				return adapters.NewConcurrencyError(id, v, n)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, b := range batches {
				pipe.RPush(ctx, a.eventsKey(b[0].AggregateID), encoded[i]...)
			}
			for _, s := range snaps {
				data, err := a.encodeSnapshot(s)
				if err != nil {
					return err
				}
				pipe.Set(ctx, a.snapshotKey(s.AggregateID), data, 0)
			}
			return nil
		})
		return err
	}

	err := a.client.Watch(ctx, txf, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		id := ""
		if len(batches) > 0 {
			id = batches[0][0].AggregateID
		}
		return adapters.NewConcurrencyError(id, want[id], -1)
	}
	return err
}

func (a *RedisAdapter) encodeEvents(batch []adapters.EventRecord) ([]any, error) {
	vals := make([]any, len(batch))
	for i, e := range batch {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = a.now().UTC()
		}
		data, err := msgpack.Marshal(&e)
		if err != nil {
			return nil, fmt.Errorf("huddle/redis: encoding event: %w", err)
		}
		vals[i] = data
	}
	return vals, nil
}

func (a *RedisAdapter) encodeSnapshot(s adapters.SnapshotRecord) ([]byte, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = a.now().UTC()
	}
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("huddle/redis: encoding snapshot: %w", err)
	}
	return data, nil
}

func (a *RedisAdapter) loadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return func(yield func(adapters.EventRecord, error) bool) {
		if a.closed.Load() {
			yield(adapters.EventRecord{}, adapters.ErrAdapterClosed)
			return
		}
		start := max(version, 0)
		key := a.eventsKey(aggregateID)
		for {
			page, err := a.client.LRange(ctx, key, start, start+loadPageSize-1).Result()
			if err != nil {
				yield(adapters.EventRecord{}, fmt.Errorf("huddle/redis: loading events: %w", err))
				return
			}
			for _, raw := range page {
				var e adapters.EventRecord
				if err := msgpack.Unmarshal([]byte(raw), &e); err != nil {
					yield(adapters.EventRecord{}, fmt.Errorf("huddle/redis: decoding event: %w", err))
					return
				}
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < loadPageSize {
				return
			}
			start += loadPageSize
		}
	}
}

func (a *RedisAdapter) loadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	raw, err := a.client.Get(ctx, a.snapshotKey(aggregateID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("huddle/redis: loading snapshot: %w", err)
	}
	var s adapters.SnapshotRecord
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("huddle/redis: decoding snapshot: %w", err)
	}
	return &s, nil
}

type eventLog struct {
	a *RedisAdapter
}

func (l *eventLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	return l.a.commit(ctx, nil, [][]adapters.EventRecord{events}, nil)
}

func (l *eventLog) LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return l.a.loadSince(ctx, aggregateID, version)
}

type snapshotStore struct {
	a *RedisAdapter
}

func (s *snapshotStore) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	return s.a.loadSnapshot(ctx, aggregateID)
}

func (s *snapshotStore) Upsert(ctx context.Context, snap adapters.SnapshotRecord) error {
	if snap.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	return s.a.commit(ctx, nil, nil, []adapters.SnapshotRecord{snap})
}

// redisTx buffers writes; LockAggregate records the version to compare at commit.
type redisTx struct {
	a *RedisAdapter

	mu        sync.Mutex
	ctx       context.Context
	done      bool
	expected  map[string]int64
	batches   [][]adapters.EventRecord
	snapshots []adapters.SnapshotRecord
}

func (t *redisTx) LockAggregate(ctx context.Context, aggregateID string) (int64, error) {
	if aggregateID == "" {
		return 0, adapters.ErrEmptyAggregateID
	}
	n, err := t.a.client.LLen(ctx, t.a.eventsKey(aggregateID)).Result()
	if err != nil {
		return 0, fmt.Errorf("huddle/redis: reading version of %q: %w", aggregateID, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return 0, adapters.ErrTxDone
	}
	t.ctx = ctx
	t.expected[aggregateID] = n
	return n, nil
}

func (t *redisTx) Events() adapters.EventLog {
	return &txEventLog{t: t}
}

func (t *redisTx) Snapshots() adapters.SnapshotStore {
	return &txSnapshotStore{t: t}
}

func (t *redisTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return adapters.ErrTxDone
	}
	t.done = true
	if len(t.batches) == 0 && len(t.snapshots) == 0 {
		return nil
	}
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return t.a.commit(ctx, t.expected, t.batches, t.snapshots)
}

func (t *redisTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.batches = nil
	t.snapshots = nil
	return nil
}

type txEventLog struct {
	t *redisTx
}

func (l *txEventLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	if err := adapters.ValidateAppend(events); err != nil {
		return err
	}
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.t.done {
		return adapters.ErrTxDone
	}
	if l.t.ctx == nil {
		l.t.ctx = ctx
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
	t *redisTx
}

func (s *txSnapshotStore) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	return s.t.a.loadSnapshot(ctx, aggregateID)
}

func (s *txSnapshotStore) Upsert(ctx context.Context, snap adapters.SnapshotRecord) error {
	if snap.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.t.done {
		return adapters.ErrTxDone
	}
	s.t.snapshots = append(s.t.snapshots, snap)
	return nil
}
