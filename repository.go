package huddle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/google/uuid"
)

// SnapshotFrequency is the default number of versions between snapshots.
// It bounds replay on load to at most SnapshotFrequency-1 events.
const SnapshotFrequency = 25

// Repository loads and saves aggregates. It owns the whole read/write path
// to storage: load is snapshot plus replay, save is one transaction of
// conflict check, append and conditional snapshot, followed by publishing.
type Repository struct {
	adapter   adapters.Adapter
	registry  *SerializerRegistry
	publisher EventPublisher
	logger    Logger

	mu        sync.RWMutex
	factories map[string]AggregateFactory

	snapshotFrequency int64
	now               func() time.Time
	newID             func() string
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(l Logger) RepositoryOption {
	return func(r *Repository) {
		r.logger = l
	}
}

// WithPublisher sets the publisher invoked after each committed save.
func WithPublisher(p EventPublisher) RepositoryOption {
	return func(r *Repository) {
		r.publisher = p
	}
}

// WithSnapshotFrequency overrides SnapshotFrequency. Values below 1 disable snapshots.
func WithSnapshotFrequency(n int) RepositoryOption {
	return func(r *Repository) {
		r.snapshotFrequency = int64(n)
	}
}

// WithFactory registers the zero-value constructor of an aggregate type.
func WithFactory(aggregateType string, f AggregateFactory) RepositoryOption {
	return func(r *Repository) {
		r.factories[aggregateType] = f
	}
}

// WithClock sets the time source used to stamp events and snapshots.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository creates a repository over adapter using registry to encode events.
func NewRepository(adapter adapters.Adapter, registry *SerializerRegistry, opts ...RepositoryOption) *Repository {
	r := &Repository{
		adapter:           adapter,
		registry:          registry,
		publisher:         NewSyncPublisher(),
		logger:            &noopLogger{},
		factories:         make(map[string]AggregateFactory),
		snapshotFrequency: SnapshotFrequency,
		now:               func() time.Time { return time.Now().UTC() },
		newID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFactory registers the zero-value constructor of an aggregate type.
func (r *Repository) RegisterFactory(aggregateType string, f AggregateFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[aggregateType] = f
}

// Registry returns the serializer registry.
func (r *Repository) Registry() *SerializerRegistry {
	return r.registry
}

// Adapter returns the storage adapter.
func (r *Repository) Adapter() adapters.Adapter {
	return r.adapter
}

// SnapshotFrequency returns the configured snapshot interval.
func (r *Repository) SnapshotFrequency() int64 {
	return r.snapshotFrequency
}

// Load reconstructs the aggregate of the given type and ID.
// It fails with ErrAggregateNotFound when no event exists.
func (r *Repository) Load(ctx context.Context, aggregateType, id string) (Aggregate, error) {
	r.mu.RLock()
	factory, ok := r.factories[aggregateType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFactoryNotRegistered, aggregateType)
	}
	agg := factory(id)
	if err := r.LoadInto(ctx, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// LoadInto reconstructs state into agg, which must be a zero-value aggregate
// carrying the ID and type to load.
func (r *Repository) LoadInto(ctx context.Context, agg Aggregate) error {
	if agg == nil {
		return ErrNilAggregate
	}
	id, aggType := agg.AggregateID(), agg.AggregateType()
	if id == "" {
		return adapters.ErrEmptyAggregateID
	}
	ser, err := r.registry.Get(aggType)
	if err != nil {
		return err
	}

	snap, err := r.adapter.Snapshots().Load(ctx, id)
	if err != nil {
		return fmt.Errorf("huddle: failed to load snapshot of %q: %w", id, err)
	}
	if snap != nil {
		if err := ser.DeserializeSnapshot(snap.Data, agg); err != nil {
			return err
		}
		restoreVersion(agg, snap.Version)
	}

	replayed := 0
	for rec, err := range r.adapter.Events().LoadSince(ctx, id, agg.Version()) {
		if err != nil {
			return fmt.Errorf("huddle: failed to load events of %q: %w", id, err)
		}
		if rec.Version != agg.Version()+1 {
			return fmt.Errorf("huddle: event stream of %q is not contiguous: expected version %d, got %d",
				id, agg.Version()+1, rec.Version)
		}
		event, err := ser.Deserialize(rec)
		if err != nil {
			return err
		}
		if err := Rehydrate(agg, event); err != nil {
			return fmt.Errorf("huddle: failed to replay %s v%d of %q: %w", rec.EventType, rec.Version, id, err)
		}
		replayed++
	}

	if agg.Version() == 0 {
		return NewAggregateNotFoundError(aggType, id)
	}

	r.logger.Debug("aggregate loaded",
		"aggregateType", aggType,
		"aggregateId", id,
		"version", agg.Version(),
		"fromSnapshot", snap != nil,
		"replayed", replayed)
	return nil
}

// LoadAs loads an aggregate and asserts its concrete type.
func LoadAs[T Aggregate](ctx context.Context, r *Repository, aggregateType, id string) (T, error) {
	var zero T
	agg, err := r.Load(ctx, aggregateType, id)
	if err != nil {
		return zero, err
	}
	typed, ok := agg.(T)
	if !ok {
		return zero, fmt.Errorf("huddle: aggregate %q has type %T", id, agg)
	}
	return typed, nil
}

// Exists reports whether the aggregate has at least one stored event.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	for _, err := range r.adapter.Events().LoadSince(ctx, id, 0) {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// SaveOption configures a save.
type SaveOption func(*saveConfig)

type saveConfig struct {
	metadata Metadata
}

// WithSaveMetadata attaches metadata to every event of the save.
func WithSaveMetadata(m Metadata) SaveOption {
	return func(c *saveConfig) {
		c.metadata = m
	}
}

// Save persists the pending changes of agg in one transaction.
//
// When the aggregate was loaded from storage, the aggregate's row lock is
// taken first and the stored version must still equal the loaded version,
// else a ConcurrencyError is returned and nothing is written. A snapshot is
// upserted whenever the save crosses a multiple of the snapshot frequency.
// After commit, the events go to the publisher and the pending changes are
// cleared. Saving an aggregate without pending changes is a no-op.
func (r *Repository) Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error {
	if agg == nil {
		return ErrNilAggregate
	}
	pending := agg.PendingChanges()
	if len(pending) == 0 {
		return nil
	}

	cfg := &saveConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	id, aggType := agg.AggregateID(), agg.AggregateType()
	if id == "" {
		return adapters.ErrEmptyAggregateID
	}
	ser, err := r.registry.Get(aggType)
	if err != nil {
		return err
	}
	md, err := encodeMetadata(cfg.metadata)
	if err != nil {
		return err
	}

	base := agg.Version() - int64(len(pending))
	now := r.now()
	records := make([]EventRecord, len(pending))
	for i, event := range pending {
		rec, err := ser.Serialize(event, agg)
		if err != nil {
			return err
		}
		rec.ID = r.newID()
		rec.AggregateID = id
		rec.AggregateType = aggType
		rec.Version = base + int64(i) + 1
		rec.Metadata = md
		rec.Timestamp = now
		records[i] = rec
	}

	snapshotted, err := r.commit(ctx, agg, ser, base, records)
	if err != nil {
		return err
	}

	r.logger.Info("aggregate saved",
		"aggregateType", aggType,
		"aggregateId", id,
		"events", len(records),
		"version", agg.Version(),
		"snapshot", snapshotted)

	r.publish(ctx, records, pending, cfg.metadata)
	agg.ClearPendingChanges()
	return nil
}

func (r *Repository) commit(ctx context.Context, agg Aggregate, ser AggregateSerializer, base int64, records []EventRecord) (snapshotted bool, err error) {
	tx, err := r.adapter.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("huddle: failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Warn("rollback failed", "aggregateId", agg.AggregateID(), "error", rbErr)
			}
		}
	}()

	id := agg.AggregateID()
	if base > 0 {
		current, err := tx.LockAggregate(ctx, id)
		if err != nil {
			return false, err
		}
		if current != base {
			return false, NewConcurrencyError(id, base, current)
		}
	}

	if err := tx.Events().Append(ctx, records); err != nil {
		return false, annotateConflict(err, id, base)
	}

	version := agg.Version()
	if r.shouldSnapshot(base, version) {
		data, err := ser.SerializeSnapshot(agg)
		if err != nil {
			return false, err
		}
		err = tx.Snapshots().Upsert(ctx, SnapshotRecord{
			ID:            r.newID(),
			AggregateID:   id,
			AggregateType: agg.AggregateType(),
			Data:          data,
			Version:       version,
			Timestamp:     r.now(),
		})
		if err != nil {
			return false, fmt.Errorf("huddle: failed to write snapshot of %q: %w", id, err)
		}
		snapshotted = true
	}

	if err := tx.Commit(); err != nil {
		committed = true
		return false, annotateConflict(err, id, base)
	}
	committed = true
	return snapshotted, nil
}

// shouldSnapshot reports whether moving from version base to version crosses
// a multiple of the snapshot frequency.
func (r *Repository) shouldSnapshot(base, version int64) bool {
	f := r.snapshotFrequency
	if f < 1 {
		return false
	}
	return version/f > base/f
}

func (r *Repository) publish(ctx context.Context, records []EventRecord, pending []interface{}, md Metadata) {
	if r.publisher == nil {
		return
	}
	events := make([]Event, len(records))
	for i, rec := range records {
		events[i] = Event{
			ID:            rec.ID,
			AggregateID:   rec.AggregateID,
			AggregateType: rec.AggregateType,
			Type:          rec.EventType,
			Version:       rec.Version,
			Data:          pending[i],
			Payload:       rec.Data,
			Metadata:      md,
			Timestamp:     rec.Timestamp,
		}
	}
	if err := r.publisher.Publish(ctx, events); err != nil {
		r.logger.Error("publish failed after commit",
			"aggregateId", records[0].AggregateID,
			"events", len(events),
			"error", err)
	}
}

// annotateConflict fills in the aggregate details of a conflict reported by an adapter.
func annotateConflict(err error, id string, base int64) error {
	var ce *ConcurrencyError
	if errors.As(err, &ce) && ce.AggregateID == "" {
		return NewConcurrencyError(id, base, ce.ActualVersion)
	}
	return err
}
