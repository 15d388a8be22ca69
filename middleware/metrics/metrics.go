// Package metrics provides Prometheus metrics integration for huddle.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("matches"))
//	prometheus.MustRegister(m.Collectors()...)
//
//	// Instrument the storage adapter behind the repository
//	repo := huddle.NewRepository(m.WrapAdapter(adapter), registry)
//
//	// Instrument commands and subscribers
//	bus.Use(m.CommandMiddleware())
//	publisher.Subscribe(m.WrapSubscriber(kafkaSubscriber))
//
// The metrics collected include:
//   - Command execution counts and durations
//   - Storage operations (begin, lock, append, load, snapshot load/upsert, commit)
//   - Appended and loaded events, written snapshots and version conflicts
//   - Subscriber deliveries and failures
package metrics

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/adapters"
)

// Default metric labels.
const (
	LabelCommandType   = "command_type"
	LabelAggregateType = "aggregate_type"
	LabelEventType     = "event_type"
	LabelSubscriber    = "subscriber"
	LabelOperation     = "operation"
	LabelStatus        = "status"
	LabelErrorType     = "error_type"
	LabelService       = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationBegin          = "begin"
	OperationLock           = "lock"
	OperationAppend         = "append"
	OperationLoad           = "load"
	OperationSnapshotLoad   = "snapshot_load"
	OperationSnapshotUpsert = "snapshot_upsert"
	OperationCommit         = "commit"
	OperationRollback       = "rollback"
)

// Metrics holds all Prometheus metrics for huddle.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Command metrics
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec

	// Storage metrics
	storageOperationsTotal   *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal      *prometheus.CounterVec
	eventsLoadedTotal        *prometheus.CounterVec
	snapshotsWrittenTotal    *prometheus.CounterVec
	conflictsTotal           *prometheus.CounterVec

	// Publisher metrics
	deliveriesTotal *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "huddle",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) initMetrics() {
	m.commandsTotal = m.counter("commands_total",
		"Total number of commands processed.", LabelCommandType, LabelStatus)
	m.commandDuration = m.histogram("command_duration_seconds",
		"Duration of command processing in seconds.", LabelCommandType)
	m.commandsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commands_in_flight",
		Help:      "Number of commands currently being processed.",
	}, []string{LabelService, LabelCommandType})

	m.storageOperationsTotal = m.counter("storage_operations_total",
		"Total number of storage adapter operations.", LabelOperation, LabelStatus)
	m.storageOperationDuration = m.histogram("storage_operation_duration_seconds",
		"Duration of storage adapter operations in seconds.", LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total",
		"Total number of events appended.", LabelAggregateType, LabelEventType)
	m.eventsLoadedTotal = m.counter("events_loaded_total",
		"Total number of events read back for replay.")
	m.snapshotsWrittenTotal = m.counter("snapshots_written_total",
		"Total number of snapshots written.", LabelAggregateType)
	m.conflictsTotal = m.counter("concurrency_conflicts_total",
		"Total number of writes rejected because the aggregate changed.", LabelOperation)

	m.deliveriesTotal = m.counter("subscriber_deliveries_total",
		"Total number of event batches delivered to subscribers.", LabelSubscriber, LabelStatus)

	m.errorsTotal = m.counter("errors_total",
		"Total number of errors by type.", LabelErrorType)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.commandsInFlight,
		m.storageOperationsTotal,
		m.storageOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.snapshotsWrittenTotal,
		m.conflictsTotal,
		m.deliveriesTotal,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware returns middleware that records command metrics.
func (m *Metrics) CommandMiddleware() huddle.Middleware {
	return func(next huddle.MiddlewareFunc) huddle.MiddlewareFunc {
		return func(ctx context.Context, cmd huddle.Command) (huddle.CommandResult, error) {
			cmdType := "<nil>"
			if cmd != nil {
				cmdType = cmd.CommandType()
			}

			inFlight := m.commandsInFlight.WithLabelValues(m.serviceName, cmdType)
			inFlight.Inc()
			defer inFlight.Dec()

			start := time.Now()
			result, err := next(ctx, cmd)
			m.commandDuration.WithLabelValues(m.serviceName, cmdType).Observe(time.Since(start).Seconds())

			status := StatusSuccess
			if err != nil || result.IsError() {
				status = StatusError
				if err == nil {
					err = result.Error
				}
				m.RecordError(ErrorTypeName(err))
			}
			m.commandsTotal.WithLabelValues(m.serviceName, cmdType, status).Inc()

			return result, err
		}
	}
}

// ErrorTypeName maps an error to a low-cardinality label value.
func ErrorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, huddle.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, huddle.ErrAggregateNotFound):
		return "aggregate_not_found"
	case errors.Is(err, huddle.ErrHandlerNotFound):
		return "handler_not_found"
	case errors.Is(err, huddle.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, huddle.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, huddle.ErrHandlerPanicked):
		return "handler_panicked"
	case errors.Is(err, huddle.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, huddle.ErrUnknownEventType):
		return "unknown_event_type"
	case errors.Is(err, huddle.ErrSerializerNotRegistered):
		return "serializer_not_registered"
	case errors.Is(err, huddle.ErrNilAggregate):
		return "nil_aggregate"
	case errors.Is(err, huddle.ErrNilCommand):
		return "nil_command"
	case errors.Is(err, adapters.ErrEmptyAggregateID):
		return "empty_aggregate_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "unknown"
	}
}

// =============================================================================
// Adapter Middleware
// =============================================================================

// observe records the outcome of one storage operation.
func (m *Metrics) observe(op string, start time.Time, err error) {
	m.storageOperationDuration.WithLabelValues(m.serviceName, op).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		if errors.Is(err, adapters.ErrConcurrencyConflict) {
			m.conflictsTotal.WithLabelValues(m.serviceName, op).Inc()
		}
		m.RecordError(ErrorTypeName(err))
	}
	m.storageOperationsTotal.WithLabelValues(m.serviceName, op, status).Inc()
}

// AdapterMiddleware wraps a storage adapter with metrics.
type AdapterMiddleware struct {
	adapter adapters.Adapter
	metrics *Metrics
}

// WrapAdapter wraps an adapter with metrics collection.
// Transactions started through the wrapper are instrumented as well.
func (m *Metrics) WrapAdapter(adapter adapters.Adapter) *AdapterMiddleware {
	return &AdapterMiddleware{adapter: adapter, metrics: m}
}

// Unwrap returns the instrumented adapter.
func (am *AdapterMiddleware) Unwrap() adapters.Adapter {
	return am.adapter
}

// Events returns the instrumented event log.
func (am *AdapterMiddleware) Events() adapters.EventLog {
	return &eventLog{inner: am.adapter.Events(), metrics: am.metrics}
}

// Snapshots returns the instrumented snapshot store.
func (am *AdapterMiddleware) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{inner: am.adapter.Snapshots(), metrics: am.metrics}
}

// BeginTx starts an instrumented transaction.
func (am *AdapterMiddleware) BeginTx(ctx context.Context) (adapters.Tx, error) {
	start := time.Now()
	tx, err := am.adapter.BeginTx(ctx)
	am.metrics.observe(OperationBegin, start, err)
	if err != nil {
		return nil, err
	}
	return &instrumentedTx{inner: tx, metrics: am.metrics}, nil
}

// Close closes the adapter.
func (am *AdapterMiddleware) Close() error {
	return am.adapter.Close()
}

// Ping forwards to the adapter when it implements adapters.HealthChecker.
func (am *AdapterMiddleware) Ping(ctx context.Context) error {
	if hc, ok := am.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Migrate forwards to the adapter when it implements adapters.Migrator.
func (am *AdapterMiddleware) Migrate(ctx context.Context) error {
	if mg, ok := am.adapter.(adapters.Migrator); ok {
		return mg.Migrate(ctx)
	}
	return nil
}

type instrumentedTx struct {
	inner   adapters.Tx
	metrics *Metrics
}

func (t *instrumentedTx) LockAggregate(ctx context.Context, aggregateID string) (int64, error) {
	start := time.Now()
	v, err := t.inner.LockAggregate(ctx, aggregateID)
	t.metrics.observe(OperationLock, start, err)
	return v, err
}

func (t *instrumentedTx) Events() adapters.EventLog {
	return &eventLog{inner: t.inner.Events(), metrics: t.metrics}
}

func (t *instrumentedTx) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{inner: t.inner.Snapshots(), metrics: t.metrics}
}

func (t *instrumentedTx) Commit() error {
	start := time.Now()
	err := t.inner.Commit()
	t.metrics.observe(OperationCommit, start, err)
	return err
}

func (t *instrumentedTx) Rollback() error {
	start := time.Now()
	err := t.inner.Rollback()
	t.metrics.observe(OperationRollback, start, err)
	return err
}

type eventLog struct {
	inner   adapters.EventLog
	metrics *Metrics
}

func (l *eventLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	start := time.Now()
	err := l.inner.Append(ctx, events)
	l.metrics.observe(OperationAppend, start, err)
	if err == nil {
		for _, e := range events {
			l.metrics.eventsAppendedTotal.WithLabelValues(l.metrics.serviceName, e.AggregateType, e.EventType).Inc()
		}
	}
	return err
}

// LoadSince times the whole iteration, from the first pull to the last.
func (l *eventLog) LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return func(yield func(adapters.EventRecord, error) bool) {
		start := time.Now()
		var (
			n   int
			err error
		)
		defer func() {
			l.metrics.observe(OperationLoad, start, err)
			l.metrics.eventsLoadedTotal.WithLabelValues(l.metrics.serviceName).Add(float64(n))
		}()

		for rec, e := range l.inner.LoadSince(ctx, aggregateID, version) {
			if e != nil {
				err = e
				yield(adapters.EventRecord{}, e)
				return
			}
			n++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

type snapshotStore struct {
	inner   adapters.SnapshotStore
	metrics *Metrics
}

func (s *snapshotStore) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	start := time.Now()
	snap, err := s.inner.Load(ctx, aggregateID)
	s.metrics.observe(OperationSnapshotLoad, start, err)
	return snap, err
}

func (s *snapshotStore) Upsert(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, snapshot)
	s.metrics.observe(OperationSnapshotUpsert, start, err)
	if err == nil {
		s.metrics.snapshotsWrittenTotal.WithLabelValues(s.metrics.serviceName, snapshot.AggregateType).Inc()
	}
	return err
}

// =============================================================================
// Subscriber Middleware
// =============================================================================

// SubscriberMiddleware wraps a subscriber with delivery metrics.
type SubscriberMiddleware struct {
	subscriber huddle.Subscriber
	metrics    *Metrics
}

// WrapSubscriber wraps a subscriber with metrics collection.
func (m *Metrics) WrapSubscriber(sub huddle.Subscriber) *SubscriberMiddleware {
	return &SubscriberMiddleware{subscriber: sub, metrics: m}
}

// Name returns the subscriber name.
func (sm *SubscriberMiddleware) Name() string {
	return sm.subscriber.Name()
}

// Notify delivers events and records the outcome.
func (sm *SubscriberMiddleware) Notify(ctx context.Context, events []huddle.Event) error {
	err := sm.subscriber.Notify(ctx, events)
	status := StatusSuccess
	if err != nil {
		status = StatusError
		sm.metrics.RecordError("delivery_failed")
	}
	sm.metrics.deliveriesTotal.WithLabelValues(sm.metrics.serviceName, sm.subscriber.Name(), status).Inc()
	return err
}

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// =============================================================================
// Getters for testing
// =============================================================================

// CommandsTotal returns the commands counter.
func (m *Metrics) CommandsTotal() *prometheus.CounterVec { return m.commandsTotal }

// CommandDuration returns the command duration histogram.
func (m *Metrics) CommandDuration() *prometheus.HistogramVec { return m.commandDuration }

// CommandsInFlight returns the in-flight commands gauge.
func (m *Metrics) CommandsInFlight() *prometheus.GaugeVec { return m.commandsInFlight }

// StorageOperationsTotal returns the storage operations counter.
func (m *Metrics) StorageOperationsTotal() *prometheus.CounterVec { return m.storageOperationsTotal }

// StorageOperationDuration returns the storage duration histogram.
func (m *Metrics) StorageOperationDuration() *prometheus.HistogramVec {
	return m.storageOperationDuration
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec { return m.eventsAppendedTotal }

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec { return m.eventsLoadedTotal }

// SnapshotsWrittenTotal returns the snapshots written counter.
func (m *Metrics) SnapshotsWrittenTotal() *prometheus.CounterVec { return m.snapshotsWrittenTotal }

// ConflictsTotal returns the concurrency conflicts counter.
func (m *Metrics) ConflictsTotal() *prometheus.CounterVec { return m.conflictsTotal }

// DeliveriesTotal returns the subscriber deliveries counter.
func (m *Metrics) DeliveriesTotal() *prometheus.CounterVec { return m.deliveriesTotal }

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec { return m.errorsTotal }
