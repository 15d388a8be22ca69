// Package tracing provides OpenTelemetry integration for huddle.
//
// This package enables distributed tracing of command execution, storage
// adapter calls and event delivery to subscribers.
//
// Basic usage with command bus:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	bus := huddle.NewCommandBus()
//	bus.Use(tracing.CommandMiddleware(tracer))
//	repo := huddle.NewRepository(tracing.NewAdapterMiddleware(adapter, tracer), registry)
//
// The tracing middleware captures:
//   - Command type, target aggregate and resulting version
//   - Success/failure status
//   - Error details when commands fail
//   - Correlation IDs
package tracing

import (
	"context"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/adapters"
)

const (
	// TracerName is the name of the huddle tracer.
	TracerName = "github.com/AshkanYarmoradi/go-huddle"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "huddle"
)

// Tracer wraps OpenTelemetry tracer for huddle operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

func (t *Tracer) startClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("huddle.service", t.serviceName))
	span.SetAttributes(attrs...)
	return ctx, span
}

// finish records err on span, or marks it Ok.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware creates middleware that traces command execution.
func CommandMiddleware(tracer *Tracer) huddle.Middleware {
	return func(next huddle.MiddlewareFunc) huddle.MiddlewareFunc {
		return func(ctx context.Context, cmd huddle.Command) (huddle.CommandResult, error) {
			if cmd == nil {
				return next(ctx, cmd)
			}

			ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("command.%s", cmd.CommandType()),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			attrs := []attribute.KeyValue{
				attribute.String("huddle.service", tracer.serviceName),
				attribute.String("huddle.command.type", cmd.CommandType()),
			}
			if aggCmd, ok := cmd.(huddle.AggregateCommand); ok {
				attrs = append(attrs, attribute.String("huddle.command.aggregate_id", aggCmd.AggregateID()))
			}
			if correlationID := huddle.CorrelationIDFromContext(ctx); correlationID != "" {
				attrs = append(attrs, attribute.String("huddle.correlation_id", correlationID))
			}
			if who, ok := huddle.IdentityFromContext(ctx); ok {
				attrs = append(attrs, attribute.String("huddle.user_id", who.UserID))
			}
			span.SetAttributes(attrs...)

			result, err := next(ctx, cmd)

			switch {
			case err != nil:
				finish(span, err)
			case result.IsError():
				finish(span, result.Error)
			default:
				finish(span, nil)
				span.SetAttributes(
					attribute.String("huddle.result.aggregate_id", result.AggregateID),
					attribute.Int64("huddle.result.version", result.Version),
				)
			}
			return result, err
		}
	}
}

// =============================================================================
// Adapter Middleware
// =============================================================================

// AdapterMiddleware wraps a storage adapter with tracing.
// A transaction is one "storage.tx" span that ends at Commit or Rollback;
// calls made through it are traced as children of the caller's span.
type AdapterMiddleware struct {
	adapter adapters.Adapter
	tracer  *Tracer
}

// NewAdapterMiddleware wraps an adapter with tracing.
func NewAdapterMiddleware(adapter adapters.Adapter, tracer *Tracer) *AdapterMiddleware {
	return &AdapterMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Events returns the traced event log.
func (m *AdapterMiddleware) Events() adapters.EventLog {
	return &eventLog{inner: m.adapter.Events(), tracer: m.tracer}
}

// Snapshots returns the traced snapshot store.
func (m *AdapterMiddleware) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{inner: m.adapter.Snapshots(), tracer: m.tracer}
}

// BeginTx starts a traced transaction.
func (m *AdapterMiddleware) BeginTx(ctx context.Context) (adapters.Tx, error) {
	ctx, span := m.tracer.startClientSpan(ctx, "storage.tx")
	tx, err := m.adapter.BeginTx(ctx)
	if err != nil {
		finish(span, err)
		span.End()
		return nil, err
	}
	return &tracedTx{inner: tx, tracer: m.tracer, span: span}, nil
}

// Close closes the adapter.
func (m *AdapterMiddleware) Close() error {
	return m.adapter.Close()
}

// Ping forwards to the adapter when it implements adapters.HealthChecker.
func (m *AdapterMiddleware) Ping(ctx context.Context) error {
	hc, ok := m.adapter.(adapters.HealthChecker)
	if !ok {
		return nil
	}
	ctx, span := m.tracer.startClientSpan(ctx, "storage.ping")
	defer span.End()
	err := hc.Ping(ctx)
	finish(span, err)
	return err
}

// Migrate forwards to the adapter when it implements adapters.Migrator.
func (m *AdapterMiddleware) Migrate(ctx context.Context) error {
	mg, ok := m.adapter.(adapters.Migrator)
	if !ok {
		return nil
	}
	ctx, span := m.tracer.startClientSpan(ctx, "storage.migrate")
	defer span.End()
	err := mg.Migrate(ctx)
	finish(span, err)
	return err
}

type tracedTx struct {
	inner  adapters.Tx
	tracer *Tracer
	span   trace.Span
}

func (t *tracedTx) LockAggregate(ctx context.Context, aggregateID string) (int64, error) {
	ctx, span := t.tracer.startClientSpan(ctx, "storage.lock",
		attribute.String("huddle.aggregate_id", aggregateID))
	defer span.End()

	v, err := t.inner.LockAggregate(ctx, aggregateID)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("huddle.current_version", v))
	}
	return v, err
}

func (t *tracedTx) Events() adapters.EventLog {
	return &eventLog{inner: t.inner.Events(), tracer: t.tracer}
}

func (t *tracedTx) Snapshots() adapters.SnapshotStore {
	return &snapshotStore{inner: t.inner.Snapshots(), tracer: t.tracer}
}

func (t *tracedTx) Commit() error {
	err := t.inner.Commit()
	t.span.SetAttributes(attribute.String("huddle.tx.outcome", "commit"))
	finish(t.span, err)
	t.span.End()
	return err
}

func (t *tracedTx) Rollback() error {
	err := t.inner.Rollback()
	if t.span.IsRecording() {
		t.span.SetAttributes(attribute.String("huddle.tx.outcome", "rollback"))
		finish(t.span, err)
		t.span.End()
	}
	return err
}

type eventLog struct {
	inner  adapters.EventLog
	tracer *Tracer
}

func (l *eventLog) Append(ctx context.Context, events []adapters.EventRecord) error {
	attrs := []attribute.KeyValue{attribute.Int("huddle.events.count", len(events))}
	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.EventType
		}
		attrs = append(attrs,
			attribute.String("huddle.aggregate_id", events[0].AggregateID),
			attribute.String("huddle.aggregate_type", events[0].AggregateType),
			attribute.Int64("huddle.version", events[len(events)-1].Version),
			attribute.StringSlice("huddle.events.types", eventTypes),
		)
	}
	ctx, span := l.tracer.startClientSpan(ctx, "storage.append", attrs...)
	defer span.End()

	err := l.inner.Append(ctx, events)
	finish(span, err)
	return err
}

func (l *eventLog) LoadSince(ctx context.Context, aggregateID string, version int64) iter.Seq2[adapters.EventRecord, error] {
	return func(yield func(adapters.EventRecord, error) bool) {
		ctx, span := l.tracer.startClientSpan(ctx, "storage.load",
			attribute.String("huddle.aggregate_id", aggregateID),
			attribute.Int64("huddle.from_version", version),
		)
		defer span.End()

		loaded := 0
		for rec, err := range l.inner.LoadSince(ctx, aggregateID, version) {
			if err != nil {
				finish(span, err)
				yield(adapters.EventRecord{}, err)
				return
			}
			loaded++
			if !yield(rec, nil) {
				break
			}
		}
		span.SetAttributes(attribute.Int("huddle.events.loaded", loaded))
		finish(span, nil)
	}
}

type snapshotStore struct {
	inner  adapters.SnapshotStore
	tracer *Tracer
}

func (s *snapshotStore) Load(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	ctx, span := s.tracer.startClientSpan(ctx, "storage.snapshot.load",
		attribute.String("huddle.aggregate_id", aggregateID))
	defer span.End()

	snap, err := s.inner.Load(ctx, aggregateID)
	finish(span, err)
	span.SetAttributes(attribute.Bool("huddle.snapshot.hit", snap != nil))
	if snap != nil {
		span.SetAttributes(attribute.Int64("huddle.snapshot.version", snap.Version))
	}
	return snap, err
}

func (s *snapshotStore) Upsert(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	ctx, span := s.tracer.startClientSpan(ctx, "storage.snapshot.upsert",
		attribute.String("huddle.aggregate_id", snapshot.AggregateID),
		attribute.Int64("huddle.snapshot.version", snapshot.Version),
	)
	defer span.End()

	err := s.inner.Upsert(ctx, snapshot)
	finish(span, err)
	return err
}

// =============================================================================
// Subscriber Middleware
// =============================================================================

// SubscriberMiddleware wraps a subscriber with tracing.
type SubscriberMiddleware struct {
	subscriber huddle.Subscriber
	tracer     *Tracer
}

// NewSubscriberMiddleware wraps a subscriber with tracing.
func NewSubscriberMiddleware(sub huddle.Subscriber, tracer *Tracer) *SubscriberMiddleware {
	return &SubscriberMiddleware{subscriber: sub, tracer: tracer}
}

// Name returns the subscriber name.
func (m *SubscriberMiddleware) Name() string {
	return m.subscriber.Name()
}

// Notify delivers events inside a producer span.
func (m *SubscriberMiddleware) Notify(ctx context.Context, events []huddle.Event) error {
	ctx, span := m.tracer.StartSpan(ctx, "publish."+m.subscriber.Name(),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("huddle.service", m.tracer.serviceName),
		attribute.String("huddle.subscriber", m.subscriber.Name()),
		attribute.Int("huddle.events.count", len(events)),
	)
	if len(events) > 0 {
		span.SetAttributes(attribute.String("huddle.aggregate_id", events[0].AggregateID))
	}

	err := m.subscriber.Notify(ctx, events)
	finish(span, err)
	return err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
