package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/adapters/memory"
	"github.com/AshkanYarmoradi/go-huddle/match"
	"github.com/AshkanYarmoradi/go-huddle/testing/testutil"
)

var (
	_ adapters.Adapter  = (*AdapterMiddleware)(nil)
	_ huddle.Subscriber = (*SubscriberMiddleware)(nil)
)

func newRecordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTracer(WithTracerProvider(tp), WithServiceName("matches")), sr
}

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

func findSpan(t *testing.T, spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not found in %v", name, spanNames(spans))
	return nil
}

func attr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewTracer(t *testing.T) {
	tracer := NewTracer()
	assert.Equal(t, DefaultServiceName, tracer.ServiceName())
	assert.NotNil(t, tracer.Tracer())

	tracer, _ = newRecordingTracer()
	assert.Equal(t, "matches", tracer.ServiceName())
}

func TestCommandMiddleware(t *testing.T) {
	tracer, sr := newRecordingTracer()
	bus := huddle.NewCommandBus(huddle.WithMiddleware(CommandMiddleware(tracer), huddle.ValidationMiddleware()))
	bus.Register(huddle.NewCommandHandlerFunc(match.CmdCancelMatch, func(context.Context, huddle.Command) (huddle.CommandResult, error) {
		return huddle.NewSuccessResult("match-1", 7), nil
	}))

	t.Run("success", func(t *testing.T) {
		ctx := huddle.WithCorrelationID(context.Background(), "corr-1")
		ctx = huddle.WithIdentity(ctx, huddle.Identity{UserID: "coach-1"})
		_, err := bus.Dispatch(ctx, match.CancelMatchCommand{MatchID: "match-1"})
		require.NoError(t, err)

		span := findSpan(t, sr.Ended(), "command.CancelMatch")
		assert.Equal(t, trace.SpanKindInternal, span.SpanKind())
		assert.Equal(t, codes.Ok, span.Status().Code)

		for key, want := range map[string]string{
			"huddle.service":              "matches",
			"huddle.command.type":         match.CmdCancelMatch,
			"huddle.command.aggregate_id": "match-1",
			"huddle.correlation_id":       "corr-1",
			"huddle.user_id":              "coach-1",
			"huddle.result.aggregate_id":  "match-1",
		} {
			v, ok := attr(span, key)
			require.True(t, ok, key)
			assert.Equal(t, want, v.AsString(), key)
		}
		v, _ := attr(span, "huddle.result.version")
		assert.Equal(t, int64(7), v.AsInt64())
	})

	t.Run("failure", func(t *testing.T) {
		_, err := bus.Dispatch(context.Background(), match.CancelMatchCommand{})
		require.Error(t, err)

		spans := sr.Ended()
		span := spans[len(spans)-1]
		assert.Equal(t, "command.CancelMatch", span.Name())
		assert.Equal(t, codes.Error, span.Status().Code)
		require.NotEmpty(t, span.Events())
		assert.Equal(t, "exception", span.Events()[0].Name)
	})

	t.Run("nil command passes through", func(t *testing.T) {
		before := len(sr.Ended())
		_, err := bus.Dispatch(context.Background(), nil)
		assert.ErrorIs(t, err, huddle.ErrNilCommand)
		assert.Len(t, sr.Ended(), before)
	})
}

func TestAdapterMiddleware_Conformance(t *testing.T) {
	tracer, _ := newRecordingTracer()
	testutil.RunAdapterSuite(t, func(t *testing.T) adapters.Adapter {
		return NewAdapterMiddleware(memory.NewAdapter(), tracer)
	})
}

func TestAdapterMiddleware_Repository(t *testing.T) {
	ctx := context.Background()
	tracer, sr := newRecordingTracer()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	repo := huddle.NewRepository(
		NewAdapterMiddleware(memory.NewAdapter(), tracer),
		huddle.NewSerializerRegistry(match.NewSerializer()),
		huddle.WithSnapshotFrequency(2),
		huddle.WithFactory(match.AggregateType, match.Factory(match.WithClock(clock))),
	)

	m := match.New("match-1", match.WithClock(clock))
	require.NoError(t, m.PlanMatch("group-1", now.Add(time.Hour), nil, match.PlayerCount{MinPlayer: 4, MaxPlayer: 10}))
	require.NoError(t, m.AddRegistration("anna", match.StatusRegistered, 0))
	require.NoError(t, repo.Save(ctx, m))

	saved := sr.Ended()
	assert.Equal(t, []string{"storage.append", "storage.snapshot.upsert", "storage.tx"}, spanNames(saved))

	tx := findSpan(t, saved, "storage.tx")
	outcome, _ := attr(tx, "huddle.tx.outcome")
	assert.Equal(t, "commit", outcome.AsString())
	assert.Equal(t, codes.Ok, tx.Status().Code)

	appendSpan := findSpan(t, saved, "storage.append")
	assert.Equal(t, trace.SpanKindClient, appendSpan.SpanKind())
	types, _ := attr(appendSpan, "huddle.events.types")
	assert.Equal(t, []string{match.TagMatchPlanned, match.TagPlayerAddedToCadre}, types.AsStringSlice())

	require.NoError(t, m.AddRegistration("ben", match.StatusRegistered, 0))
	require.NoError(t, repo.Save(ctx, m))

	_, err := huddle.LoadAs[*match.Match](ctx, repo, match.AggregateType, "match-1")
	require.NoError(t, err)

	spans := sr.Ended()
	snap := findSpan(t, spans, "storage.snapshot.load")
	hit, _ := attr(snap, "huddle.snapshot.hit")
	assert.True(t, hit.AsBool())

	load := spans[len(spans)-1]
	assert.Equal(t, "storage.load", load.Name())
	loaded, _ := attr(load, "huddle.events.loaded")
	assert.Equal(t, int64(1), loaded.AsInt64())
	assert.Contains(t, spanNames(spans), "storage.lock")
}

func TestAdapterMiddleware_Failures(t *testing.T) {
	ctx := context.Background()
	tracer, sr := newRecordingTracer()
	faulty := testutil.NewFaultyAdapter(memory.NewAdapter())
	a := NewAdapterMiddleware(faulty, tracer)
	boom := errors.New("boom")

	t.Run("failed append rolls back", func(t *testing.T) {
		faulty.Set(func(f *testutil.FaultyAdapter) { f.AppendErr = boom })
		defer faulty.Reset()

		err := testutil.SaveBatch(ctx, a, testutil.Records("m-1", 1, 1))
		require.ErrorIs(t, err, boom)

		spans := sr.Ended()
		appendSpan := findSpan(t, spans, "storage.append")
		assert.Equal(t, codes.Error, appendSpan.Status().Code)

		tx := findSpan(t, spans, "storage.tx")
		outcome, _ := attr(tx, "huddle.tx.outcome")
		assert.Equal(t, "rollback", outcome.AsString())
	})

	t.Run("failed begin ends the span", func(t *testing.T) {
		faulty.Set(func(f *testutil.FaultyAdapter) { f.BeginErr = boom })
		defer faulty.Reset()

		_, err := a.BeginTx(ctx)
		require.ErrorIs(t, err, boom)

		spans := sr.Ended()
		last := spans[len(spans)-1]
		assert.Equal(t, "storage.tx", last.Name())
		assert.Equal(t, codes.Error, last.Status().Code)
	})

	t.Run("failed load", func(t *testing.T) {
		faulty.Set(func(f *testutil.FaultyAdapter) { f.LoadErr = boom })
		defer faulty.Reset()

		_, err := adapters.Collect(a.Events().LoadSince(ctx, "m-1", 0))
		require.ErrorIs(t, err, boom)

		spans := sr.Ended()
		last := spans[len(spans)-1]
		assert.Equal(t, "storage.load", last.Name())
		assert.Equal(t, codes.Error, last.Status().Code)
	})
}

func TestSubscriberMiddleware(t *testing.T) {
	tracer, sr := newRecordingTracer()
	sub := NewSubscriberMiddleware(huddle.NewSubscriberFunc("webhook", func(_ context.Context, events []huddle.Event) error {
		if len(events) > 1 {
			return errors.New("too many")
		}
		return nil
	}), tracer)
	assert.Equal(t, "webhook", sub.Name())

	ctx := context.Background()
	require.NoError(t, sub.Notify(ctx, []huddle.Event{{AggregateID: "m-1"}}))
	require.Error(t, sub.Notify(ctx, []huddle.Event{{AggregateID: "m-1"}, {AggregateID: "m-1"}}))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "publish.webhook", spans[0].Name())
	assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestSpanHelpers(t *testing.T) {
	tracer, sr := newRecordingTracer()
	ctx, span := tracer.StartSpan(context.Background(), "work")

	assert.Equal(t, span, SpanFromContext(ctx))
	AddEvent(ctx, "checkpoint")
	SetAttributes(ctx, attribute.String("k", "v"))
	SetError(ctx, errors.New("failed"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	v, ok := attr(ended[0], "k")
	require.True(t, ok)
	assert.Equal(t, "v", v.AsString())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 2)
}
