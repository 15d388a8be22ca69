package huddle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventsFor(aggregateID string, from, to int64) []Event {
	var out []Event
	for v := from; v <= to; v++ {
		out = append(out, Event{AggregateID: aggregateID, Version: v, Type: "TALLY_INCREMENTED_V1"})
	}
	return out
}

func TestParsePublisherMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PublisherMode
		wantErr bool
	}{
		{"", PublisherSync, false},
		{"sync", PublisherSync, false},
		{"async", PublisherAsync, false},
		{"kafka", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePublisherMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPublisher(t *testing.T) {
	sub := &recordingSubscriber{name: "rec"}

	p, err := NewPublisher(PublisherSync, []Subscriber{sub})
	require.NoError(t, err)
	assert.IsType(t, &SyncPublisher{}, p)

	p, err = NewPublisher(PublisherAsync, []Subscriber{sub}, WithWorkers(2), WithBuffer(1))
	require.NoError(t, err)
	assert.IsType(t, &AsyncPublisher{}, p)
	require.NoError(t, p.Close())

	_, err = NewPublisher("carrier-pigeon", nil)
	assert.Error(t, err)
}

func TestSyncPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers before returning", func(t *testing.T) {
		a, b := &recordingSubscriber{name: "a"}, &recordingSubscriber{name: "b"}
		p := NewSyncPublisher()
		p.Subscribe(a, b)

		require.NoError(t, p.Publish(ctx, eventsFor("t-1", 1, 2)))
		assert.Len(t, a.Events(), 2)
		assert.Len(t, b.Events(), 2)

		require.NoError(t, p.Publish(ctx, nil))
		assert.Len(t, a.Batches(), 1, "empty publish delivers nothing")
	})

	t.Run("one failing subscriber does not stop others", func(t *testing.T) {
		bad := &recordingSubscriber{name: "bad", err: errors.New("boom")}
		good := &recordingSubscriber{name: "good"}
		p := NewSyncPublisher()
		p.Subscribe(bad, good)

		err := p.Publish(ctx, eventsFor("t-1", 1, 1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber bad")
		assert.Len(t, good.Events(), 1)
	})

	t.Run("closed", func(t *testing.T) {
		p := NewSyncPublisher()
		require.NoError(t, p.Close())
		assert.ErrorIs(t, p.Publish(ctx, eventsFor("t-1", 1, 1)), ErrPublisherClosed)
	})
}

func TestAsyncPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves per-aggregate order", func(t *testing.T) {
		sub := &recordingSubscriber{name: "rec"}
		p := NewAsyncPublisher(WithWorkers(4), WithBuffer(8))
		p.Subscribe(sub)

		for i := int64(0); i < 20; i++ {
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, p.Publish(ctx, eventsFor(id, 2*i+1, 2*i+2)))
			}
		}
		require.NoError(t, p.Close())

		last := map[string]int64{}
		for _, e := range sub.Events() {
			assert.Equal(t, last[e.AggregateID]+1, e.Version, "aggregate %s out of order", e.AggregateID)
			last[e.AggregateID] = e.Version
		}
		assert.Equal(t, map[string]int64{"a": 40, "b": 40, "c": 40}, last)
	})

	t.Run("close drains and is idempotent", func(t *testing.T) {
		sub := &recordingSubscriber{name: "rec"}
		p := NewAsyncPublisher(WithWorkers(1), WithBuffer(100))
		p.Subscribe(sub)
		for i := 0; i < 50; i++ {
			require.NoError(t, p.Publish(ctx, eventsFor(fmt.Sprintf("t-%d", i), 1, 1)))
		}
		require.NoError(t, p.Close())
		require.NoError(t, p.Close())

		assert.Len(t, sub.Events(), 50)
		assert.ErrorIs(t, p.Publish(ctx, eventsFor("t-1", 1, 1)), ErrPublisherClosed)
	})

	t.Run("logs delivery failures", func(t *testing.T) {
		logger := &recordingLogger{}
		p := NewAsyncPublisher(WithWorkers(1), WithPublisherLogger(logger))
		p.Subscribe(&recordingSubscriber{name: "bad", err: errors.New("boom")})

		require.NoError(t, p.Publish(ctx, eventsFor("t-1", 1, 1)))
		require.NoError(t, p.Close())
		assert.Contains(t, logger.Messages(), "ERROR async delivery failed")
	})

	t.Run("publish honours context while the queue is full", func(t *testing.T) {
		block := make(chan struct{})
		p := NewAsyncPublisher(WithWorkers(1), WithBuffer(0))
		p.Subscribe(NewSubscriberFunc("slow", func(context.Context, []Event) error {
			<-block
			return nil
		}))

		require.NoError(t, p.Publish(ctx, eventsFor("t-1", 1, 1)))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := p.Publish(cctx, eventsFor("t-1", 2, 2))
		close(block)
		assert.ErrorIs(t, err, context.Canceled)
		require.NoError(t, p.Close())
	})
}

func TestSubscriberFunc(t *testing.T) {
	var got []Event
	s := NewSubscriberFunc("fn", func(_ context.Context, events []Event) error {
		got = events
		return nil
	})
	assert.Equal(t, "fn", s.Name())
	require.NoError(t, s.Notify(context.Background(), eventsFor("t-1", 1, 1)))
	assert.Len(t, got, 1)
}
