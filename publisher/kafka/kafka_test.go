package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/match"
	"github.com/AshkanYarmoradi/go-huddle/publisher"
)

var _ huddle.Subscriber = (*Subscriber)(nil)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

func canceled(id string, version int64) huddle.Event {
	return huddle.Event{
		ID:            fmt.Sprintf("evt-%d", version),
		AggregateID:   id,
		AggregateType: match.AggregateType,
		Type:          match.TagMatchCanceled,
		Version:       version,
		Data:          match.MatchCanceledEvent{MatchID: id},
		Metadata:      huddle.Metadata{CorrelationID: "corr-1"},
		Timestamp:     time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC),
	}
}

func headerMap(msg kafkago.Message) map[string]string {
	out := make(map[string]string)
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	s := New()
	assert.Equal(t, "kafka", s.Name())
	assert.Equal(t, []string{"localhost:9092"}, s.brokers)
	assert.Equal(t, "huddle.events", s.Topic())
	assert.IsType(t, &kafkago.Hash{}, s.balancer)
}

func TestNew_Options(t *testing.T) {
	balancer := &kafkago.RoundRobin{}
	s := New(
		WithBrokers("broker1:9092", "broker2:9092"),
		WithTopic("matches"),
		WithBalancer(balancer),
		WithBatchTimeout(500*time.Millisecond),
	)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, s.brokers)
	assert.Equal(t, "matches", s.Topic())
	assert.Equal(t, balancer, s.balancer)
	assert.Equal(t, 500*time.Millisecond, s.batchTimeout)
}

func TestSubscriber_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("writes one keyed message per event", func(t *testing.T) {
		w := &fakeWriter{}
		s := New(WithWriter(w))

		require.NoError(t, s.Notify(ctx, []huddle.Event{canceled("match-1", 1), canceled("match-1", 2)}))
		require.Len(t, w.msgs, 2)

		msg := w.msgs[1]
		assert.Equal(t, []byte("match-1"), msg.Key)
		env, err := publisher.Decode(msg.Value)
		require.NoError(t, err)
		assert.Equal(t, int64(2), env.Version)
		assert.JSONEq(t, `{"matchId":"match-1"}`, string(env.Data))

		headers := headerMap(msg)
		assert.Equal(t, match.TagMatchCanceled, headers[publisher.HeaderEventType])
		assert.Equal(t, "2", headers[publisher.HeaderVersion])
		assert.Equal(t, "corr-1", headers[publisher.HeaderCorrelationID])
	})

	t.Run("empty batch writes nothing", func(t *testing.T) {
		w := &fakeWriter{}
		require.NoError(t, New(WithWriter(w)).Notify(ctx, nil))
		assert.Empty(t, w.msgs)
	})

	t.Run("unencodable events are reported, the rest written", func(t *testing.T) {
		w := &fakeWriter{}
		bad := canceled("match-1", 1)
		bad.Data = make(chan int)

		err := New(WithWriter(w)).Notify(ctx, []huddle.Event{bad, canceled("match-1", 2)})
		require.Error(t, err)
		assert.Len(t, w.msgs, 1)
	})

	t.Run("write failure", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("leader not available")}
		err := New(WithWriter(w), WithTopic("matches")).Notify(ctx, []huddle.Event{canceled("match-1", 1)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to write to topic matches")
	})

	t.Run("closed", func(t *testing.T) {
		w := &fakeWriter{}
		s := New(WithWriter(w))
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.Equal(t, 1, w.closed)

		err := s.Notify(ctx, []huddle.Event{canceled("match-1", 1)})
		assert.ErrorIs(t, err, huddle.ErrPublisherClosed)
	})
}

// =============================================================================
// Integration tests
// =============================================================================

func brokersOrSkip(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test (short mode)")
	}
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}
	return brokers
}

// createTopic pre-creates a Kafka topic and waits until it's available.
func createTopic(t *testing.T, brokers string, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("topic %s not available after 10s", topic)
}

func TestSubscriber_Notify_Integration(t *testing.T) {
	brokers := brokersOrSkip(t)
	topic := fmt.Sprintf("huddle-test-%d", time.Now().UnixNano())
	createTopic(t, brokers, topic)

	s := New(WithBrokers(brokers), WithTopic(topic))
	s.transport = &kafkago.Transport{}
	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, []huddle.Event{canceled("match-7", 1)}))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{brokers},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   5 * time.Second,
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	assert.Equal(t, []byte("match-7"), msg.Key)
	assert.Equal(t, "match-7", headerMap(msg)[publisher.HeaderAggregateID])
	require.NoError(t, s.Close())
}
