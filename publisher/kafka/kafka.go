// Package kafka provides a subscriber that writes committed events to a Kafka
// topic using github.com/segmentio/kafka-go.
//
// Messages are keyed by aggregate ID, so all events of one aggregate land on
// the same partition and keep their order.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/publisher"
)

// MessageWriter is the subset of *kafkago.Writer used by the subscriber.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Subscriber forwards events to a Kafka topic.
type Subscriber struct {
	brokers      []string
	topic        string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper

	mu     sync.Mutex
	writer MessageWriter
	closed bool
}

// Option configures a Kafka Subscriber.
type Option func(*Subscriber)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(s *Subscriber) {
		s.brokers = brokers
	}
}

// WithTopic sets the destination topic. Defaults to "huddle.events".
func WithTopic(topic string) Option {
	return func(s *Subscriber) {
		s.topic = topic
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(s *Subscriber) {
		s.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(s *Subscriber) {
		s.batchTimeout = d
	}
}

// WithWriter replaces the Kafka writer, e.g. with a test double.
func WithWriter(w MessageWriter) Option {
	return func(s *Subscriber) {
		s.writer = w
	}
}

// New creates a new Kafka Subscriber.
func New(opts ...Option) *Subscriber {
	s := &Subscriber{
		brokers:      []string{"localhost:9092"},
		topic:        "huddle.events",
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name implements huddle.Subscriber.
func (s *Subscriber) Name() string {
	return "kafka"
}

// Topic returns the destination topic.
func (s *Subscriber) Topic() string {
	return s.topic
}

// Notify writes the events as one batch. Events that cannot be encoded are
// reported, the rest are still written.
func (s *Subscriber) Notify(ctx context.Context, events []huddle.Event) error {
	if len(events) == 0 {
		return nil
	}
	w, err := s.getWriter()
	if err != nil {
		return err
	}

	var errs []error
	msgs := make([]kafkago.Message, 0, len(events))
	for _, e := range events {
		body, err := publisher.Encode(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
			continue
		}
		msg := kafkago.Message{
			Key:   []byte(e.AggregateID),
			Value: body,
			Time:  e.Timestamp,
		}
		for k, v := range publisher.Headers(e) {
			msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) > 0 {
		if err := w.WriteMessages(ctx, msgs...); err != nil {
			errs = append(errs, fmt.Errorf("kafka: failed to write to topic %s: %w", s.topic, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the Kafka writer. It is safe to call more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// getWriter returns the writer, creating it on first use.
func (s *Subscriber) getWriter() (MessageWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, huddle.ErrPublisherClosed
	}
	if s.writer == nil {
		s.writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(s.brokers...),
			Topic:                  s.topic,
			Balancer:               s.balancer,
			BatchTimeout:           s.batchTimeout,
			Transport:              s.transport,
			AllowAutoTopicCreation: true,
		}
	}
	return s.writer, nil
}
