// Package nats provides a subscriber that publishes committed events on NATS
// subjects of the form "<prefix>.<aggregateType>.<eventType>".
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/publisher"
)

// Conn is the subset of *natsgo.Conn used by the subscriber.
type Conn interface {
	PublishMsg(m *natsgo.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Subscriber publishes events to NATS.
type Subscriber struct {
	conn   Conn
	prefix string
	flush  bool

	mu      sync.Mutex
	closeFn func()
	closed  bool
}

// Option configures a NATS Subscriber.
type Option func(*Subscriber)

// WithSubjectPrefix sets the subject prefix. Defaults to "huddle".
func WithSubjectPrefix(prefix string) Option {
	return func(s *Subscriber) {
		s.prefix = prefix
	}
}

// WithFlush waits for the server to acknowledge each batch.
func WithFlush() Option {
	return func(s *Subscriber) {
		s.flush = true
	}
}

// New creates a Subscriber on an existing connection. The caller keeps
// ownership of conn.
func New(conn Conn, opts ...Option) *Subscriber {
	s := &Subscriber{conn: conn, prefix: "huddle"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials natsURL and returns a Subscriber owning the connection.
func Connect(natsURL string, opts ...Option) (*Subscriber, error) {
	nc, err := natsgo.Connect(natsURL,
		natsgo.Name("huddle-publisher"),
		natsgo.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", natsURL, err)
	}
	s := New(nc, opts...)
	s.closeFn = nc.Close
	return s, nil
}

// Name implements huddle.Subscriber.
func (s *Subscriber) Name() string {
	return "nats"
}

// Subject returns the subject an event is published on.
func (s *Subscriber) Subject(e huddle.Event) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, e.AggregateType, e.Type)
}

// Notify publishes each event. All events are attempted even if some fail.
func (s *Subscriber) Notify(ctx context.Context, events []huddle.Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return huddle.ErrPublisherClosed
	}

	var errs []error
	for _, e := range events {
		body, err := publisher.Encode(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("nats: %w", err))
			continue
		}

		msg := natsgo.NewMsg(s.Subject(e))
		msg.Data = body
		for k, v := range publisher.Headers(e) {
			msg.Header.Set(k, v)
		}
		if err := s.conn.PublishMsg(msg); err != nil {
			errs = append(errs, fmt.Errorf("nats: failed to publish on %s: %w", msg.Subject, err))
		}
	}

	if s.flush && len(events) > 0 {
		if err := s.conn.FlushWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("nats: flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the connection when the subscriber owns it.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
