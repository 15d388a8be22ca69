package huddle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
)

// EventPublisher hands committed events to listeners.
// The repository calls Publish once per committed save, after the transaction.
type EventPublisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// Subscriber receives published events.
type Subscriber interface {
	// Name identifies the subscriber in logs and errors.
	Name() string

	// Notify delivers the events of one save, in version order.
	Notify(ctx context.Context, events []Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc struct {
	name string
	fn   func(ctx context.Context, events []Event) error
}

// NewSubscriberFunc creates a named function subscriber.
func NewSubscriberFunc(name string, fn func(ctx context.Context, events []Event) error) *SubscriberFunc {
	return &SubscriberFunc{name: name, fn: fn}
}

// Name implements Subscriber.
func (s *SubscriberFunc) Name() string { return s.name }

// Notify implements Subscriber.
func (s *SubscriberFunc) Notify(ctx context.Context, events []Event) error {
	return s.fn(ctx, events)
}

// PublisherMode selects the publishing strategy.
type PublisherMode string

// Publisher modes.
const (
	// PublisherSync delivers on the caller's goroutine; used in tests.
	PublisherSync PublisherMode = "sync"

	// PublisherAsync delivers on background workers; used in production.
	PublisherAsync PublisherMode = "async"
)

// ParsePublisherMode parses a configuration value.
func ParsePublisherMode(s string) (PublisherMode, error) {
	switch PublisherMode(s) {
	case PublisherSync, "":
		return PublisherSync, nil
	case PublisherAsync:
		return PublisherAsync, nil
	default:
		return "", fmt.Errorf("huddle: unknown publisher mode %q", s)
	}
}

// PublisherOption configures publishers.
type PublisherOption func(*publisherConfig)

type publisherConfig struct {
	logger  Logger
	workers int
	buffer  int
}

// WithPublisherLogger sets the logger used for delivery failures.
func WithPublisherLogger(l Logger) PublisherOption {
	return func(c *publisherConfig) {
		c.logger = l
	}
}

// WithWorkers sets the number of async workers.
func WithWorkers(n int) PublisherOption {
	return func(c *publisherConfig) {
		c.workers = n
	}
}

// WithBuffer sets the per-worker queue length of the async publisher.
func WithBuffer(n int) PublisherOption {
	return func(c *publisherConfig) {
		c.buffer = n
	}
}

func newPublisherConfig(opts []PublisherOption) *publisherConfig {
	c := &publisherConfig{
		logger:  &noopLogger{},
		workers: 4,
		buffer:  64,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers < 1 {
		c.workers = 1
	}
	if c.buffer < 0 {
		c.buffer = 0
	}
	return c
}

// NewPublisher builds the publisher of the given mode.
func NewPublisher(mode PublisherMode, subscribers []Subscriber, opts ...PublisherOption) (EventPublisher, error) {
	switch mode {
	case PublisherSync, "":
		p := NewSyncPublisher(opts...)
		p.Subscribe(subscribers...)
		return p, nil
	case PublisherAsync:
		p := NewAsyncPublisher(opts...)
		p.Subscribe(subscribers...)
		return p, nil
	default:
		return nil, fmt.Errorf("huddle: unknown publisher mode %q", mode)
	}
}

type subscriberSet struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func (s *subscriberSet) add(subs ...Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subs...)
}

func (s *subscriberSet) snapshot() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, len(s.subs))
	copy(out, s.subs)
	return out
}

// deliver notifies every subscriber; one failing subscriber does not stop the others.
func (s *subscriberSet) deliver(ctx context.Context, events []Event) error {
	var errs []error
	for _, sub := range s.snapshot() {
		if err := sub.Notify(ctx, events); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SyncPublisher delivers events to subscribers before Publish returns.
type SyncPublisher struct {
	subs   subscriberSet
	logger Logger

	mu     sync.RWMutex
	closed bool
}

// NewSyncPublisher creates a synchronous publisher.
func NewSyncPublisher(opts ...PublisherOption) *SyncPublisher {
	c := newPublisherConfig(opts)
	return &SyncPublisher{logger: c.logger}
}

// Subscribe adds subscribers.
func (p *SyncPublisher) Subscribe(subs ...Subscriber) {
	p.subs.add(subs...)
}

// Publish implements EventPublisher.
func (p *SyncPublisher) Publish(ctx context.Context, events []Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if len(events) == 0 {
		return nil
	}
	return p.subs.deliver(ctx, events)
}

// Close implements EventPublisher.
func (p *SyncPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// AsyncPublisher queues events and delivers them on background workers.
// Batches of one aggregate always go to the same worker, so they are
// delivered in commit order.
type AsyncPublisher struct {
	subs   subscriberSet
	logger Logger
	queues []chan []Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncPublisher creates an asynchronous publisher and starts its workers.
func NewAsyncPublisher(opts ...PublisherOption) *AsyncPublisher {
	c := newPublisherConfig(opts)
	p := &AsyncPublisher{
		logger: c.logger,
		queues: make([]chan []Event, c.workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan []Event, c.buffer)
		p.wg.Add(1)
		go p.run(p.queues[i])
	}
	return p
}

// Subscribe adds subscribers.
func (p *AsyncPublisher) Subscribe(subs ...Subscriber) {
	p.subs.add(subs...)
}

// Publish enqueues the events. It blocks while the target queue is full.
func (p *AsyncPublisher) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	batch := make([]Event, len(events))
	copy(batch, events)
	select {
	case p.queues[p.shard(events[0].AggregateID)] <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits until queued events are delivered.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *AsyncPublisher) shard(aggregateID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *AsyncPublisher) run(queue <-chan []Event) {
	defer p.wg.Done()
	for events := range queue {
		if err := p.subs.deliver(context.Background(), events); err != nil {
			p.logger.Error("async delivery failed",
				"aggregateId", events[0].AggregateID,
				"events", len(events),
				"error", err)
		}
	}
}
