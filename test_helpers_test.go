package huddle

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Test aggregate implementation: a counter that can be closed.
type Tally struct {
	AggregateBase
	Total  int
	Closed bool
}

type TallyIncremented struct {
	By int `json:"by"`
}

type TallyClosed struct {
	Reason string `json:"reason"`
}

var errTallyClosed = errors.New("tally closed")

const tallyType = "Tally"

func NewTally(id string) *Tally {
	return &Tally{AggregateBase: NewAggregateBase(id, tallyType)}
}

func (t *Tally) Increment(by int) error {
	if t.Closed {
		return errTallyClosed
	}
	return Apply(t, TallyIncremented{By: by})
}

func (t *Tally) Close(reason string) error {
	return Apply(t, TallyClosed{Reason: reason})
}

func (t *Tally) ApplyEvent(event interface{}) error {
	switch e := event.(type) {
	case TallyIncremented:
		t.Total += e.By
	case TallyClosed:
		t.Closed = true
	default:
		return NewUnknownEventTypeError(tallyType, "")
	}
	return nil
}

type tallySnapshot struct {
	Total  int  `json:"total"`
	Closed bool `json:"closed"`
}

func (t *Tally) SnapshotState() (interface{}, error) {
	return tallySnapshot{Total: t.Total, Closed: t.Closed}, nil
}

func (t *Tally) RestoreSnapshot(decode func(target interface{}) error) error {
	var s tallySnapshot
	if err := decode(&s); err != nil {
		return err
	}
	t.Total, t.Closed = s.Total, s.Closed
	return nil
}

func tallySerializer() *EventSerializer {
	return NewEventSerializer(tallyType).
		Register("TALLY_INCREMENTED_V1", TallyIncremented{}).
		Register("TALLY_CLOSED_V1", TallyClosed{})
}

func tallyFactory(id string) Aggregate {
	return NewTally(id)
}

// recordingSubscriber collects every delivered batch.
type recordingSubscriber struct {
	name string

	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) Notify(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	return s.err
}

func (s *recordingSubscriber) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *recordingSubscriber) Events() []Event {
	var out []Event
	for _, b := range s.Batches() {
		out = append(out, b...)
	}
	return out
}

// recordingLogger keeps messages for assertions.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *recordingLogger) Debug(msg string, _ ...interface{}) { l.log("DEBUG " + msg) }
func (l *recordingLogger) Info(msg string, _ ...interface{})  { l.log("INFO " + msg) }
func (l *recordingLogger) Warn(msg string, _ ...interface{})  { l.log("WARN " + msg) }
func (l *recordingLogger) Error(msg string, _ ...interface{}) { l.log("ERROR " + msg) }

func (l *recordingLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

var fixedTime = time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }
