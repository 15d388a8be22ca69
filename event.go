package huddle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
)

// EventRecord is a stored, serialized event.
type EventRecord = adapters.EventRecord

// SnapshotRecord is a stored, serialized snapshot.
type SnapshotRecord = adapters.SnapshotRecord

// Metadata contains event context for tracing and auditing.
// It is stored next to the payload and travels with published events.
type Metadata struct {
	// CorrelationID links related events across services.
	CorrelationID string `json:"correlationId,omitempty" msgpack:"correlationId,omitempty"`

	// CausationID identifies the command or event that caused this event.
	CausationID string `json:"causationId,omitempty" msgpack:"causationId,omitempty"`

	// UserID identifies who triggered this event.
	UserID string `json:"userId,omitempty" msgpack:"userId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty" msgpack:"custom,omitempty"`
}

// IsEmpty reports whether no metadata field is set.
func (m Metadata) IsEmpty() bool {
	return m.CorrelationID == "" && m.CausationID == "" && m.UserID == "" && len(m.Custom) == 0
}

// WithCorrelationID returns a copy with the correlation ID set.
func (m Metadata) WithCorrelationID(id string) Metadata {
	m.CorrelationID = id
	return m
}

// WithCausationID returns a copy with the causation ID set.
func (m Metadata) WithCausationID(id string) Metadata {
	m.CausationID = id
	return m
}

// WithUserID returns a copy with the user ID set.
func (m Metadata) WithUserID(id string) Metadata {
	m.UserID = id
	return m
}

// WithCustom returns a copy with an additional custom key.
func (m Metadata) WithCustom(key, value string) Metadata {
	custom := make(map[string]string, len(m.Custom)+1)
	for k, v := range m.Custom {
		custom[k] = v
	}
	custom[key] = value
	m.Custom = custom
	return m
}

func encodeMetadata(m Metadata) ([]byte, error) {
	if m.IsEmpty() {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("huddle: failed to encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("huddle: failed to decode metadata: %w", err)
	}
	return m, nil
}

// Event is a committed domain event handed to publishers.
type Event struct {
	// ID is the unique event identifier.
	ID string

	AggregateID   string
	AggregateType string

	// Type is the stable event type tag.
	Type string

	// Version is the aggregate version after this event.
	Version int64

	// Data is the decoded domain event.
	Data interface{}

	// Payload is the serialized form of Data as it was stored.
	Payload []byte

	Metadata  Metadata
	Timestamp time.Time
}

// EventFromRecord decodes a stored record into an Event using the registry.
func EventFromRecord(registry *SerializerRegistry, rec EventRecord) (Event, error) {
	data, err := registry.Deserialize(rec)
	if err != nil {
		return Event{}, err
	}
	md, err := decodeMetadata(rec.Metadata)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            rec.ID,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		Type:          rec.EventType,
		Version:       rec.Version,
		Data:          data,
		Payload:       rec.Data,
		Metadata:      md,
		Timestamp:     rec.Timestamp,
	}, nil
}
