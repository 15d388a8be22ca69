// Package publisher holds the wire format shared by the subscribers that
// forward committed events to external systems (Kafka, SNS, NATS, webhooks).
package publisher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/AshkanYarmoradi/go-huddle"
)

// Header names attached to every outgoing message.
const (
	HeaderEventID       = "event-id"
	HeaderEventType     = "event-type"
	HeaderAggregateID   = "aggregate-id"
	HeaderAggregateType = "aggregate-type"
	HeaderVersion       = "version"
	HeaderCorrelationID = "correlation-id"
	HeaderCausationID   = "causation-id"
	HeaderUserID        = "user-id"
)

// Envelope is the JSON body of an outgoing message.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Type          string          `json:"type"`
	Version       int64           `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      huddle.Metadata `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Encode renders e as an Envelope. The domain value is re-encoded as JSON
// so consumers see the same body whatever codec the event store uses.
func Encode(e huddle.Event) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("huddle/publisher: encode %s v%d of %q: %w", e.Type, e.Version, e.AggregateID, err)
	}
	return json.Marshal(Envelope{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Type:          e.Type,
		Version:       e.Version,
		Data:          data,
		Metadata:      e.Metadata,
		Timestamp:     e.Timestamp,
	})
}

// Decode parses an Envelope body.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("huddle/publisher: decode envelope: %w", err)
	}
	return env, nil
}

// Headers returns the routing headers of e. Empty metadata fields are omitted.
func Headers(e huddle.Event) map[string]string {
	h := map[string]string{
		HeaderEventID:       e.ID,
		HeaderEventType:     e.Type,
		HeaderAggregateID:   e.AggregateID,
		HeaderAggregateType: e.AggregateType,
		HeaderVersion:       strconv.FormatInt(e.Version, 10),
	}
	if e.Metadata.CorrelationID != "" {
		h[HeaderCorrelationID] = e.Metadata.CorrelationID
	}
	if e.Metadata.CausationID != "" {
		h[HeaderCausationID] = e.Metadata.CausationID
	}
	if e.Metadata.UserID != "" {
		h[HeaderUserID] = e.Metadata.UserID
	}
	return h
}
