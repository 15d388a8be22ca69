package huddle

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Codec encodes payloads to bytes and back.
type Codec interface {
	// Name identifies the encoding (e.g. "json", "msgpack").
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements Codec.
func (JSONCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// AggregateSerializer encodes the events and snapshots of one aggregate type.
type AggregateSerializer interface {
	// AggregateType returns the aggregate type this serializer handles.
	AggregateType() string

	// Serialize encodes a domain event raised by agg. The returned record has
	// AggregateID, AggregateType, EventType and Data set; the repository fills
	// in the rest.
	Serialize(event interface{}, agg Aggregate) (EventRecord, error)

	// Deserialize decodes a stored event into its domain event value.
	Deserialize(rec EventRecord) (interface{}, error)

	// SerializeSnapshot encodes the current state of agg.
	SerializeSnapshot(agg Aggregate) ([]byte, error)

	// DeserializeSnapshot decodes a snapshot payload into agg.
	DeserializeSnapshot(data []byte, agg Aggregate) error
}

// Snapshotter is implemented by aggregates whose snapshot payload is a
// dedicated state value rather than the aggregate struct itself.
type Snapshotter interface {
	// SnapshotState returns a serializable copy of the aggregate state.
	SnapshotState() (interface{}, error)

	// RestoreSnapshot replaces the aggregate state from a decoded payload.
	// decode fills the given pointer from the stored bytes.
	RestoreSnapshot(decode func(target interface{}) error) error
}

// EventSerializer is a tag-based AggregateSerializer.
// Each registered Go type maps to exactly one stable tag and back.
type EventSerializer struct {
	aggregateType string
	codec         Codec

	mu     sync.RWMutex
	byTag  map[string]reflect.Type
	byType map[reflect.Type]string
}

// EventSerializerOption configures an EventSerializer.
type EventSerializerOption func(*EventSerializer)

// WithCodec sets the payload codec. JSONCodec is the default.
func WithCodec(c Codec) EventSerializerOption {
	return func(s *EventSerializer) {
		s.codec = c
	}
}

// NewEventSerializer creates an empty EventSerializer for aggregateType.
func NewEventSerializer(aggregateType string, opts ...EventSerializerOption) *EventSerializer {
	s := &EventSerializer{
		aggregateType: aggregateType,
		codec:         JSONCodec{},
		byTag:         make(map[string]reflect.Type),
		byType:        make(map[reflect.Type]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register maps tag to the Go type of example.
// The example should be a value (not a pointer) of the event type.
// Registering a tag or type twice with a different counterpart panics,
// since tags are never reused.
func (s *EventSerializer) Register(tag string, example interface{}) *EventSerializer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := indirectType(reflect.TypeOf(example))
	if prev, ok := s.byTag[tag]; ok && prev != t {
		panic(fmt.Sprintf("huddle: event tag %q already registered for %s", tag, prev))
	}
	if prev, ok := s.byType[t]; ok && prev != tag {
		panic(fmt.Sprintf("huddle: event type %s already registered as %q", t, prev))
	}
	s.byTag[tag] = t
	s.byType[t] = tag
	return s
}

// AggregateType implements AggregateSerializer.
func (s *EventSerializer) AggregateType() string {
	return s.aggregateType
}

// Codec returns the payload codec.
func (s *EventSerializer) Codec() Codec {
	return s.codec
}

// Tags returns all registered tags, sorted.
func (s *EventSerializer) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]string, 0, len(s.byTag))
	for tag := range s.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// TagOf returns the tag registered for the event's type.
func (s *EventSerializer) TagOf(event interface{}) (string, error) {
	if event == nil {
		return "", NewUnknownEventTypeError(s.aggregateType, "<nil>")
	}
	t := indirectType(reflect.TypeOf(event))
	s.mu.RLock()
	tag, ok := s.byType[t]
	s.mu.RUnlock()
	if !ok {
		return "", NewUnknownEventTypeError(s.aggregateType, t.String())
	}
	return tag, nil
}

// Serialize implements AggregateSerializer.
func (s *EventSerializer) Serialize(event interface{}, agg Aggregate) (EventRecord, error) {
	tag, err := s.TagOf(event)
	if err != nil {
		return EventRecord{}, err
	}
	data, err := s.codec.Marshal(event)
	if err != nil {
		return EventRecord{}, NewSerializationError(tag, "serialize", err)
	}
	rec := EventRecord{
		AggregateType: s.aggregateType,
		EventType:     tag,
		Data:          data,
	}
	if agg != nil {
		rec.AggregateID = agg.AggregateID()
	}
	return rec, nil
}

// Deserialize implements AggregateSerializer.
func (s *EventSerializer) Deserialize(rec EventRecord) (interface{}, error) {
	s.mu.RLock()
	t, ok := s.byTag[rec.EventType]
	s.mu.RUnlock()
	if !ok {
		return nil, NewUnknownEventTypeError(s.aggregateType, rec.EventType)
	}
	if len(rec.Data) == 0 {
		return nil, NewSerializationError(rec.EventType, "deserialize", fmt.Errorf("empty payload"))
	}
	ptr := reflect.New(t)
	if err := s.codec.Unmarshal(rec.Data, ptr.Interface()); err != nil {
		return nil, NewSerializationError(rec.EventType, "deserialize", err)
	}
	return ptr.Elem().Interface(), nil
}

// SerializeSnapshot implements AggregateSerializer.
func (s *EventSerializer) SerializeSnapshot(agg Aggregate) ([]byte, error) {
	var state interface{} = agg
	if sn, ok := agg.(Snapshotter); ok {
		st, err := sn.SnapshotState()
		if err != nil {
			return nil, NewSerializationError(s.aggregateType+"/snapshot", "serialize", err)
		}
		state = st
	}
	data, err := s.codec.Marshal(state)
	if err != nil {
		return nil, NewSerializationError(s.aggregateType+"/snapshot", "serialize", err)
	}
	return data, nil
}

// DeserializeSnapshot implements AggregateSerializer.
func (s *EventSerializer) DeserializeSnapshot(data []byte, agg Aggregate) error {
	decode := func(target interface{}) error {
		return s.codec.Unmarshal(data, target)
	}
	var err error
	if sn, ok := agg.(Snapshotter); ok {
		err = sn.RestoreSnapshot(decode)
	} else {
		err = decode(agg)
	}
	if err != nil {
		return NewSerializationError(s.aggregateType+"/snapshot", "deserialize", err)
	}
	return nil
}

// SerializerRegistry selects an AggregateSerializer by aggregate type.
type SerializerRegistry struct {
	mu          sync.RWMutex
	serializers map[string]AggregateSerializer
}

// NewSerializerRegistry creates a registry holding the given serializers.
func NewSerializerRegistry(serializers ...AggregateSerializer) *SerializerRegistry {
	r := &SerializerRegistry{serializers: make(map[string]AggregateSerializer)}
	for _, s := range serializers {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the serializer of s.AggregateType().
func (r *SerializerRegistry) Register(s AggregateSerializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers[s.AggregateType()] = s
}

// Get returns the serializer for aggregateType, or a configuration error.
func (r *SerializerRegistry) Get(aggregateType string) (AggregateSerializer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.serializers[aggregateType]
	if !ok {
		return nil, &SerializerNotRegisteredError{AggregateType: aggregateType}
	}
	return s, nil
}

// AggregateTypes returns the registered aggregate types, sorted.
func (r *SerializerRegistry) AggregateTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.serializers))
	for t := range r.serializers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Serialize encodes event with the serializer of agg's type.
func (r *SerializerRegistry) Serialize(event interface{}, agg Aggregate) (EventRecord, error) {
	if agg == nil {
		return EventRecord{}, ErrNilAggregate
	}
	s, err := r.Get(agg.AggregateType())
	if err != nil {
		return EventRecord{}, err
	}
	return s.Serialize(event, agg)
}

// Deserialize decodes rec with the serializer of its aggregate type.
func (r *SerializerRegistry) Deserialize(rec EventRecord) (interface{}, error) {
	s, err := r.Get(rec.AggregateType)
	if err != nil {
		return nil, err
	}
	return s.Deserialize(rec)
}

func indirectType(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}
