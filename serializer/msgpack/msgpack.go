// Package msgpack provides a MessagePack payload codec for huddle serializers.
//
// MessagePack produces smaller payloads than JSON. Struct fields are named
// by their json tags, so event types need no extra annotations and the same
// type can be stored with either codec.
//
// Basic usage:
//
//	serializer := match.NewSerializer(huddle.WithCodec(msgpack.NewCodec()))
package msgpack

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec is a MessagePack implementation of huddle.Codec.
type Codec struct {
	structTag string
	compact   bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithStructTag sets the struct tag used for field names. Defaults to "json".
func WithStructTag(tag string) Option {
	return func(c *Codec) {
		c.structTag = tag
	}
}

// WithCompactInts encodes integers in the smallest representation.
func WithCompactInts() Option {
	return func(c *Codec) {
		c.compact = true
	}
}

// NewCodec creates a MessagePack Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{structTag: "json"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements huddle.Codec.
func (c *Codec) Name() string { return "msgpack" }

// Marshal implements huddle.Codec.
func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("huddle/msgpack: cannot encode nil")
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(c.structTag)
	enc.UseCompactInts(c.compact)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("huddle/msgpack: encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal implements huddle.Codec.
func (c *Codec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("huddle/msgpack: empty payload")
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(c.structTag)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("huddle/msgpack: decode %T: %w", v, err)
	}
	return nil
}
