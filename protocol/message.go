// Package protocol holds the application-facing registry naia needs to
// serialize messages and components without the core engine knowing
// their concrete Go types: every kind gets a stable 16-bit id, a
// constructor, and reader/writer functions. A derive facility (code
// generator) is expected to produce the boilerplate that registers a
// user's own message and component types; this package is the runtime
// surface that generated code targets.
package protocol

import (
	"fmt"
	"reflect"

	"naia/bitio"
)

// MessageKind is the stable wire id for a registered message type.
type MessageKind uint16

// Message is anything the application can send over a reliable or
// unreliable channel. Write serializes the message's fields (not
// including the kind id, which the registry writes separately).
type Message interface {
	Write(w bitio.BitSink) error
}

// MessageReader constructs and decodes a Message from its wire
// representation.
type MessageReader func(r *bitio.Reader) (Message, error)

// MessageRegistry maps MessageKinds to their reader functions and back,
// letting the channel layer write/read messages generically.
type MessageRegistry struct {
	readers map[MessageKind]MessageReader
	kindOf  map[reflect.Type]MessageKind
}

// NewMessageRegistry returns an empty registry.
func NewMessageRegistry() *MessageRegistry {
	return &MessageRegistry{
		readers: make(map[MessageKind]MessageReader),
		kindOf:  make(map[reflect.Type]MessageKind),
	}
}

// Register associates kind with reader, and with sample's concrete Go
// type for WriteMessage's reverse lookup. sample is only used for its
// type; generated registration code typically passes a zero value.
func (r *MessageRegistry) Register(kind MessageKind, sample Message, reader MessageReader) {
	r.readers[kind] = reader
	r.kindOf[reflect.TypeOf(sample)] = kind
}

// KindOf returns the registered kind for m's concrete type.
func (r *MessageRegistry) KindOf(m Message) (MessageKind, bool) {
	kind, ok := r.kindOf[reflect.TypeOf(m)]
	return kind, ok
}

// WriteMessage writes a message's kind id followed by its body.
func (r *MessageRegistry) WriteMessage(w bitio.BitSink, m Message) error {
	kind, ok := r.KindOf(m)
	if !ok {
		return fmt.Errorf("protocol: message type %T is not registered", m)
	}
	if err := bitio.WriteU16(w, uint16(kind)); err != nil {
		return err
	}
	return m.Write(w)
}

// ReadMessage reads a kind id and decodes the matching message.
func (r *MessageRegistry) ReadMessage(rd *bitio.Reader) (Message, error) {
	kind, err := bitio.ReadU16(rd)
	if err != nil {
		return nil, err
	}
	reader, ok := r.readers[MessageKind(kind)]
	if !ok {
		return nil, bitio.ErrInvalidDiscriminant
	}
	return reader(rd)
}
