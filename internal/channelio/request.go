package channelio

import (
	"naia/bitio"
	"naia/protocol"
)

// LocalRequestResponseId tags a request message and the response that
// answers it, so the two sides of a round trip can be correlated without
// blocking the rest of the channel on a reply.
type LocalRequestResponseId uint16

// requestKind and responseKind are the two reserved message kinds a
// RequestChannel registers on its registry to carry the envelope
// wrapping an application payload. Application code never registers a
// kind in this range itself.
const (
	requestKind  protocol.MessageKind = 0xfffe
	responseKind protocol.MessageKind = 0xffff
)

// requestEnvelope is the wire-visible request message: a correlation id
// followed by the inner application payload, recursively written/read
// through the same registry the channel uses for ordinary messages.
type requestEnvelope struct {
	id      LocalRequestResponseId
	payload protocol.Message
	reg     *protocol.MessageRegistry
}

func (e *requestEnvelope) Write(w bitio.BitSink) error {
	if err := bitio.WriteU16(w, uint16(e.id)); err != nil {
		return err
	}
	return e.reg.WriteMessage(w, e.payload)
}

type responseEnvelope struct {
	id      LocalRequestResponseId
	payload protocol.Message
	reg     *protocol.MessageRegistry
}

func (e *responseEnvelope) Write(w bitio.BitSink) error {
	if err := bitio.WriteU16(w, uint16(e.id)); err != nil {
		return err
	}
	return e.reg.WriteMessage(w, e.payload)
}

func readEnvelope(reg *protocol.MessageRegistry, r *bitio.Reader) (LocalRequestResponseId, protocol.Message, error) {
	idRaw, err := bitio.ReadU16(r)
	if err != nil {
		return 0, nil, err
	}
	payload, err := reg.ReadMessage(r)
	if err != nil {
		return 0, nil, err
	}
	return LocalRequestResponseId(idRaw), payload, nil
}

// RequestChannel layers request/response correlation over a reliable
// ordered channel: requests and responses travel as ordinary reliable
// messages, tagged with one of two reserved kinds, but are exposed to
// the application as a separate stream matched up by id rather than
// mixed in with normal channel traffic.
type RequestChannel struct {
	reg      *protocol.MessageRegistry
	sender   *ReliableSender
	receiver *ReliableOrderedReceiver
	nextID   LocalRequestResponseId
	pending  map[LocalRequestResponseId]chan protocol.Message
}

// NewRequestChannel builds a request/response layer for channel id,
// registering its two reserved envelope kinds on reg.
func NewRequestChannel(id ChannelID, reg *protocol.MessageRegistry, resendFactor float64) *RequestChannel {
	c := &RequestChannel{
		reg:      reg,
		sender:   NewReliableSender(id, reg, resendFactor),
		receiver: NewReliableOrderedReceiver(),
		pending:  make(map[LocalRequestResponseId]chan protocol.Message),
	}
	reg.Register(requestKind, &requestEnvelope{}, func(r *bitio.Reader) (protocol.Message, error) {
		id, payload, err := readEnvelope(reg, r)
		if err != nil {
			return nil, err
		}
		return &requestEnvelope{id: id, payload: payload, reg: reg}, nil
	})
	reg.Register(responseKind, &responseEnvelope{}, func(r *bitio.Reader) (protocol.Message, error) {
		id, payload, err := readEnvelope(reg, r)
		if err != nil {
			return nil, err
		}
		return &responseEnvelope{id: id, payload: payload, reg: reg}, nil
	})
	return c
}

// RequestReceived is a decoded request awaiting an application response.
type RequestReceived struct {
	ID      LocalRequestResponseId
	Payload protocol.Message
}

// Request enqueues payload as a request and returns a channel that
// receives its matching response once one arrives.
func (c *RequestChannel) Request(payload protocol.Message) (LocalRequestResponseId, <-chan protocol.Message) {
	id := c.nextID
	c.nextID++
	ch := make(chan protocol.Message, 1)
	c.pending[id] = ch
	c.sender.Enqueue(&requestEnvelope{id: id, payload: payload, reg: c.reg})
	return id, ch
}

// Respond enqueues payload as the response to the request identified by
// id.
func (c *RequestChannel) Respond(id LocalRequestResponseId, payload protocol.Message) {
	c.sender.Enqueue(&responseEnvelope{id: id, payload: payload, reg: c.reg})
}

// HandleDelivered dispatches a decoded envelope arriving off the wire:
// a request is returned for the application to answer; a response is
// routed to its matching pending channel (which is then closed) and nil
// is returned.
func (c *RequestChannel) HandleDelivered(m protocol.Message) *RequestReceived {
	switch v := m.(type) {
	case *requestEnvelope:
		return &RequestReceived{ID: v.id, Payload: v.payload}
	case *responseEnvelope:
		if ch, ok := c.pending[v.id]; ok {
			ch <- v.payload
			close(ch)
			delete(c.pending, v.id)
		}
	}
	return nil
}
