package naia

import (
	"time"

	"naia/bitio"
	"naia/internal/ticktime"
	"naia/internal/wire"
)

// gameInstantBits is the wire width of a gameInstant: milliseconds since
// a side's start instant, wrapping at 2^22 (~69.9 minutes), per
// original_source/shared/src/game_time.rs's GameInstant.
const gameInstantBits = 22

// gameInstantLimit is the modulus a gameInstant wraps at.
const gameInstantLimit = 1 << gameInstantBits

// gameInstant is ms since a side's start instant, mod gameInstantLimit.
type gameInstant uint32

// newGameInstant measures now relative to start and wraps it to fit the
// wire field, exactly matching GameInstant::new's
// `elapsed().as_millis() % GAME_TIME_LIMIT`.
func newGameInstant(start, now time.Time) gameInstant {
	elapsedMs := now.Sub(start).Milliseconds()
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	return gameInstant(uint32(elapsedMs) % gameInstantLimit)
}

// offsetFrom returns, in milliseconds, how far other sits after g,
// correctly handling the one wraparound boundary between them. Mirrors
// GameInstant::offset_from: a.offset_from(b) == b - a once unwrapped.
func (g gameInstant) offsetFrom(other gameInstant) int32 {
	a := int32(g)
	b := int32(other)
	const limit = int32(gameInstantLimit)
	diff := b - a
	if diff > limit/2 {
		diff -= limit
	} else if diff < -limit/2 {
		diff += limit
	}
	return diff
}

func writeGameInstant(w bitio.BitSink, g gameInstant) error {
	return w.WriteBits(uint64(g), gameInstantBits)
}

func readGameInstant(r *bitio.Reader) (gameInstant, error) {
	v, err := r.ReadBits(gameInstantBits)
	if err != nil {
		return 0, err
	}
	return gameInstant(v), nil
}

// pingPayload is the body of an outgoing Ping packet: just the index
// the matching Pong will echo back, so RTT can be attributed to the
// right send.
type pingPayload struct {
	Index uint16
}

func writePing(w bitio.BitSink, p pingPayload) error {
	return bitio.WriteU16(w, p.Index)
}

func readPing(r *bitio.Reader) (pingPayload, error) {
	idx, err := bitio.ReadU16(r)
	if err != nil {
		return pingPayload{}, err
	}
	return pingPayload{Index: idx}, nil
}

// pongPayload is the body of an incoming Pong packet: the echoed ping
// index plus the server's tick clock sample (spec.md §4.6), piggybacked
// so every round trip also refines the client's tick projection.
type pongPayload struct {
	PingIndex         uint16
	ServerRecvAt      gameInstant
	ServerTick        ticktime.Tick
	AvgTickDurationMs uint64
	ServerTickInstant gameInstant
	ServerSendAt      gameInstant
}

func writePong(w bitio.BitSink, p pongPayload) error {
	if err := bitio.WriteU16(w, p.PingIndex); err != nil {
		return err
	}
	if err := writeGameInstant(w, p.ServerRecvAt); err != nil {
		return err
	}
	if err := bitio.WriteU16(w, uint16(p.ServerTick)); err != nil {
		return err
	}
	if err := bitio.WriteU7Varint(w, p.AvgTickDurationMs); err != nil {
		return err
	}
	if err := writeGameInstant(w, p.ServerTickInstant); err != nil {
		return err
	}
	return writeGameInstant(w, p.ServerSendAt)
}

func readPong(r *bitio.Reader) (pongPayload, error) {
	var p pongPayload
	idx, err := bitio.ReadU16(r)
	if err != nil {
		return p, err
	}
	p.PingIndex = idx
	if p.ServerRecvAt, err = readGameInstant(r); err != nil {
		return p, err
	}
	tick, err := bitio.ReadU16(r)
	if err != nil {
		return p, err
	}
	p.ServerTick = ticktime.Tick(tick)
	if p.AvgTickDurationMs, err = bitio.ReadU7Varint(r); err != nil {
		return p, err
	}
	if p.ServerTickInstant, err = readGameInstant(r); err != nil {
		return p, err
	}
	if p.ServerSendAt, err = readGameInstant(r); err != nil {
		return p, err
	}
	return p, nil
}

// rttSmoother implements the teacher's RTT EWMA (client/transport.go:851,
// gain 1/8 per RFC 6298) ahead of handing a raw sample to
// ticktime.TimeManager.RecordPong, which itself only smooths jitter.
// ticktime.TimeManager has no notion of an "unsmoothed" RTT input, so
// this lives at the layer that owns ping-send timestamps.
type rttSmoother struct {
	smoothed      time.Duration
	seeded        bool
	pendingSentAt map[uint16]time.Time
	nextIndex     uint16
}

const rttAlpha = 1.0 / 8.0

func newRTTSmoother() *rttSmoother {
	return &rttSmoother{pendingSentAt: make(map[uint16]time.Time)}
}

// SendPing records now against a freshly assigned ping index and
// returns the payload to put on the wire.
func (s *rttSmoother) SendPing(now time.Time) pingPayload {
	idx := s.nextIndex
	s.nextIndex++
	s.pendingSentAt[idx] = now
	return pingPayload{Index: idx}
}

// RecordPong looks up the send time for pongIndex and folds the
// resulting round trip into the smoothed estimate. Returns the smoothed
// RTT and ok=false if the index is unknown (a stale or duplicate pong).
func (s *rttSmoother) RecordPong(now time.Time, pongIndex uint16) (time.Duration, bool) {
	sentAt, ok := s.pendingSentAt[pongIndex]
	if !ok {
		return 0, false
	}
	delete(s.pendingSentAt, pongIndex)
	sample := now.Sub(sentAt)
	if !s.seeded {
		s.smoothed = sample
		s.seeded = true
	} else {
		s.smoothed += time.Duration(rttAlpha * float64(sample-s.smoothed))
	}
	return s.smoothed, true
}

// encodeBare frames a payload behind a bare 3-bit packet type tag, with
// no StandardHeader: used for the TimeSync-phase ping/pong exchange that
// runs before a Connection (and its AckManager) exists for the client
// attempting it.
func encodeBare(t wire.PacketType, write func(bitio.BitSink) error) ([]byte, error) {
	w := bitio.NewWriter(0)
	if err := w.WriteBits(uint64(t), 3); err != nil {
		return nil, err
	}
	if err := write(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// decodeBare strips the bare 3-bit packet type tag and returns a Reader
// positioned at the payload.
func decodeBare(data []byte) (wire.PacketType, *bitio.Reader, error) {
	r := bitio.NewReader(data)
	v, err := r.ReadBits(3)
	if err != nil {
		return 0, nil, err
	}
	return wire.PacketType(v), r, nil
}

// EncodeHandshakePing builds a pre-connection Ping packet: bare packet
// type tag plus a PingIndex, with no StandardHeader since no AckManager
// exists yet for either side at this point in the exchange.
func EncodeHandshakePing(idx uint16) ([]byte, error) {
	return encodeBare(wire.PacketPing, func(w bitio.BitSink) error {
		return writePing(w, pingPayload{Index: idx})
	})
}

// DecodeHandshakePing decodes a packet built by EncodeHandshakePing.
// Callers must check the packet type is wire.PacketPing first.
func DecodeHandshakePing(data []byte) (pingPayload, error) {
	_, r, err := decodeBare(data)
	if err != nil {
		return pingPayload{}, err
	}
	return readPing(r)
}

// EncodeHandshakePong builds the matching bare Pong response.
func EncodeHandshakePong(p pongPayload) ([]byte, error) {
	return encodeBare(wire.PacketPong, func(w bitio.BitSink) error {
		return writePong(w, p)
	})
}

// DecodeHandshakePong decodes a packet built by EncodeHandshakePong.
// Callers must check the packet type is wire.PacketPong first.
func DecodeHandshakePong(data []byte) (pongPayload, error) {
	_, r, err := decodeBare(data)
	if err != nil {
		return pongPayload{}, err
	}
	return readPong(r)
}
