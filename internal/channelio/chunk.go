package channelio

import (
	"naia/bitio"
	"naia/protocol"
)

// indexedMessage pairs a message with the sender-assigned index used for
// sequencing, gap detection, and delta-encoding on the wire.
type indexedMessage struct {
	Index uint16
	Msg   protocol.Message
}

// writeChunk encodes one channel's message chunk: channel id, message
// count, then each message's delta-encoded index and body. The leading
// per-chunk continuation bit is written by the caller (the packet-level
// message-stream loop), not here, since it needs to know in advance
// whether another chunk follows.
func writeChunk(w bitio.BitSink, reg *protocol.MessageRegistry, channelID ChannelID, msgs []indexedMessage) error {
	if err := bitio.WriteU16(w, uint16(channelID)); err != nil {
		return err
	}
	if err := bitio.WriteU7Varint(w, uint64(len(msgs))); err != nil {
		return err
	}
	var prev uint16
	for i, im := range msgs {
		delta := im.Index
		if i > 0 {
			delta = im.Index - prev
		}
		if err := bitio.WriteU7Varint(w, uint64(delta)); err != nil {
			return err
		}
		if err := reg.WriteMessage(w, im.Msg); err != nil {
			return err
		}
		prev = im.Index
	}
	return nil
}

// readChunk is the inverse of writeChunk.
func readChunk(r *bitio.Reader, reg *protocol.MessageRegistry) (ChannelID, []indexedMessage, error) {
	chID, err := bitio.ReadU16(r)
	if err != nil {
		return 0, nil, err
	}
	count, err := bitio.ReadU7Varint(r)
	if err != nil {
		return 0, nil, err
	}
	msgs := make([]indexedMessage, 0, count)
	var idx uint16
	for i := 0; i < int(count); i++ {
		delta, err := bitio.ReadU7Varint(r)
		if err != nil {
			return 0, nil, err
		}
		if i == 0 {
			idx = uint16(delta)
		} else {
			idx += uint16(delta)
		}
		msg, err := reg.ReadMessage(r)
		if err != nil {
			return 0, nil, err
		}
		msgs = append(msgs, indexedMessage{Index: idx, Msg: msg})
	}
	return ChannelID(chID), msgs, nil
}

// measureChunk returns the bit cost of writing msgs as a chunk, via a Counter,
// without committing anything to a real Writer. Used by senders deciding
// how many messages fit in the remaining packet budget.
func measureChunk(reg *protocol.MessageRegistry, channelID ChannelID, msgs []indexedMessage) int {
	c := bitio.NewCounter(0)
	_ = writeChunk(c, reg, channelID, msgs)
	return c.BitsWritten()
}
