package handshake

import (
	"naia/bitio"
	"naia/internal/ids"
	"naia/internal/wire"
)

// encodePacket frames a handshake sub-message behind the outer packet
// type tag, so the connection's packet demultiplexer can route it here
// without going through the AckManager — handshake packets are not
// acked; they are retransmitted on their own timer until superseded.
func encodePacket(h Header, write func(bitio.BitSink) error) ([]byte, error) {
	w := bitio.NewWriter(0)
	if err := w.WriteBits(uint64(wire.PacketHandshake), 3); err != nil {
		return nil, err
	}
	if err := WriteHeader(w, h); err != nil {
		return nil, err
	}
	if write != nil {
		if err := write(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodePacket reads the outer packet type and the handshake sub-header,
// returning the sub-header and a Reader positioned at the start of its
// payload. Callers should check the packet type is wire.PacketHandshake
// before calling this.
func DecodePacket(data []byte) (Header, *bitio.Reader, error) {
	r := bitio.NewReader(data)
	if _, err := r.ReadBits(3); err != nil {
		return 0, nil, err
	}
	h, err := ReadHeader(r)
	return h, r, err
}

// EncodeClientIdentifyRequest builds the wire bytes for the first
// handshake step.
func EncodeClientIdentifyRequest(token []byte) ([]byte, error) {
	return encodePacket(ClientIdentifyRequest, func(w bitio.BitSink) error {
		return writeIdentifyRequest(w, identifyRequestPayload{Token: token})
	})
}

// EncodeServerIdentifyResponse builds the wire bytes carrying the
// anti-spoofing cookie.
func EncodeServerIdentifyResponse(cookie []byte) ([]byte, error) {
	return encodePacket(ServerIdentifyResponse, func(w bitio.BitSink) error {
		return writeIdentifyResponse(w, identifyResponsePayload{Cookie: cookie})
	})
}

// EncodeClientConnectRequest builds the wire bytes for the final
// handshake step, echoing the cookie and original token.
func EncodeClientConnectRequest(cookie, token []byte) ([]byte, error) {
	return encodePacket(ClientConnectRequest, func(w bitio.BitSink) error {
		return writeConnectRequest(w, connectRequestPayload{Cookie: cookie, Token: token})
	})
}

// EncodeServerConnectResponse builds the wire bytes assigning the
// client's UserKey.
func EncodeServerConnectResponse(key ids.UserKey) ([]byte, error) {
	return encodePacket(ServerConnectResponse, func(w bitio.BitSink) error {
		return writeConnectResponse(w, connectResponsePayload{UserKey: key})
	})
}

// EncodeDisconnect builds a handshake-phase rejection/disconnect packet.
func EncodeDisconnect() ([]byte, error) {
	return encodePacket(Disconnect, nil)
}
