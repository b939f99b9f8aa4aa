package wire

import "naia/bitio"

// PacketType is the 3-bit tag carried at the front of every packet's
// standard header, distinguishing the handshake/heartbeat/data control
// plane from application data so the ACK manager and connection state
// machine can dispatch and account for them separately.
type PacketType uint8

const (
	PacketHandshake PacketType = iota
	PacketData
	PacketHeartbeat
	PacketPing
	PacketPong
	PacketDisconnect
)

const packetTypeBits = 3

func (t PacketType) String() string {
	switch t {
	case PacketHandshake:
		return "handshake"
	case PacketData:
		return "data"
	case PacketHeartbeat:
		return "heartbeat"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// PeekPacketType reads the 3-bit packet type tag fronting any wire
// packet, without requiring the caller to already hold a positioned
// Reader — used by the client/server dispatch loop to route an inbound
// datagram before anything else about it is known.
func PeekPacketType(data []byte) (PacketType, error) {
	r := bitio.NewReader(data)
	v, err := r.ReadBits(packetTypeBits)
	if err != nil {
		return 0, err
	}
	return PacketType(v), nil
}
