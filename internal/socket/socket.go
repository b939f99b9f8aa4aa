// Package socket defines the minimal capability naia's connection layer
// requires of a transport: non-blocking datagram send/recv keyed by an
// address. transport/quictransport and transport/webrtctransport each
// implement it over a real network stack; tests use an in-memory fake.
package socket

import (
	"errors"
	"net"
)

// ErrWouldBlock is returned by Recv when no datagram is currently
// available. The engine treats it as "nothing to do this tick", never as
// a connection-level failure.
var ErrWouldBlock = errors.New("socket: would block")

// ErrSendFailed wraps a transport-level send failure. The engine treats
// it as non-fatal — the ACK layer is expected to eventually recover via
// retransmission — unless failures persist until the disconnection
// timeout fires.
var ErrSendFailed = errors.New("socket: send failed")

// Socket is the capability the connection layer requires of a transport
// adapter. Implementations must never block: Recv returns ErrWouldBlock
// immediately when nothing is ready, and Send must not wait on
// congestion control beyond what the underlying datagram primitive
// already does.
type Socket interface {
	// Send transmits bytes to addr. Implementations may buffer or drop on
	// congestion; callers must not assume delivery.
	Send(addr net.Addr, data []byte) error

	// Recv polls for the next available datagram. Returns ErrWouldBlock if
	// none is ready.
	Recv() (addr net.Addr, data []byte, err error)

	// ServerAddr returns the address of the remote server, once known.
	// Only meaningful on client-side sockets; filled in once the
	// signaling/auth exchange has resolved a destination.
	ServerAddr() (net.Addr, bool)
}
