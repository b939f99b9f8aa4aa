// Package webrtctransport implements naia's socket.Socket capability over a
// WebRTC unordered, unreliable DataChannel. Offer/answer/ICE-candidate
// exchange is left to transport/signaling; this package only owns the
// PeerConnection/DataChannel pair and the datagram plumbing once signaling
// hands it a session description to apply.
package webrtctransport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"naia/internal/socket"
)

const inboundQueueSize = 1024

// peerAddr identifies one PeerConnection. A DataChannel message carries no
// address of its own, so the connection that produced it stands in for one.
type peerAddr uint64

func (a peerAddr) Network() string { return "webrtc" }
func (a peerAddr) String() string  { return fmt.Sprintf("webrtc-peer-%d", uint64(a)) }

type inboundMessage struct {
	addr peerAddr
	data []byte
}

type peer struct {
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	open atomic.Bool
}

// Socket is a socket.Socket backed by one or more WebRTC PeerConnections,
// each carrying a single unordered, unreliable DataChannel. A client-side
// Socket holds exactly one peer; a server-side Socket accumulates one peer
// per accepted offer.
type Socket struct {
	mu     sync.Mutex
	peers  map[peerAddr]*peer
	nextID atomic.Uint64

	inbound chan inboundMessage

	serverAddr peerAddr
	haveServer bool
}

// NewSocket returns an empty Socket ready to host peer connections.
func NewSocket() *Socket {
	return &Socket{
		peers:   make(map[peerAddr]*peer),
		inbound: make(chan inboundMessage, inboundQueueSize),
	}
}

func (s *Socket) removePeer(addr peerAddr) {
	s.mu.Lock()
	delete(s.peers, addr)
	s.mu.Unlock()
}

func (s *Socket) wireDataChannel(addr peerAddr, p *peer, dc *webrtc.DataChannel) {
	s.mu.Lock()
	p.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() { p.open.Store(true) })
	dc.OnClose(func() {
		p.open.Store(false)
		s.removePeer(addr)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		cp := make([]byte, len(msg.Data))
		copy(cp, msg.Data)
		select {
		case s.inbound <- inboundMessage{addr: addr, data: cp}:
		default:
		}
	})
}

func (s *Socket) wirePeerConnection(addr peerAddr, p *webrtc.PeerConnection) {
	p.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			s.removePeer(addr)
		}
	})
}

// Config configures a new PeerConnection.
type Config struct {
	ICEServers []webrtc.ICEServer
}

func unreliableUnordered() *webrtc.DataChannelInit {
	ordered := false
	maxRetransmits := uint16(0)
	return &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &maxRetransmits}
}

// Offer creates a new PeerConnection and locally-initiated DataChannel for
// the offering side of a negotiation. The caller drives signaling (offer,
// ICE candidates) via the returned PeerConnection and must call
// s.MarkServerAddr once the connection is known to be the one to the remote
// server.
func (s *Socket) Offer(cfg Config) (*webrtc.PeerConnection, peerAddr, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, 0, fmt.Errorf("webrtctransport: new peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel("naia", unreliableUnordered())
	if err != nil {
		pc.Close()
		return nil, 0, fmt.Errorf("webrtctransport: create data channel: %w", err)
	}

	addr := peerAddr(s.nextID.Add(1))
	p := &peer{pc: pc}
	s.mu.Lock()
	s.peers[addr] = p
	s.mu.Unlock()

	s.wireDataChannel(addr, p, dc)
	s.wirePeerConnection(addr, pc)
	return pc, addr, nil
}

// Accept creates a new PeerConnection for the answering side of a
// negotiation. The DataChannel arrives from the remote offerer, so it is
// wired up lazily from OnDataChannel once SetRemoteDescription(offer) runs.
func (s *Socket) Accept(cfg Config) (*webrtc.PeerConnection, peerAddr, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, 0, fmt.Errorf("webrtctransport: new peer connection: %w", err)
	}

	addr := peerAddr(s.nextID.Add(1))
	p := &peer{pc: pc}
	s.mu.Lock()
	s.peers[addr] = p
	s.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.wireDataChannel(addr, p, dc)
	})
	s.wirePeerConnection(addr, pc)
	return pc, addr, nil
}

// MarkServerAddr records addr as the remote server, making it discoverable
// via ServerAddr. Only meaningful for the dialing side.
func (s *Socket) MarkServerAddr(addr net.Addr) {
	pa, ok := addr.(peerAddr)
	if !ok {
		return
	}
	s.mu.Lock()
	s.serverAddr = pa
	s.haveServer = true
	s.mu.Unlock()
}

// Send implements socket.Socket.
func (s *Socket) Send(addr net.Addr, data []byte) error {
	pa, ok := addr.(peerAddr)
	if !ok {
		return fmt.Errorf("webrtctransport: %w: address %v is not a webrtc peer", socket.ErrSendFailed, addr)
	}
	s.mu.Lock()
	p, ok := s.peers[pa]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtctransport: %w: unknown peer %v", socket.ErrSendFailed, pa)
	}
	if p.dc == nil || !p.open.Load() {
		return fmt.Errorf("webrtctransport: %w: data channel to %v not open", socket.ErrSendFailed, pa)
	}
	if err := p.dc.Send(data); err != nil {
		return fmt.Errorf("webrtctransport: %w: %v", socket.ErrSendFailed, err)
	}
	return nil
}

// Recv implements socket.Socket.
func (s *Socket) Recv() (net.Addr, []byte, error) {
	select {
	case m := <-s.inbound:
		return m.addr, m.data, nil
	default:
		return nil, nil, socket.ErrWouldBlock
	}
}

// ServerAddr implements socket.Socket.
func (s *Socket) ServerAddr() (net.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveServer {
		return nil, false
	}
	return s.serverAddr, true
}

var _ socket.Socket = (*Socket)(nil)
