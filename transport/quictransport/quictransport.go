// Package quictransport implements naia's socket.Socket capability over
// WebTransport datagrams (HTTP/3 + QUIC). The shape follows a join-once,
// relay-forever WebTransport session: a dial or an accepted upgrade
// produces one session, a background goroutine pumps ReceiveDatagram into
// an inbound queue, and Send hands payloads straight to SendDatagram.
// Unlike a voice relay, the payloads here are naia's own wire packets —
// ordering, retransmission and ack bookkeeping belong to the channel and
// ack layers above this package, not to the transport.
package quictransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"naia/internal/socket"
)

// Circuit breaker constants for per-session datagram sends. After
// circuitBreakerThreshold consecutive SendDatagram failures, further sends
// to that session are skipped until a probe attempt succeeds.
const (
	circuitBreakerThreshold     uint32 = 50
	circuitBreakerProbeInterval uint32 = 25
)

// inboundQueueSize bounds how many unread datagrams a Socket buffers per
// process before it starts dropping. naia's reliability layer recovers
// from a dropped datagram the same way it recovers from one lost on the
// wire, so dropping here under sustained backpressure is safe.
const inboundQueueSize = 1024

type sendHealth struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

func (h *sendHealth) shouldSkip() bool {
	if h.failures.Load() < circuitBreakerThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%circuitBreakerProbeInterval != 0
}

func (h *sendHealth) recordFailure() uint32 {
	return h.failures.Add(1)
}

func (h *sendHealth) recordSuccess() bool {
	wasTripped := h.failures.Swap(0) >= circuitBreakerThreshold
	if wasTripped {
		h.skips.Store(0)
	}
	return wasTripped
}

// sessionAddr identifies one WebTransport session. WebTransport datagrams
// carry no per-packet source address of their own — the session itself,
// whose datagrams carry naia's handshake packets like every other packet,
// is the only addressable unit — so sessionAddr stands in for net.Addr.
type sessionAddr uint64

func (a sessionAddr) Network() string { return "webtransport" }
func (a sessionAddr) String() string  { return fmt.Sprintf("wt-session-%d", uint64(a)) }

type inboundDatagram struct {
	addr sessionAddr
	data []byte
}

type peer struct {
	sess   *webtransport.Session
	health sendHealth
}

// Socket is a socket.Socket backed by one or more WebTransport sessions. A
// client-side Socket returned by Dial holds exactly one session; a
// server-side Socket returned by Listener.Socket multiplexes every
// session the listener has accepted, keyed by sessionAddr.
type Socket struct {
	mu     sync.Mutex
	peers  map[sessionAddr]*peer
	nextID atomic.Uint64

	inbound chan inboundDatagram

	serverAddr sessionAddr
	haveServer bool
}

func newSocket() *Socket {
	return &Socket{
		peers:   make(map[sessionAddr]*peer),
		inbound: make(chan inboundDatagram, inboundQueueSize),
	}
}

func (s *Socket) addPeer(sess *webtransport.Session) sessionAddr {
	addr := sessionAddr(s.nextID.Add(1))
	s.mu.Lock()
	s.peers[addr] = &peer{sess: sess}
	s.mu.Unlock()
	go s.pump(addr, sess)
	return addr
}

func (s *Socket) removePeer(addr sessionAddr) {
	s.mu.Lock()
	delete(s.peers, addr)
	s.mu.Unlock()
}

// pump relays datagrams from one session into the shared inbound queue
// until the session closes or its context is cancelled.
func (s *Socket) pump(addr sessionAddr, sess *webtransport.Session) {
	ctx := sess.Context()
	for {
		data, err := sess.ReceiveDatagram(ctx)
		if err != nil {
			s.removePeer(addr)
			return
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case s.inbound <- inboundDatagram{addr: addr, data: cp}:
		default:
		}
	}
}

// Send implements socket.Socket.
func (s *Socket) Send(addr net.Addr, data []byte) error {
	sa, ok := addr.(sessionAddr)
	if !ok {
		return fmt.Errorf("quictransport: %w: address %v is not a webtransport session", socket.ErrSendFailed, addr)
	}
	s.mu.Lock()
	p, ok := s.peers[sa]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("quictransport: %w: unknown session %v", socket.ErrSendFailed, sa)
	}
	if p.health.shouldSkip() {
		return fmt.Errorf("quictransport: %w: circuit breaker open for %v", socket.ErrSendFailed, sa)
	}
	if err := p.sess.SendDatagram(data); err != nil {
		p.health.recordFailure()
		return fmt.Errorf("quictransport: %w: %v", socket.ErrSendFailed, err)
	}
	p.health.recordSuccess()
	return nil
}

// Recv implements socket.Socket.
func (s *Socket) Recv() (net.Addr, []byte, error) {
	select {
	case d := <-s.inbound:
		return d.addr, d.data, nil
	default:
		return nil, nil, socket.ErrWouldBlock
	}
}

// ServerAddr implements socket.Socket. Only a client-side Socket (from
// Dial) ever has one.
func (s *Socket) ServerAddr() (net.Addr, bool) {
	if !s.haveServer {
		return nil, false
	}
	return s.serverAddr, true
}

var _ socket.Socket = (*Socket)(nil)

// DialConfig configures an outbound WebTransport dial.
type DialConfig struct {
	TLSClientConfig *tls.Config
	QUICConfig      *quic.Config
}

// Dial opens a WebTransport session to url and returns a client-side
// Socket wrapping it. EnableDatagrams is forced on regardless of what the
// caller supplied, since naia requires unreliable datagram delivery.
func Dial(ctx context.Context, url string, cfg DialConfig) (*Socket, error) {
	tlsConfig := cfg.TLSClientConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	quicConfig := cfg.QUICConfig
	if quicConfig == nil {
		quicConfig = &quic.Config{}
	}
	quicConfig.EnableDatagrams = true

	d := webtransport.Dialer{TLSClientConfig: tlsConfig, QUICConfig: quicConfig}
	_, sess, err := d.Dial(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("quictransport: dial %s: %w", url, err)
	}

	s := newSocket()
	s.serverAddr = s.addPeer(sess)
	s.haveServer = true
	return s, nil
}

// ListenerConfig configures the HTTP/3 + WebTransport listener.
type ListenerConfig struct {
	Addr      string
	TLSConfig *tls.Config
	Path      string // HTTP path sessions are upgraded on; defaults to "/naia".
}

// Listener accepts inbound WebTransport sessions over an HTTP/3 server and
// folds every accepted session into a single multiplexed Socket.
type Listener struct {
	wt   webtransport.Server
	sock *Socket
}

// Listen starts an HTTP/3 + WebTransport server but does not yet accept
// connections; call Serve to block and start accepting.
func Listen(cfg ListenerConfig) (*Listener, error) {
	path := cfg.Path
	if path == "" {
		path = "/naia"
	}

	sock := newSocket()
	l := &Listener{sock: sock}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		sess, err := l.wt.Upgrade(w, r)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		sock.addPeer(sess)
	})

	l.wt = webtransport.Server{
		H3: http3.Server{
			Addr:      cfg.Addr,
			TLSConfig: cfg.TLSConfig,
			Handler:   mux,
		},
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return l, nil
}

// Serve blocks, accepting sessions until the listener is closed.
func (l *Listener) Serve() error {
	return l.wt.ListenAndServe()
}

// Socket returns the socket.Socket multiplexing every session this
// listener has accepted so far and will accept going forward.
func (l *Listener) Socket() *Socket {
	return l.sock
}

// Close shuts the listener down, closing every currently accepted session.
func (l *Listener) Close() error {
	l.sock.mu.Lock()
	for addr, p := range l.sock.peers {
		p.sess.CloseWithError(0, "server shutting down")
		delete(l.sock.peers, addr)
	}
	l.sock.mu.Unlock()
	return l.wt.Close()
}
