package handshake

import (
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"naia/bitio"
	"naia/internal/ids"
)

// RateLimit bounds inbound Identify/Connect attempts per source address,
// the handshake's most spoofable phase: an attacker who floods
// ClientIdentifyRequests from a single address should not be able to
// force unbounded cookie issuance.
type RateLimit struct {
	rate  rate.Limit
	burst int
}

// DefaultRateLimit allows a modest burst of handshake attempts per
// address before throttling kicks in.
var DefaultRateLimit = RateLimit{rate: rate.Every(time.Second), burst: 5}

// ReplayCache records which cookies have already been consumed by a
// successful Connect, so a captured-and-replayed ConnectRequest cannot
// mint a second UserKey for the same cookie. Implemented by
// internal/replaycache.
type ReplayCache interface {
	// Claim records cookie as used, returning false if it was already
	// claimed (a replay).
	Claim(cookie []byte, now time.Time) (bool, error)
}

// Server handles the server side of the handshake for every inbound
// address, minting UserKeys and enforcing the anti-spoofing cookie
// protocol.
type Server struct {
	signer  *CookieSigner
	replay  ReplayCache
	limit   RateLimit
	limiter map[string]*rate.Limiter

	onAccept func(addr net.Addr, token []byte) (ids.UserKey, bool)
}

// NewServer returns a Server keyed with signerKey. onAccept is called
// once a Connect request's cookie has verified; it decides whether the
// token is still valid (e.g. hasn't expired or been revoked since
// Identify) and, if so, returns the UserKey to assign.
func NewServer(signerKey []byte, replay ReplayCache, limit RateLimit, onAccept func(addr net.Addr, token []byte) (ids.UserKey, bool)) *Server {
	return &Server{
		signer:   NewCookieSigner(signerKey),
		replay:   replay,
		limit:    limit,
		limiter:  make(map[string]*rate.Limiter),
		onAccept: onAccept,
	}
}

func (s *Server) allow(addr net.Addr) bool {
	key := addr.String()
	lim, ok := s.limiter[key]
	if !ok {
		lim = rate.NewLimiter(s.limit.rate, s.limit.burst)
		s.limiter[key] = lim
	}
	return lim.Allow()
}

// HandlePacket processes one inbound handshake packet and returns the
// wire bytes of a response to send back to addr, or nil if no response
// is warranted (e.g. the address is being rate-limited).
func (s *Server) HandlePacket(now time.Time, addr net.Addr, h Header, r *bitio.Reader) []byte {
	if !s.allow(addr) {
		slog.Debug("handshake: rate limited", "addr", addr)
		return nil
	}

	switch h {
	case ClientIdentifyRequest:
		return s.handleIdentify(now, r)
	case ClientConnectRequest:
		return s.handleConnect(now, addr, r)
	default:
		return nil
	}
}

func (s *Server) handleIdentify(now time.Time, r *bitio.Reader) []byte {
	if _, err := readIdentifyRequest(r); err != nil {
		slog.Debug("handshake: decode identify request", "err", err)
		return nil
	}
	cookie := s.signer.Issue(now)
	pkt, err := EncodeServerIdentifyResponse(cookie)
	if err != nil {
		slog.Error("handshake: encode identify response", "err", err)
		return nil
	}
	return pkt
}

func (s *Server) handleConnect(now time.Time, addr net.Addr, r *bitio.Reader) []byte {
	p, err := readConnectRequest(r)
	if err != nil {
		slog.Debug("handshake: decode connect request", "err", err)
		return nil
	}
	if err := s.signer.Verify(p.Cookie, now); err != nil {
		slog.Info("handshake: rejected connect, bad cookie", "addr", addr)
		pkt, _ := EncodeDisconnect()
		return pkt
	}
	if s.replay != nil {
		fresh, err := s.replay.Claim(p.Cookie, now)
		if err != nil {
			slog.Error("handshake: replay cache", "err", err)
			pkt, _ := EncodeDisconnect()
			return pkt
		}
		if !fresh {
			slog.Info("handshake: rejected connect, replayed cookie", "addr", addr)
			pkt, _ := EncodeDisconnect()
			return pkt
		}
	}

	key, ok := s.onAccept(addr, p.Token)
	if !ok {
		pkt, _ := EncodeDisconnect()
		return pkt
	}
	pkt, err := EncodeServerConnectResponse(key)
	if err != nil {
		slog.Error("handshake: encode connect response", "err", err)
		return nil
	}
	slog.Info("handshake: accepted", "addr", addr, "user_key", key)
	return pkt
}
