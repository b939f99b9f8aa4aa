package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"
)

// ErrCookieInvalid is returned when a Connect request's echoed cookie
// fails signature verification or has expired.
var ErrCookieInvalid = errors.New("handshake: invalid or expired cookie")

// cookieTTL bounds how long a server-issued Identify cookie remains
// acceptable in a Connect request, limiting the anti-spoofing window an
// attacker who captures one in flight could exploit.
const cookieTTL = 30 * time.Second

// CookieSigner mints and verifies the HMAC-signed timestamp cookies the
// server hands out in ServerIdentifyResponse and requires echoed back in
// ClientConnectRequest. This is the engine's defense against address
// spoofing: an attacker who only observes the Identify exchange cannot
// forge a cookie without the server's private key.
type CookieSigner struct {
	key []byte
}

// NewCookieSigner returns a signer keyed with the given server-private
// secret. The key should be generated once per server process (or
// persisted, if cookies must remain valid across restarts) and never
// transmitted.
func NewCookieSigner(key []byte) *CookieSigner {
	cp := make([]byte, len(key))
	copy(cp, key)
	return &CookieSigner{key: cp}
}

// Issue returns a signed cookie binding the given timestamp.
func (s *CookieSigner) Issue(now time.Time) []byte {
	return s.sign(now.UnixMilli())
}

// Verify checks that cookie was issued by this signer and has not
// expired relative to now.
func (s *CookieSigner) Verify(cookie []byte, now time.Time) error {
	if len(cookie) != 8+sha256.Size {
		return ErrCookieInvalid
	}
	ts := int64(binary.BigEndian.Uint64(cookie[:8]))
	want := s.sign(ts)
	if !hmac.Equal(want, cookie) {
		return ErrCookieInvalid
	}
	issued := time.UnixMilli(ts)
	if now.Sub(issued) > cookieTTL || issued.After(now) {
		return ErrCookieInvalid
	}
	return nil
}

func (s *CookieSigner) sign(unixMilli int64) []byte {
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(unixMilli))

	mac := hmac.New(sha256.New, s.key)
	mac.Write(tsBytes[:])
	sum := mac.Sum(nil)

	out := make([]byte, 0, 8+len(sum))
	out = append(out, tsBytes[:]...)
	out = append(out, sum...)
	return out
}
