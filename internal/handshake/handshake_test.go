package handshake

import (
	"net"
	"testing"
	"time"

	"naia/internal/ids"
)

func TestCookieRoundTrip(t *testing.T) {
	signer := NewCookieSigner([]byte("server-secret"))
	now := time.Unix(1_700_000_000, 0)
	cookie := signer.Issue(now)
	if err := signer.Verify(cookie, now.Add(time.Second)); err != nil {
		t.Fatalf("expected valid cookie, got %v", err)
	}
}

func TestCookieExpires(t *testing.T) {
	signer := NewCookieSigner([]byte("server-secret"))
	now := time.Unix(1_700_000_000, 0)
	cookie := signer.Issue(now)
	if err := signer.Verify(cookie, now.Add(cookieTTL+time.Second)); err != ErrCookieInvalid {
		t.Fatalf("expected expired cookie to be rejected, got %v", err)
	}
}

func TestCookieRejectsTampering(t *testing.T) {
	signer := NewCookieSigner([]byte("server-secret"))
	other := NewCookieSigner([]byte("different-secret"))
	now := time.Unix(1_700_000_000, 0)
	cookie := other.Issue(now)
	if err := signer.Verify(cookie, now); err != ErrCookieInvalid {
		t.Fatalf("expected cookie signed by a different key to be rejected, got %v", err)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	pkt, err := EncodeClientIdentifyRequest([]byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	h, r, err := DecodePacket(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if h != ClientIdentifyRequest {
		t.Fatalf("header = %v, want ClientIdentifyRequest", h)
	}
	p, err := readIdentifyRequest(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(p.Token) != "abc" {
		t.Fatalf("token = %q, want abc", p.Token)
	}
}

func TestConnectResponseRoundTrip(t *testing.T) {
	key := ids.NewUserKey()
	pkt, err := EncodeServerConnectResponse(key)
	if err != nil {
		t.Fatal(err)
	}
	h, r, err := DecodePacket(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if h != ServerConnectResponse {
		t.Fatalf("header = %v, want ServerConnectResponse", h)
	}
	p, err := readConnectResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	if p.UserKey != key {
		t.Fatalf("user key = %v, want %v", p.UserKey, key)
	}
}

type fakeSocket struct {
	sent [][]byte
	to   net.Addr
}

func (f *fakeSocket) Send(addr net.Addr, data []byte) error {
	f.sent = append(f.sent, data)
	f.to = addr
	return nil
}
func (f *fakeSocket) Recv() (net.Addr, []byte, error) { return nil, nil, nil }
func (f *fakeSocket) ServerAddr() (net.Addr, bool)    { return f.to, f.to != nil }

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

func TestClientHandshakeFullRun(t *testing.T) {
	serverKey := []byte("server-secret")
	signer := NewCookieSigner(serverKey)

	addr := fakeAddr("server:1")
	client := NewClient(addr, []byte("abc"), 3, 10*time.Millisecond, DefaultSendInterval)
	sock := &fakeSocket{}

	now := time.Now()
	client.Update(now, sock)
	if client.State() != StateAwaitingIdentify {
		t.Fatalf("expected AwaitingIdentify, got %v", client.State())
	}

	cookie := signer.Issue(now)
	respPkt, err := EncodeServerIdentifyResponse(cookie)
	if err != nil {
		t.Fatal(err)
	}
	h, r, err := DecodePacket(respPkt)
	if err != nil {
		t.Fatal(err)
	}
	client.HandlePacket(now, h, r)
	if client.State() != StateTimeSyncing {
		t.Fatalf("expected TimeSyncing, got %v", client.State())
	}

	for i := 0; i < 3; i++ {
		t1 := now.Add(time.Duration(i) * 20 * time.Millisecond)
		t2 := t1.Add(5 * time.Millisecond)
		t3 := t2.Add(1 * time.Millisecond)
		t4 := t3.Add(5 * time.Millisecond)
		client.RecordSample(Sample{ClientSend: t1, ServerRecv: t2, ServerSend: t3, ClientRecv: t4})
	}
	client.Update(now, sock)
	if client.State() != StateAwaitingConnect {
		t.Fatalf("expected AwaitingConnect after sampling, got %v", client.State())
	}

	key := ids.NewUserKey()
	connPkt, err := EncodeServerConnectResponse(key)
	if err != nil {
		t.Fatal(err)
	}
	h, r, err = DecodePacket(connPkt)
	if err != nil {
		t.Fatal(err)
	}
	client.HandlePacket(now, h, r)
	if !client.Connected() {
		t.Fatalf("expected Connected, got %v", client.State())
	}
	if client.UserKey() != key {
		t.Fatalf("user key = %v, want %v", client.UserKey(), key)
	}
}

func TestServerRejectsReplayedCookie(t *testing.T) {
	serverKey := []byte("server-secret")
	replay := newMemReplayCache()
	srv := NewServer(serverKey, replay, DefaultRateLimit, func(net.Addr, []byte) (ids.UserKey, bool) {
		return ids.NewUserKey(), true
	})

	addr := fakeAddr("client:1")
	now := time.Now()

	idPkt, _ := EncodeClientIdentifyRequest([]byte("abc"))
	h, r, _ := DecodePacket(idPkt)
	respPkt := srv.HandlePacket(now, addr, h, r)
	if respPkt == nil {
		t.Fatal("expected identify response")
	}
	_, r, _ = DecodePacket(respPkt)
	idResp, err := readIdentifyResponse(r)
	if err != nil {
		t.Fatal(err)
	}

	connPkt, _ := EncodeClientConnectRequest(idResp.Cookie, []byte("abc"))
	h, r, _ = DecodePacket(connPkt)
	first := srv.HandlePacket(now, addr, h, r)
	fh, _, _ := DecodePacket(first)
	if fh != ServerConnectResponse {
		t.Fatalf("expected first connect to succeed, got %v", fh)
	}

	h, r, _ = DecodePacket(connPkt)
	second := srv.HandlePacket(now, addr, h, r)
	sh, _, _ := DecodePacket(second)
	if sh != Disconnect {
		t.Fatalf("expected replayed connect to be rejected, got %v", sh)
	}
}

// memReplayCache is a trivial in-memory ReplayCache for tests;
// internal/replaycache provides the durable sqlite-backed implementation.
type memReplayCache struct {
	seen map[string]bool
}

func newMemReplayCache() *memReplayCache { return &memReplayCache{seen: map[string]bool{}} }

func (m *memReplayCache) Claim(cookie []byte, _ time.Time) (bool, error) {
	key := string(cookie)
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}
