package quictransport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"testing"
	"time"

	"naia/internal/socket"
)

func TestSendHealthCircuitBreaker(t *testing.T) {
	var h sendHealth

	for i := uint32(0); i < circuitBreakerThreshold-1; i++ {
		h.recordFailure()
		if h.shouldSkip() {
			t.Fatalf("breaker opened after only %d failures, want %d", i+1, circuitBreakerThreshold)
		}
	}
	h.recordFailure()
	if !h.shouldSkip() {
		t.Fatal("expected breaker to open once failures reach the threshold")
	}

	// Only every circuitBreakerProbeInterval-th skip should let a probe through.
	allowed := 0
	for i := 0; i < int(circuitBreakerProbeInterval)*2; i++ {
		if !h.shouldSkip() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected exactly 2 probe attempts across %d skips, got %d", int(circuitBreakerProbeInterval)*2, allowed)
	}

	if wasTripped := h.recordSuccess(); !wasTripped {
		t.Fatal("expected recordSuccess to report the breaker had been open")
	}
	if h.shouldSkip() {
		t.Fatal("expected breaker to be closed after a recorded success")
	}
}

func TestSessionAddrIdentity(t *testing.T) {
	a := sessionAddr(1)
	b := sessionAddr(2)
	if a == b {
		t.Fatal("expected distinct session addresses to compare unequal")
	}
	if a.Network() != "webtransport" {
		t.Fatalf("unexpected network name %q", a.Network())
	}
	if a.String() == b.String() {
		t.Fatal("expected distinct session addresses to stringify differently")
	}
}

func TestSocketRecvWouldBlockWhenEmpty(t *testing.T) {
	s := newSocket()
	_, _, err := s.Recv()
	if err != socket.ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock on an empty socket, got %v", err)
	}
}

func TestSocketSendRejectsUnknownAddr(t *testing.T) {
	s := newSocket()
	err := s.Send(sessionAddr(99), []byte("hello"))
	if err == nil {
		t.Fatal("expected an error sending to an unregistered session address")
	}
}

func TestSocketSendRejectsForeignAddrType(t *testing.T) {
	s := newSocket()
	err := s.Send(&net.UDPAddr{}, []byte("hello"))
	if err == nil {
		t.Fatal("expected an error sending to a non-sessionAddr net.Addr")
	}
}

// selfSignedConfig mints an ECDSA self-signed certificate good enough for a
// loopback integration test, mirroring the shape (not the full certificate
// lifecycle management) of naia's production TLS bootstrap.
func selfSignedConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "naia-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}},
		NextProtos:   []string{"h3"},
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve udp addr: %v", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestDialAndListenExchangeDatagrams(t *testing.T) {
	port := freeUDPPort(t)
	listenAddr := fmt.Sprintf("127.0.0.1:%d", port)

	listener, err := Listen(ListenerConfig{Addr: listenAddr, TLSConfig: selfSignedConfig(t)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		_ = listener.Serve()
	}()
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "https://"+listenAddr+"/naia", DialConfig{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	serverAddr, ok := client.ServerAddr()
	if !ok {
		t.Fatal("expected client socket to know its server address after dialing")
	}

	payload := []byte("hello from client")
	if err := client.Send(serverAddr, payload); err != nil {
		t.Fatalf("client send: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var fromAddr net.Addr
	var gotOnServer []byte
	for time.Now().Before(deadline) {
		a, data, err := listener.Socket().Recv()
		if err == nil {
			fromAddr, gotOnServer = a, data
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gotOnServer == nil {
		t.Fatal("server never received the client's datagram")
	}
	if string(gotOnServer) != string(payload) {
		t.Fatalf("server got %q, want %q", gotOnServer, payload)
	}

	reply := []byte("hello from server")
	if err := listener.Socket().Send(fromAddr, reply); err != nil {
		t.Fatalf("server send: %v", err)
	}

	deadline = time.Now().Add(3 * time.Second)
	var gotOnClient []byte
	for time.Now().Before(deadline) {
		_, data, err := client.Recv()
		if err == nil {
			gotOnClient = data
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gotOnClient == nil {
		t.Fatal("client never received the server's reply datagram")
	}
	if string(gotOnClient) != string(reply) {
		t.Fatalf("client got %q, want %q", gotOnClient, reply)
	}
}
