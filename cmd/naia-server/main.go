// Command naia-server runs a naia server over QUIC/WebTransport
// datagrams: a token-issuance HTTP endpoint alongside the datagram
// listener, one Connection per accepted user, ticked by a plain
// time.Ticker.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"naia/internal/handshake"
	"naia/internal/ids"
	"naia/internal/memworld"
	"naia/internal/metrics"
	"naia/internal/replaycache"
	"naia/naia"
	"naia/protocol"
	"naia/transport/quictransport"
)

func main() {
	quicAddr := flag.String("quic-addr", ":4433", "WebTransport datagram listen address")
	tokenAddr := flag.String("token-addr", ":8080", "HTTP token-issuance listen address")
	metricsAddr := flag.String("metrics-addr", ":9100", "Prometheus /metrics listen address")
	replayDB := flag.String("replay-db", "naia-replay.db", "handshake replay cache sqlite path")
	signerKeyFlag := flag.String("signer-key", "", "HMAC key for handshake cookies (random if empty)")
	tokenTTL := flag.Duration("token-ttl", 30*time.Second, "how long an issued token remains valid")
	tickInterval := flag.Duration("tick-interval", naia.DefaultTickInterval, "simulation tick interval")
	flag.Parse()

	signerKey := []byte(*signerKeyFlag)
	if len(signerKey) == 0 {
		signerKey = make([]byte, 32)
		if _, err := rand.Read(signerKey); err != nil {
			log.Fatalf("[server] generate signer key: %v", err)
		}
		log.Printf("[server] no -signer-key given; generated an ephemeral one for this run")
	}

	replay, err := replaycache.New(*replayDB, 10*time.Minute)
	if err != nil {
		log.Fatalf("[server] replay cache: %v", err)
	}
	defer replay.Close()

	host := "localhost"
	tlsConfig, fingerprint, err := generateTLSConfig(24*time.Hour, host)
	if err != nil {
		log.Fatalf("[server] tls: %v", err)
	}
	log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)

	listener, err := quictransport.Listen(quictransport.ListenerConfig{
		Addr:      *quicAddr,
		TLSConfig: tlsConfig,
	})
	if err != nil {
		log.Fatalf("[server] listen: %v", err)
	}

	issuer := newTokenIssuer(*tokenTTL)

	msgReg := protocol.NewMessageRegistry()
	compReg := protocol.NewComponentRegistry()
	world := memworld.New(compReg)

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector([]string{"user"}, prometheus.Labels{"instance": "naia-server"})
	promReg.MustRegister(collector)

	cfg := naia.DefaultConfig()
	cfg.TickInterval = *tickInterval

	srv := naia.NewServer(cfg, listener.Socket(), signerKey, replay, handshake.DefaultRateLimit,
		msgReg, compReg, world, collector,
		func(addr net.Addr, token []byte) (ids.UserKey, bool) {
			if !issuer.consume(string(token)) {
				log.Printf("[server] rejected connect from %s: unknown or expired token", addr)
				return ids.UserKey{}, false
			}
			return ids.NewUserKey(), true
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go func() {
		if err := listener.Serve(); err != nil {
			log.Printf("[server] quic listener: %v", err)
		}
	}()
	defer listener.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.POST("/token", issuer.handleIssue)

	go func() {
		if err := e.Start(*tokenAddr); err != nil && err != http.ErrServerClosed {
			log.Printf("[server] token http: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Printf("[server] metrics http: %v", err)
		}
	}()

	log.Printf("[server] quic listening on %s, tokens on %s, metrics on %s", *quicAddr, *tokenAddr, *metricsAddr)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	metricsLogTicker := time.NewTicker(5 * time.Second)
	defer metricsLogTicker.Stop()
	lastLogAt := time.Now()
	var lastBytesSent, lastBytesRecv uint64

	for {
		select {
		case <-ctx.Done():
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.Shutdown(shutCtx)
			shutCancel()
			return
		case now := <-ticker.C:
			for _, ev := range srv.Update(now) {
				logEvent(ev)
			}
		case now := <-metricsLogTicker.C:
			elapsed := now.Sub(lastLogAt).Seconds()
			sentRate := uint64(float64(srv.BytesSent()-lastBytesSent) / elapsed)
			recvRate := uint64(float64(srv.BytesReceived()-lastBytesRecv) / elapsed)
			log.Printf("[server] throughput: %s/s out, %s/s in, %d peers",
				humanize.Bytes(sentRate), humanize.Bytes(recvRate), len(srv.Connections()))
			lastBytesSent, lastBytesRecv, lastLogAt = srv.BytesSent(), srv.BytesReceived(), now
		}
	}
}

func logEvent(ev naia.Event) {
	switch e := ev.(type) {
	case naia.ConnectEvent:
		log.Printf("[server] user %s connected", e.User)
	case naia.DisconnectEvent:
		log.Printf("[server] user %s disconnected (reason=%d)", e.User, e.Reason)
	}
}

// tokenIssuer hands out short-lived opaque tokens over HTTP, consumed
// once each by the handshake's onAccept hook. Mirrors the teacher's
// habit of keeping auth state in a small mutex-guarded map rather than
// reaching for a session store for something this short-lived.
type tokenIssuer struct {
	ttl time.Duration

	mu     sync.Mutex
	issued map[string]time.Time
}

func newTokenIssuer(ttl time.Duration) *tokenIssuer {
	return &tokenIssuer{ttl: ttl, issued: make(map[string]time.Time)}
}

func (t *tokenIssuer) handleIssue(c echo.Context) error {
	tok := uuid.New().String()
	t.mu.Lock()
	t.issued[tok] = time.Now().Add(t.ttl)
	t.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{"token": tok})
}

// consume reports whether token is currently valid and unused, removing
// it from the issued set either way so it can never be claimed twice.
func (t *tokenIssuer) consume(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry, ok := t.issued[token]
	delete(t.issued, token)
	return ok && time.Now().Before(expiry)
}

// generateTLSConfig creates a self-signed TLS certificate for the QUIC
// listener's ALPN-negotiated HTTP/3 handshake.
func generateTLSConfig(validity time.Duration, hostname string) (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("generate serial: %w", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(validity),
		DNSNames:     []string{hostname, "localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("create certificate: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	sum := sha256.Sum256(der)
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h3"}}, hex.EncodeToString(sum[:]), nil
}
