// Command naia-client connects to a naia server over QUIC/WebTransport
// datagrams: it first fetches a one-time token from the server's HTTP
// endpoint, then dials the datagram transport and drives naia.Client
// from a plain time.Ticker.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"naia/internal/memworld"
	"naia/naia"
	"naia/protocol"
	"naia/transport/quictransport"
)

func main() {
	serverURL := flag.String("server-url", "https://localhost:4433/naia", "WebTransport session URL")
	tokenURL := flag.String("token-url", "https://localhost:8080/token", "HTTP token-issuance URL")
	insecure := flag.Bool("insecure-skip-verify", true, "skip TLS certificate verification (self-signed dev servers)")
	tickInterval := flag.Duration("tick-interval", naia.DefaultTickInterval, "simulation tick interval")
	flag.Parse()

	token, err := fetchToken(*tokenURL, *insecure)
	if err != nil {
		log.Fatalf("[client] fetch token: %v", err)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: *insecure}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[client] shutting down...")
		cancel()
	}()

	sock, err := quictransport.Dial(ctx, *serverURL, quictransport.DialConfig{TLSClientConfig: tlsConfig})
	if err != nil {
		log.Fatalf("[client] dial: %v", err)
	}

	serverAddr, ok := sock.ServerAddr()
	if !ok {
		log.Fatalf("[client] dial succeeded but no server address was recorded")
	}

	msgReg := protocol.NewMessageRegistry()
	compReg := protocol.NewComponentRegistry()
	world := memworld.New(compReg)

	cfg := naia.DefaultConfig()
	cfg.TickInterval = *tickInterval

	cl := naia.NewClient(cfg, sock, serverAddr, token, msgReg, compReg, world)

	log.Printf("[client] connecting to %s", *serverURL)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cl.Disconnect(time.Now())
			return
		case now := <-ticker.C:
			for _, ev := range cl.Update(now) {
				logEvent(ev)
			}
		}
	}
}

func logEvent(ev naia.Event) {
	switch e := ev.(type) {
	case naia.ConnectEvent:
		log.Printf("[client] connected as %s", e.User)
	case naia.RejectEvent:
		log.Printf("[client] handshake rejected: %s", e.Reason)
	case naia.DisconnectEvent:
		log.Printf("[client] disconnected (reason=%d)", e.Reason)
	}
}

// fetchToken asks the server's token endpoint for a one-time identity
// token to present during the handshake's Connect step.
func fetchToken(url string, insecureSkipVerify bool) ([]byte, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify}},
		Timeout:   5 * time.Second,
	}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return []byte(body.Token), nil
}
