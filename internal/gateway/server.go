// Package gateway implements the QUIC control-plane front door: ALPN
// gating, the hello/auth handshake, request/response dispatch, server
// push, and the voice datagram path, grounded in
// original_source/server/gateway/src/gateway.rs and the teacher's
// client.go connection lifecycle.
package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/Duocast/TSOD/internal/control"
	"github.com/Duocast/TSOD/internal/forwarder"
)

// Gateway accepts QUIC connections and drives each through the control
// handshake and request loop. One instance serves an entire process.
type Gateway struct {
	cfg        Config
	tlsConfig  *tls.Config
	service    *control.Service
	auth       AuthProvider
	forwarder  *forwarder.Forwarder
	membership *MembershipCache
	sessions   *SessionMap
	push       *PushHub

	connCount atomic.Int64
}

func New(cfg Config, tlsConfig *tls.Config, service *control.Service, auth AuthProvider, membership *MembershipCache, sessions *SessionMap, push *PushHub) *Gateway {
	tlsConfig.NextProtos = []string{cfg.ALPN}
	fw := forwarder.New(forwarder.DefaultConfig(), sessions, membership, nil)
	return &Gateway{
		cfg:        cfg,
		tlsConfig:  tlsConfig,
		service:    service,
		auth:       auth,
		forwarder:  fw,
		membership: membership,
		sessions:   sessions,
		push:       push,
	}
}

// Serve listens for QUIC connections and spawns a handler goroutine per
// connection until ctx is canceled, matching gateway.rs's serve loop
// (endpoint.accept() + tokio::spawn per connection) and the teacher's own
// accept-then-spawn pattern in server.go.
func (g *Gateway) Serve(ctx context.Context) error {
	quicCfg := &quic.Config{
		MaxIncomingStreams:    g.cfg.MaxConcurrentBidi,
		MaxIncomingUniStreams: g.cfg.MaxConcurrentUni,
		KeepAlivePeriod:       g.cfg.KeepAlivePeriod,
		MaxIdleTimeout:        g.cfg.MaxIdleTimeout,
		EnableDatagrams:       true,
	}

	ln, err := quic.ListenAddr(g.cfg.ListenAddr, g.tlsConfig, quicCfg)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.cfg.ListenAddr, err)
	}
	defer ln.Close()

	log.Printf("[gateway] listening on %s (alpn=%s)", g.cfg.ListenAddr, g.cfg.ALPN)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gateway: accept: %w", err)
		}

		if g.cfg.MaxConnections > 0 && g.connCount.Load() >= int64(g.cfg.MaxConnections) {
			_ = conn.CloseWithError(0, "too many connections")
			continue
		}

		g.connCount.Add(1)
		go func() {
			defer g.connCount.Add(-1)
			g.handleConn(ctx, conn)
		}()
	}
}
