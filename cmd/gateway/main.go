// Command gateway is the voice platform's QUIC control-plane and voice
// forwarder process, wiring a SQLite-backed control repository, the
// control service, the voice forwarder, the gateway session manager, and
// the outbox dispatcher into one supervised process — grounded in the
// teacher's main.go (flag parsing, store bootstrap, signal-driven
// shutdown), generalized to the spec's component set and supervised with
// golang.org/x/sync/errgroup instead of the teacher's bare goroutine +
// no-WaitGroup shutdown, since this spec names explicit shutdown ordering
// guarantees (SPEC_FULL.md §5).
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Duocast/TSOD/internal/control"
	"github.com/Duocast/TSOD/internal/gateway"
	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/outbox"
	"github.com/Duocast/TSOD/internal/tlscert"
)

// Version is the gateway build version, printed by `gateway version` and
// reported in `gateway status`.
const Version = "0.1.0"

func main() {
	dbPath := "gateway.db"
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], dbPath) {
			return
		}
	}

	listenAddr := flag.String("listen", ":7443", "QUIC listen address")
	alpn := flag.String("alpn", gateway.DefaultALPN, "required ALPN token")
	flagDBPath := flag.String("db", dbPath, "SQLite database path")
	defaultServer := flag.String("default-server-id", "00000000-0000-0000-0000-0000000000aa", "server UUID new channels/dev-auth are scoped to")
	devToken := flag.String("dev-token", "dev", "static token accepted by the development auth provider")
	outboxPollMs := flag.Int("outbox-poll-ms", 200, "outbox dispatcher poll interval in milliseconds")
	outboxBatch := flag.Int("outbox-batch", 256, "outbox dispatcher claim batch size")
	outboxClaimTTLs := flag.Int64("outbox-claim-ttl-s", 30, "outbox claim lease TTL in seconds")
	maxConnections := flag.Int("max-connections", 500, "maximum concurrent QUIC connections (0=unlimited)")
	metricsListen := flag.String("metrics-listen", "", "Prometheus scrape address (external collaborator; unimplemented here, see spec.md §1)")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	tlsCertPath := flag.String("tls-cert", "", "TLS certificate path (empty: generate an ephemeral self-signed cert)")
	tlsKeyPath := flag.String("tls-key", "", "TLS private key path")
	flag.Parse()

	serverID, err := ids.ParseServerID(*defaultServer)
	if err != nil {
		log.Fatalf("[gateway] invalid -default-server-id: %v", err)
	}

	repo, err := control.NewSQLiteRepo(*flagDBPath)
	if err != nil {
		log.Fatalf("[control] %v", err)
	}
	defer repo.Close()

	seedDefaultChannel(repo, serverID)

	service := control.NewService(repo)

	var tlsConfig *tls.Config
	if *tlsCertPath != "" && *tlsKeyPath != "" {
		tlsConfig, err = tlscert.LoadFromFiles(*tlsCertPath, *tlsKeyPath)
		if err != nil {
			log.Fatalf("[tls] %v", err)
		}
	} else {
		hostname := ""
		if host, _, err := net.SplitHostPort(*listenAddr); err == nil && host != "" {
			hostname = host
		}
		var fingerprint string
		tlsConfig, fingerprint, err = tlscert.GenerateEphemeral(*certValidity, hostname)
		if err != nil {
			log.Fatalf("[tls] %v", err)
		}
		log.Printf("[tls] ephemeral certificate fingerprint: %s", fingerprint)
	}

	membership := gateway.NewMembershipCache()
	sessions := gateway.NewSessionMap()
	push := gateway.NewPushHub()
	auth := gateway.NewDevAuthProvider(*devToken)

	gwCfg := gateway.DefaultConfig(*listenAddr)
	gwCfg.ALPN = *alpn
	gwCfg.MaxConnections = *maxConnections

	gw := gateway.New(gwCfg, tlsConfig, service, auth, membership, sessions, push)

	if *metricsListen != "" {
		log.Printf("[gateway] metrics-listen=%s configured but the Prometheus scrape endpoint is an external collaborator, not implemented here (spec.md §1)", *metricsListen)
	}

	dispatcher := outbox.New(repo, membership, push, outbox.Config{
		ServerID:        serverID,
		PollInterval:    time.Duration(*outboxPollMs) * time.Millisecond,
		BatchSize:       *outboxBatch,
		ClaimTTLSeconds: *outboxClaimTTLs,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gw.Serve(gctx)
	})
	g.Go(func() error {
		if err := dispatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runOptimizeTicker(gctx, repo)
	})

	log.Printf("[gateway] version=%s listen=%s alpn=%s db=%s", Version, *listenAddr, *alpn, *flagDBPath)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[gateway] %v", err)
	}
	log.Printf("[gateway] shutdown complete")
}

// runOptimizeTicker periodically runs SQLite's query-planner statistics
// refresh, grounded in the teacher's store.go Optimize() call cadence.
func runOptimizeTicker(ctx context.Context, repo *control.SQLiteRepo) error {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := repo.Optimize(); err != nil {
				log.Printf("[control] optimize: %v", err)
			}
		}
	}
}

// seedDefaultChannel creates a "General" channel for server if none exist
// yet, mirroring the teacher's main.go seedDefaults first-run
// initialization.
func seedDefaultChannel(repo *control.SQLiteRepo, server ids.ServerID) {
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		log.Printf("[control] seed: begin: %v", err)
		return
	}
	defer tx.Rollback()

	existing, err := repo.ListChannels(ctx, tx, server)
	if err != nil {
		log.Printf("[control] seed: list channels: %v", err)
		return
	}
	if len(existing) > 0 {
		return
	}

	ch := control.Channel{
		ID:        ids.NewChannelID(),
		ServerID:  server,
		Name:      "General",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.CreateChannel(ctx, tx, ch); err != nil {
		log.Printf("[control] seed: create channel: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[control] seed: commit: %v", err)
		return
	}
	log.Printf("[control] seeded default channel %q (%s)", ch.Name, ch.ID)
}
