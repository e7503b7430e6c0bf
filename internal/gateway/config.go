package gateway

import "time"

// DefaultALPN is the required ALPN token, per spec.md §6's default
// identifier format ("vp-control/1"). A mismatch closes the connection
// before any state is allocated.
const DefaultALPN = "vp-control/1"

const controlStreamHandshakeTimeout = 10 * time.Second

// Config holds the QUIC transport and protocol knobs the gateway listens
// with, grounded in original_source/server/gateway/src/gateway.rs and
// spec.md §6's transport configuration paragraph.
type Config struct {
	ListenAddr        string
	ALPN              string
	MaxConcurrentBidi int64
	MaxConcurrentUni  int64
	KeepAlivePeriod   time.Duration
	MaxIdleTimeout    time.Duration
	// MaxConnections caps total concurrent QUIC connections (0 = unlimited),
	// grounded in the teacher's room.go CanConnect/SetMaxConnections gate.
	MaxConnections int
}

func DefaultConfig(listenAddr string) Config {
	return Config{
		ListenAddr:        listenAddr,
		ALPN:              DefaultALPN,
		MaxConcurrentBidi: 64,
		MaxConcurrentUni:  64,
		KeepAlivePeriod:   10 * time.Second,
		MaxIdleTimeout:    30 * time.Second,
		MaxConnections:    500,
	}
}
