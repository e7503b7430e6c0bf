// Package forwarder implements the voice datagram fanout pipeline described
// in SPEC_FULL.md §4.4, grounded in original_source/server/media/voice_forwarder.rs.
// It parses and validates incoming voice datagrams, enforces per-sender rate
// limits and per-channel talker gating, and forwards to channel members with
// bounded, drop-on-full per-receiver queues. It never decodes Opus and never
// mixes audio server-side.
package forwarder

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

// DatagramTx sends one datagram to a single connected session.
type DatagramTx interface {
	SendDatagram(ctx context.Context, payload []byte) error
}

// SessionRegistry maps an active user to its datagram send handle.
type SessionRegistry interface {
	DatagramTx(user ids.UserID) (DatagramTx, bool)
}

// MembershipProvider is the authoritative membership and moderation state,
// backed by the control plane's in-memory caches.
type MembershipProvider interface {
	// ResolveChannelForSender returns the channel a route hash authoritatively
	// maps to for sender, verifying against the full channel id to guard
	// against 32-bit hash collisions (spec.md §9 Design Note 3).
	ResolveChannelForSender(sender ids.UserID, routeHash uint32) (ids.ChannelID, bool)
	ListMembers(channel ids.ChannelID) []ids.UserID
	IsMuted(channel ids.ChannelID, sender ids.UserID) bool
	MaxTalkers(channel ids.ChannelID) int
}

// Metrics is an optional counters hook; NoopMetrics is the default.
type Metrics interface {
	IncRxPackets()
	IncRxBytes(n int)
	IncDropInvalid()
	IncDropRateLimited()
	IncDropNotMember()
	IncDropMuted()
	IncDropTalkerLimit()
	IncDropSendQueueFull()
	IncForwarded(fanout int)
}

type NoopMetrics struct{}

func (NoopMetrics) IncRxPackets()            {}
func (NoopMetrics) IncRxBytes(int)           {}
func (NoopMetrics) IncDropInvalid()          {}
func (NoopMetrics) IncDropRateLimited()      {}
func (NoopMetrics) IncDropNotMember()        {}
func (NoopMetrics) IncDropMuted()            {}
func (NoopMetrics) IncDropTalkerLimit()      {}
func (NoopMetrics) IncDropSendQueueFull()    {}
func (NoopMetrics) IncForwarded(fanout int)  {}

// Config holds the forwarder's tunable policy knobs. DefaultConfig matches
// original_source's VoiceForwarderConfig::default() exactly.
type Config struct {
	MaxDatagramBytes     int
	MinDatagramBytes     int
	SenderPPSLimit       int
	SenderBPSLimit       int
	PerReceiverQueue     int
	TalkerActivityWindow time.Duration
	MaxTimestampSkewMs   uint32
	VADRequiredForTalker bool
}

func DefaultConfig() Config {
	return Config{
		MaxDatagramBytes:     wire.MaxVoiceDatagramBytes,
		MinDatagramBytes:     wire.MinVoiceDatagramBytes,
		SenderPPSLimit:       200,
		SenderBPSLimit:       512 * 1024,
		PerReceiverQueue:     256,
		TalkerActivityWindow: 800 * time.Millisecond,
		MaxTimestampSkewMs:   2000,
		VADRequiredForTalker: false,
	}
}

// Forwarder is the voice datagram fanout engine. One instance serves an
// entire gateway process; all state is keyed by user/channel id and guarded
// by per-concern mutexes.
type Forwarder struct {
	cfg        Config
	sessions   SessionRegistry
	membership MembershipProvider
	metrics    Metrics

	sendLoopsMu sync.RWMutex
	sendLoops   map[ids.UserID]chan []byte // receiver send loops, keyed by user id

	talkersMu sync.Mutex
	talkers   map[ids.ChannelID]*talkerSet

	rateMu sync.Mutex
	rate   map[ids.UserID]*rateState
}

func New(cfg Config, sessions SessionRegistry, membership MembershipProvider, metrics Metrics) *Forwarder {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Forwarder{
		cfg:        cfg,
		sessions:   sessions,
		membership: membership,
		metrics:    metrics,
		sendLoops:  make(map[ids.UserID]chan []byte),
		talkers:    make(map[ids.ChannelID]*talkerSet),
		rate:       make(map[ids.UserID]*rateState),
	}
}

// HandleIncoming runs one datagram from sender through the full pipeline:
// size check, header parse, timestamp sanity, per-sender rate limit, channel
// resolution, mute gate, talker gating, and fanout. Every rejection is
// silent to the caller and only observable via Metrics, matching
// handle_incoming's behavior in voice_forwarder.rs.
func (f *Forwarder) HandleIncoming(ctx context.Context, sender ids.UserID, datagram []byte) {
	f.metrics.IncRxPackets()
	f.metrics.IncRxBytes(len(datagram))

	if len(datagram) < f.cfg.MinDatagramBytes || len(datagram) > f.cfg.MaxDatagramBytes {
		f.metrics.IncDropInvalid()
		return
	}

	header, err := wire.ParseVoiceHeader(datagram)
	if err != nil {
		f.metrics.IncDropInvalid()
		return
	}

	nowMs := uint32(time.Now().UnixMilli())
	if !wire.TimestampSane(nowMs, header.TimestampMillis, f.cfg.MaxTimestampSkewMs) {
		f.metrics.IncDropInvalid()
		return
	}

	if !f.allowRate(sender, len(datagram)) {
		f.metrics.IncDropRateLimited()
		return
	}

	channel, ok := f.membership.ResolveChannelForSender(sender, header.ChannelRouteHash)
	if !ok {
		f.metrics.IncDropNotMember()
		return
	}

	if f.membership.IsMuted(channel, sender) {
		f.metrics.IncDropMuted()
		return
	}

	if !f.cfg.VADRequiredForTalker || header.VoiceActive() {
		if !f.allowTalker(channel, sender) {
			f.metrics.IncDropTalkerLimit()
			return
		}
	}

	members := f.membership.ListMembers(channel)
	forwarded := 0
	for _, uid := range members {
		if uid == sender {
			continue
		}
		if f.enqueueToReceiver(ctx, uid, datagram) {
			forwarded++
		} else {
			f.metrics.IncDropSendQueueFull()
		}
	}
	f.metrics.IncForwarded(forwarded)
}

// DropSession forgets a receiver's send loop, e.g. on disconnect. The
// channel itself is never closed here: a concurrent enqueueToReceiver may
// already hold a reference to it, and sending on a closed channel panics.
// The abandoned loop goroutine exits once a SendDatagram call for a
// datagram still in its queue fails against the now-gone transport; with
// an empty queue it stays blocked waiting on the channel.
func (f *Forwarder) DropSession(user ids.UserID) {
	f.sendLoopsMu.Lock()
	delete(f.sendLoops, user)
	f.sendLoopsMu.Unlock()
}

func (f *Forwarder) enqueueToReceiver(ctx context.Context, receiver ids.UserID, datagram []byte) bool {
	f.sendLoopsMu.RLock()
	ch, ok := f.sendLoops[receiver]
	f.sendLoopsMu.RUnlock()
	if ok {
		return tryEnqueue(ch, datagram)
	}

	tx, ok := f.sessions.DatagramTx(receiver)
	if !ok {
		return false
	}

	f.sendLoopsMu.Lock()
	if existing, ok := f.sendLoops[receiver]; ok {
		f.sendLoopsMu.Unlock()
		return tryEnqueue(existing, datagram)
	}
	ch = make(chan []byte, f.cfg.PerReceiverQueue)
	f.sendLoops[receiver] = ch
	f.sendLoopsMu.Unlock()

	go f.runSendLoop(ctx, receiver, ch, tx)

	return tryEnqueue(ch, datagram)
}

func tryEnqueue(ch chan []byte, datagram []byte) bool {
	select {
	case ch <- datagram:
		return true
	default:
		return false
	}
}

// runSendLoop drains one receiver's queue until the transport errors, at
// which point the session is presumed gone and the loop exits. Nothing
// closes the queue channel.
func (f *Forwarder) runSendLoop(ctx context.Context, receiver ids.UserID, ch chan []byte, tx DatagramTx) {
	for pkt := range ch {
		if err := tx.SendDatagram(ctx, pkt); err != nil {
			f.DropSession(receiver)
			return
		}
	}
}
