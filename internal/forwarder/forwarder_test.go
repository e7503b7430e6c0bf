package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

// mockTx implements DatagramTx for tests.
type mockTx struct {
	mu       sync.Mutex
	received [][]byte
	err      error
}

func (m *mockTx) SendDatagram(_ context.Context, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.mu.Lock()
	m.received = append(m.received, cp)
	m.mu.Unlock()
	return nil
}

func (m *mockTx) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

// fakeSessions implements SessionRegistry over a plain map.
type fakeSessions struct {
	mu  sync.Mutex
	txs map[ids.UserID]DatagramTx
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{txs: make(map[ids.UserID]DatagramTx)}
}

func (f *fakeSessions) set(u ids.UserID, tx DatagramTx) {
	f.mu.Lock()
	f.txs[u] = tx
	f.mu.Unlock()
}

func (f *fakeSessions) DatagramTx(u ids.UserID) (DatagramTx, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[u]
	return tx, ok
}

// fakeMembership implements MembershipProvider with a single fixed channel.
type fakeMembership struct {
	mu         sync.Mutex
	channel    ids.ChannelID
	routeHash  uint32
	members    []ids.UserID
	muted      map[ids.UserID]bool
	maxTalkers int
}

func (f *fakeMembership) ResolveChannelForSender(_ ids.UserID, routeHash uint32) (ids.ChannelID, bool) {
	if routeHash != f.routeHash {
		return ids.ChannelID{}, false
	}
	return f.channel, true
}

func (f *fakeMembership) ListMembers(_ ids.ChannelID) []ids.UserID {
	return f.members
}

func (f *fakeMembership) IsMuted(_ ids.ChannelID, sender ids.UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted[sender]
}

func (f *fakeMembership) MaxTalkers(_ ids.ChannelID) int {
	return f.maxTalkers
}

func testDatagram(t *testing.T, routeHash uint32) []byte {
	t.Helper()
	h := wire.VoiceHeader{
		ChannelRouteHash: routeHash,
		SSRC:             1,
		Sequence:         1,
		TimestampMillis:  uint32(time.Now().UnixMilli()),
	}
	hdr := wire.EncodeVoiceHeader(h)
	return append(hdr, []byte("opus-frame")...)
}

func TestHandleIncomingForwardsToOtherMembers(t *testing.T) {
	channel := ids.NewChannelID()
	sender := ids.NewUserID()
	receiver := ids.NewUserID()

	membership := &fakeMembership{
		channel:    channel,
		routeHash:  42,
		members:    []ids.UserID{sender, receiver},
		muted:      map[ids.UserID]bool{},
		maxTalkers: 8,
	}
	sessions := newFakeSessions()
	rxTx := &mockTx{}
	sessions.set(receiver, rxTx)

	fw := New(DefaultConfig(), sessions, membership, nil)
	fw.HandleIncoming(context.Background(), sender, testDatagram(t, 42))

	deadline := time.Now().Add(time.Second)
	for rxTx.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rxTx.count() != 1 {
		t.Fatalf("expected 1 forwarded datagram, got %d", rxTx.count())
	}
}

func TestHandleIncomingDropsWhenNotMember(t *testing.T) {
	membership := &fakeMembership{routeHash: 1, muted: map[ids.UserID]bool{}, maxTalkers: 8}
	sessions := newFakeSessions()
	fw := New(DefaultConfig(), sessions, membership, nil)

	// routeHash 99 never resolves for this sender.
	fw.HandleIncoming(context.Background(), ids.NewUserID(), testDatagram(t, 99))
	// No panic and no forwarding is success here; nothing further to assert
	// without a session to observe.
}

func TestHandleIncomingDropsWhenMuted(t *testing.T) {
	channel := ids.NewChannelID()
	sender := ids.NewUserID()
	receiver := ids.NewUserID()

	membership := &fakeMembership{
		channel:    channel,
		routeHash:  7,
		members:    []ids.UserID{sender, receiver},
		muted:      map[ids.UserID]bool{sender: true},
		maxTalkers: 8,
	}
	sessions := newFakeSessions()
	rxTx := &mockTx{}
	sessions.set(receiver, rxTx)

	fw := New(DefaultConfig(), sessions, membership, nil)
	fw.HandleIncoming(context.Background(), sender, testDatagram(t, 7))

	time.Sleep(20 * time.Millisecond)
	if rxTx.count() != 0 {
		t.Fatalf("expected muted sender's datagram to be dropped, got %d forwarded", rxTx.count())
	}
}

func TestHandleIncomingRejectsShortDatagram(t *testing.T) {
	membership := &fakeMembership{routeHash: 1, muted: map[ids.UserID]bool{}, maxTalkers: 8}
	fw := New(DefaultConfig(), newFakeSessions(), membership, nil)
	fw.HandleIncoming(context.Background(), ids.NewUserID(), []byte("short"))
}

func TestAllowTalkerCapsConcurrentTalkers(t *testing.T) {
	channel := ids.NewChannelID()
	membership := &fakeMembership{channel: channel, maxTalkers: 1}
	fw := New(DefaultConfig(), newFakeSessions(), membership, nil)

	a := ids.NewUserID()
	b := ids.NewUserID()

	if !fw.allowTalker(channel, a) {
		t.Fatal("first talker should be admitted")
	}
	if fw.allowTalker(channel, b) {
		t.Fatal("second talker should be rejected when max_talkers=1")
	}
	if !fw.allowTalker(channel, a) {
		t.Fatal("existing talker should stay admitted on repeat activity")
	}
}

func TestAllowRateRejectsBurstBeyondLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SenderPPSLimit = 2
	cfg.SenderBPSLimit = 1 << 20
	fw := New(cfg, newFakeSessions(), &fakeMembership{maxTalkers: 8, muted: map[ids.UserID]bool{}}, nil)

	sender := ids.NewUserID()
	if !fw.allowRate(sender, 100) {
		t.Fatal("first packet should be allowed")
	}
	if !fw.allowRate(sender, 100) {
		t.Fatal("second packet should be allowed within burst of 2")
	}
	if fw.allowRate(sender, 100) {
		t.Fatal("third packet should be rate limited")
	}
}
