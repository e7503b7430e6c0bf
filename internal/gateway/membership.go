package gateway

import (
	"sync"

	"github.com/Duocast/TSOD/internal/forwarder"
	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

type userPresence struct {
	channel ids.ChannelID
	route   uint32
	muted   bool
}

type channelRuntime struct {
	maxTalkers int
	members    []ids.UserID
}

// MembershipCache is the gateway's in-memory runtime view of channel
// membership, pushed into by control.Service outbox consumers and read by
// the voice forwarder on every datagram. Grounded in
// original_source/server/gateway/src/state.rs's MembershipCache, backed
// here by sync.RWMutex-guarded maps rather than dashmap — the pack has no
// Go equivalent of dashmap, and the teacher's own room.go already protects
// its client/channel registries the same way.
type MembershipCache struct {
	mu       sync.RWMutex
	users    map[ids.UserID]userPresence
	channels map[ids.ChannelID]channelRuntime
}

func NewMembershipCache() *MembershipCache {
	return &MembershipCache{
		users:    make(map[ids.UserID]userPresence),
		channels: make(map[ids.ChannelID]channelRuntime),
	}
}

func (m *MembershipCache) SetChannel(channel ids.ChannelID, maxTalkers int, members []ids.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt := m.channels[channel]
	rt.maxTalkers = maxTalkers
	rt.members = members
	m.channels[channel] = rt
}

// SetUser records user's presence in channel and adds them to that
// channel's cached roster, removing them from any previously cached
// channel first. This keeps channels[channel].members correct regardless
// of whether this gateway instance ever handled the join locally (it may
// instead have learned about it from the outbox dispatcher) — ListMembers
// must never depend on SetChannel having been called first.
func (m *MembershipCache) SetUser(user ids.UserID, channel ids.ChannelID, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[user]; ok && prev.channel != channel {
		m.removeMemberLocked(prev.channel, user)
	}
	m.addMemberLocked(channel, user)
	m.users[user] = userPresence{
		channel: channel,
		route:   wire.ChannelRouteHash(channel.String()),
		muted:   muted,
	}
}

func (m *MembershipCache) addMemberLocked(channel ids.ChannelID, user ids.UserID) {
	rt := m.channels[channel]
	for _, u := range rt.members {
		if u == user {
			return
		}
	}
	rt.members = append(rt.members, user)
	m.channels[channel] = rt
}

func (m *MembershipCache) removeMemberLocked(channel ids.ChannelID, user ids.UserID) {
	rt, ok := m.channels[channel]
	if !ok {
		return
	}
	for i, u := range rt.members {
		if u == user {
			rt.members = append(rt.members[:i], rt.members[i+1:]...)
			break
		}
	}
	m.channels[channel] = rt
}

func (m *MembershipCache) RemoveUser(user ids.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[user]; ok {
		m.removeMemberLocked(prev.channel, user)
	}
	delete(m.users, user)
}

func (m *MembershipCache) UpdateMute(user ids.UserID, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[user]
	if !ok {
		return
	}
	p.muted = muted
	m.users[user] = p
}

// ResolveChannelForSender implements forwarder.MembershipProvider,
// verifying the full channel id behind the route hash so a 32-bit hash
// collision can never misroute a datagram (spec.md §9 Design Note 3).
func (m *MembershipCache) ResolveChannelForSender(sender ids.UserID, routeHash uint32) (ids.ChannelID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.users[sender]
	if !ok || p.route != routeHash {
		return ids.ChannelID{}, false
	}
	return p.channel, true
}

func (m *MembershipCache) ListMembers(channel ids.ChannelID) []ids.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[channel].members
}

func (m *MembershipCache) IsMuted(_ ids.ChannelID, sender ids.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[sender].muted
}

func (m *MembershipCache) MaxTalkers(channel ids.ChannelID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rt, ok := m.channels[channel]; ok && rt.maxTalkers > 0 {
		return rt.maxTalkers
	}
	return 4
}

var _ forwarder.MembershipProvider = (*MembershipCache)(nil)
