package gateway

import (
	"testing"

	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

func TestResolveChannelForSenderRejectsHashMismatch(t *testing.T) {
	m := NewMembershipCache()
	user := ids.NewUserID()
	channel := ids.NewChannelID()
	m.SetUser(user, channel, false)

	realHash := wire.ChannelRouteHash(channel.String())
	if _, ok := m.ResolveChannelForSender(user, realHash); !ok {
		t.Fatalf("expected resolution to succeed with the correct route hash")
	}
	if _, ok := m.ResolveChannelForSender(user, realHash+1); ok {
		t.Fatalf("expected resolution to fail on a mismatched route hash")
	}
}

func TestResolveChannelForSenderUnknownUser(t *testing.T) {
	m := NewMembershipCache()
	if _, ok := m.ResolveChannelForSender(ids.NewUserID(), 0); ok {
		t.Fatalf("expected no resolution for a user never registered")
	}
}

func TestUpdateMuteAndIsMuted(t *testing.T) {
	m := NewMembershipCache()
	user := ids.NewUserID()
	channel := ids.NewChannelID()
	m.SetUser(user, channel, false)
	if m.IsMuted(channel, user) {
		t.Fatalf("expected not muted initially")
	}
	m.UpdateMute(user, true)
	if !m.IsMuted(channel, user) {
		t.Fatalf("expected muted after UpdateMute(true)")
	}
}

func TestUpdateMuteOnUnknownUserIsNoop(t *testing.T) {
	m := NewMembershipCache()
	m.UpdateMute(ids.NewUserID(), true) // must not panic
}

func TestMaxTalkersDefaultsWhenUnset(t *testing.T) {
	m := NewMembershipCache()
	channel := ids.NewChannelID()
	if got := m.MaxTalkers(channel); got != 4 {
		t.Fatalf("expected default max talkers 4, got %d", got)
	}
	m.SetChannel(channel, 8, nil)
	if got := m.MaxTalkers(channel); got != 8 {
		t.Fatalf("expected configured max talkers 8, got %d", got)
	}
}

func TestRemoveUserClearsPresence(t *testing.T) {
	m := NewMembershipCache()
	user := ids.NewUserID()
	channel := ids.NewChannelID()
	m.SetUser(user, channel, false)
	m.RemoveUser(user)
	if _, ok := m.ResolveChannelForSender(user, wire.ChannelRouteHash(channel.String())); ok {
		t.Fatalf("expected no resolution after RemoveUser")
	}
}

func TestListMembersReturnsConfiguredSet(t *testing.T) {
	m := NewMembershipCache()
	channel := ids.NewChannelID()
	u1, u2 := ids.NewUserID(), ids.NewUserID()
	m.SetChannel(channel, 4, []ids.UserID{u1, u2})
	members := m.ListMembers(channel)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}
