package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Duocast/TSOD/internal/control"
	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

type fakeMembership struct {
	members map[ids.ChannelID][]ids.UserID
	muted   map[ids.UserID]bool
	removed []ids.UserID
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{members: map[ids.ChannelID][]ids.UserID{}, muted: map[ids.UserID]bool{}}
}

func (f *fakeMembership) SetUser(user ids.UserID, channel ids.ChannelID, muted bool) {
	present := false
	for _, u := range f.members[channel] {
		if u == user {
			present = true
		}
	}
	if !present {
		f.members[channel] = append(f.members[channel], user)
	}
	f.muted[user] = muted
}
func (f *fakeMembership) RemoveUser(user ids.UserID) { f.removed = append(f.removed, user) }
func (f *fakeMembership) UpdateMute(user ids.UserID, muted bool) { f.muted[user] = muted }
func (f *fakeMembership) ListMembers(channel ids.ChannelID) []ids.UserID { return f.members[channel] }

type fakePush struct {
	sent map[ids.UserID][]wire.ServerToClient
}

func newFakePush() *fakePush { return &fakePush{sent: map[ids.UserID][]wire.ServerToClient{}} }

func (f *fakePush) Send(user ids.UserID, msg wire.ServerToClient) bool {
	f.sent[user] = append(f.sent[user], msg)
	return true
}

func mustJSON(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestTranslateMemberJoined(t *testing.T) {
	server := ids.NewServerID()
	channel := ids.NewChannelID()
	user := ids.NewUserID()
	rec := control.OutboxEventRow{
		ID: "r1", ServerID: server, Topic: "presence.member_joined",
		PayloadJSON: mustJSON(t, map[string]any{
			"channel_id": channel.String(), "user_id": user.String(), "display_name": "Alice",
		}),
	}
	ch, push, err := translate(rec)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if ch != channel {
		t.Fatalf("channel mismatch")
	}
	if push.PresenceEvent == nil || push.PresenceEvent.MemberJoined == nil {
		t.Fatalf("expected MemberJoined presence event, got %+v", push)
	}
	if push.PresenceEvent.MemberJoined.DisplayName != "Alice" {
		t.Fatalf("display name not propagated")
	}
	if push.RequestID != 0 {
		t.Fatalf("push envelopes must carry request_id=0, got %d", push.RequestID)
	}
}

func TestTranslateUnsupportedTopic(t *testing.T) {
	rec := control.OutboxEventRow{Topic: "nonsense.topic", PayloadJSON: []byte(`{"channel_id":"` + ids.NewChannelID().String() + `"}`)}
	if _, _, err := translate(rec); err == nil {
		t.Fatalf("expected error for unsupported topic")
	}
}

func TestHandleRecordFansOutToLocalMembersOnly(t *testing.T) {
	channel := ids.NewChannelID()
	a, b, c := ids.NewUserID(), ids.NewUserID(), ids.NewUserID()

	membership := newFakeMembership()
	membership.members[channel] = []ids.UserID{a, b} // c is not a local member

	push := newFakePush()
	d := &Dispatcher{membership: membership, push: push, claimToken: "tok"}

	rec := control.OutboxEventRow{
		Topic: "presence.member_left",
		PayloadJSON: mustJSON(t, map[string]any{
			"channel_id": channel.String(), "user_id": c.String(),
		}),
	}
	if err := d.handleRecord(context.Background(), rec); err != nil {
		t.Fatalf("handleRecord: %v", err)
	}
	if len(push.sent[a]) != 1 || len(push.sent[b]) != 1 {
		t.Fatalf("expected both local members to receive the push")
	}
	if len(push.sent[c]) != 0 {
		t.Fatalf("non-member must not receive the push")
	}
}

func TestApplyCacheSideEffectsVoiceStateChanged(t *testing.T) {
	channel := ids.NewChannelID()
	user := ids.NewUserID()
	membership := newFakeMembership()
	d := &Dispatcher{membership: membership}

	rec := control.OutboxEventRow{
		Topic: "presence.voice_state_changed",
		PayloadJSON: mustJSON(t, map[string]any{
			"channel_id": channel.String(), "user_id": user.String(), "muted": true,
		}),
	}
	d.applyCacheSideEffects(rec)
	if !membership.muted[user] {
		t.Fatalf("expected membership cache to record muted=true")
	}
}

func TestDispatcherDefaultConfig(t *testing.T) {
	// Smoke-test the config defaults carry sane, spec-matching values
	// (poll_interval ~200ms, batch_size=256, claim_ttl_seconds=30).
	cfg := DefaultConfig(ids.NewServerID())
	if cfg.PollInterval != 200*time.Millisecond || cfg.BatchSize != 256 || cfg.ClaimTTLSeconds != 30 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
