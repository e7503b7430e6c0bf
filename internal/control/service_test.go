package control

import (
	"context"
	"testing"

	"github.com/Duocast/TSOD/internal/ids"
)

func newTestService(t *testing.T) (*Service, RequestContext) {
	t.Helper()
	repo := newTestRepo(t)
	svc := NewService(repo)
	reqCtx := RequestContext{ServerID: ids.NewServerID(), UserID: ids.NewUserID(), IsAdmin: true}
	return svc, reqCtx
}

func TestCreateChannelRequiresCapability(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()

	ch, err := svc.CreateChannel(ctx, adminCtx, "general", nil, nil, nil)
	if err != nil {
		t.Fatalf("admin create channel: %v", err)
	}
	if ch.Name != "general" {
		t.Fatalf("got name %q", ch.Name)
	}

	nonAdmin := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.CreateChannel(ctx, nonAdmin, "other", nil, nil, nil); KindOf(err) != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied for plain member creating a channel, got %v", err)
	}
}

func TestCreateChannelRejectsEmptyName(t *testing.T) {
	svc, adminCtx := newTestService(t)
	if _, err := svc.CreateChannel(context.Background(), adminCtx, "   ", nil, nil, nil); KindOf(err) != KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for blank name, got %v", err)
	}
}

func TestJoinChannelResourceExhaustedWhenFull(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	max := 1
	ch, err := svc.CreateChannel(ctx, adminCtx, "tiny", nil, &max, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	first := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.JoinChannel(ctx, first, ch.ID, "alice"); err != nil {
		t.Fatalf("first join: %v", err)
	}

	second := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.JoinChannel(ctx, second, ch.ID, "bob"); KindOf(err) != KindResourceExhausted {
		t.Fatalf("expected ResourceExhausted when channel is at max_members, got %v", err)
	}
}

func TestJoinChannelReturnsMembersOrderedByJoinedAt(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	ch, err := svc.CreateChannel(ctx, adminCtx, "lobby", nil, nil, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	u1 := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	u2 := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.JoinChannel(ctx, u1, ch.ID, "alice"); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	view, err := svc.JoinChannel(ctx, u2, ch.ID, "bob")
	if err != nil {
		t.Fatalf("join u2: %v", err)
	}
	if len(view.Members) != 2 {
		t.Fatalf("expected 2 members in view, got %d", len(view.Members))
	}
	if view.Members[0].UserID != u1.UserID {
		t.Fatalf("expected first joiner first in member list")
	}
}

func TestLeaveChannelNotFoundForNonMember(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	nonMember := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	err := svc.LeaveChannel(ctx, nonMember, ids.NewChannelID())
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected NotFound leaving a channel never joined, got %v", err)
	}
}

func TestSendMessagePermissionDeniedForNonMember(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	ch, err := svc.CreateChannel(ctx, adminCtx, "general", nil, nil, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	nonMember := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.SendMessage(ctx, nonMember, ch.ID, "hi", nil); KindOf(err) != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied sending without membership, got %v", err)
	}
}

func TestSendMessageSucceedsForMember(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	ch, err := svc.CreateChannel(ctx, adminCtx, "general", nil, nil, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	member := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.JoinChannel(ctx, member, ch.ID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	msg, err := svc.SendMessage(ctx, member, ch.ID, "hello world", nil)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.Text != "hello world" {
		t.Fatalf("got text %q", msg.Text)
	}
}

func TestJoinChannelIsIdempotentAndPreservesJoinedAt(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	ch, err := svc.CreateChannel(ctx, adminCtx, "general", nil, nil, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	member := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	first, err := svc.JoinChannel(ctx, member, ch.ID, "alice")
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	second, err := svc.JoinChannel(ctx, member, ch.ID, "alice-renamed")
	if err != nil {
		t.Fatalf("repeat join (refresh) should succeed, got %v", err)
	}
	if len(second.Members) != 1 {
		t.Fatalf("expected still 1 member after repeat join, got %d", len(second.Members))
	}
	if !second.Members[0].JoinedAt.Equal(first.Members[0].JoinedAt) {
		t.Fatalf("expected joined_at to survive a repeat join: first=%v second=%v",
			first.Members[0].JoinedAt, second.Members[0].JoinedAt)
	}
}

func TestModerateMuteRequiresModerationCapability(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	ch, err := svc.CreateChannel(ctx, adminCtx, "general", nil, nil, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	target := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.JoinChannel(ctx, target, ch.ID, "bob"); err != nil {
		t.Fatalf("join target: %v", err)
	}

	plainMember := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.ModerateMute(ctx, plainMember, ch.ID, target.UserID, true, 0); KindOf(err) != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied for a plain member moderating, got %v", err)
	}

	if _, err := svc.ModerateMute(ctx, adminCtx, ch.ID, target.UserID, true, 60); err != nil {
		t.Fatalf("admin moderate mute: %v", err)
	}
}

// TestSetUserRolesGrantsModerateMembersAtRuntime confirms a plain member
// granted "admin" through SetUserRoles can immediately moderate without a
// process restart, and that a non-admin cannot grant roles to themselves.
func TestSetUserRolesGrantsModerateMembersAtRuntime(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	ch, err := svc.CreateChannel(ctx, adminCtx, "general", nil, nil, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	target := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.JoinChannel(ctx, target, ch.ID, "bob"); err != nil {
		t.Fatalf("join target: %v", err)
	}

	promoted := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if err := svc.SetUserRoles(ctx, promoted, promoted.UserID, []RoleID{"admin"}); KindOf(err) != KindPermissionDenied {
		t.Fatalf("expected a non-admin granting itself a role to be denied, got %v", err)
	}

	if err := svc.SetUserRoles(ctx, adminCtx, promoted.UserID, []RoleID{"admin"}); err != nil {
		t.Fatalf("admin grant role: %v", err)
	}

	if _, err := svc.ModerateMute(ctx, promoted, ch.ID, target.UserID, true, 0); err != nil {
		t.Fatalf("expected newly-promoted user to moderate successfully, got %v", err)
	}
}

// TestSetChannelOverrideTakesEffectImmediately confirms a channel-scoped
// grant reaches decide_permission on the very next call.
func TestSetChannelOverrideTakesEffectImmediately(t *testing.T) {
	svc, adminCtx := newTestService(t)
	ctx := context.Background()
	ch, err := svc.CreateChannel(ctx, adminCtx, "general", nil, nil, nil)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	target := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.JoinChannel(ctx, target, ch.ID, "bob"); err != nil {
		t.Fatalf("join target: %v", err)
	}

	member := RequestContext{ServerID: adminCtx.ServerID, UserID: ids.NewUserID()}
	if _, err := svc.ModerateMute(ctx, member, ch.ID, target.UserID, true, 0); KindOf(err) != KindPermissionDenied {
		t.Fatalf("expected plain member to lack moderate_members before the override, got %v", err)
	}

	if err := svc.SetChannelOverride(ctx, adminCtx, ch.ID, member.UserID, ChannelOverride{
		Grants: map[Capability]struct{}{CapModerateMembers: {}},
	}); err != nil {
		t.Fatalf("set channel override: %v", err)
	}

	if _, err := svc.ModerateMute(ctx, member, ch.ID, target.UserID, true, 0); err != nil {
		t.Fatalf("expected channel override to grant moderate_members, got %v", err)
	}
}
