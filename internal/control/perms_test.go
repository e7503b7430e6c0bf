package control

import (
	"testing"

	"github.com/Duocast/TSOD/internal/ids"
)

func TestDefaultMemberCanJoinButNotManageRoles(t *testing.T) {
	db := NewPermissionDB()
	user := ids.NewUserID()
	server := ids.NewServerID()

	reqCtx := RequestContext{ServerID: server, UserID: user}
	if err := db.Decide(reqCtx, nil, CapJoinChannel); err != nil {
		t.Fatalf("expected default member to have join_channel, got %v", err)
	}
	if err := db.Decide(reqCtx, nil, CapManageRoles); err == nil {
		t.Fatalf("expected default member to lack manage_roles")
	}
}

func TestAdminBypassesAllChecks(t *testing.T) {
	db := NewPermissionDB()
	reqCtx := RequestContext{ServerID: ids.NewServerID(), UserID: ids.NewUserID(), IsAdmin: true}
	if err := db.Decide(reqCtx, nil, CapManageRoles); err != nil {
		t.Fatalf("expected admin bypass, got %v", err)
	}
}

func TestChannelOverrideDenyBeatsRoleGrant(t *testing.T) {
	db := NewPermissionDB()
	user := ids.NewUserID()
	server := ids.NewServerID()
	channel := ids.NewChannelID()

	db.SetUserRoles(user, []RoleID{"member"})
	db.SetChannelOverride(channel, user, ChannelOverride{
		Denies: map[Capability]struct{}{CapSpeak: {}},
	})

	reqCtx := RequestContext{ServerID: server, UserID: user}
	err := db.Decide(reqCtx, &channel, CapSpeak)
	if err == nil {
		t.Fatalf("expected channel-override deny to beat role grant")
	}
	if KindOf(err) != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied kind, got %v", KindOf(err))
	}
}

func TestChannelOverrideGrantBeatsRoleDefaultDeny(t *testing.T) {
	db := NewPermissionDB()
	user := ids.NewUserID()
	server := ids.NewServerID()
	channel := ids.NewChannelID()

	db.SetUserRoles(user, []RoleID{"member"})
	db.SetChannelOverride(channel, user, ChannelOverride{
		Grants: map[Capability]struct{}{CapManageChannel: {}},
	})

	reqCtx := RequestContext{ServerID: server, UserID: user}
	if err := db.Decide(reqCtx, &channel, CapManageChannel); err != nil {
		t.Fatalf("expected channel-override grant to override role default deny, got %v", err)
	}

	// Without the channel in scope, the same user still has no such grant.
	if err := db.Decide(reqCtx, nil, CapManageChannel); err == nil {
		t.Fatalf("expected no manage_channel outside the overridden channel")
	}
}

func TestRoleDenyBeatsRoleGrantAcrossMultipleRoles(t *testing.T) {
	db := NewPermissionDB()
	restricted := NewRole("restricted", "restricted")
	restricted.Denies[CapUpload] = struct{}{}
	db.roles[restricted.ID] = restricted

	user := ids.NewUserID()
	db.SetUserRoles(user, []RoleID{"member", "restricted"})

	reqCtx := RequestContext{ServerID: ids.NewServerID(), UserID: user}
	if err := db.Decide(reqCtx, nil, CapUpload); err == nil {
		t.Fatalf("expected restricted role's deny to win even though member grants upload")
	}
}
