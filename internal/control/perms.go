package control

import (
	"context"
	"database/sql"
	"sync"

	"github.com/Duocast/TSOD/internal/ids"
)

// Capability is an action a role or channel override can grant or deny.
type Capability string

const (
	CapJoinChannel      Capability = "join_channel"
	CapSpeak            Capability = "speak"
	CapStream           Capability = "stream"
	CapUpload           Capability = "upload"
	CapCreateChannel    Capability = "create_channel"
	CapManageChannel    Capability = "manage_channel"
	CapModerateMembers  Capability = "moderate_members"
	CapManageRoles      Capability = "manage_roles"
)

// RoleID names a role, e.g. "admin" or "member".
type RoleID string

// Role grants and denies a set of capabilities. Denies take precedence over
// grants within the same role (negate semantics).
type Role struct {
	ID     RoleID
	Name   string
	Grants map[Capability]struct{}
	Denies map[Capability]struct{}
}

func NewRole(id RoleID, name string) *Role {
	return &Role{ID: id, Name: name, Grants: map[Capability]struct{}{}, Denies: map[Capability]struct{}{}}
}

func (r *Role) Grant(caps ...Capability) {
	for _, c := range caps {
		r.Grants[c] = struct{}{}
	}
}

// ChannelOverride is a per-(channel,user) grant/deny set, layered on top of
// role resolution.
type ChannelOverride struct {
	Grants map[Capability]struct{}
	Denies map[Capability]struct{}
}

// PermissionContext is the resolved set of roles and overrides for one
// (server, user) pair, used for a single decide_permission call.
type PermissionContext struct {
	ServerID         ids.ServerID
	UserID           ids.UserID
	Roles            []RoleID
	ChannelOverrides map[ids.ChannelID]ChannelOverride
}

// PermissionDB is a pure in-memory permission database: roles, per-user role
// assignments, and per-(channel,user) overrides, grounded on
// original_source's perms.rs PermissionDb. It exists to unit-test the
// four-step resolution algorithm in isolation from storage; decide_permission
// for a running gateway goes through the package-level DecidePermission
// below instead, which resolves the same algorithm against the persisted
// roles/role_capabilities/user_roles/channel_overrides tables so grants
// survive a restart and take effect without one.
type PermissionDB struct {
	mu               sync.RWMutex
	roles            map[RoleID]*Role
	userRoles        map[ids.UserID][]RoleID
	channelOverrides map[channelUserKey]ChannelOverride
}

type channelUserKey struct {
	channel ids.ChannelID
	user    ids.UserID
}

// NewPermissionDB seeds the default "admin" and "member" roles, matching
// perms.rs's PermissionDb::new_with_defaults.
func NewPermissionDB() *PermissionDB {
	db := &PermissionDB{
		roles:            map[RoleID]*Role{},
		userRoles:        map[ids.UserID][]RoleID{},
		channelOverrides: map[channelUserKey]ChannelOverride{},
	}

	admin := NewRole("admin", "admin")
	admin.Grant(CapJoinChannel, CapSpeak, CapStream, CapUpload, CapCreateChannel, CapManageChannel, CapModerateMembers, CapManageRoles)
	db.roles[admin.ID] = admin

	member := NewRole("member", "member")
	member.Grant(CapJoinChannel, CapSpeak, CapStream, CapUpload)
	db.roles[member.ID] = member

	return db
}

func (db *PermissionDB) SetUserRoles(user ids.UserID, roles []RoleID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.userRoles[user] = roles
}

func (db *PermissionDB) SetChannelOverride(channel ids.ChannelID, user ids.UserID, ov ChannelOverride) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.channelOverrides[channelUserKey{channel, user}] = ov
}

// BuildContext resolves the roles and channel overrides currently in effect
// for a user. Users with no assigned roles default to "member".
func (db *PermissionDB) BuildContext(server ids.ServerID, user ids.UserID) PermissionContext {
	db.mu.RLock()
	defer db.mu.RUnlock()

	roles := db.userRoles[user]
	if len(roles) == 0 {
		roles = []RoleID{"member"}
	}

	overrides := map[ids.ChannelID]ChannelOverride{}
	for k, ov := range db.channelOverrides {
		if k.user == user {
			overrides[k.channel] = ov
		}
	}

	return PermissionContext{ServerID: server, UserID: user, Roles: roles, ChannelOverrides: overrides}
}

// Check implements the four-step deny>grant resolution from
// original_source's perms.rs PermissionDb::check / repo.rs decide_permission:
// channel-override-deny, then role-deny, then channel-override-grant, then
// role-grant, defaulting to deny.
func (db *PermissionDB) Check(ctx PermissionContext, channel *ids.ChannelID, cap Capability) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if channel != nil {
		if ov, ok := ctx.ChannelOverrides[*channel]; ok {
			if _, denied := ov.Denies[cap]; denied {
				return PermissionDenied("capability denied by channel override")
			}
		}
	}

	for _, rid := range ctx.Roles {
		if role, ok := db.roles[rid]; ok {
			if _, denied := role.Denies[cap]; denied {
				return PermissionDenied("capability denied by role")
			}
		}
	}

	if channel != nil {
		if ov, ok := ctx.ChannelOverrides[*channel]; ok {
			if _, granted := ov.Grants[cap]; granted {
				return nil
			}
		}
	}

	for _, rid := range ctx.Roles {
		if role, ok := db.roles[rid]; ok {
			if _, granted := role.Grants[cap]; granted {
				return nil
			}
		}
	}

	return PermissionDenied("capability not granted")
}

// Decide is db's pure in-memory decision entry point: admins bypass all
// checks unconditionally (Testable Property 11). Used directly by unit
// tests exercising the resolution algorithm in isolation; the live request
// path goes through the repository-backed DecidePermission below instead,
// since db's role/override maps are never persisted.
func (db *PermissionDB) Decide(reqCtx RequestContext, channel *ids.ChannelID, cap Capability) error {
	if reqCtx.IsAdmin {
		return nil
	}
	pctx := db.BuildContext(reqCtx.ServerID, reqCtx.UserID)
	return db.Check(pctx, channel, cap)
}

type roleCaps struct {
	grants map[Capability]struct{}
	denies map[Capability]struct{}
}

// DecidePermission is decide_permission (spec.md §4.2): it resolves roles
// and overrides against the persisted roles/role_capabilities/user_roles/
// channel_overrides tables within tx, so a role or override change made via
// the admin CLI or a manage_roles request takes effect on that user's very
// next call — no restart, and no separate in-memory store to fall out of
// sync with it. Same four-step precedence as PermissionDB.Check: channel
// override deny, role deny, channel override grant, role grant, default
// deny.
func DecidePermission(ctx context.Context, repo Repo, tx *sql.Tx, reqCtx RequestContext, channel *ids.ChannelID, cap Capability) error {
	if reqCtx.IsAdmin {
		return nil
	}

	roleIDs, err := repo.UserRoles(ctx, tx, reqCtx.ServerID, reqCtx.UserID)
	if err != nil {
		return Internal("list user roles", err)
	}
	if len(roleIDs) == 0 {
		roleIDs = []RoleID{"member"}
	}

	caps := make([]roleCaps, len(roleIDs))
	for i, rid := range roleIDs {
		grants, denies, err := repo.RoleCapabilities(ctx, tx, rid)
		if err != nil {
			return Internal("list role capabilities", err)
		}
		caps[i] = roleCaps{grants: grants, denies: denies}
	}

	var override ChannelOverride
	if channel != nil {
		override, err = repo.ChannelOverride(ctx, tx, *channel, reqCtx.UserID)
		if err != nil {
			return Internal("get channel override", err)
		}
		if _, denied := override.Denies[cap]; denied {
			return PermissionDenied("capability denied by channel override")
		}
	}

	for _, rc := range caps {
		if _, denied := rc.denies[cap]; denied {
			return PermissionDenied("capability denied by role")
		}
	}

	if channel != nil {
		if _, granted := override.Grants[cap]; granted {
			return nil
		}
	}

	for _, rc := range caps {
		if _, granted := rc.grants[cap]; granted {
			return nil
		}
	}

	return PermissionDenied("capability not granted")
}
