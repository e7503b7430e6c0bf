package control

import (
	"context"
	"database/sql"

	"github.com/Duocast/TSOD/internal/ids"
)

// Repo is the transactional persistence boundary for the control plane.
// Every mutating method takes the transaction it must run in; the caller
// (Service) owns begin/commit/rollback so that state change, audit entry and
// outbox event land in one durable unit (SPEC_FULL.md §4.2/§4.3). Grounded
// in original_source's repo.rs ControlRepo trait.
type Repo interface {
	Begin(ctx context.Context) (*sql.Tx, error)

	CreateChannel(ctx context.Context, tx *sql.Tx, ch Channel) error
	GetChannel(ctx context.Context, tx *sql.Tx, server ids.ServerID, id ids.ChannelID) (Channel, error)
	ListChannels(ctx context.Context, tx *sql.Tx, server ids.ServerID) ([]Channel, error)

	CountMembers(ctx context.Context, tx *sql.Tx, channel ids.ChannelID) (int, error)
	UpsertMember(ctx context.Context, tx *sql.Tx, m Member) error
	DeleteMember(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID) error
	ListMembers(ctx context.Context, tx *sql.Tx, channel ids.ChannelID) ([]Member, error)
	GetMember(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID) (Member, error)

	InsertChatMessage(ctx context.Context, tx *sql.Tx, msg ChatMessage) error

	InsertOutbox(ctx context.Context, tx *sql.Tx, id string, server ids.ServerID, topic, key string, payload []byte) error
	ClaimOutboxBatch(ctx context.Context, tx *sql.Tx, server ids.ServerID, claimToken string, leaseSeconds int64, limit int) ([]OutboxEventRow, error)
	AckOutboxPublished(ctx context.Context, tx *sql.Tx, ids []string, claimToken string) error

	InsertAudit(ctx context.Context, tx *sql.Tx, entry AuditEntry) error

	// Role and override persistence backs decide_permission's user_roles and
	// channel_overrides lookups (SPEC_FULL.md §3/§4.2); RoleCapabilities
	// reads the static grant/deny set a role was seeded with.
	RoleCapabilities(ctx context.Context, tx *sql.Tx, role RoleID) (grants, denies map[Capability]struct{}, err error)
	UserRoles(ctx context.Context, tx *sql.Tx, server ids.ServerID, user ids.UserID) ([]RoleID, error)
	SetUserRoles(ctx context.Context, tx *sql.Tx, server ids.ServerID, user ids.UserID, roles []RoleID) error
	ChannelOverride(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID) (ChannelOverride, error)
	SetChannelOverride(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID, ov ChannelOverride) error
}
