// Package control implements the transactional control plane: channel and
// membership persistence, permission decisions, and the outbox pattern that
// couples state changes to durable, at-least-once-delivered events.
package control

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/Duocast/TSOD/internal/ids"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1. Append, never edit or
// reorder, matching the teacher's store/store.go migration discipline.
var migrations = []string{
	// v1–v2 — channels
	`CREATE TABLE IF NOT EXISTS channels (
		id          TEXT PRIMARY KEY,
		server_id   TEXT NOT NULL,
		name        TEXT NOT NULL,
		parent_id   TEXT,
		max_members INTEGER,
		max_talkers INTEGER,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id)`,

	// v3 — channel membership
	`CREATE TABLE IF NOT EXISTS channel_members (
		channel_id   TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		display_name TEXT NOT NULL,
		muted        INTEGER NOT NULL DEFAULT 0,
		deafened     INTEGER NOT NULL DEFAULT 0,
		joined_at    TEXT NOT NULL,
		PRIMARY KEY (channel_id, user_id)
	)`,

	// v4–v5 — chat messages
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id             TEXT PRIMARY KEY,
		server_id      TEXT NOT NULL,
		channel_id     TEXT NOT NULL,
		author_user_id TEXT NOT NULL,
		text           TEXT NOT NULL,
		attachments    TEXT NOT NULL DEFAULT '[]',
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_channel ON chat_messages(channel_id, created_at)`,

	// v6–v7 — outbox
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id           TEXT PRIMARY KEY,
		server_id    TEXT NOT NULL,
		topic        TEXT NOT NULL,
		key          TEXT NOT NULL,
		payload      TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		claim_token  TEXT,
		claimed_at   TEXT,
		published_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(server_id, published_at, created_at)`,

	// v8 — audit log
	`CREATE TABLE IF NOT EXISTS audit_log (
		id             TEXT PRIMARY KEY,
		server_id      TEXT NOT NULL,
		actor_user_id  TEXT,
		action         TEXT NOT NULL,
		target_type    TEXT NOT NULL,
		target_id      TEXT NOT NULL,
		context        TEXT NOT NULL DEFAULT '{}',
		created_at     TEXT NOT NULL
	)`,

	// v9–v12 — role/permission model (supplemented from original_source's
	// perms.rs/membership.rs; see SPEC_FULL.md §12)
	`CREATE TABLE IF NOT EXISTS roles (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS role_capabilities (
		role_id    TEXT NOT NULL,
		capability TEXT NOT NULL,
		effect     TEXT NOT NULL CHECK (effect IN ('grant','deny')),
		PRIMARY KEY (role_id, capability, effect)
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		server_id TEXT NOT NULL,
		user_id   TEXT NOT NULL,
		role_id   TEXT NOT NULL,
		PRIMARY KEY (server_id, user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channel_overrides (
		channel_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		capability TEXT NOT NULL,
		effect     TEXT NOT NULL CHECK (effect IN ('grant','deny')),
		PRIMARY KEY (channel_id, user_id, capability, effect)
	)`,

	// v13 — WAL mode for concurrent readers
	`PRAGMA journal_mode=WAL`,

	// v14–v15 — seed the default admin/member roles so a fresh database has
	// working role resolution from first boot (SPEC_FULL.md §12).
	`INSERT OR IGNORE INTO roles (id, name) VALUES ('admin', 'admin'), ('member', 'member')`,
	`INSERT OR IGNORE INTO role_capabilities (role_id, capability, effect) VALUES
		('admin', 'join_channel', 'grant'),
		('admin', 'speak', 'grant'),
		('admin', 'stream', 'grant'),
		('admin', 'upload', 'grant'),
		('admin', 'create_channel', 'grant'),
		('admin', 'manage_channel', 'grant'),
		('admin', 'moderate_members', 'grant'),
		('admin', 'manage_roles', 'grant'),
		('member', 'join_channel', 'grant'),
		('member', 'speak', 'grant'),
		('member', 'stream', 'grant'),
		('member', 'upload', 'grant')`,
}

const timeLayout = time.RFC3339Nano

// SQLiteRepo is the production Repo backend. Grounded on the teacher's
// store/store.go (migration slice + schema_migrations tracking table, WAL +
// busy_timeout pragmas, bounded connection pool), generalized here to expose
// explicit *sql.Tx parameters on every mutating method so the control
// service can compose state change + audit + outbox atomically.
type SQLiteRepo struct {
	db *sql.DB
}

// NewSQLiteRepo opens (or creates) the SQLite database at path and applies
// any pending migrations. Use ":memory:" for ephemeral storage in tests.
func NewSQLiteRepo(path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[control] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[control] busy_timeout: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		log.Printf("[control] foreign_keys: %v (non-fatal)", err)
	}

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepo) Close() error { return r.db.Close() }

func (r *SQLiteRepo) migrate() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := r.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := r.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[control] applied migration v%d", v)
	}
	return nil
}

// Optimize runs SQLite's query-planner statistics refresh, grounded on the
// teacher's store.go Optimize(), invoked periodically from cmd/gateway.
func (r *SQLiteRepo) Optimize() error {
	_, err := r.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup snapshots the database to destPath, grounded on the teacher's
// store.go Backup() (VACUUM INTO), invoked from the `gateway backup`
// CLI subcommand.
func (r *SQLiteRepo) Backup(destPath string) error {
	_, err := r.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}

func (r *SQLiteRepo) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func (r *SQLiteRepo) CreateChannel(ctx context.Context, tx *sql.Tx, ch Channel) error {
	var parent any
	if ch.ParentID != nil {
		parent = ch.ParentID.String()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO channels (id, server_id, name, parent_id, max_members, max_talkers, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		ch.ID.String(), ch.ServerID.String(), ch.Name, parent, ch.MaxMembers, ch.MaxTalkers,
		ch.CreatedAt.Format(timeLayout), ch.UpdatedAt.Format(timeLayout))
	if err != nil {
		return Internal("insert channel", err)
	}
	return nil
}

func (r *SQLiteRepo) GetChannel(ctx context.Context, tx *sql.Tx, server ids.ServerID, id ids.ChannelID) (Channel, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, server_id, name, parent_id, max_members, max_talkers, created_at, updated_at
		FROM channels WHERE server_id=? AND id=?`, server.String(), id.String())
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return Channel{}, NotFound("channel")
	}
	if err != nil {
		return Channel{}, Internal("get channel", err)
	}
	return ch, nil
}

func (r *SQLiteRepo) ListChannels(ctx context.Context, tx *sql.Tx, server ids.ServerID) ([]Channel, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, server_id, name, parent_id, max_members, max_talkers, created_at, updated_at
		FROM channels WHERE server_id=? ORDER BY name ASC`, server.String())
	if err != nil {
		return nil, Internal("list channels", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, Internal("scan channel", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(s scanner) (Channel, error) {
	var (
		idStr, serverStr, name, createdAt, updatedAt string
		parentStr                                    sql.NullString
		maxMembers, maxTalkers                       sql.NullInt64
	)
	if err := s.Scan(&idStr, &serverStr, &name, &parentStr, &maxMembers, &maxTalkers, &createdAt, &updatedAt); err != nil {
		return Channel{}, err
	}
	ch := Channel{Name: name}
	var err error
	if ch.ID, err = ids.ParseChannelID(idStr); err != nil {
		return Channel{}, err
	}
	if ch.ServerID, err = ids.ParseServerID(serverStr); err != nil {
		return Channel{}, err
	}
	if parentStr.Valid {
		p, err := ids.ParseChannelID(parentStr.String)
		if err != nil {
			return Channel{}, err
		}
		ch.ParentID = &p
	}
	if maxMembers.Valid {
		v := int(maxMembers.Int64)
		ch.MaxMembers = &v
	}
	if maxTalkers.Valid {
		v := int(maxTalkers.Int64)
		ch.MaxTalkers = &v
	}
	if ch.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Channel{}, err
	}
	if ch.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

func (r *SQLiteRepo) CountMembers(ctx context.Context, tx *sql.Tx, channel ids.ChannelID) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel_members WHERE channel_id=?`, channel.String()).Scan(&n)
	if err != nil {
		return 0, Internal("count members", err)
	}
	return n, nil
}

// UpsertMember inserts or updates display_name/muted/deafened; joined_at is
// preserved on update, matching original_source's repo.rs upsert_member
// (ON CONFLICT DO UPDATE that never touches joined_at).
func (r *SQLiteRepo) UpsertMember(ctx context.Context, tx *sql.Tx, m Member) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO channel_members (channel_id, user_id, display_name, muted, deafened, joined_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(channel_id, user_id) DO UPDATE SET
			display_name=excluded.display_name,
			muted=excluded.muted,
			deafened=excluded.deafened`,
		m.ChannelID.String(), m.UserID.String(), m.DisplayName, m.Muted, m.Deafened, m.JoinedAt.Format(timeLayout))
	if err != nil {
		return Internal("upsert member", err)
	}
	return nil
}

func (r *SQLiteRepo) DeleteMember(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM channel_members WHERE channel_id=? AND user_id=?`, channel.String(), user.String())
	if err != nil {
		return Internal("delete member", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Internal("delete member rows affected", err)
	}
	if n == 0 {
		return NotFound("member")
	}
	return nil
}

func (r *SQLiteRepo) ListMembers(ctx context.Context, tx *sql.Tx, channel ids.ChannelID) ([]Member, error) {
	rows, err := tx.QueryContext(ctx, `SELECT channel_id, user_id, display_name, muted, deafened, joined_at
		FROM channel_members WHERE channel_id=? ORDER BY joined_at ASC`, channel.String())
	if err != nil {
		return nil, Internal("list members", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, Internal("scan member", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) GetMember(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID) (Member, error) {
	row := tx.QueryRowContext(ctx, `SELECT channel_id, user_id, display_name, muted, deafened, joined_at
		FROM channel_members WHERE channel_id=? AND user_id=?`, channel.String(), user.String())
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return Member{}, NotFound("member")
	}
	if err != nil {
		return Member{}, Internal("get member", err)
	}
	return m, nil
}

func scanMember(s scanner) (Member, error) {
	var (
		channelStr, userStr, displayName, joinedAt string
		muted, deafened                            bool
	)
	if err := s.Scan(&channelStr, &userStr, &displayName, &muted, &deafened, &joinedAt); err != nil {
		return Member{}, err
	}
	m := Member{DisplayName: displayName, Muted: muted, Deafened: deafened}
	var err error
	if m.ChannelID, err = ids.ParseChannelID(channelStr); err != nil {
		return Member{}, err
	}
	if m.UserID, err = ids.ParseUserID(userStr); err != nil {
		return Member{}, err
	}
	if m.JoinedAt, err = time.Parse(timeLayout, joinedAt); err != nil {
		return Member{}, err
	}
	return m, nil
}

func (r *SQLiteRepo) InsertChatMessage(ctx context.Context, tx *sql.Tx, msg ChatMessage) error {
	attachments := msg.AttachmentsRaw
	if attachments == nil {
		attachments = []byte("[]")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO chat_messages (id, server_id, channel_id, author_user_id, text, attachments, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		msg.ID.String(), msg.ServerID.String(), msg.ChannelID.String(), msg.AuthorUserID.String(), msg.Text,
		string(attachments), msg.CreatedAt.Format(timeLayout))
	if err != nil {
		return Internal("insert chat message", err)
	}
	return nil
}

func (r *SQLiteRepo) InsertOutbox(ctx context.Context, tx *sql.Tx, id string, server ids.ServerID, topic, key string, payload []byte) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO outbox_events (id, server_id, topic, key, payload, created_at)
		VALUES (?,?,?,?,?,?)`,
		id, server.String(), topic, key, string(payload), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return Internal("insert outbox event", err)
	}
	return nil
}

// ClaimOutboxBatch implements row-lock-with-skip over SQLite: SQLite has no
// SELECT ... FOR UPDATE SKIP LOCKED, so eligible rows are first selected
// (ordered oldest-first, limited) and then claimed with a single UPDATE ...
// WHERE id IN (...); SQLite's single-writer-per-transaction model gives the
// same disjoint-batch guarantee the Postgres row lock would (SPEC_FULL.md
// §4.2).
func (r *SQLiteRepo) ClaimOutboxBatch(ctx context.Context, tx *sql.Tx, server ids.ServerID, claimToken string, leaseSeconds int64, limit int) ([]OutboxEventRow, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(leaseSeconds) * time.Second).Format(timeLayout)

	rows, err := tx.QueryContext(ctx, `SELECT id FROM outbox_events
		WHERE server_id=? AND published_at IS NULL AND (claim_token IS NULL OR claimed_at < ?)
		ORDER BY created_at ASC LIMIT ?`, server.String(), cutoff, limit)
	if err != nil {
		return nil, Internal("select claimable outbox rows", err)
	}
	var candidateIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, Internal("scan claimable id", err)
		}
		candidateIDs = append(candidateIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, Internal("iterate claimable rows", err)
	}
	rows.Close()

	if len(candidateIDs) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(timeLayout)
	placeholders, args := inClause(candidateIDs)
	args = append([]any{claimToken, now}, args...)
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET claim_token=?, claimed_at=? WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return nil, Internal("claim outbox rows", err)
	}

	selPlaceholders, selArgs := inClause(candidateIDs)
	claimedRows, err := tx.QueryContext(ctx,
		`SELECT id, server_id, topic, key, payload, created_at FROM outbox_events WHERE id IN (`+selPlaceholders+`) ORDER BY created_at ASC`,
		selArgs...)
	if err != nil {
		return nil, Internal("select claimed outbox rows", err)
	}
	defer claimedRows.Close()

	var out []OutboxEventRow
	for claimedRows.Next() {
		var (
			id, serverStr, topic, key, payload, createdAt string
		)
		if err := claimedRows.Scan(&id, &serverStr, &topic, &key, &payload, &createdAt); err != nil {
			return nil, Internal("scan claimed outbox row", err)
		}
		sid, err := ids.ParseServerID(serverStr)
		if err != nil {
			return nil, Internal("parse outbox server id", err)
		}
		createdAtT, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, Internal("parse outbox created_at", err)
		}
		out = append(out, OutboxEventRow{ID: id, ServerID: sid, Topic: topic, Key: key, PayloadJSON: []byte(payload), CreatedAt: createdAtT})
	}
	return out, claimedRows.Err()
}

// AckOutboxPublished marks rows published only where claim_token still
// matches, so a late ack from a reclaimed lease is a no-op (Testable
// Property 5).
func (r *SQLiteRepo) AckOutboxPublished(ctx context.Context, tx *sql.Tx, rowIDs []string, claimToken string) error {
	if len(rowIDs) == 0 {
		return nil
	}
	placeholders, args := inClause(rowIDs)
	args = append([]any{time.Now().UTC().Format(timeLayout)}, args...)
	args = append(args, claimToken)
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET published_at=? WHERE id IN (`+placeholders+`) AND claim_token=?`, args...)
	if err != nil {
		return Internal("ack outbox published", err)
	}
	return nil
}

func (r *SQLiteRepo) InsertAudit(ctx context.Context, tx *sql.Tx, entry AuditEntry) error {
	var actor any
	if entry.ActorUser != nil {
		actor = entry.ActorUser.String()
	}
	ctxJSON := entry.ContextRaw
	if ctxJSON == nil {
		ctxJSON = []byte("{}")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log (id, server_id, actor_user_id, action, target_type, target_id, context, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		entry.ID, entry.ServerID.String(), actor, entry.Action, entry.TargetType, entry.TargetID, string(ctxJSON),
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return Internal("insert audit entry", err)
	}
	return nil
}

// RoleCapabilities reads role's seeded grant/deny set from role_capabilities.
// An unknown role resolves to empty sets (grants nothing, denies nothing).
func (r *SQLiteRepo) RoleCapabilities(ctx context.Context, tx *sql.Tx, role RoleID) (map[Capability]struct{}, map[Capability]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT capability, effect FROM role_capabilities WHERE role_id=?`, string(role))
	if err != nil {
		return nil, nil, Internal("list role capabilities", err)
	}
	defer rows.Close()

	grants := map[Capability]struct{}{}
	denies := map[Capability]struct{}{}
	for rows.Next() {
		var cap, effect string
		if err := rows.Scan(&cap, &effect); err != nil {
			return nil, nil, Internal("scan role capability", err)
		}
		if effect == "deny" {
			denies[Capability(cap)] = struct{}{}
		} else {
			grants[Capability(cap)] = struct{}{}
		}
	}
	return grants, denies, rows.Err()
}

// UserRoles returns the role ids explicitly assigned to user on server. An
// empty result means the caller should fall back to the default "member"
// role, matching PermissionDB.BuildContext's prior in-memory behavior.
func (r *SQLiteRepo) UserRoles(ctx context.Context, tx *sql.Tx, server ids.ServerID, user ids.UserID) ([]RoleID, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role_id FROM user_roles WHERE server_id=? AND user_id=?`, server.String(), user.String())
	if err != nil {
		return nil, Internal("list user roles", err)
	}
	defer rows.Close()

	var out []RoleID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, Internal("scan user role", err)
		}
		out = append(out, RoleID(id))
	}
	return out, rows.Err()
}

// SetUserRoles replaces user's full role assignment on server, taking effect
// on that user's next decide_permission call within a new transaction.
func (r *SQLiteRepo) SetUserRoles(ctx context.Context, tx *sql.Tx, server ids.ServerID, user ids.UserID, roles []RoleID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE server_id=? AND user_id=?`, server.String(), user.String()); err != nil {
		return Internal("clear user roles", err)
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_roles (server_id, user_id, role_id) VALUES (?,?,?)`,
			server.String(), user.String(), string(role)); err != nil {
			return Internal("insert user role", err)
		}
	}
	return nil
}

// ChannelOverride reads the per-(channel,user) capability grant/deny set. A
// user with no override rows returns a zero-value ChannelOverride, which
// grants and denies nothing.
func (r *SQLiteRepo) ChannelOverride(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID) (ChannelOverride, error) {
	rows, err := tx.QueryContext(ctx, `SELECT capability, effect FROM channel_overrides WHERE channel_id=? AND user_id=?`,
		channel.String(), user.String())
	if err != nil {
		return ChannelOverride{}, Internal("list channel override", err)
	}
	defer rows.Close()

	ov := ChannelOverride{Grants: map[Capability]struct{}{}, Denies: map[Capability]struct{}{}}
	for rows.Next() {
		var cap, effect string
		if err := rows.Scan(&cap, &effect); err != nil {
			return ChannelOverride{}, Internal("scan channel override", err)
		}
		if effect == "deny" {
			ov.Denies[Capability(cap)] = struct{}{}
		} else {
			ov.Grants[Capability(cap)] = struct{}{}
		}
	}
	return ov, rows.Err()
}

// SetChannelOverride replaces the full override row set for (channel, user).
func (r *SQLiteRepo) SetChannelOverride(ctx context.Context, tx *sql.Tx, channel ids.ChannelID, user ids.UserID, ov ChannelOverride) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_overrides WHERE channel_id=? AND user_id=?`, channel.String(), user.String()); err != nil {
		return Internal("clear channel override", err)
	}
	for cap := range ov.Grants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO channel_overrides (channel_id, user_id, capability, effect) VALUES (?,?,?,'grant')`,
			channel.String(), user.String(), string(cap)); err != nil {
			return Internal("insert channel override grant", err)
		}
	}
	for cap := range ov.Denies {
		if _, err := tx.ExecContext(ctx, `INSERT INTO channel_overrides (channel_id, user_id, capability, effect) VALUES (?,?,?,'deny')`,
			channel.String(), user.String(), string(cap)); err != nil {
			return Internal("insert channel override deny", err)
		}
	}
	return nil
}

func inClause(values []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}
