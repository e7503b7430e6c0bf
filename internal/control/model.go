package control

import (
	"time"

	"github.com/Duocast/TSOD/internal/ids"
)

// Channel is a named container for members and messages.
type Channel struct {
	ID         ids.ChannelID
	ServerID   ids.ServerID
	Name       string
	ParentID   *ids.ChannelID
	MaxMembers *int
	MaxTalkers *int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Member is a user present in a channel.
type Member struct {
	ChannelID   ids.ChannelID
	UserID      ids.UserID
	DisplayName string
	Muted       bool
	Deafened    bool
	JoinedAt    time.Time
}

// ChatMessage is an immutable text message posted to a channel.
type ChatMessage struct {
	ID             ids.MessageID
	ServerID       ids.ServerID
	ChannelID      ids.ChannelID
	AuthorUserID   ids.UserID
	Text           string
	AttachmentsRaw []byte // opaque JSON array, passed through unchanged
	CreatedAt      time.Time
}

// OutboxEventRow is a claimed row from the outbox table.
type OutboxEventRow struct {
	ID          string
	ServerID    ids.ServerID
	Topic       string
	Key         string
	PayloadJSON []byte
	CreatedAt   time.Time
}

// AuditEntry is an append-only record of a state change.
type AuditEntry struct {
	ID         string
	ServerID   ids.ServerID
	ActorUser  *ids.UserID
	Action     string
	TargetType string
	TargetID   string
	ContextRaw []byte // opaque JSON object
	CreatedAt  time.Time
}

// RequestContext binds a control-plane call to the authenticated caller.
type RequestContext struct {
	ServerID ids.ServerID
	UserID   ids.UserID
	IsAdmin  bool
}
