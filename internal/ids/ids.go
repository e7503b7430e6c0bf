// Package ids defines the UUID-backed identifier types shared across the
// control plane and gateway.
package ids

import "github.com/google/uuid"

type ServerID uuid.UUID

type UserID uuid.UUID

type ChannelID uuid.UUID

type MessageID uuid.UUID

func (s ServerID) String() string  { return uuid.UUID(s).String() }
func (u UserID) String() string    { return uuid.UUID(u).String() }
func (c ChannelID) String() string { return uuid.UUID(c).String() }
func (m MessageID) String() string { return uuid.UUID(m).String() }

func (s ServerID) IsZero() bool  { return uuid.UUID(s) == uuid.Nil }
func (u UserID) IsZero() bool    { return uuid.UUID(u) == uuid.Nil }
func (c ChannelID) IsZero() bool { return uuid.UUID(c) == uuid.Nil }

func NewChannelID() ChannelID { return ChannelID(uuid.New()) }
func NewMessageID() MessageID { return MessageID(uuid.New()) }
func NewUserID() UserID       { return UserID(uuid.New()) }
func NewServerID() ServerID   { return ServerID(uuid.New()) }

func ParseServerID(s string) (ServerID, error) {
	u, err := uuid.Parse(s)
	return ServerID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	return UserID(u), err
}

func ParseChannelID(s string) (ChannelID, error) {
	u, err := uuid.Parse(s)
	return ChannelID(u), err
}

func ParseMessageID(s string) (MessageID, error) {
	u, err := uuid.Parse(s)
	return MessageID(u), err
}
