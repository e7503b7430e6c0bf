package control

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Duocast/TSOD/internal/ids"
)

const (
	maxChannelNameLen = 64
	maxMessageTextLen = 2000
)

// Service wraps a Repo with validation, permission enforcement, audit and
// outbox emission. Every mutating method runs the seven-step transaction
// shape from SPEC_FULL.md §4.3, grounded in original_source's service.rs:
// begin, validate, check permission, mutate, audit, emit outbox, commit.
// Failure at any step rolls back everything, including the outbox rows.
// LeaveChannel, SetSelfMute and SendMessage run no capability check
// (SendMessage requires membership instead); SetUserRoles and
// SetChannelOverride write an audit entry but no outbox event.
type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// ChannelView is the response shape returned to callers after a join,
// carrying the channel's current member list ordered by joined_at (matches
// scenario B in SPEC_FULL.md §8).
type ChannelView struct {
	Channel Channel
	Members []Member
}

func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return Internal("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return Internal("commit transaction", err)
	}
	return nil
}

func validateName(raw string, max int, what string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", InvalidArgument(what + " must not be empty")
	}
	if len(trimmed) > max {
		return "", InvalidArgument(fmt.Sprintf("%s exceeds %d characters", what, max))
	}
	return trimmed, nil
}

// CreateChannel validates and inserts a channel, emitting channel.created.
func (s *Service) CreateChannel(ctx context.Context, reqCtx RequestContext, name string, parent *ids.ChannelID, maxMembers, maxTalkers *int) (Channel, error) {
	name, err := validateName(name, maxChannelNameLen, "channel name")
	if err != nil {
		return Channel{}, err
	}

	now := time.Now().UTC()
	ch := Channel{
		ID:         ids.NewChannelID(),
		ServerID:   reqCtx.ServerID,
		Name:       name,
		ParentID:   parent,
		MaxMembers: maxMembers,
		MaxTalkers: maxTalkers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := DecidePermission(ctx, s.repo, tx, reqCtx, nil, CapCreateChannel); err != nil {
			return err
		}
		if err := s.repo.CreateChannel(ctx, tx, ch); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, reqCtx, "channel.created", "channel", ch.ID.String(), nil); err != nil {
			return err
		}
		return s.emit(ctx, tx, reqCtx.ServerID, "channel.created", ch.ID.String(), map[string]any{
			"channel_id": ch.ID.String(),
			"name":       ch.Name,
		})
	})
	if err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// JoinChannel enforces max_members before upserting (ResourceExhausted if at
// capacity), emits presence.member_joined, and returns the channel's current
// member list ordered by joined_at.
func (s *Service) JoinChannel(ctx context.Context, reqCtx RequestContext, channelID ids.ChannelID, displayName string) (ChannelView, error) {
	displayName, err := validateName(displayName, maxChannelNameLen, "display name")
	if err != nil {
		return ChannelView{}, err
	}

	var view ChannelView
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := DecidePermission(ctx, s.repo, tx, reqCtx, &channelID, CapJoinChannel); err != nil {
			return err
		}
		if err := DecidePermission(ctx, s.repo, tx, reqCtx, &channelID, CapSpeak); err != nil {
			return err
		}

		ch, err := s.repo.GetChannel(ctx, tx, reqCtx.ServerID, channelID)
		if err != nil {
			return err
		}

		if ch.MaxMembers != nil {
			count, err := s.repo.CountMembers(ctx, tx, channelID)
			if err != nil {
				return err
			}
			if count >= *ch.MaxMembers {
				return ResourceExhausted("channel full")
			}
		}

		member := Member{ChannelID: channelID, UserID: reqCtx.UserID, DisplayName: displayName, JoinedAt: time.Now().UTC()}
		if err := s.repo.UpsertMember(ctx, tx, member); err != nil {
			return err
		}

		members, err := s.repo.ListMembers(ctx, tx, channelID)
		if err != nil {
			return err
		}

		if err := s.audit(ctx, tx, reqCtx, "member.joined", "channel", channelID.String(), nil); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, reqCtx.ServerID, "presence.member_joined", channelID.String(), map[string]any{
			"channel_id":   channelID.String(),
			"user_id":      reqCtx.UserID.String(),
			"display_name": displayName,
		}); err != nil {
			return err
		}

		view = ChannelView{Channel: ch, Members: members}
		return nil
	})
	if err != nil {
		return ChannelView{}, err
	}
	return view, nil
}

// LeaveChannel deletes membership; a non-member returns NotFound("member")
// for observability (SPEC_FULL.md §9, resolving the source's inconsistent
// idempotence variants in favor of spec.md's explicit mandate).
func (s *Service) LeaveChannel(ctx context.Context, reqCtx RequestContext, channelID ids.ChannelID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.repo.DeleteMember(ctx, tx, channelID, reqCtx.UserID); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, reqCtx, "member.left", "channel", channelID.String(), nil); err != nil {
			return err
		}
		return s.emit(ctx, tx, reqCtx.ServerID, "presence.member_left", channelID.String(), map[string]any{
			"channel_id": channelID.String(),
			"user_id":    reqCtx.UserID.String(),
		})
	})
}

// SetSelfMute lets a member toggle their own voice mute state, emitting only
// presence.voice_state_changed (original_source's service.rs set_mute path).
func (s *Service) SetSelfMute(ctx context.Context, reqCtx RequestContext, channelID ids.ChannelID, muted bool) (Member, error) {
	var out Member
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := s.repo.GetMember(ctx, tx, channelID, reqCtx.UserID)
		if err != nil {
			return err
		}
		m.Muted = muted
		if err := s.repo.UpsertMember(ctx, tx, m); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, reqCtx, "member.self_muted", "member", reqCtx.UserID.String(), map[string]any{"muted": muted}); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, reqCtx.ServerID, "presence.voice_state_changed", channelID.String(), map[string]any{
			"channel_id": channelID.String(),
			"user_id":    reqCtx.UserID.String(),
			"muted":      m.Muted,
			"deafened":   m.Deafened,
		}); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// ModerateMute is a moderator-enacted mute/unmute of another member,
// requiring ModerateMembers and emitting both presence.voice_state_changed
// and moderation.user_muted — resolving SPEC_FULL.md §4.3's documented
// discrepancy between the topic table and service.rs's simpler self-toggle.
func (s *Service) ModerateMute(ctx context.Context, reqCtx RequestContext, channelID ids.ChannelID, target ids.UserID, muted bool, durationSeconds int) (Member, error) {
	var out Member
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := DecidePermission(ctx, s.repo, tx, reqCtx, &channelID, CapModerateMembers); err != nil {
			return err
		}
		m, err := s.repo.GetMember(ctx, tx, channelID, target)
		if err != nil {
			return err
		}
		m.Muted = muted
		if err := s.repo.UpsertMember(ctx, tx, m); err != nil {
			return err
		}

		if err := s.audit(ctx, tx, reqCtx, "member.muted", "member", target.String(), map[string]any{"muted": muted}); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, reqCtx.ServerID, "presence.voice_state_changed", channelID.String(), map[string]any{
			"channel_id": channelID.String(),
			"user_id":    target.String(),
			"muted":      m.Muted,
			"deafened":   m.Deafened,
		}); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, reqCtx.ServerID, "moderation.user_muted", channelID.String(), map[string]any{
			"channel_id":       channelID.String(),
			"target_user_id":   target.String(),
			"actor_user_id":    reqCtx.UserID.String(),
			"muted":            m.Muted,
			"duration_seconds": durationSeconds,
		}); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// SendMessage requires prior membership; not-a-member is PermissionDenied
// per SPEC_FULL.md §4.3.
func (s *Service) SendMessage(ctx context.Context, reqCtx RequestContext, channelID ids.ChannelID, text string, attachments []byte) (ChatMessage, error) {
	text, err := validateName(text, maxMessageTextLen, "message text")
	if err != nil {
		return ChatMessage{}, err
	}

	var msg ChatMessage
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.repo.GetMember(ctx, tx, channelID, reqCtx.UserID); err != nil {
			if KindOf(err) == KindNotFound {
				return PermissionDenied("not a member of channel")
			}
			return err
		}

		if attachments == nil {
			attachments = []byte("[]")
		}
		msg = ChatMessage{
			ID:             ids.NewMessageID(),
			ServerID:       reqCtx.ServerID,
			ChannelID:      channelID,
			AuthorUserID:   reqCtx.UserID,
			Text:           text,
			AttachmentsRaw: attachments,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.repo.InsertChatMessage(ctx, tx, msg); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, reqCtx, "message.posted", "message", msg.ID.String(), nil); err != nil {
			return err
		}

		var attachmentsVal any = json.RawMessage(attachments)
		return s.emit(ctx, tx, reqCtx.ServerID, "chat.message_posted", channelID.String(), map[string]any{
			"message_id":     msg.ID.String(),
			"channel_id":      channelID.String(),
			"author_user_id": reqCtx.UserID.String(),
			"text":           text,
			"attachments":    attachmentsVal,
		})
	})
	if err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

// SetUserRoles replaces a user's role assignment on reqCtx.ServerID, taking
// effect on that user's very next decide_permission call. Requires
// manage_roles (or admin); the caller is audited as the actor, the target
// user as the audit subject.
func (s *Service) SetUserRoles(ctx context.Context, reqCtx RequestContext, target ids.UserID, roles []RoleID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := DecidePermission(ctx, s.repo, tx, reqCtx, nil, CapManageRoles); err != nil {
			return err
		}
		if err := s.repo.SetUserRoles(ctx, tx, reqCtx.ServerID, target, roles); err != nil {
			return err
		}
		roleNames := make([]string, len(roles))
		for i, r := range roles {
			roleNames[i] = string(r)
		}
		return s.audit(ctx, tx, reqCtx, "user.roles_set", "user", target.String(), map[string]any{"roles": roleNames})
	})
}

// SetChannelOverride replaces the capability grant/deny set for (channel,
// target), taking effect on that user's very next decide_permission call
// for the channel. Requires manage_roles (or admin).
func (s *Service) SetChannelOverride(ctx context.Context, reqCtx RequestContext, channel ids.ChannelID, target ids.UserID, ov ChannelOverride) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := DecidePermission(ctx, s.repo, tx, reqCtx, nil, CapManageRoles); err != nil {
			return err
		}
		if err := s.repo.SetChannelOverride(ctx, tx, channel, target, ov); err != nil {
			return err
		}
		grants := make([]string, 0, len(ov.Grants))
		for c := range ov.Grants {
			grants = append(grants, string(c))
		}
		denies := make([]string, 0, len(ov.Denies))
		for c := range ov.Denies {
			denies = append(denies, string(c))
		}
		return s.audit(ctx, tx, reqCtx, "channel.override_set", "channel", channel.String(), map[string]any{
			"user_id": target.String(), "grants": grants, "denies": denies,
		})
	})
}

func (s *Service) audit(ctx context.Context, tx *sql.Tx, reqCtx RequestContext, action, targetType, targetID string, extra map[string]any) error {
	var ctxRaw []byte
	if extra != nil {
		b, err := json.Marshal(extra)
		if err != nil {
			return Internal("marshal audit context", err)
		}
		ctxRaw = b
	}
	actor := reqCtx.UserID
	return s.repo.InsertAudit(ctx, tx, AuditEntry{
		ID:         ids.NewMessageID().String(),
		ServerID:   reqCtx.ServerID,
		ActorUser:  &actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		ContextRaw: ctxRaw,
	})
}

func (s *Service) emit(ctx context.Context, tx *sql.Tx, server ids.ServerID, topic, key string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return Internal("marshal outbox payload", err)
	}
	return s.repo.InsertOutbox(ctx, tx, ids.NewMessageID().String(), server, topic, key, b)
}
