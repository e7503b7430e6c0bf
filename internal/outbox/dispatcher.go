// Package outbox implements the background dispatcher that drains
// committed control-plane events and pushes them to connected peers,
// grounded in original_source/server/gateway/src/outbox_dispatch.rs's
// run_outbox_dispatcher/handle_record/translate_record/
// apply_cache_side_effects, generalized per SPEC_FULL.md §4.6.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Duocast/TSOD/internal/control"
	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

// Config holds the dispatcher's polling cadence and claim parameters,
// matching spec.md §4.6's defaults.
type Config struct {
	ServerID        ids.ServerID
	PollInterval    time.Duration
	BatchSize       int
	ClaimTTLSeconds int64
}

func DefaultConfig(server ids.ServerID) Config {
	return Config{
		ServerID:        server,
		PollInterval:    200 * time.Millisecond,
		BatchSize:       256,
		ClaimTTLSeconds: 30,
	}
}

// MembershipSink is the subset of the gateway's membership cache the
// dispatcher updates as a side effect of events it observes, grounded in
// outbox_dispatch.rs's apply_cache_side_effects.
type MembershipSink interface {
	SetUser(user ids.UserID, channel ids.ChannelID, muted bool)
	RemoveUser(user ids.UserID)
	UpdateMute(user ids.UserID, muted bool)
	ListMembers(channel ids.ChannelID) []ids.UserID
}

// PushSink delivers one push envelope to one locally-connected recipient.
// A miss (recipient not on this gateway) is not an error: the recipient's
// own gateway will deliver it from its own dispatcher pass over the same
// row (spec.md §4.6's "every gateway fans out locally" contract).
type PushSink interface {
	Send(user ids.UserID, msg wire.ServerToClient) bool
}

// Dispatcher is one gateway instance's outbox poller. It holds a stable
// random claim token for its entire lifetime (spec.md §4.6 loop invariant).
type Dispatcher struct {
	repo       control.Repo
	membership MembershipSink
	push       PushSink
	cfg        Config
	claimToken string
}

func New(repo control.Repo, membership MembershipSink, push PushSink, cfg Config) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		membership: membership,
		push:       push,
		cfg:        cfg,
		claimToken: uuid.NewString(),
	}
}

// Run polls until ctx is canceled. Each iteration claims a batch in one
// short transaction, translates and fans every row out to local sessions
// regardless of how many other gateways also see it, then acks every row of
// the batch that translated and fanned out without error in a second short
// transaction (failed rows stay unacked) — batch-scoped claim/ack symmetry per
// SPEC_FULL.md §4.6 (the source's per-record ack variant is not followed;
// see DESIGN.md).
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Printf("[outbox] dispatcher started claim_token=%s server=%s", d.claimToken, d.cfg.ServerID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.pollOnce(ctx)
		if err != nil {
			log.Printf("[outbox] poll error: %v", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.PollInterval):
			}
		}
	}
}

func (d *Dispatcher) pollOnce(ctx context.Context) (int, error) {
	batch, err := d.claim(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var delivered []string
	for _, rec := range batch {
		if err := d.handleRecord(ctx, rec); err != nil {
			// Translation error: log and leave unacked. It will be
			// reclaimed after the lease expires rather than lost.
			log.Printf("[outbox] record %s topic=%s translation error: %v", rec.ID, rec.Topic, err)
			continue
		}
		delivered = append(delivered, rec.ID)
	}

	if err := d.ack(ctx, delivered); err != nil {
		return len(batch), fmt.Errorf("ack: %w", err)
	}
	return len(batch), nil
}

func (d *Dispatcher) claim(ctx context.Context) ([]control.OutboxEventRow, error) {
	tx, err := d.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	batch, err := d.repo.ClaimOutboxBatch(ctx, tx, d.cfg.ServerID, d.claimToken, d.cfg.ClaimTTLSeconds, d.cfg.BatchSize)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (d *Dispatcher) ack(ctx context.Context, rowIDs []string) error {
	if len(rowIDs) == 0 {
		return nil
	}
	tx, err := d.repo.Begin(ctx)
	if err != nil {
		return err
	}
	if err := d.repo.AckOutboxPublished(ctx, tx, rowIDs, d.claimToken); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// handleRecord translates one claimed row into a push envelope, applies any
// membership-cache side effect derivable from it, and fans it out to every
// recipient currently connected to this gateway.
func (d *Dispatcher) handleRecord(ctx context.Context, rec control.OutboxEventRow) error {
	channelID, push, err := translate(rec)
	if err != nil {
		return err
	}

	d.applyCacheSideEffects(rec)

	recipients := d.resolveRecipients(ctx, channelID)
	for _, uid := range recipients {
		d.push.Send(uid, push)
	}
	return nil
}

// resolveRecipients returns the cached roster for channel, falling back to
// a one-shot repository lookup on a cache miss (SPEC_FULL.md §4.6 step 4) —
// a gateway that never itself handled a join for this channel otherwise has
// no roster to fan out to, even though members of that channel may well be
// connected to it.
func (d *Dispatcher) resolveRecipients(ctx context.Context, channel ids.ChannelID) []ids.UserID {
	if cached := d.membership.ListMembers(channel); len(cached) > 0 {
		return cached
	}

	tx, err := d.repo.Begin(ctx)
	if err != nil {
		log.Printf("[outbox] recipient fallback: begin: %v", err)
		return nil
	}
	defer tx.Rollback()

	members, err := d.repo.ListMembers(ctx, tx, channel)
	if err != nil {
		log.Printf("[outbox] recipient fallback: list members: %v", err)
		return nil
	}
	recipients := make([]ids.UserID, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, m.UserID)
	}
	return recipients
}

func fieldStr(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func fieldBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func fieldInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	default:
		return 0
	}
}

// translate maps an outbox row's topic + JSON payload into the typed push
// envelope it corresponds to, per SPEC_FULL.md §6's topic table and
// outbox_dispatch.rs's translate_record.
func translate(rec control.OutboxEventRow) (ids.ChannelID, wire.ServerToClient, error) {
	var fields map[string]any
	if err := json.Unmarshal(rec.PayloadJSON, &fields); err != nil {
		return ids.ChannelID{}, wire.ServerToClient{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	channelID, err := ids.ParseChannelID(fieldStr(fields, "channel_id"))
	if err != nil {
		return ids.ChannelID{}, wire.ServerToClient{}, fmt.Errorf("parse channel_id: %w", err)
	}

	push := wire.ServerToClient{
		RequestID: 0,
		SentAtMs:  time.Now().UnixMilli(),
	}

	switch rec.Topic {
	case "presence.member_joined":
		push.Type = "presence_event"
		push.PresenceEvent = &wire.PresenceEvent{MemberJoined: &wire.MemberJoined{
			ChannelID:   channelID.String(),
			UserID:      fieldStr(fields, "user_id"),
			DisplayName: fieldStr(fields, "display_name"),
		}}

	case "presence.member_left":
		push.Type = "presence_event"
		push.PresenceEvent = &wire.PresenceEvent{MemberLeft: &wire.MemberLeft{
			ChannelID: channelID.String(),
			UserID:    fieldStr(fields, "user_id"),
		}}

	case "presence.voice_state_changed":
		push.Type = "presence_event"
		push.PresenceEvent = &wire.PresenceEvent{MemberVoiceStateChanged: &wire.MemberVoiceStateChanged{
			ChannelID: channelID.String(),
			UserID:    fieldStr(fields, "user_id"),
			Muted:     fieldBool(fields, "muted"),
			Deafened:  fieldBool(fields, "deafened"),
		}}

	case "chat.message_posted":
		var attachments []wire.AttachmentRef
		if raw, ok := fields["attachments"]; ok {
			if b, err := json.Marshal(raw); err == nil {
				_ = json.Unmarshal(b, &attachments)
			}
		}
		push.Type = "chat_event"
		push.ChatEvent = &wire.ChatEvent{MessagePosted: &wire.MessagePosted{
			MessageID:    fieldStr(fields, "message_id"),
			ChannelID:    channelID.String(),
			AuthorUserID: fieldStr(fields, "author_user_id"),
			Text:         fieldStr(fields, "text"),
			Attachments:  attachments,
		}}

	case "moderation.user_muted":
		push.Type = "moderation_event"
		push.ModerationEvent = &wire.ModerationEvent{UserMuted: &wire.UserMuted{
			ChannelID:       channelID.String(),
			TargetUserID:    fieldStr(fields, "target_user_id"),
			ActorUserID:     fieldStr(fields, "actor_user_id"),
			Muted:           fieldBool(fields, "muted"),
			DurationSeconds: fieldInt(fields, "duration_seconds"),
		}}

	default:
		return ids.ChannelID{}, wire.ServerToClient{}, fmt.Errorf("unsupported outbox topic: %s", rec.Topic)
	}

	return channelID, push, nil
}

// applyCacheSideEffects mirrors the source's function of the same name:
// presence events and mutes update the gateway's local membership view so
// the voice forwarder and push fanout stay fresh even for users whose
// control requests landed on a different gateway instance.
func (d *Dispatcher) applyCacheSideEffects(rec control.OutboxEventRow) {
	var fields map[string]any
	if err := json.Unmarshal(rec.PayloadJSON, &fields); err != nil {
		return
	}
	channelID, err := ids.ParseChannelID(fieldStr(fields, "channel_id"))
	if err != nil {
		return
	}

	switch rec.Topic {
	case "presence.member_joined":
		if uid, err := ids.ParseUserID(fieldStr(fields, "user_id")); err == nil {
			d.membership.SetUser(uid, channelID, false)
		}
	case "presence.member_left":
		if uid, err := ids.ParseUserID(fieldStr(fields, "user_id")); err == nil {
			d.membership.RemoveUser(uid)
		}
	case "presence.voice_state_changed":
		if uid, err := ids.ParseUserID(fieldStr(fields, "user_id")); err == nil {
			d.membership.UpdateMute(uid, fieldBool(fields, "muted"))
		}
	case "moderation.user_muted":
		if uid, err := ids.ParseUserID(fieldStr(fields, "target_user_id")); err == nil {
			d.membership.UpdateMute(uid, fieldBool(fields, "muted"))
		}
	}
}
