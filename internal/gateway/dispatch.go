package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/Duocast/TSOD/internal/control"
	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

// dispatch handles one decoded request envelope and returns the response to
// enqueue, extracted from the read loop the same way processControl is
// split out of handleClient in the teacher's client.go so both can be unit
// tested without a live QUIC connection.
func (s *session) dispatch(ctx context.Context, req wire.ClientToServer) wire.ServerToClient {
	resp := wire.ServerToClient{
		RequestID: req.RequestID,
		SessionID: s.sessionID,
		SentAtMs:  time.Now().UnixMilli(),
	}

	switch {
	case req.Ping != nil:
		resp.Type = "pong"
		resp.Pong = &wire.Pong{Nonce: req.Ping.Nonce, ServerTimeMs: time.Now().UnixMilli()}

	case req.JoinChannelRequest != nil:
		s.handleJoinChannel(ctx, req, &resp)

	case req.LeaveChannelRequest != nil:
		s.handleLeaveChannel(ctx, req, &resp)

	case req.CreateChannelRequest != nil:
		s.handleCreateChannel(ctx, req, &resp)

	case req.SendMessageRequest != nil:
		s.handleSendMessage(ctx, req, &resp)

	case req.ModerationActionRequest != nil:
		s.handleModerationAction(ctx, req, &resp)

	default:
		resp.Type = "error"
		resp.Error = &wire.ErrorInfo{Code: string(control.KindInvalidArgument), Message: "unknown or empty request payload"}
	}

	return resp
}

func (s *session) handleJoinChannel(ctx context.Context, req wire.ClientToServer, resp *wire.ServerToClient) {
	resp.Type = "join_channel_response"
	channelID, err := ids.ParseChannelID(req.JoinChannelRequest.ChannelID)
	if err != nil {
		setErr(resp, control.InvalidArgument("malformed channel_id"))
		return
	}

	view, err := s.gw.service.JoinChannel(ctx, s.reqCtx(), channelID, req.JoinChannelRequest.DisplayName)
	if err != nil {
		setErr(resp, err)
		return
	}

	members := make([]ids.UserID, 0, len(view.Members))
	wireMembers := make([]wire.ChannelMember, 0, len(view.Members))
	for _, m := range view.Members {
		members = append(members, m.UserID)
		wireMembers = append(wireMembers, wire.ChannelMember{
			UserID:      m.UserID.String(),
			DisplayName: m.DisplayName,
			Muted:       m.Muted,
			Deafened:    m.Deafened,
		})
	}

	maxTalkers := 0
	if view.Channel.MaxTalkers != nil {
		maxTalkers = *view.Channel.MaxTalkers
	}
	s.gw.membership.SetChannel(channelID, maxTalkers, members)
	s.gw.membership.SetUser(s.identity.UserID, channelID, false)

	resp.JoinChannelResponse = &wire.JoinChannelResponse{
		State: wire.ChannelState{ChannelID: channelID.String(), Members: wireMembers},
	}
}

func (s *session) handleLeaveChannel(ctx context.Context, req wire.ClientToServer, resp *wire.ServerToClient) {
	resp.Type = "leave_channel_response"
	channelID, err := ids.ParseChannelID(req.LeaveChannelRequest.ChannelID)
	if err != nil {
		setErr(resp, control.InvalidArgument("malformed channel_id"))
		return
	}
	if err := s.gw.service.LeaveChannel(ctx, s.reqCtx(), channelID); err != nil {
		setErr(resp, err)
		return
	}
	s.gw.membership.RemoveUser(s.identity.UserID)
	resp.LeaveChannelResponse = &wire.LeaveChannelResponse{}
}

func (s *session) handleCreateChannel(ctx context.Context, req wire.ClientToServer, resp *wire.ServerToClient) {
	resp.Type = "create_channel_response"
	r := req.CreateChannelRequest

	var parent *ids.ChannelID
	if r.ParentID != "" {
		p, err := ids.ParseChannelID(r.ParentID)
		if err != nil {
			setErr(resp, control.InvalidArgument("malformed parent_id"))
			return
		}
		parent = &p
	}

	ch, err := s.gw.service.CreateChannel(ctx, s.reqCtx(), r.Name, parent, r.MaxMembers, r.MaxTalkers)
	if err != nil {
		setErr(resp, err)
		return
	}
	resp.CreateChannelResponse = &wire.CreateChannelResponse{ChannelID: ch.ID.String()}
}

func (s *session) handleSendMessage(ctx context.Context, req wire.ClientToServer, resp *wire.ServerToClient) {
	resp.Type = "send_message_response"
	r := req.SendMessageRequest
	channelID, err := ids.ParseChannelID(r.ChannelID)
	if err != nil {
		setErr(resp, control.InvalidArgument("malformed channel_id"))
		return
	}
	msg, err := s.gw.service.SendMessage(ctx, s.reqCtx(), channelID, r.Text, r.Attachments)
	if err != nil {
		setErr(resp, err)
		return
	}
	resp.SendMessageResponse = &wire.SendMessageResponse{MessageID: msg.ID.String()}
}

func (s *session) handleModerationAction(ctx context.Context, req wire.ClientToServer, resp *wire.ServerToClient) {
	resp.Type = "moderation_action_response"
	r := req.ModerationActionRequest
	channelID, err := ids.ParseChannelID(r.ChannelID)
	if err != nil {
		setErr(resp, control.InvalidArgument("malformed channel_id"))
		return
	}
	target, err := ids.ParseUserID(r.TargetUserID)
	if err != nil {
		setErr(resp, control.InvalidArgument("malformed target_user_id"))
		return
	}
	if r.Action != "mute" && r.Action != "unmute" {
		setErr(resp, control.InvalidArgument("action must be mute or unmute"))
		return
	}

	muted := r.Action == "mute"
	if _, err := s.gw.service.ModerateMute(ctx, s.reqCtx(), channelID, target, muted, r.DurationSeconds); err != nil {
		setErr(resp, err)
		return
	}
	s.gw.membership.UpdateMute(target, muted)
}

func setErr(resp *wire.ServerToClient, err error) {
	resp.Type = "error"
	resp.Error = &wire.ErrorInfo{Code: string(control.KindOf(err)), Message: err.Error()}
	var cerr *control.Error
	if errors.As(err, &cerr) && cerr.Kind == control.KindInternal {
		resp.Error.Message = "internal error"
	}
}
