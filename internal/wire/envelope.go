package wire

import "encoding/json"

// Envelope types, following the teacher's protocol.go convention of one flat
// JSON struct with a Type discriminant and omitempty payload fields, rather
// than Go's more common interface{}-based oneof emulation — this is the
// idiom actually shown in the corpus for this kind of tagged union.

// ClientToServer is every envelope a client may send on the control stream.
type ClientToServer struct {
	RequestID uint64 `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	SentAtMs  int64  `json:"sent_at_ms"`
	Type      string `json:"type"`

	Hello                 *Hello                 `json:"hello,omitempty"`
	AuthRequest           *AuthRequest           `json:"auth_request,omitempty"`
	Ping                  *Ping                  `json:"ping,omitempty"`
	JoinChannelRequest    *JoinChannelRequest    `json:"join_channel_request,omitempty"`
	LeaveChannelRequest   *LeaveChannelRequest   `json:"leave_channel_request,omitempty"`
	CreateChannelRequest  *CreateChannelRequest  `json:"create_channel_request,omitempty"`
	SendMessageRequest    *SendMessageRequest    `json:"send_message_request,omitempty"`
	ModerationActionRequest *ModerationActionRequest `json:"moderation_action_request,omitempty"`
}

// ServerToClient is every envelope the gateway may send, whether a response
// (request_id echoes the originating request) or a server push
// (request_id == 0).
type ServerToClient struct {
	RequestID uint64     `json:"request_id"`
	SessionID string     `json:"session_id,omitempty"`
	SentAtMs  int64      `json:"sent_at_ms"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Type      string     `json:"type"`

	HelloAck             *HelloAck             `json:"hello_ack,omitempty"`
	AuthResponse         *AuthResponse         `json:"auth_response,omitempty"`
	Pong                 *Pong                 `json:"pong,omitempty"`
	JoinChannelResponse  *JoinChannelResponse  `json:"join_channel_response,omitempty"`
	LeaveChannelResponse *LeaveChannelResponse `json:"leave_channel_response,omitempty"`
	CreateChannelResponse *CreateChannelResponse `json:"create_channel_response,omitempty"`
	SendMessageResponse  *SendMessageResponse  `json:"send_message_response,omitempty"`
	PresenceEvent        *PresenceEvent        `json:"presence_event,omitempty"`
	ChatEvent            *ChatEvent            `json:"chat_event,omitempty"`
	ModerationEvent       *ModerationEvent       `json:"moderation_event,omitempty"`
	ServerHint           *ServerHint           `json:"server_hint,omitempty"`
}

// ErrorInfo mirrors the error-code taxonomy surfaced at the control
// boundary (SPEC_FULL.md §7).
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type ClientCaps struct {
	ALPN string `json:"alpn"`
}

type Hello struct {
	Caps ClientCaps `json:"caps"`
}

type HelloAck struct {
	SessionID            string `json:"session_id"`
	MaxMessageSizeBytes  int    `json:"max_message_size_bytes"`
	MaxUploadSizeBytes   int64  `json:"max_upload_size_bytes"`
	PingIntervalMs       int    `json:"ping_interval_ms"`
}

// AuthRequest carries exactly one authentication method. DevToken is the
// only method this repository implements (SPEC_FULL.md §12); additional
// methods are an external collaborator's concern.
type AuthRequest struct {
	DevToken string `json:"dev_token,omitempty"`
}

type AuthResponse struct {
	UserID   string `json:"user_id"`
	ServerID string `json:"server_id"`
	IsAdmin  bool   `json:"is_admin"`
}

type Ping struct {
	Nonce uint64 `json:"nonce"`
}

type Pong struct {
	Nonce          uint64 `json:"nonce"`
	ServerTimeMs   int64  `json:"server_time_ms"`
}

type JoinChannelRequest struct {
	ChannelID   string `json:"channel_id"`
	DisplayName string `json:"display_name"`
}

type ChannelMember struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Muted       bool   `json:"muted"`
	Deafened    bool   `json:"deafened"`
}

type ChannelState struct {
	ChannelID string          `json:"channel_id"`
	Members   []ChannelMember `json:"members"`
}

type JoinChannelResponse struct {
	State ChannelState `json:"state"`
}

type LeaveChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

type LeaveChannelResponse struct{}

type CreateChannelRequest struct {
	Name       string `json:"name"`
	ParentID   string `json:"parent_id,omitempty"`
	MaxMembers *int   `json:"max_members,omitempty"`
	MaxTalkers *int   `json:"max_talkers,omitempty"`
}

type CreateChannelResponse struct {
	ChannelID string `json:"channel_id"`
}

type SendMessageRequest struct {
	ChannelID   string          `json:"channel_id"`
	Text        string          `json:"text"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

type SendMessageResponse struct {
	MessageID string `json:"message_id"`
}

// ModerationActionRequest covers a moderator acting on another member; only
// mute/unmute is implemented (SPEC_FULL.md §4.3).
type ModerationActionRequest struct {
	ChannelID       string `json:"channel_id"`
	TargetUserID    string `json:"target_user_id"`
	Action          string `json:"action"` // "mute" | "unmute"
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type MemberJoined struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type MemberLeft struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type MemberVoiceStateChanged struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Muted     bool   `json:"muted"`
	Deafened  bool   `json:"deafened"`
}

// PresenceEvent carries exactly one of its kind fields, following the
// envelope's own flat-struct-with-omitempty convention.
type PresenceEvent struct {
	MemberJoined            *MemberJoined            `json:"member_joined,omitempty"`
	MemberLeft              *MemberLeft              `json:"member_left,omitempty"`
	MemberVoiceStateChanged *MemberVoiceStateChanged `json:"member_voice_state_changed,omitempty"`
}

type AttachmentRef struct {
	AssetID     string `json:"asset_id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	SizeBytes   uint64 `json:"size_bytes"`
}

type MessagePosted struct {
	MessageID    string          `json:"message_id"`
	ChannelID    string          `json:"channel_id"`
	AuthorUserID string          `json:"author_user_id"`
	Text         string          `json:"text"`
	Attachments  []AttachmentRef `json:"attachments,omitempty"`
}

type ChatEvent struct {
	MessagePosted *MessagePosted `json:"message_posted,omitempty"`
}

type UserMuted struct {
	ChannelID       string `json:"channel_id"`
	TargetUserID    string `json:"target_user_id"`
	ActorUserID     string `json:"actor_user_id"`
	Muted           bool   `json:"muted"`
	DurationSeconds int    `json:"duration_seconds"`
}

type ModerationEvent struct {
	UserMuted *UserMuted `json:"user_muted,omitempty"`
}

// ServerHint is a free-form advisory push (e.g. reconnect hints); not
// emitted by any operation in this spec today but kept in the oneof per
// spec.md §6's schema.
type ServerHint struct {
	Message string `json:"message"`
}
