package wire

import (
	"encoding/json"
	"testing"
)

func TestClientToServerJoinChannelRoundTrip(t *testing.T) {
	in := ClientToServer{
		RequestID: 7,
		SessionID: "sess-1",
		SentAtMs:  1000,
		Type:      "join_channel_request",
		JoinChannelRequest: &JoinChannelRequest{
			ChannelID:   "ch-1",
			DisplayName: "alice",
		},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out ClientToServer
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != "join_channel_request" {
		t.Fatalf("type mismatch: %q", out.Type)
	}
	if out.JoinChannelRequest == nil || out.JoinChannelRequest.ChannelID != "ch-1" {
		t.Fatalf("join_channel_request not round-tripped: %+v", out.JoinChannelRequest)
	}
	if out.Hello != nil || out.AuthRequest != nil || out.Ping != nil {
		t.Fatalf("unrelated oneof fields should stay nil, got %+v", out)
	}
}

func TestServerToClientOmitsUnsetFields(t *testing.T) {
	resp := ServerToClient{
		RequestID: 3,
		SentAtMs:  2000,
		Type:      "pong",
		Pong:      &Pong{Nonce: 99, ServerTimeMs: 2001},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &asMap); err != nil {
		t.Fatalf("unmarshal to map: %v", err)
	}
	for _, absent := range []string{"hello_ack", "auth_response", "join_channel_response", "error"} {
		if _, ok := asMap[absent]; ok {
			t.Fatalf("expected %q to be omitted from payload, got %s", absent, data)
		}
	}
	if _, ok := asMap["pong"]; !ok {
		t.Fatalf("expected pong field present, got %s", data)
	}
}

func TestServerToClientErrorEnvelope(t *testing.T) {
	resp := ServerToClient{
		RequestID: 5,
		Type:      "error",
		Error:     &ErrorInfo{Code: "permission_denied", Message: "not a member"},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ServerToClient
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Error == nil || out.Error.Code != "permission_denied" {
		t.Fatalf("error info not round-tripped: %+v", out.Error)
	}
}

func TestPresenceEventCarriesExactlyOneKind(t *testing.T) {
	ev := PresenceEvent{
		MemberJoined: &MemberJoined{ChannelID: "ch-1", UserID: "u-1", DisplayName: "bob"},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out PresenceEvent
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.MemberJoined == nil || out.MemberLeft != nil || out.MemberVoiceStateChanged != nil {
		t.Fatalf("expected only MemberJoined set, got %+v", out)
	}
}
