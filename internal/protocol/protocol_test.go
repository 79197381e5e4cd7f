package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseInbound(t *testing.T) {
	in, err := ParseInbound([]byte(`{"event":"send_message","data":{"issueId":"abc","text":"hi"}}`))
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	if in.Event != EvSendMessage {
		t.Fatalf("event mismatch: %s", in.Event)
	}

	var p SendMessagePayload
	if err := json.Unmarshal(in.Data, &p); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if p.IssueID != "abc" || p.Text != "hi" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}

func TestParseInbound_MissingEvent(t *testing.T) {
	if _, err := ParseInbound([]byte(`{"data":{}}`)); err == nil {
		t.Fatal("expected an error for a frame without an event name")
	}
}

func TestParseInbound_Malformed(t *testing.T) {
	if _, err := ParseInbound([]byte(`{not json`)); err == nil {
		t.Fatal("expected an error for malformed json")
	}
}

func TestEventEnvelope(t *testing.T) {
	evt := New(EvNewMessage, MessageView{ID: "m1", Text: "hi"})
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if string(decoded["event"]) != `"new_message"` {
		t.Fatalf("event name mismatch: %s", decoded["event"])
	}
	if _, ok := decoded["data"]; !ok {
		t.Fatal("data missing from envelope")
	}
}

func TestAuthenticatePayloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		payload AuthenticatePayload
		wantErr bool
	}{
		{"user id with role", AuthenticatePayload{UserID: "u1", Role: RoleTeen}, false},
		{"token alone", AuthenticatePayload{Token: "jwt"}, false},
		{"neither", AuthenticatePayload{}, true},
		{"bad role without token", AuthenticatePayload{UserID: "u1", Role: "admin"}, true},
	}
	for _, tc := range cases {
		err := tc.payload.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestSendMessagePayloadValidate(t *testing.T) {
	good := SendMessagePayload{IssueID: "i1", SenderID: "u1", SenderRole: RoleMentor, Text: "hello"}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	cases := []SendMessagePayload{
		{SenderID: "u1", SenderRole: RoleTeen, Text: "hi"},
		{IssueID: "i1", SenderRole: RoleTeen, Text: "hi"},
		{IssueID: "i1", SenderID: "u1", SenderRole: "bot", Text: "hi"},
		{IssueID: "i1", SenderID: "u1", SenderRole: RoleTeen, Text: "  "},
	}
	for i, p := range cases {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: invalid payload accepted: %+v", i, p)
		}
	}
}

func TestDeleteScopeValidation(t *testing.T) {
	chat := DeleteChatPayload{IssueID: "i1", Scope: "for_some"}
	if err := chat.Validate(); err == nil {
		t.Fatal("unknown scope accepted for delete_chat")
	}

	msg := DeleteMessagePayload{MessageID: "m1", IssueID: "i1", Scope: ScopeForMe}
	if err := msg.Validate(); err != nil {
		t.Fatalf("for_me scope rejected: %v", err)
	}
}
