package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseJoin(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"join","roomId":"demo","clientId":"alice"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != TypeJoin || msg.RoomID != "demo" || msg.ClientID != "alice" {
		t.Fatalf("unexpected message: %#v", msg)
	}
}

func TestParseRelayedKeepsPayloadOpaque(t *testing.T) {
	raw := `{"type":"offer","targetId":"bob","offer":{"sdp":"v=0...","type":"offer","x":[1,2]}}`
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.TargetID != "bob" {
		t.Fatalf("targetId = %q", msg.TargetID)
	}

	// The payload must round-trip byte-for-byte semantics; the relay never
	// decodes it into a typed structure.
	var got, want any
	if err := json.Unmarshal(msg.Offer, &got); err != nil {
		t.Fatalf("payload not valid json: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"sdp":"v=0...","type":"offer","x":[1,2]}`), &want); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	if !jsonEqual(got, want) {
		t.Fatalf("payload mutated: %v != %v", got, want)
	}
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"trailing data", `{"type":"leave"}{"type":"leave"}`},
		{"unknown type", `{"type":"shout"}`},
		{"server-only type", `{"type":"new-client","clientId":"a"}`},
		{"join without room", `{"type":"join","clientId":"a"}`},
		{"join without client", `{"type":"join","roomId":"demo"}`},
		{"join with payload", `{"type":"join","roomId":"demo","clientId":"a","offer":{}}`},
		{"offer without target", `{"type":"offer","offer":{}}`},
		{"offer without payload", `{"type":"offer","targetId":"b"}`},
		{"answer with stray fields", `{"type":"answer","targetId":"b","answer":{},"roomId":"demo"}`},
		{"offer with answer body", `{"type":"offer","targetId":"b","offer":{},"answer":{}}`},
		{"candidate without payload", `{"type":"ice-candidate","targetId":"b"}`},
		{"leave with fields", `{"type":"leave","roomId":"demo"}`},
		{"unknown field", `{"type":"leave","bogus":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestExistingClientsSerializesEmptyList(t *testing.T) {
	data, err := json.Marshal(ExistingClients(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"clients":[]`) {
		t.Fatalf("empty membership must serialize explicitly, got %s", data)
	}
}

func TestExistingClientsCopiesInput(t *testing.T) {
	ids := []string{"a", "b"}
	msg := ExistingClients(ids)
	ids[0] = "mutated"
	if (*msg.Clients)[0] != "a" {
		t.Fatalf("message must not alias caller slice")
	}
}
