package signaling

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/peerlink/broker/internal/rendezvous"
)

func TestParseClientMessage_Valid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want clientMessage
	}{
		{
			name: "join",
			raw:  `{"type":"join","code":"ABC234","role":"initiator","clientId":"c1"}`,
			want: clientMessage{Type: "join", Code: "ABC234", Role: "initiator", ClientID: "c1"},
		},
		{
			name: "signal",
			raw:  `{"type":"signal","code":"ABC234","targetClientId":"c2","payload":{"sdp":"v=0"}}`,
			want: clientMessage{Type: "signal", Code: "ABC234", TargetClientID: "c2", Payload: json.RawMessage(`{"sdp":"v=0"}`)},
		},
		{
			name: "heartbeat",
			raw:  `{"type":"heartbeat"}`,
			want: clientMessage{Type: "heartbeat"},
		},
		{
			name: "leave",
			raw:  `{"type":"leave"}`,
			want: clientMessage{Type: "leave"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClientMessage([]byte(tt.raw))
			if err != nil {
				t.Fatalf("parseClientMessage(%s): %v", tt.raw, err)
			}
			if got.Type != tt.want.Type || got.Code != tt.want.Code || got.Role != tt.want.Role ||
				got.ClientID != tt.want.ClientID || got.TargetClientID != tt.want.TargetClientID ||
				string(got.Payload) != string(tt.want.Payload) {
				t.Fatalf("parseClientMessage(%s)=%+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseClientMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello`},
		{name: "unknown field", raw: `{"type":"heartbeat","extra":true}`},
		{name: "trailing data", raw: `{"type":"heartbeat"}{"type":"leave"}`},
		{name: "missing type", raw: `{"code":"ABC234"}`},
		{name: "unknown type", raw: `{"type":"subscribe"}`},
		{name: "join without code", raw: `{"type":"join","role":"initiator","clientId":"c1"}`},
		{name: "join without role", raw: `{"type":"join","code":"ABC234","clientId":"c1"}`},
		{name: "join without clientId", raw: `{"type":"join","code":"ABC234","role":"initiator"}`},
		{name: "signal without target", raw: `{"type":"signal","code":"ABC234"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseClientMessage([]byte(tt.raw)); err == nil {
				t.Fatalf("parseClientMessage(%s) err=nil, want error", tt.raw)
			}
		})
	}
}

func TestRegistryErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{err: rendezvous.ErrRoomNotFound, code: errCodeRoomNotFound},
		{err: rendezvous.ErrRoleConflict, code: errCodeRoleConflict},
		{err: rendezvous.ErrTargetNotFound, code: errCodeTargetNotFound},
		{err: rendezvous.ErrCapacityExceeded, code: errCodeCapacityExceeded},
		{err: errors.New("boom"), code: errCodeInternal},
	}
	for _, tt := range tests {
		msg := registryErrorMessage(tt.err)
		if msg.Type != msgTypeError || msg.Error == nil || msg.Error.Code != tt.code {
			t.Errorf("registryErrorMessage(%v)=%+v, want error code %q", tt.err, msg, tt.code)
		}
	}
}

func TestJoinedMessage_AlwaysCarriesOccupancy(t *testing.T) {
	msg := joinedMessage("ABC234", rendezvous.Occupancy{HasInitiator: true})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// False occupancy must serialize explicitly, not be omitted.
	for _, want := range []string{`"hasInitiator":true`, `"hasResponder":false`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("joined message %s missing %s", data, want)
		}
	}
}
