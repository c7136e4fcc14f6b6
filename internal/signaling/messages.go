package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/peerlink/broker/internal/rendezvous"
)

// Client-to-server message types.
const (
	msgTypeJoin      = "join"
	msgTypeSignal    = "signal"
	msgTypeHeartbeat = "heartbeat"
	msgTypeLeave     = "leave"
)

// Server-to-client message types. Signal and heartbeat reuse the client-side
// names.
const (
	msgTypeJoined     = "joined"
	msgTypeLeft       = "left"
	msgTypePeerJoined = "peer_joined"
	msgTypePeerLeft   = "peer_left"
	msgTypeError      = "error"
)

// Wire error codes.
const (
	errCodeRoomNotFound     = "room_not_found"
	errCodeRoleConflict     = "role_conflict"
	errCodeTargetNotFound   = "target_not_found"
	errCodeCapacityExceeded = "capacity_exceeded"
	errCodeBadRequest       = "bad_request"
	errCodeInternal         = "internal_error"
)

type clientMessage struct {
	Type           string          `json:"type"`
	Code           string          `json:"code,omitempty"`
	Role           string          `json:"role,omitempty"`
	ClientID       string          `json:"clientId,omitempty"`
	TargetClientID string          `json:"targetClientId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// parseClientMessage decodes a single client frame. Unknown fields and
// trailing data are rejected so client protocol bugs surface as bad_request
// instead of being silently swallowed.
func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, fmt.Errorf("malformed message: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		return clientMessage{}, errors.New("trailing data after message")
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case msgTypeJoin:
		if m.Code == "" || m.Role == "" || m.ClientID == "" {
			return errors.New("join requires code, role, and clientId")
		}
	case msgTypeSignal:
		if m.Code == "" || m.TargetClientID == "" {
			return errors.New("signal requires code and targetClientId")
		}
	case msgTypeHeartbeat, msgTypeLeave:
	case "":
		return errors.New("missing message type")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type serverMessage struct {
	Type         string          `json:"type"`
	Code         string          `json:"code,omitempty"`
	HasInitiator *bool           `json:"hasInitiator,omitempty"`
	HasResponder *bool           `json:"hasResponder,omitempty"`
	Role         string          `json:"role,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	FromClientID string          `json:"fromClientId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Time         string          `json:"time,omitempty"`
	Error        *wireError      `json:"error,omitempty"`
}

func boolPtr(v bool) *bool { return &v }

func joinedMessage(code string, occ rendezvous.Occupancy) serverMessage {
	return serverMessage{
		Type:         msgTypeJoined,
		Code:         code,
		HasInitiator: boolPtr(occ.HasInitiator),
		HasResponder: boolPtr(occ.HasResponder),
	}
}

func heartbeatMessage(now time.Time) serverMessage {
	return serverMessage{Type: msgTypeHeartbeat, Time: now.UTC().Format(time.RFC3339)}
}

func errorMessage(code, message string) serverMessage {
	return serverMessage{Type: msgTypeError, Error: &wireError{Code: code, Message: message}}
}

// registryErrorMessage maps a rendezvous error onto the wire taxonomy.
func registryErrorMessage(err error) serverMessage {
	switch {
	case errors.Is(err, rendezvous.ErrRoomNotFound):
		return errorMessage(errCodeRoomNotFound, "room not found or expired")
	case errors.Is(err, rendezvous.ErrRoleConflict):
		return errorMessage(errCodeRoleConflict, "role already taken in this room")
	case errors.Is(err, rendezvous.ErrTargetNotFound):
		return errorMessage(errCodeTargetNotFound, "target client not present in room")
	case errors.Is(err, rendezvous.ErrCapacityExceeded):
		return errorMessage(errCodeCapacityExceeded, "room capacity exhausted")
	default:
		return errorMessage(errCodeInternal, "internal error")
	}
}

func eventMessage(ev rendezvous.Event) serverMessage {
	switch ev.Type {
	case rendezvous.EventPeerJoined:
		return serverMessage{Type: msgTypePeerJoined, Role: ev.Role.String(), ClientID: ev.ClientID}
	case rendezvous.EventPeerLeft:
		return serverMessage{Type: msgTypePeerLeft, Role: ev.Role.String(), ClientID: ev.ClientID}
	case rendezvous.EventSignal:
		return serverMessage{Type: msgTypeSignal, FromClientID: ev.FromClientID, Payload: ev.Payload}
	default:
		return serverMessage{Type: string(ev.Type)}
	}
}
