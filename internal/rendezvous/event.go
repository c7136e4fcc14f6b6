package rendezvous

import "encoding/json"

type EventType string

const (
	EventPeerJoined EventType = "peer_joined"
	EventPeerLeft   EventType = "peer_left"
	EventSignal     EventType = "signal"
)

// Event is a push notification for a connected participant.
//
// For EventPeerJoined and EventPeerLeft, Role and ClientID describe the peer
// that joined or left. For EventSignal, FromClientID names the sender and
// Payload carries the relayed blob unmodified.
type Event struct {
	Type         EventType
	Role         Role
	ClientID     string
	FromClientID string
	Payload      json.RawMessage
}

// Peer is the delivery side of a connected participant, implemented by the
// transport session. Deliver must not block; it reports whether the event
// was accepted. A slow or dead peer must never stall the calling operation.
type Peer interface {
	Deliver(Event) bool
}
