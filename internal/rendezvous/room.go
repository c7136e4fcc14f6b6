package rendezvous

import "time"

// Participant is a connection's occupancy of a role slot. It is owned by the
// room that holds it and discarded when the slot clears; a Participant value
// is never reused across joins.
type Participant struct {
	ClientID string
	ConnID   string
	Peer     Peer
}

// Room is the pairing context identified by a code. It holds up to two role
// slots and is only mutated under the registry lock.
type Room struct {
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time

	initiator *Participant
	responder *Participant
}

func (r *Room) slot(role Role) **Participant {
	if role == RoleInitiator {
		return &r.initiator
	}
	return &r.responder
}

func (r *Room) byConn(connID string) (*Participant, Role, bool) {
	if p := r.initiator; p != nil && p.ConnID == connID {
		return p, RoleInitiator, true
	}
	if p := r.responder; p != nil && p.ConnID == connID {
		return p, RoleResponder, true
	}
	return nil, 0, false
}

func (r *Room) byClient(clientID string) *Participant {
	if p := r.initiator; p != nil && p.ClientID == clientID {
		return p
	}
	if p := r.responder; p != nil && p.ClientID == clientID {
		return p
	}
	return nil
}

func (r *Room) expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

func (r *Room) empty() bool { return r.initiator == nil && r.responder == nil }

// Occupancy reports which role slots of a room are filled.
type Occupancy struct {
	HasInitiator bool
	HasResponder bool
}

func (r *Room) occupancy() Occupancy {
	return Occupancy{
		HasInitiator: r.initiator != nil,
		HasResponder: r.responder != nil,
	}
}

func (o Occupancy) full() bool { return o.HasInitiator && o.HasResponder }

// Status is the public view of a room returned by lookups.
type Status struct {
	Code         string
	HasInitiator bool
	HasResponder bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// RoomInfo describes a newly created room.
type RoomInfo struct {
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}
