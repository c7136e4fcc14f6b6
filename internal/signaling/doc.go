// Package signaling is the transport layer of the broker: the room REST API
// and the WebSocket session protocol that carries joins, heartbeats, and
// opaque signal relay between paired peers. Room semantics live in
// internal/rendezvous; this package only translates between the wire and the
// registry.
package signaling
