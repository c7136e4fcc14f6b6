// Package rendezvous implements the broker core: short human-typeable room
// codes, a TTL-bounded room registry, role slot assignment for the two
// participants of a room, and best-effort relay of opaque signaling payloads
// between them.
//
// The package is transport-agnostic. Connected sessions plug in through the
// Peer interface, which must never block; the registry performs exactly one
// delivery attempt per event and drops on backpressure.
package rendezvous
