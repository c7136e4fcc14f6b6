package rendezvous

import "errors"

var (
	// ErrRoomNotFound is returned for codes that are unknown or past their
	// expiry, even when the expired room has not been physically evicted yet.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoleConflict is returned when a join targets a role slot held by a
	// different live connection. The broker never evicts an occupant.
	ErrRoleConflict = errors.New("role already occupied")

	// ErrTargetNotFound is returned when a relayed signal addresses a clientId
	// that occupies neither slot of the room.
	ErrTargetNotFound = errors.New("target client not found")

	// ErrCapacityExceeded is returned when code generation keeps colliding
	// with live rooms. It is not retryable; the code space is effectively
	// exhausted.
	ErrCapacityExceeded = errors.New("room code space exhausted")
)
