package rendezvous

import "fmt"

// Role identifies which of the two mutually exclusive slots in a room a
// participant occupies.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "initiator":
		return RoleInitiator, nil
	case "responder":
		return RoleResponder, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}
