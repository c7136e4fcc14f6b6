package rendezvous

import "time"

// Clock abstracts wall-clock reads so room expiry is testable without
// sleeping. Expiry is driven purely by clock comparison, never by timers
// attached to individual rooms.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
