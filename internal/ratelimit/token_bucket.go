// Package ratelimit provides a small token bucket used to bound the rate of
// inbound signaling messages per connection.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time reads for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket enforces an average rate of perSecond events with a burst
// capacity equal to the rate. A perSecond of zero or less disables limiting.
type TokenBucket struct {
	clock    Clock
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucket(clock Clock, perSecond int) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	rate := float64(perSecond)
	return &TokenBucket{
		clock:    clock,
		rate:     rate,
		capacity: rate,
		tokens:   rate,
		last:     clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	if b.rate <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
