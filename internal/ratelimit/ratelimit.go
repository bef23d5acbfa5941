// Package ratelimit provides a deterministic token bucket used to cap the
// per-connection inbound signaling message rate.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time so bucket behavior is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer rate (tokens/sec) up to a fixed capacity.
//
// Refill is computed from elapsed wall time on each Allow call, so an idle
// bucket never needs a background goroutine.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64
	rate     int64 // tokens per second

	available int64
	carry     time.Duration // elapsed time not yet worth a whole token
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: capacity,
		last:      clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < 1 {
		return false
	}
	b.available--
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		b.carry = 0
		return
	}

	elapsed := now.Sub(b.last) + b.carry
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 {
		b.carry = 0
		return
	}

	interval := time.Second / time.Duration(b.rate)
	if interval <= 0 {
		interval = time.Nanosecond
	}

	earned := int64(elapsed / interval)
	b.carry = elapsed % interval

	b.available += earned
	if b.available > b.capacity {
		b.available = b.capacity
		b.carry = 0
	}
}
