package chat

import (
	"context"
	"log/slog"
)

// Limiter caps the number of conversations a process keeps open at once.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter returns a Limiter allowing max concurrent conversations (minimum 1).
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is available or ctx is done.
// Returns true if a slot was acquired.
func (l *Limiter) Acquire(ctx context.Context) bool {
	select {
	case l.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		// Should not happen unless mismatched acquire/release
		slog.Warn("conversation slot release called without corresponding acquire", slog.String("component", "chat"))
	}
}

// Active returns the number of slots in use.
func (l *Limiter) Active() int { return len(l.slots) }

// Max returns the configured capacity.
func (l *Limiter) Max() int { return cap(l.slots) }
