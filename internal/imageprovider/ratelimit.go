package imageprovider

import (
	"sync"
	"time"
)

// WindowLimiter counts requests in fixed wall-clock windows. When the
// budget for the current window is spent, Allow fails immediately; nothing
// is queued.
type WindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	count   int
	resetAt time.Time
}

// NewWindowLimiter allows limit requests per window. A non-positive limit
// disables limiting.
func NewWindowLimiter(limit int, window time.Duration, now func() time.Time) *WindowLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = time.Hour
	}
	return &WindowLimiter{limit: limit, window: window, now: now}
}

// rollLocked starts a new window when the current one has passed
func (l *WindowLimiter) rollLocked(now time.Time) {
	if now.Before(l.resetAt) {
		return
	}
	l.count = 0
	l.resetAt = now.Add(l.window)
}

// Allow consumes one request from the current window
func (l *WindowLimiter) Allow() bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}

// Exhausted reports whether the current window has no budget left
func (l *WindowLimiter) Exhausted() bool {
	if l.limit <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	return l.count >= l.limit
}

// Remaining returns the unused budget and when the window resets
func (l *WindowLimiter) Remaining() (remaining int, resetAt time.Time) {
	if l.limit <= 0 {
		return -1, time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	return l.limit - l.count, l.resetAt
}
