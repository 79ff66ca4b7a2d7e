package auth

import (
	"sync"
	"time"
)

// RateLimitReason is the X-RateLimit-Reason value for credential throttling.
const RateLimitReason = "api_key_rate_limit"

// RateLimitError is returned when a principal exceeds its per-minute request limit.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "api rate limit exceeded"
}

// RateLimiter enforces a sliding 60-second window of requests per rate key.
// A zero limit disables it.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limitPerMinute requests per key per minute.
func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		events: make(map[string][]time.Time),
		limit:  limitPerMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow records one request for key and reports whether it fits the window.
func (l *RateLimiter) Allow(key string) error {
	if l.limit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	events := l.events[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.events[key] = kept
		return &RateLimitError{RetryAfter: l.window}
	}
	l.events[key] = append(kept, now)
	return nil
}
