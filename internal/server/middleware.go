package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements per-connection rate limiting using a sliding
// window. One abusive client must not affect others, so the window is
// tracked per connection ID.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID → recent request times
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow reports whether the connection may send another message. Old
// timestamps are dropped on each call so memory stays bounded per
// connection.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[connectionID]
	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	valid = append(valid, now)
	r.requests[connectionID] = valid
	return true
}

// RemoveConnection drops rate limit data for a closed connection.
func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

// ValidateAction checks an inbound action name against the closed set the
// server handles. Unknown actions are a protocol error, reported to the
// sender only.
func ValidateAction(action string) error {
	validActions := map[string]bool{
		"ping":        true,
		"register":    true,
		"list_games":  true,
		"create_game": true,
		"join_game":   true,
		"make_move":   true,
	}

	if !validActions[action] {
		return fmt.Errorf("UNKNOWN_ACTION: Unknown action '%s'", action)
	}
	return nil
}
