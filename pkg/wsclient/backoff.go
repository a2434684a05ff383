package wsclient

import "time"

// Backoff returns base * 2^attempt capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return min(base, max)
	}
	// 2^31 seconds is far past any sane cap
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}
