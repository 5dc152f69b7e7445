package outbox

import "time"

const (
	baseDelay = 1 * time.Second
	maxDelay  = 16 * time.Second
)

// NextRetryDelay returns the wait before the given attempt is retried.
// attempt is 1-based: 1s, 2s, 4s, 8s, then capped at 16s. The schedule
// is deterministic so operators can predict when a stuck item will
// move again.
func NextRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// guard the shift against absurd attempt counts
	if attempt > 16 {
		return maxDelay
	}
	delay := baseDelay << (attempt - 1)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
