package queue

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 15 * time.Second
	backoffCap  = 10 * time.Minute
	// jitterFraction spreads retries so a burst of failures does not thunder
	// back at the same instant.
	jitterFraction = 0.2
)

// RetryDelay returns the backoff before retry number attempt (1-based: the
// delay after the first failed attempt is RetryDelay(1)).
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFraction * float64(d))
	d += jitter
	if d < time.Second {
		d = time.Second
	}
	return d
}
