package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayGrowsExponentially(t *testing.T) {
	// Jitter is at most 20%, so consecutive attempts must still be ordered
	// until the cap flattens them.
	d1 := RetryDelay(1)
	d2 := RetryDelay(2)
	d3 := RetryDelay(3)

	assert.Less(t, d1, d2)
	assert.Less(t, d2, d3)

	assert.InDelta(t, float64(backoffBase), float64(d1), jitterFraction*float64(backoffBase))
	assert.InDelta(t, float64(2*backoffBase), float64(d2), jitterFraction*float64(2*backoffBase))
}

func TestRetryDelayCapped(t *testing.T) {
	for attempt := 6; attempt <= 20; attempt++ {
		d := RetryDelay(attempt)
		max := backoffCap + time.Duration(jitterFraction*float64(backoffCap))
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
	}
}

func TestRetryDelayFloor(t *testing.T) {
	assert.GreaterOrEqual(t, RetryDelay(0), time.Second)
	assert.GreaterOrEqual(t, RetryDelay(-3), time.Second)
}
