package prometheus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t testing.TB, max int) (*FixedWindowLimiter, *time.Time) {
	t.Helper()
	limiter := newFixedWindowLimiter(
		RateLimitConfig{Window: time.Minute, MaxPerWindow: max},
		newTestLogger(t),
	)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestFixedWindowLimiterAllowsUpToMax(t *testing.T) {
	t.Parallel()
	limiter, _ := newTestLimiter(t, 3)

	for n := 0; n < 3; n++ {
		assert.True(t, limiter.Allow("user"), "attempt %d", n+1)
	}
	assert.False(t, limiter.Allow("user"))
	assert.False(t, limiter.Allow("user"))

	// another user has an independent window
	assert.True(t, limiter.Allow("other"))
}

func TestFixedWindowLimiterWindowReset(t *testing.T) {
	t.Parallel()
	limiter, now := newTestLimiter(t, 1)

	assert.True(t, limiter.Allow("user"))
	assert.False(t, limiter.Allow("user"))

	*now = now.Add(59 * time.Second)
	assert.False(t, limiter.Allow("user"))

	*now = now.Add(time.Second)
	assert.True(t, limiter.Allow("user"))
	assert.False(t, limiter.Allow("user"))
}

func TestFixedWindowLimiterSweep(t *testing.T) {
	t.Parallel()
	limiter, now := newTestLimiter(t, 5)

	limiter.Allow("stale")
	*now = now.Add(90 * time.Second)
	limiter.Allow("recent")
	assert.Equal(t, 2, limiter.size())

	// "stale" started 90s ago: still inside the grace window, kept
	assert.Equal(t, 0, limiter.Sweep())
	assert.Equal(t, 2, limiter.size())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.size())
}
