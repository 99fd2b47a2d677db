package prometheus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InteractionLimiter gates interaction handling per user. The dispatcher
// takes the interface so tests can inject a permissive or deterministic
// implementation.
type InteractionLimiter interface {
	// Allow reports whether userID may proceed, counting the attempt.
	Allow(userID string) bool
}

// FixedWindowLimiter allows up to max interactions per user in each fixed
// window. The first interaction of a window starts it; the count resets only
// when a later interaction arrives after the window has elapsed.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*windowEntry
	logger  *slog.Logger

	// now is replaceable in tests
	now func() time.Time
}

type windowEntry struct {
	windowStart time.Time
	count       int
}

func newFixedWindowLimiter(
	cfg RateLimitConfig,
	logger *slog.Logger,
) *FixedWindowLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FixedWindowLimiter{
		window:  cfg.Window,
		max:     cfg.MaxPerWindow,
		entries: map[string]*windowEntry{},
		logger:  logger.With(loggerNameKey, "rate_limiter"),
		now:     time.Now,
	}
}

func (f *FixedWindowLimiter) Allow(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	e, ok := f.entries[userID]
	if !ok || now.Sub(e.windowStart) >= f.window {
		f.entries[userID] = &windowEntry{windowStart: now, count: 1}
		return true
	}
	if e.count < f.max {
		e.count++
		return true
	}
	return false
}

// Sweep evicts entries whose window ended at least one full window ago.
// Entries in their active window, and entries still inside the grace window
// after it, are kept so an in-flight burst isn't forgotten mid-window.
func (f *FixedWindowLimiter) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	evicted := 0
	for userID, e := range f.entries {
		if now.Sub(e.windowStart) >= 2*f.window {
			delete(f.entries, userID)
			evicted++
		}
	}
	return evicted
}

// runSweeper periodically evicts stale entries until ctx is done.
func (f *FixedWindowLimiter) runSweeper(
	ctx context.Context,
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := f.Sweep(); n > 0 {
				f.logger.Debug("swept rate limit entries", "evicted", n)
			}
		}
	}
}

// size returns the number of tracked users. Test helper.
func (f *FixedWindowLimiter) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
