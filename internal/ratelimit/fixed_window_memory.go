package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/keygate/internal/clock"
)

type windowEntry struct {
	count    int64
	deadline time.Time
}

// MemoryFixedWindow implements Limiter in process memory. It mirrors the
// redis limiter's semantics exactly and is used when no redis address is
// configured, and in tests.
type MemoryFixedWindow struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*windowEntry
}

func NewMemoryFixedWindow(clk clock.Clock) *MemoryFixedWindow {
	return &MemoryFixedWindow{
		clock:   clk,
		entries: make(map[string]*windowEntry),
	}
}

func (f *MemoryFixedWindow) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if key == "" {
		return &Result{Allowed: false}, errors.New("rate limiter key is empty")
	}
	if limit <= 0 || window <= 0 {
		return &Result{Allowed: false}, errors.New("rate limiter limit and window must be positive")
	}

	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok || !entry.deadline.After(now) {
		entry = &windowEntry{deadline: now.Add(window)}
		f.entries[key] = entry
	}
	entry.count++

	result := &Result{
		Allowed:   entry.count <= int64(limit),
		Limit:     limit,
		Remaining: int(int64(limit) - entry.count),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !result.Allowed {
		result.RetryAfter = entry.deadline.Sub(now)
	}
	return result, nil
}

// Sweep drops expired windows so long-lived processes do not accumulate
// entries for one-off client IPs. Called periodically from the fx hook.
func (f *MemoryFixedWindow) Sweep() {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	for key, entry := range f.entries {
		if !entry.deadline.After(now) {
			delete(f.entries, key)
		}
	}
}
