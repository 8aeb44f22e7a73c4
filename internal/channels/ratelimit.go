package channels

import (
	"sync"
	"time"
)

// RateLimitConfig configures a WebhookRateLimiter.
type RateLimitConfig struct {
	MaxHits int           // requests per key per window
	Window  time.Duration // fixed window length
	MaxKeys int           // cap on tracked keys
}

// DefaultRateLimitConfig returns 120 requests per minute and 4096 tracked keys.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxHits: 120, Window: time.Minute, MaxKeys: 4096}
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// WebhookRateLimiter is a fixed-window limiter keyed by caller (usually client IP).
// The number of tracked keys is bounded so rotating source addresses cannot
// exhaust memory. Safe for concurrent use.
type WebhookRateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

func NewWebhookRateLimiter(cfg RateLimitConfig) *WebhookRateLimiter {
	d := DefaultRateLimitConfig()
	if cfg.MaxHits <= 0 {
		cfg.MaxHits = d.MaxHits
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = d.MaxKeys
	}
	return &WebhookRateLimiter{cfg: cfg, now: time.Now, entries: make(map[string]*rateLimitEntry)}
}

// Allow counts one request for key. When the key is over its limit it returns false
// and how long until the window resets.
func (r *WebhookRateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= r.cfg.MaxKeys {
		r.pruneLocked(now)
		// still at cap: evict arbitrary keys
		for len(r.entries) >= r.cfg.MaxKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.cfg.Window {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true, 0
	}

	e.count++
	if e.count <= r.cfg.MaxHits {
		return true, 0
	}
	return false, e.windowStart.Add(r.cfg.Window).Sub(now)
}

// Prune drops keys whose window has ended and returns how many were removed.
func (r *WebhookRateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(r.now())
}

func (r *WebhookRateLimiter) pruneLocked(now time.Time) int {
	n := 0
	for k, e := range r.entries {
		if now.Sub(e.windowStart) >= r.cfg.Window {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

// Tracked returns the number of keys currently tracked.
func (r *WebhookRateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
