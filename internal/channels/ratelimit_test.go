package channels

import (
	"fmt"
	"testing"
	"time"
)

func TestWebhookRateLimiterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewWebhookRateLimiter(RateLimitConfig{MaxHits: 3, Window: time.Minute, MaxKeys: 10})
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := r.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	now = now.Add(20 * time.Second)
	ok, retry := r.Allow("1.2.3.4")
	if ok {
		t.Fatal("4th request allowed, want denied")
	}
	if retry != 40*time.Second {
		t.Errorf("retry after = %v, want 40s", retry)
	}
	if ok, _ := r.Allow("5.6.7.8"); !ok {
		t.Error("other key should be unaffected")
	}

	now = now.Add(time.Minute)
	if ok, _ := r.Allow("1.2.3.4"); !ok {
		t.Error("new window should allow")
	}
}

func TestWebhookRateLimiterBoundsKeys(t *testing.T) {
	r := NewWebhookRateLimiter(RateLimitConfig{MaxHits: 1, Window: time.Minute, MaxKeys: 8})
	for i := 0; i < 100; i++ {
		r.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	if got := r.Tracked(); got > 8 {
		t.Errorf("tracked = %d, want <= 8", got)
	}
}

func TestWebhookRateLimiterPrune(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewWebhookRateLimiter(RateLimitConfig{})
	r.now = func() time.Time { return now }

	r.Allow("a")
	r.Allow("b")
	now = now.Add(2 * time.Minute)
	if n := r.Prune(); n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
}
