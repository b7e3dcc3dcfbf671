package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowRefills(t *testing.T) {
	now := time.Date(2024, 10, 10, 9, 15, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })
	if !l.Allow("k", 1, 0.1) {
		t.Fatalf("first call should pass")
	}
	if l.Allow("k", 1, 0.1) {
		t.Fatalf("second call should be throttled")
	}
	now = now.Add(10 * time.Second)
	if !l.Allow("k", 1, 0.1) {
		t.Fatalf("token should be back after 10s")
	}
	if !l.Allow("other", 1, 0.1) {
		t.Fatalf("keys must not share buckets")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	l.Allow("k", 1, 0.001)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k", 1, 0.001); err == nil {
		t.Fatalf("expected context error")
	}
}
