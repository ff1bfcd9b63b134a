package middleware

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Close()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("user:1") {
			t.Fatalf("request %d must pass", i+1)
		}
		now = now.Add(10 * time.Second)
	}
	if rl.Allow("user:1") {
		t.Fatalf("fourth request must be limited")
	}
	if !rl.Exceeded("user:1") {
		t.Fatalf("limit must be reported as exceeded")
	}
	if !rl.Allow("user:2") {
		t.Fatalf("keys are independent")
	}

	// первое событие вышло из окна
	now = now.Add(35 * time.Second)
	if !rl.Allow("user:1") {
		t.Fatalf("slot must be free after the window slides")
	}
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Close()

	if !rl.Allow("ip") || rl.Allow("ip") {
		t.Fatalf("limit of one not enforced")
	}
	rl.Reset("ip")
	if rl.Exceeded("ip") || !rl.Allow("ip") {
		t.Fatalf("reset must forget the key")
	}
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	rl.Close()
	rl.Close()
}
