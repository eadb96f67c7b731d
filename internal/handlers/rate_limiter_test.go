package handlers

import (
	"testing"
	"time"
)

func TestSimpleRateLimiterEnforcesLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(3, time.Minute, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("request over the limit should be rejected")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("other clients must not be affected")
	}
}

func TestSimpleRateLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("first request should be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("second request in the window should be rejected")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("request after the window should be allowed")
	}
}

func TestSimpleRateLimiterBlankKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("") {
		t.Fatalf("blank key should count against a shared bucket")
	}
	if limiter.Allow("  ") {
		t.Fatalf("blank keys share the bucket and must hit the limit")
	}
}

func TestSimpleRateLimiterRejectsInvalidConfig(t *testing.T) {
	if limiter := newSimpleRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("zero limit must not build a limiter")
	}
	if limiter := newSimpleRateLimiter(5, 0, nil); limiter != nil {
		t.Fatalf("zero window must not build a limiter")
	}
}
