package server

import (
	"testing"
	"time"
)

func TestIPRateLimiter_Burst(t *testing.T) {
	rl := newIPRateLimiter(2, time.Minute)
	if !rl.Allow("1.1.1.1") || !rl.Allow("1.1.1.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("1.1.1.1") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("2.2.2.2") {
		t.Fatal("other ip should have its own bucket")
	}
	if rl.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", rl.size())
	}
}

func TestIPRateLimiter_Refill(t *testing.T) {
	// one token every 50ms
	rl := newIPRateLimiter(1, 50*time.Millisecond)
	if !rl.Allow("ip") {
		t.Fatal("first request should pass")
	}
	if rl.Allow("ip") {
		t.Fatal("bucket should be empty")
	}
	time.Sleep(80 * time.Millisecond)
	if !rl.Allow("ip") {
		t.Fatal("bucket should have refilled")
	}
}

func TestIPRateLimiter_Disabled(t *testing.T) {
	rl := newIPRateLimiter(0, time.Minute)
	if rl != nil {
		t.Fatal("zero limit should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("ip") {
			t.Fatal("nil limiter must allow everything")
		}
	}
}
