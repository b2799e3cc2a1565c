package ratelimit

import (
	"testing"
	"time"
)

func TestBucket_BurstThenReject(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 3, Enabled: true})
	// freeze time so no refill happens mid-test
	frozen := time.Now()
	bucket.now = func() time.Time { return frozen }

	for i := 0; i < 3; i++ {
		if !bucket.Allow() {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if bucket.Allow() {
		t.Error("request allowed after burst exhausted")
	}
}

func TestBucket_RefillsOverTime(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 1, Enabled: true})
	current := time.Now()
	bucket.now = func() time.Time { return current }

	if !bucket.Allow() {
		t.Fatal("first request rejected")
	}
	if bucket.Allow() {
		t.Fatal("second request allowed with empty bucket")
	}

	current = current.Add(150 * time.Millisecond) // 1.5 tokens refilled
	if !bucket.Allow() {
		t.Error("request rejected after refill")
	}
}

func TestBucket_WaitTime(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 2, BurstSize: 1, Enabled: true})
	frozen := time.Now()
	bucket.now = func() time.Time { return frozen }

	if wait := bucket.WaitTime(); wait != 0 {
		t.Errorf("WaitTime with tokens = %v, want 0", wait)
	}
	bucket.Allow()
	if wait := bucket.WaitTime(); wait != 500*time.Millisecond {
		t.Errorf("WaitTime with empty bucket = %v, want 500ms", wait)
	}
}

func TestLimiter_IsolatesKeys(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1, Enabled: true})

	aliceKey := CompositeKey("alice", "web.search")
	bobKey := CompositeKey("bob", "web.search")

	if !limiter.Allow(aliceKey) {
		t.Fatal("alice's first request rejected")
	}
	if limiter.Allow(aliceKey) {
		t.Error("alice's second request allowed with empty bucket")
	}
	if !limiter.Allow(bobKey) {
		t.Error("bob's request rejected; keys not isolated")
	}
}

func TestLimiter_DisabledAllowsAll(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1, Enabled: false})
	for i := 0; i < 100; i++ {
		if !limiter.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	if limiter.WaitTime("k") != 0 {
		t.Error("disabled limiter reported nonzero wait")
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1, Enabled: true})
	limiter.Allow("k")
	if limiter.Allow("k") {
		t.Fatal("second request allowed before reset")
	}
	limiter.Reset("k")
	if !limiter.Allow("k") {
		t.Error("request rejected after reset")
	}
}

func TestCompositeKey(t *testing.T) {
	if got := CompositeKey("user1", "evm.get_balance"); got != "user1:evm.get_balance" {
		t.Errorf("CompositeKey = %q", got)
	}
}
