package ratelimit

import (
	"testing"
	"time"
)

func TestAllowDrainsAndRefills(t *testing.T) {
	clock := time.Unix(100, 0)
	l := New(3, 1)
	l.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d should pass", i)
		}
	}
	if l.Allow("a") {
		t.Fatalf("bucket should be empty")
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}

	clock = clock.Add(time.Second)
	if !l.Allow("a") {
		t.Fatalf("one token should have refilled")
	}
	if l.Allow("a") {
		t.Fatalf("only one token should have refilled")
	}

	clock = clock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("refill must be capped at capacity, failed at %d", i)
		}
	}
	if l.Allow("a") {
		t.Fatalf("refill exceeded capacity")
	}
}

func TestPrune(t *testing.T) {
	clock := time.Unix(0, 0)
	l := New(1, 1)
	l.now = func() time.Time { return clock }
	l.Allow("a")
	clock = clock.Add(time.Minute)
	l.Allow("b")
	if n := l.Prune(30 * time.Second); n != 1 {
		t.Fatalf("expected 1 pruned bucket, got %d", n)
	}
}
