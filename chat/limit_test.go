package chat

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	l := NewLimiter(2)
	if l.Max() != 2 {
		t.Fatalf("expected max 2, got %d", l.Max())
	}

	ctx := context.Background()
	if !l.Acquire(ctx) {
		t.Fatal("failed to acquire first slot")
	}
	if !l.Acquire(ctx) {
		t.Fatal("failed to acquire second slot")
	}
	if active := l.Active(); active != 2 {
		t.Fatalf("expected 2 active, got %d", active)
	}

	// Third should block - test with timeout
	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if l.Acquire(ctx2) {
		t.Fatal("should not have acquired third slot")
	}

	l.Release()
	if active := l.Active(); active != 1 {
		t.Fatalf("expected 1 active after release, got %d", active)
	}
	if !l.Acquire(ctx) {
		t.Fatal("Acquire should succeed after release")
	}

	l.Release()
	l.Release()
	// Unbalanced release is logged, not fatal.
	l.Release()
	if active := l.Active(); active != 0 {
		t.Fatalf("expected 0 active, got %d", active)
	}
}

func TestLimiterDefault(t *testing.T) {
	if max := NewLimiter(0).Max(); max != 1 {
		t.Fatalf("expected default max 1, got %d", max)
	}
}

func TestLimiterAcquireWaitsForRelease(t *testing.T) {
	l := NewLimiter(1)
	ctx := context.Background()
	if !l.Acquire(ctx) {
		t.Fatal("failed to acquire slot")
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if !l.Acquire(waitCtx) {
		t.Fatal("queued Acquire should get the released slot")
	}
}
