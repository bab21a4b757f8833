package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsed: time.Second}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := fastPolicy().retry(context.Background(), "test", "chat:job", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnFatal(t *testing.T) {
	attempts := 0
	fatal := errors.New("password authentication failed")
	err := fastPolicy().retry(context.Background(), "test", "chat:job", func() error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want %v", err, fatal)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	p := ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: 30 * time.Millisecond}
	start := time.Now()
	err := p.retry(context.Background(), "test", "chat:job", func() error {
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error after budget")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("retry ran for %v", time.Since(start))
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy().retry(ctx, "test", "chat:job", func() error {
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestReconnectPolicyDefaults(t *testing.T) {
	got := ReconnectPolicy{}.withDefaults()
	if got != DefaultReconnectPolicy() {
		t.Errorf("withDefaults = %+v, want %+v", got, DefaultReconnectPolicy())
	}
	custom := ReconnectPolicy{MaxElapsed: time.Minute}.withDefaults()
	if custom.MaxElapsed != time.Minute || custom.InitialInterval != 500*time.Millisecond {
		t.Errorf("withDefaults overrode custom values: %+v", custom)
	}
}
