package resilience

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

func TestBreakerClosedPassesThrough(t *testing.T) {
	b := NewBreaker(3, time.Second)

	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to run")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errUpstream })
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errUpstream })
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before cooldown, got %v", err)
	}

	now = now.Add(2 * time.Second)

	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if !called {
		t.Fatal("expected probe call")
	}

	b.mu.Lock()
	if b.state != stateClosed {
		t.Fatalf("expected closed after successful probe, got %d", b.state)
	}
	b.mu.Unlock()
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errUpstream })
	}
	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errUpstream })

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after failed probe, got %v", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected circuit still closed, got %v", err)
	}
}
