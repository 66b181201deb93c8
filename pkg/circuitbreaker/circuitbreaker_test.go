package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		MaxProbes:        1,
	}
}

func TestClosedPassesCallsThrough(t *testing.T) {
	cb := New(testConfig())

	calls := 0
	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed state, got %s", cb.GetState())
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.GetState())
	}

	// Open breaker rejects without invoking the function.
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("function must not run while breaker is open")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := New(testConfig())
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })

	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed state after interleaved success, got %s", cb.GetState())
	}
}

func TestHalfOpenClosesAfterSuccessfulProbes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxProbes = 2
	cb := New(cfg)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d failed: %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed state after probes, got %s", cb.GetState())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	cb := New(cfg)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	_ = cb.Execute(func() error { return boom })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected reopened state, got %s", cb.GetState())
	}
}

func TestReset(t *testing.T) {
	cb := New(testConfig())
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed state after reset, got %s", cb.GetState())
	}
}
