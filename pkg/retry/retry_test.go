package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayForDoublesPerAttempt(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 2000 * time.Millisecond,
		Multiplier:   2.0,
	}

	assert.Equal(t, 2000*time.Millisecond, cfg.DelayFor(1))
	assert.Equal(t, 4000*time.Millisecond, cfg.DelayFor(2))
	assert.Equal(t, 8000*time.Millisecond, cfg.DelayFor(3))
}

func TestDelayForCapsAtMaxDelay(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.DelayFor(1))
	assert.Equal(t, 200*time.Millisecond, cfg.DelayFor(2))
	assert.Equal(t, 300*time.Millisecond, cfg.DelayFor(3))
	assert.Equal(t, 300*time.Millisecond, cfg.DelayFor(10))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
	}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
	}

	sentinel := errors.New("persistent")
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestRetryDisabledRunsOnce(t *testing.T) {
	cfg := Config{Enabled: false, MaxAttempts: 5}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error { return errors.New("always") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
