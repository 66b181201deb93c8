package repositories

import (
	"context"
	"errors"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// breakerPreferenceRepository guards a remote preference store with a circuit
// breaker so a dead Redis does not stall device operations on every call.
type breakerPreferenceRepository struct {
	inner   ports.PreferenceRepository
	breaker *circuitbreaker.CircuitBreaker
}

func newBreakerPreferenceRepository(inner ports.PreferenceRepository, logger *zap.SugaredLogger) *breakerPreferenceRepository {
	cb := circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("preference store circuit state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return &breakerPreferenceRepository{inner: inner, breaker: cb}
}

func (r *breakerPreferenceRepository) PreferredDevice(ctx context.Context, kind domain.DeviceKind) (domain.DeviceID, error) {
	var id domain.DeviceID
	err := r.breaker.Execute(func() error {
		var innerErr error
		id, innerErr = r.inner.PreferredDevice(ctx, kind)
		return innerErr
	})
	return id, err
}

func (r *breakerPreferenceRepository) SetPreferredDevice(ctx context.Context, kind domain.DeviceKind, id domain.DeviceID) error {
	return r.breaker.Execute(func() error {
		return r.inner.SetPreferredDevice(ctx, kind, id)
	})
}

func (r *breakerPreferenceRepository) RecordTestResult(ctx context.Context, result domain.DeviceTestResult) error {
	return r.breaker.Execute(func() error {
		return r.inner.RecordTestResult(ctx, result)
	})
}

func (r *breakerPreferenceRepository) TestResult(ctx context.Context, id domain.DeviceID) (domain.DeviceTestResult, error) {
	var result domain.DeviceTestResult
	var missing bool
	err := r.breaker.Execute(func() error {
		var innerErr error
		result, innerErr = r.inner.TestResult(ctx, id)
		// A missing record is a valid answer, not a store failure.
		if errors.Is(innerErr, domain.ErrDeviceNotFound) {
			missing = true
			return nil
		}
		return innerErr
	})
	if missing {
		return result, domain.ErrDeviceNotFound
	}
	return result, err
}
