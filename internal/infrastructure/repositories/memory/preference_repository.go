package memory

import (
	"context"
	"sync"

	"voicelink/internal/core/domain"
)

// PreferenceRepository is the in-memory fallback store for device
// preferences. Contents do not survive a restart.
type PreferenceRepository struct {
	mu        sync.RWMutex
	preferred map[domain.DeviceKind]domain.DeviceID
	tests     map[domain.DeviceID]domain.DeviceTestResult
}

func NewPreferenceRepository() *PreferenceRepository {
	return &PreferenceRepository{
		preferred: make(map[domain.DeviceKind]domain.DeviceID),
		tests:     make(map[domain.DeviceID]domain.DeviceTestResult),
	}
}

// PreferredDevice returns the stored preference for a kind, or an empty ID
// when none is set.
func (r *PreferenceRepository) PreferredDevice(_ context.Context, kind domain.DeviceKind) (domain.DeviceID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preferred[kind], nil
}

func (r *PreferenceRepository) SetPreferredDevice(_ context.Context, kind domain.DeviceKind, id domain.DeviceID) error {
	r.mu.Lock()
	r.preferred[kind] = id
	r.mu.Unlock()
	return nil
}

func (r *PreferenceRepository) RecordTestResult(_ context.Context, result domain.DeviceTestResult) error {
	r.mu.Lock()
	r.tests[result.DeviceID] = result
	r.mu.Unlock()
	return nil
}

func (r *PreferenceRepository) TestResult(_ context.Context, id domain.DeviceID) (domain.DeviceTestResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.tests[id]
	if !ok {
		return domain.DeviceTestResult{}, domain.ErrDeviceNotFound
	}
	return result, nil
}
