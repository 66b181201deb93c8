package ports

import (
	"context"

	"voicelink/internal/core/domain"
)

// PreferenceRepository persists user device preferences and test results.
type PreferenceRepository interface {
	PreferredDevice(ctx context.Context, kind domain.DeviceKind) (domain.DeviceID, error)
	SetPreferredDevice(ctx context.Context, kind domain.DeviceKind, id domain.DeviceID) error

	RecordTestResult(ctx context.Context, result domain.DeviceTestResult) error
	TestResult(ctx context.Context, id domain.DeviceID) (domain.DeviceTestResult, error)
}
