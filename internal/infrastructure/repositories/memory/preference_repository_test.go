package memory

import (
	"context"
	"testing"
	"time"

	"voicelink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferredDeviceRoundTrip(t *testing.T) {
	repo := NewPreferenceRepository()
	ctx := context.Background()

	id, err := repo.PreferredDevice(ctx, domain.AudioInput)
	require.NoError(t, err)
	assert.Empty(t, id, "unset preference reads as empty")

	require.NoError(t, repo.SetPreferredDevice(ctx, domain.AudioInput, "mic-usb"))
	id, err = repo.PreferredDevice(ctx, domain.AudioInput)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceID("mic-usb"), id)

	// Kinds are independent.
	id, err = repo.PreferredDevice(ctx, domain.VideoInput)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestTestResultRoundTrip(t *testing.T) {
	repo := NewPreferenceRepository()
	ctx := context.Background()

	_, err := repo.TestResult(ctx, "mic-usb")
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)

	result := domain.DeviceTestResult{
		DeviceID: "mic-usb",
		OK:       false,
		Detail:   "device busy",
		TestedAt: time.Now(),
	}
	require.NoError(t, repo.RecordTestResult(ctx, result))

	stored, err := repo.TestResult(ctx, "mic-usb")
	require.NoError(t, err)
	assert.Equal(t, result.Detail, stored.Detail)
	assert.False(t, stored.OK)
}
