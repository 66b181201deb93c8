package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"voicelink/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const (
	preferredKeyPrefix  = "voicelink:preferred:"
	testResultKeyPrefix = "voicelink:devtest:"
)

// PreferenceRepository persists device preferences and test results in Redis.
type PreferenceRepository struct {
	client *redis.Client
}

func NewPreferenceRepository(client *redis.Client) *PreferenceRepository {
	return &PreferenceRepository{client: client}
}

// PreferredDevice returns the stored preference for a kind, or an empty ID
// when none is set.
func (r *PreferenceRepository) PreferredDevice(ctx context.Context, kind domain.DeviceKind) (domain.DeviceID, error) {
	val, err := r.client.Get(ctx, preferredKeyPrefix+string(kind)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get preferred device: %w", err)
	}
	return domain.DeviceID(val), nil
}

func (r *PreferenceRepository) SetPreferredDevice(ctx context.Context, kind domain.DeviceKind, id domain.DeviceID) error {
	if err := r.client.Set(ctx, preferredKeyPrefix+string(kind), string(id), 0).Err(); err != nil {
		return fmt.Errorf("set preferred device: %w", err)
	}
	return nil
}

func (r *PreferenceRepository) RecordTestResult(ctx context.Context, result domain.DeviceTestResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal test result: %w", err)
	}
	if err := r.client.Set(ctx, testResultKeyPrefix+string(result.DeviceID), data, 0).Err(); err != nil {
		return fmt.Errorf("store test result: %w", err)
	}
	return nil
}

func (r *PreferenceRepository) TestResult(ctx context.Context, id domain.DeviceID) (domain.DeviceTestResult, error) {
	data, err := r.client.Get(ctx, testResultKeyPrefix+string(id)).Bytes()
	if err == redis.Nil {
		return domain.DeviceTestResult{}, domain.ErrDeviceNotFound
	}
	if err != nil {
		return domain.DeviceTestResult{}, fmt.Errorf("get test result: %w", err)
	}

	var result domain.DeviceTestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.DeviceTestResult{}, fmt.Errorf("unmarshal test result: %w", err)
	}
	return result, nil
}
