package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DevicesConfig tunes hot-plug detection and change notification.
type DevicesConfig struct {
	PollInterval   time.Duration
	NotifyThrottle time.Duration
}

// DefaultDevicesConfig returns the production device settings.
func DefaultDevicesConfig() DevicesConfig {
	return DevicesConfig{
		PollInterval:   2 * time.Second,
		NotifyThrottle: time.Second,
	}
}

// DeviceRegistry maintains the device snapshot, merges stored preferences
// into it, and notifies on hot-plug changes. Providers without change events
// are polled.
type DeviceRegistry struct {
	provider ports.DeviceProvider
	prefs    ports.PreferenceRepository
	cfg      DevicesConfig
	logger   *zap.SugaredLogger

	limiter  *rate.Limiter
	snapshot []domain.Device
	onChange func(devices []domain.Device)
	mu       sync.RWMutex

	cancel context.CancelFunc
	unsub  func()
}

// NewDeviceRegistry creates a registry. Start begins hot-plug watching.
func NewDeviceRegistry(provider ports.DeviceProvider, prefs ports.PreferenceRepository, cfg DevicesConfig, logger *zap.SugaredLogger) *DeviceRegistry {
	return &DeviceRegistry{
		provider: provider,
		prefs:    prefs,
		cfg:      cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(cfg.NotifyThrottle), 1),
	}
}

// OnChange registers the handler fired (throttled) when the device set changes.
func (r *DeviceRegistry) OnChange(handler func(devices []domain.Device)) {
	r.mu.Lock()
	r.onChange = handler
	r.mu.Unlock()
}

// Start begins watching for device changes, via provider events when
// available and by polling otherwise.
func (r *DeviceRegistry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	if _, err := r.Enumerate(ctx); err != nil {
		r.logger.Warnw("initial device enumeration failed", "error", err)
	}

	events, unsub := r.provider.Subscribe()
	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()

	if events != nil {
		go r.watchEvents(ctx, events)
		return
	}
	go r.poll(ctx)
}

// Stop ends hot-plug watching.
func (r *DeviceRegistry) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.mu.Unlock()
}

func (r *DeviceRegistry) watchEvents(ctx context.Context, events <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			r.refresh(ctx)
		}
	}
}

func (r *DeviceRegistry) poll(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh re-enumerates and fires the change handler when the set differs,
// throttled to one notification per NotifyThrottle.
func (r *DeviceRegistry) refresh(ctx context.Context) {
	r.mu.RLock()
	old := r.snapshot
	r.mu.RUnlock()

	devices, err := r.Enumerate(ctx)
	if err != nil {
		r.logger.Debugw("device refresh failed", "error", err)
		return
	}
	if devicesEqual(old, devices) {
		return
	}

	r.mu.RLock()
	handler := r.onChange
	r.mu.RUnlock()
	if handler == nil || !r.limiter.Allow() {
		return
	}

	r.logger.Infow("device set changed", "devices", len(devices))
	handler(devices)
}

// Enumerate lists devices, with stored preferences folded into IsPreferred.
func (r *DeviceRegistry) Enumerate(ctx context.Context) ([]domain.Device, error) {
	devices, err := r.provider.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	preferred := map[domain.DeviceKind]domain.DeviceID{}
	for _, kind := range []domain.DeviceKind{domain.AudioInput, domain.AudioOutput, domain.VideoInput} {
		id, err := r.prefs.PreferredDevice(ctx, kind)
		if err == nil && id != "" {
			preferred[kind] = id
		}
	}
	for i := range devices {
		devices[i].IsPreferred = preferred[devices[i].Kind] == devices[i].ID
	}

	r.mu.Lock()
	r.snapshot = devices
	r.mu.Unlock()
	return devices, nil
}

// Devices returns the last enumerated snapshot.
func (r *DeviceRegistry) Devices() []domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Device, len(r.snapshot))
	copy(out, r.snapshot)
	return out
}

// SetPreferred persists a device preference and refreshes the snapshot flags.
func (r *DeviceRegistry) SetPreferred(ctx context.Context, kind domain.DeviceKind, id domain.DeviceID) error {
	if err := r.prefs.SetPreferredDevice(ctx, kind, id); err != nil {
		return fmt.Errorf("store device preference: %w", err)
	}
	if _, err := r.Enumerate(ctx); err != nil {
		r.logger.Debugw("snapshot refresh after preference change failed", "error", err)
	}
	return nil
}

// Pick selects the device to use for a kind: preferred, then platform
// default, then first available.
func (r *DeviceRegistry) Pick(ctx context.Context, kind domain.DeviceKind) (domain.Device, error) {
	devices, err := r.Enumerate(ctx)
	if err != nil {
		return domain.Device{}, err
	}

	filtered := devices[:0:0]
	for _, d := range devices {
		if d.Kind == kind {
			filtered = append(filtered, d)
		}
	}
	best, ok := domain.BestDevice(filtered)
	if !ok {
		return domain.Device{}, domain.ErrDeviceNotFound
	}
	return best, nil
}

// TestDevice opens an audio device briefly and records the outcome.
func (r *DeviceRegistry) TestDevice(ctx context.Context, id domain.DeviceID) (domain.DeviceTestResult, error) {
	result := domain.DeviceTestResult{DeviceID: id, TestedAt: time.Now()}

	stream, err := r.provider.OpenAudio(ctx, id)
	if err != nil {
		result.OK = false
		result.Detail = err.Error()
	} else {
		result.OK = true
		stream.Close()
	}

	if err := r.prefs.RecordTestResult(ctx, result); err != nil {
		r.logger.Debugw("test result store failed", "device_id", id, "error", err)
	}
	return result, nil
}

func devicesEqual(a, b []domain.Device) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[domain.DeviceID]domain.Device, len(a))
	for _, d := range a {
		seen[d.ID] = d
	}
	for _, d := range b {
		prev, ok := seen[d.ID]
		if !ok || prev.Kind != d.Kind || prev.IsDefault != d.IsDefault || prev.HumanLabel != d.HumanLabel {
			return false
		}
	}
	return true
}
