package devices

import (
	"context"
	"fmt"
	"strings"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"github.com/pion/mediadevices/pkg/driver"
	"go.uber.org/zap"
)

// Provider enumerates capture hardware through the mediadevices driver
// registry and opens capture streams. It implements ports.DeviceProvider.
type Provider struct {
	logger *zap.SugaredLogger
}

func NewProvider(logger *zap.SugaredLogger) *Provider {
	return &Provider{logger: logger}
}

// Enumerate lists microphones and cameras. Screens are opened on demand and
// never appear in the device list.
func (p *Provider) Enumerate(_ context.Context) ([]domain.Device, error) {
	var devices []domain.Device
	seenDefault := map[domain.DeviceKind]bool{}

	for _, d := range driver.GetManager().Query(driver.FilterAudioRecorder()) {
		dev := domain.Device{
			ID:         domain.DeviceID(d.ID()),
			HumanLabel: d.Info().Label,
			Kind:       domain.AudioInput,
		}
		if !seenDefault[domain.AudioInput] {
			dev.IsDefault = true
			seenDefault[domain.AudioInput] = true
		}
		devices = append(devices, dev)
	}

	for _, d := range driver.GetManager().Query(driver.FilterVideoRecorder()) {
		if d.Info().DeviceType == driver.Screen {
			continue
		}
		dev := domain.Device{
			ID:         domain.DeviceID(d.ID()),
			HumanLabel: d.Info().Label,
			Kind:       domain.VideoInput,
		}
		if !seenDefault[domain.VideoInput] {
			dev.IsDefault = true
			seenDefault[domain.VideoInput] = true
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

// RequestPermission is a no-op on desktop platforms: access control happens
// at driver open time and surfaces as ErrPermissionDenied there.
func (p *Provider) RequestPermission(context.Context, domain.DeviceKind) error {
	return nil
}

// Subscribe returns no event channel: the driver registry has no hot-plug
// notifications, so callers fall back to polling.
func (p *Provider) Subscribe() (<-chan struct{}, func()) {
	return nil, func() {}
}

// OpenAudio opens a microphone at 48 kHz mono.
func (p *Provider) OpenAudio(_ context.Context, id domain.DeviceID) (ports.AudioStream, error) {
	d, err := p.findDriver(string(id), driver.FilterAudioRecorder())
	if err != nil {
		return nil, err
	}
	return openAudioCapture(d, id, p.logger)
}

// OpenCamera opens a camera configured to the given ladder rung.
func (p *Provider) OpenCamera(_ context.Context, id domain.DeviceID, rung domain.VideoRung) (ports.VideoStream, error) {
	d, err := p.findDriver(string(id), driver.FilterVideoRecorder())
	if err != nil {
		return nil, err
	}
	return openVideoCapture(d, rung, p.logger)
}

// OpenScreen opens the first screen capture source. When captureAudio is set
// a loopback audio device is opened alongside if the platform exposes one.
func (p *Provider) OpenScreen(ctx context.Context, captureAudio bool) (ports.VideoStream, ports.AudioStream, error) {
	var screen driver.Driver
	for _, d := range driver.GetManager().Query(driver.FilterVideoRecorder()) {
		if d.Info().DeviceType == driver.Screen {
			screen = d
			break
		}
	}
	if screen == nil {
		return nil, nil, fmt.Errorf("%w: no screen capture source", domain.ErrDeviceNotFound)
	}

	video, err := openVideoCapture(screen, domain.VideoLadder()[len(domain.VideoLadder())-1], p.logger)
	if err != nil {
		return nil, nil, err
	}

	var audio ports.AudioStream
	if captureAudio {
		if loopback := p.findLoopback(); loopback != nil {
			audio, err = openAudioCapture(loopback, domain.DeviceID(loopback.ID()), p.logger)
			if err != nil {
				p.logger.Warnw("screen audio capture unavailable", "error", err)
				audio = nil
			}
		} else {
			p.logger.Infow("no loopback audio device, sharing screen without audio")
		}
	}

	return video, audio, nil
}

func (p *Provider) findDriver(id string, filter driver.FilterFn) (driver.Driver, error) {
	for _, d := range driver.GetManager().Query(filter) {
		if d.ID() == id {
			if d.Status() != driver.StateClosed {
				return nil, domain.ErrDeviceBusy
			}
			return d, nil
		}
	}
	return nil, domain.ErrDeviceNotFound
}

// findLoopback looks for a monitor or loopback audio source among the
// recorders, which is how desktop audio shows up on most platforms.
func (p *Provider) findLoopback() driver.Driver {
	for _, d := range driver.GetManager().Query(driver.FilterAudioRecorder()) {
		label := strings.ToLower(d.Info().Label)
		if strings.Contains(label, "monitor") || strings.Contains(label, "loopback") || strings.Contains(label, "stereo mix") {
			return d
		}
	}
	return nil
}

// mapDriverError translates driver open failures to domain errors.
func mapDriverError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceBusy, err)
	default:
		return err
	}
}
