package domain

import "time"

type DeviceID string

// DeviceKind distinguishes capture and playback devices for audio and video.
type DeviceKind string

const (
	AudioInput  DeviceKind = "audio_input"
	AudioOutput DeviceKind = "audio_output"
	VideoInput  DeviceKind = "video_input"
)

// Device describes one capture or playback device as reported by the platform.
type Device struct {
	ID          DeviceID
	HumanLabel  string
	GroupID     string
	Kind        DeviceKind
	IsDefault   bool
	IsPreferred bool
}

// DeviceTestResult records the outcome of the most recent device test.
type DeviceTestResult struct {
	DeviceID DeviceID
	OK       bool
	Detail   string
	TestedAt time.Time
}

// BestDevice picks the device to use from a snapshot: preferred first, then
// the platform default, then the first available.
func BestDevice(devices []Device) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	for _, d := range devices {
		if d.IsPreferred {
			return d, true
		}
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, true
		}
	}
	return devices[0], true
}
