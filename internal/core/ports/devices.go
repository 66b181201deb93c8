package ports

import (
	"context"

	"voicelink/internal/core/domain"
)

// AudioStream is a live local audio capture. Track is attached to peer
// connections; Frames feeds speaking detection with short PCM windows.
type AudioStream interface {
	Track() LocalTrack
	Frames() <-chan domain.AudioFrame

	// SetEnabled gates the outgoing audio without detaching the track.
	SetEnabled(enabled bool)

	Close() error
}

// VideoStream is a live local video source occupying the single video slot.
type VideoStream interface {
	Track() LocalTrack

	// ApplyConstraints re-configures capture to the given ladder rung.
	ApplyConstraints(rung domain.VideoRung) error

	Close() error
}

// DeviceProvider enumerates devices and opens capture streams.
type DeviceProvider interface {
	Enumerate(ctx context.Context) ([]domain.Device, error)
	RequestPermission(ctx context.Context, kind domain.DeviceKind) error

	// Subscribe returns a channel signalling device-set changes and an
	// unsubscribe function. A nil channel means change events are unavailable
	// and the caller must poll.
	Subscribe() (<-chan struct{}, func())

	OpenAudio(ctx context.Context, id domain.DeviceID) (AudioStream, error)
	OpenCamera(ctx context.Context, id domain.DeviceID, rung domain.VideoRung) (VideoStream, error)
	OpenScreen(ctx context.Context, captureAudio bool) (VideoStream, AudioStream, error)
}
