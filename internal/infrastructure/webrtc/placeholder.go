package webrtc

import (
	"sync"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"github.com/pion/webrtc/v3/pkg/media"
)

// placeholderFrame is a pre-encoded 320x180 solid-color VP8 keyframe. Sent at
// 1 fps it keeps the video m-line alive at negligible bitrate.
var placeholderFrame = []byte{
	0x90, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01, 0xb4, 0x00,
	0x07, 0x08, 0x85, 0x85, 0x88, 0x85, 0x84, 0x88, 0x02, 0x02,
	0x00, 0x0c, 0x0d, 0x60, 0x00, 0xfe, 0xff, 0xab, 0x50, 0x80,
}

// placeholderStream writes one static keyframe per second into a VP8 track.
// It occupies the video slot whenever no camera or screen source is active.
type placeholderStream struct {
	track *LocalSampleTrack

	mu     sync.Mutex
	stop   chan struct{}
	closed bool
}

func newPlaceholderStream() (*placeholderStream, error) {
	track, err := NewLocalVideoTrack("placeholder-video")
	if err != nil {
		return nil, err
	}
	s := &placeholderStream{track: track, stop: make(chan struct{})}
	go s.pump()
	return s, nil
}

func (s *placeholderStream) pump() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// Write errors mean no bound connection yet; keep ticking.
			_ = s.track.WriteSample(media.Sample{Data: placeholderFrame, Duration: time.Second})
		}
	}
}

func (s *placeholderStream) Track() ports.LocalTrack { return s.track }

// ApplyConstraints is a no-op: the placeholder always stays at its fixed
// resolution and 1 fps.
func (s *placeholderStream) ApplyConstraints(domain.VideoRung) error { return nil }

func (s *placeholderStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	return nil
}
