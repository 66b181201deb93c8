package webrtc

import (
	"fmt"
	"sync"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// LocalSampleTrack is the sample-based local track handed to peer connections.
// Capture code writes encoded media through WriteSample.
type LocalSampleTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  domain.TrackKind
}

// NewLocalAudioTrack creates an Opus sample track.
func NewLocalAudioTrack(id string) (*LocalSampleTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &LocalSampleTrack{track: track, kind: domain.TrackAudio}, nil
}

// NewLocalVideoTrack creates a VP8 sample track.
func NewLocalVideoTrack(id string) (*LocalSampleTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return &LocalSampleTrack{track: track, kind: domain.TrackVideo}, nil
}

func (t *LocalSampleTrack) ID() string             { return t.track.ID() }
func (t *LocalSampleTrack) Kind() domain.TrackKind { return t.kind }

// WriteSample forwards one encoded media sample to every bound connection.
func (t *LocalSampleTrack) WriteSample(sample media.Sample) error {
	return t.track.WriteSample(sample)
}

func unwrapLocal(track ports.LocalTrack) (*LocalSampleTrack, error) {
	lt, ok := track.(*LocalSampleTrack)
	if !ok {
		return nil, fmt.Errorf("unsupported local track type %T", track)
	}
	return lt, nil
}

// trackSender pairs a pion RTPSender with the local track it currently sends.
type trackSender struct {
	sender *webrtc.RTPSender

	mu      sync.Mutex
	current ports.LocalTrack
}

func (s *trackSender) ReplaceTrack(track ports.LocalTrack) error {
	lt, err := unwrapLocal(track)
	if err != nil {
		return err
	}
	if err := s.sender.ReplaceTrack(lt.track); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	s.mu.Lock()
	s.current = track
	s.mu.Unlock()
	return nil
}

func (s *trackSender) Track() ports.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

type remoteTrack struct {
	id   string
	kind domain.TrackKind
}

func (t remoteTrack) ID() string             { return t.id }
func (t remoteTrack) Kind() domain.TrackKind { return t.kind }

func remoteKind(kind webrtc.RTPCodecType) domain.TrackKind {
	if kind == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}
