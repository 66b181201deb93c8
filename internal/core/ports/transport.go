package ports

import (
	"context"
	"time"

	"voicelink/internal/core/domain"
)

// ConnState mirrors the underlying transport's connectivity state.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// SessionDescription is the transport's local or remote description.
type SessionDescription struct {
	Type string // "offer" or "answer"
	SDP  string
}

// TransportStats are the live statistics read from one peer connection.
type TransportStats struct {
	PacketsLost     uint64
	PacketsReceived uint64
	Jitter          time.Duration
}

// LossRate returns the fraction of packets lost, in [0, 1].
func (s TransportStats) LossRate() float64 {
	total := s.PacketsLost + s.PacketsReceived
	if total == 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(total)
}

// LocalTrack is an opaque handle to a local media track owned by the pipeline.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
}

// RemoteTrack is an inbound media track from a remote peer.
type RemoteTrack interface {
	ID() string
	Kind() domain.TrackKind
}

// TrackSender is the per-connection attachment of a local track. ReplaceTrack
// substitutes the underlying track without renegotiation.
type TrackSender interface {
	ReplaceTrack(track LocalTrack) error
	Track() LocalTrack
}

// PeerConnection is the narrow interface the engine drives on the media
// transport. All callbacks fire on transport-owned goroutines.
type PeerConnection interface {
	AddTrack(track LocalTrack) (TrackSender, error)
	RemoveTrack(sender TrackSender) error

	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddCandidate(candidate domain.CandidatePayload) error

	// SignalingStable reports whether the connection can start a renegotiation.
	SignalingStable() bool

	OnConnect(handler func())
	OnRemoteTrack(handler func(RemoteTrack))
	OnCandidate(handler func(domain.CandidatePayload))
	OnStateChange(handler func(ConnState))

	Stats(ctx context.Context) (TransportStats, error)

	// SetReceiverGain sets the playback gain for remote audio, clamped by the
	// transport to the sink's valid range.
	SetReceiverGain(gain float64) error

	Close() error
}

// MediaTransport creates peer connections and synthetic tracks.
type MediaTransport interface {
	NewConnection(ctx context.Context) (PeerConnection, error)

	// NewPlaceholderVideo returns the 1-fps solid-color video stream used when
	// neither camera nor screen share is active.
	NewPlaceholderVideo() (VideoStream, error)
}
