package domain

import "time"

type RoomID string
type UserID string

// SessionState is the lifecycle state of a single peer session.
type SessionState string

const (
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionDegraded     SessionState = "degraded"
	SessionDisconnected SessionState = "disconnected"
	SessionFailed       SessionState = "failed"
)

// Active reports whether the session still has a live transport attached.
func (s SessionState) Active() bool {
	return s == SessionConnecting || s == SessionConnected || s == SessionDegraded
}

// PeerSessionInfo is a read-only snapshot of a peer session, exposed to callers.
type PeerSessionInfo struct {
	UserID          UserID
	DisplayName     string
	State           SessionState
	RetryCount      int
	LastAttempt     time.Time
	AudioSinkVolume float64
	LocallyMuted    bool
	Quality         QualitySample
}

const (
	// MinSinkVolume and MaxSinkVolume bound the per-peer volume slider.
	MinSinkVolume = 0.0
	MaxSinkVolume = 2.0
)

// ClampVolume clamps a volume slider value into [MinSinkVolume, MaxSinkVolume].
func ClampVolume(v float64) float64 {
	if v < MinSinkVolume {
		return MinSinkVolume
	}
	if v > MaxSinkVolume {
		return MaxSinkVolume
	}
	return v
}

// EffectiveGain computes the playback gain for a session:
// localVolume × masterVolume × (1 − attenuation/100). Both volume factors are
// clamped before multiplication; the transport clamps the result to the sink range.
func EffectiveGain(localVolume, masterVolume float64, attenuationPercent float64) float64 {
	if attenuationPercent < 0 {
		attenuationPercent = 0
	}
	if attenuationPercent > 100 {
		attenuationPercent = 100
	}
	return ClampVolume(localVolume) * ClampVolume(masterVolume) * (1 - attenuationPercent/100)
}
