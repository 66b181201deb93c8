package domain

import "time"

// TrackKind distinguishes the two media track types.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// VideoSource identifies what currently occupies the single video track slot.
type VideoSource string

const (
	VideoPlaceholder VideoSource = "placeholder"
	VideoCamera      VideoSource = "camera"
	VideoScreen      VideoSource = "screen"
)

// AudioFrame is a short window of mono PCM samples used for speaking detection.
type AudioFrame struct {
	Samples    []float32
	SampleRate int
	Timestamp  time.Time
}

// DetectionMode selects how the speaking flag is driven.
type DetectionMode string

const (
	DetectionVoiceActivity DetectionMode = "voice_activity"
	DetectionPushToTalk    DetectionMode = "push_to_talk"
)

// KeyCombo is the push-to-talk binding. Modifiers must match exactly.
type KeyCombo struct {
	Key       string
	Modifiers []string
}

// Matches reports whether a key event matches the combo, requiring the exact
// modifier set (no extras, no omissions).
func (k KeyCombo) Matches(key string, modifiers []string) bool {
	if key != k.Key || len(modifiers) != len(k.Modifiers) {
		return false
	}
	want := make(map[string]bool, len(k.Modifiers))
	for _, m := range k.Modifiers {
		want[m] = true
	}
	for _, m := range modifiers {
		if !want[m] {
			return false
		}
	}
	return true
}

// DetectionConfig holds the speaking detection settings.
type DetectionConfig struct {
	Mode        DetectionMode
	Sensitivity int // 0-100; higher sensitivity lowers the energy threshold
	Cooldown    time.Duration
	HoldTime    time.Duration
	PushToTalk  KeyCombo
}

// LocalMediaState is a read-only snapshot of the local pipeline.
type LocalMediaState struct {
	Muted        bool
	Deafened     bool
	VideoSource  VideoSource
	ScreenAudio  bool
	AudioDevice  DeviceID
	Speaking     bool
	CurrentRung  VideoRung
}
