package services

import (
	"context"
	"math"
	"sync"
	"time"

	"voicelink/internal/core/domain"

	"go.uber.org/zap"
)

// VAD energy thresholds: sensitivity 0 requires vadMaxThreshold RMS energy to
// trigger, sensitivity 100 requires vadMinThreshold.
const (
	vadMinThreshold = 0.01
	vadMaxThreshold = 0.30
)

// SpeakingDetector drives the local speaking flag, either from PCM frame
// energy (voice activity mode) or from push-to-talk key events.
type SpeakingDetector struct {
	cfg     domain.DetectionConfig
	logger  *zap.SugaredLogger
	metrics EngineMetrics

	speaking       bool
	lastTransition time.Time
	belowSince     time.Time
	onChange       func(speaking bool)
	mu             sync.Mutex
}

// NewSpeakingDetector creates a detector with the given settings.
func NewSpeakingDetector(cfg domain.DetectionConfig, metrics EngineMetrics, logger *zap.SugaredLogger) *SpeakingDetector {
	return &SpeakingDetector{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// OnChange registers the handler invoked on every speaking transition.
func (d *SpeakingDetector) OnChange(handler func(speaking bool)) {
	d.mu.Lock()
	d.onChange = handler
	d.mu.Unlock()
}

// Speaking returns the current flag.
func (d *SpeakingDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// UpdateConfig swaps the detection settings. Switching mode away from
// push-to-talk releases a held key; switching away from voice activity keeps
// the current flag until the next key event.
func (d *SpeakingDetector) UpdateConfig(cfg domain.DetectionConfig) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Config returns the active detection settings.
func (d *SpeakingDetector) Config() domain.DetectionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Run consumes audio frames until the channel closes or the context ends.
// Intended to be called on its own goroutine per audio stream; a device
// switch closes the old stream's channel and terminates its loop.
func (d *SpeakingDetector) Run(ctx context.Context, frames <-chan domain.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			d.Process(frame)
		}
	}
}

// Process applies one audio frame in voice activity mode. Frames are ignored
// in push-to-talk mode.
func (d *SpeakingDetector) Process(frame domain.AudioFrame) {
	d.mu.Lock()
	if d.cfg.Mode != domain.DetectionVoiceActivity {
		d.mu.Unlock()
		return
	}

	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	energy := rmsEnergy(frame.Samples)
	threshold := vadThreshold(d.cfg.Sensitivity)

	var fire bool
	var next bool
	if energy >= threshold {
		d.belowSince = time.Time{}
		if !d.speaking && d.cooledDown(now) {
			d.speaking = true
			d.lastTransition = now
			fire, next = true, true
		}
	} else if d.speaking {
		if d.belowSince.IsZero() {
			d.belowSince = now
		}
		if now.Sub(d.belowSince) >= d.cfg.HoldTime && d.cooledDown(now) {
			d.speaking = false
			d.lastTransition = now
			d.belowSince = time.Time{}
			fire, next = true, false
		}
	}
	handler := d.onChange
	d.mu.Unlock()

	if fire {
		d.transition(handler, next)
	}
}

// HandleKey applies one key event in push-to-talk mode. Only events matching
// the configured combo exactly change the flag; energy is never analysed.
func (d *SpeakingDetector) HandleKey(key string, modifiers []string, pressed bool) {
	d.mu.Lock()
	if d.cfg.Mode != domain.DetectionPushToTalk || !d.cfg.PushToTalk.Matches(key, modifiers) {
		d.mu.Unlock()
		return
	}
	if d.speaking == pressed {
		d.mu.Unlock()
		return
	}
	d.speaking = pressed
	d.lastTransition = time.Now()
	handler := d.onChange
	d.mu.Unlock()

	d.transition(handler, pressed)
}

func (d *SpeakingDetector) transition(handler func(bool), speaking bool) {
	d.logger.Debugw("speaking changed", "speaking", speaking)
	if d.metrics != nil {
		d.metrics.SpeakingChanged(speaking)
	}
	if handler != nil {
		handler(speaking)
	}
}

// cooledDown reports whether enough time has passed since the last transition.
// Caller holds mu.
func (d *SpeakingDetector) cooledDown(now time.Time) bool {
	return d.lastTransition.IsZero() || now.Sub(d.lastTransition) >= d.cfg.Cooldown
}

// vadThreshold maps a 0-100 sensitivity to an RMS energy threshold; higher
// sensitivity lowers the threshold.
func vadThreshold(sensitivity int) float64 {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 100 {
		sensitivity = 100
	}
	return vadMaxThreshold - (vadMaxThreshold-vadMinThreshold)*float64(sensitivity)/100
}

func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
