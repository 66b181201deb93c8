package suppression

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"go.uber.org/zap"
)

const (
	// noiseFloorAlpha is the EMA weight for the adaptive noise floor.
	noiseFloorAlpha = 0.05
	// initialNoiseFloor seeds the estimate before calibration converges.
	initialNoiseFloor = 0.002
)

// Gate is an energy-gate noise suppressor. Frames whose RMS stays below the
// adaptive noise floor are zeroed before they reach speaking detection and
// the outbound track. It implements ports.NoiseSuppressor.
type Gate struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cfg    ports.SuppressionConfig
	stream *gatedStream

	framesProcessed atomic.Uint64
	framesGated     atomic.Uint64
	noiseFloor      atomicFloat
}

func NewGate(logger *zap.SugaredLogger) *Gate {
	g := &Gate{logger: logger}
	g.noiseFloor.store(initialNoiseFloor)
	return g
}

// Initialize wraps the input stream. The "none" method returns the input
// untouched; unknown methods fail and leave the input usable as-is.
func (g *Gate) Initialize(in ports.AudioStream, cfg ports.SuppressionConfig) (ports.AudioStream, error) {
	switch cfg.Method {
	case "none":
		return in, nil
	case "gate":
	default:
		return nil, fmt.Errorf("unsupported suppression method %q", cfg.Method)
	}

	g.mu.Lock()
	g.cfg = cfg
	stream := &gatedStream{
		inner: in,
		out:   make(chan domain.AudioFrame, 8),
		gate:  g,
	}
	g.stream = stream
	g.mu.Unlock()

	go stream.pump()
	g.logger.Infow("noise gate initialized", "intensity", cfg.Intensity)
	return stream, nil
}

func (g *Gate) UpdateConfig(cfg ports.SuppressionConfig) error {
	if cfg.Method != "gate" && cfg.Method != "none" {
		return fmt.Errorf("unsupported suppression method %q", cfg.Method)
	}
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
	return nil
}

func (g *Gate) Stats() ports.SuppressionStats {
	return ports.SuppressionStats{
		FramesProcessed: g.framesProcessed.Load(),
		FramesGated:     g.framesGated.Load(),
		NoiseFloor:      g.noiseFloor.load(),
	}
}

func (g *Gate) Destroy() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stream = nil
	return nil
}

func (g *Gate) intensity() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.Method == "none" {
		return 0
	}
	return g.cfg.Intensity
}

// process gates one frame in place and returns whether it was silenced.
func (g *Gate) process(frame *domain.AudioFrame) bool {
	g.framesProcessed.Add(1)

	rms := frameRMS(frame.Samples)
	floor := g.noiseFloor.load()

	// Quiet frames refine the floor estimate; speech is kept out of it.
	threshold := floor * (1 + 4*g.intensity())
	if rms <= threshold {
		g.noiseFloor.store(floor + noiseFloorAlpha*(rms-floor))
		for i := range frame.Samples {
			frame.Samples[i] = 0
		}
		g.framesGated.Add(1)
		return true
	}
	return false
}

func frameRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// gatedStream is the processed view of a capture stream. Track, enable state
// and lifetime all delegate to the wrapped stream.
type gatedStream struct {
	inner ports.AudioStream
	out   chan domain.AudioFrame
	gate  *Gate
}

func (s *gatedStream) pump() {
	defer close(s.out)
	for frame := range s.inner.Frames() {
		s.gate.process(&frame)
		select {
		case s.out <- frame:
		default:
		}
	}
}

func (s *gatedStream) Track() ports.LocalTrack          { return s.inner.Track() }
func (s *gatedStream) Frames() <-chan domain.AudioFrame { return s.out }
func (s *gatedStream) SetEnabled(enabled bool)          { s.inner.SetEnabled(enabled) }
func (s *gatedStream) Close() error                     { return s.inner.Close() }

// atomicFloat stores a float64 behind an atomic uint64.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }
