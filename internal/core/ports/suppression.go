package ports

// SuppressionConfig selects the noise suppression method and its intensity.
type SuppressionConfig struct {
	Method    string  // "gate", "spectral" or "none"
	Intensity float64 // 0.0-1.0
}

// SuppressionStats exposes live counters from the processor.
type SuppressionStats struct {
	FramesProcessed uint64
	FramesGated     uint64
	NoiseFloor      float64
}

// NoiseSuppressor processes a local audio stream before it is sent. A failed
// Initialize must leave the input stream untouched so the caller can fall back
// to the unprocessed stream.
type NoiseSuppressor interface {
	Initialize(in AudioStream, cfg SuppressionConfig) (AudioStream, error)
	UpdateConfig(cfg SuppressionConfig) error
	Stats() SuppressionStats
	Destroy() error
}
