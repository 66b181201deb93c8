package devices

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	vwebrtc "voicelink/internal/infrastructure/webrtc"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const (
	captureSampleRate = 48000
	captureLatency    = 20 * time.Millisecond
)

// audioCapture pumps microphone chunks into the outbound track and mirrors
// them as PCM frames for speaking detection. Disabling writes silence so the
// track keeps its timing without detaching.
type audioCapture struct {
	id     domain.DeviceID
	d      driver.Driver
	track  *vwebrtc.LocalSampleTrack
	frames chan domain.AudioFrame
	logger *zap.SugaredLogger

	enabled   atomic.Bool
	stop      chan struct{}
	closeOnce sync.Once
}

func openAudioCapture(d driver.Driver, id domain.DeviceID, logger *zap.SugaredLogger) (ports.AudioStream, error) {
	if err := d.Open(); err != nil {
		return nil, mapDriverError(err)
	}

	recorder, ok := d.(driver.AudioRecorder)
	if !ok {
		d.Close()
		return nil, domain.ErrDeviceNotFound
	}
	reader, err := recorder.AudioRecord(prop.Media{Audio: prop.Audio{
		SampleRate:   captureSampleRate,
		ChannelCount: 1,
		Latency:      captureLatency,
	}})
	if err != nil {
		d.Close()
		return nil, mapDriverError(err)
	}

	track, err := vwebrtc.NewLocalAudioTrack("audio-" + d.ID())
	if err != nil {
		d.Close()
		return nil, err
	}

	c := &audioCapture{
		id:     id,
		d:      d,
		track:  track,
		frames: make(chan domain.AudioFrame, 8),
		logger: logger,
		stop:   make(chan struct{}),
	}
	c.enabled.Store(true)
	go c.pump(reader)
	return c, nil
}

func (c *audioCapture) pump(reader audio.Reader) {
	defer close(c.frames)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		chunk, release, err := reader.Read()
		if err != nil {
			return
		}
		info := chunk.ChunkInfo()
		if info.Len == 0 || info.SamplingRate == 0 {
			release()
			continue
		}

		samples := monoSamples(chunk)
		release()

		frame := domain.AudioFrame{
			Samples:    samples,
			SampleRate: info.SamplingRate,
			Timestamp:  time.Now(),
		}
		select {
		case c.frames <- frame:
		default: // detection lagging; drop rather than stall capture
		}

		duration := time.Duration(info.Len) * time.Second / time.Duration(info.SamplingRate)
		data := pcmBytes(samples, c.enabled.Load())
		if err := c.track.WriteSample(media.Sample{Data: data, Duration: duration}); err != nil {
			c.logger.Debugw("audio sample write failed", "device_id", c.id, "error", err)
		}
	}
}

func (c *audioCapture) Track() ports.LocalTrack          { return c.track }
func (c *audioCapture) Frames() <-chan domain.AudioFrame { return c.frames }
func (c *audioCapture) SetEnabled(enabled bool)          { c.enabled.Store(enabled) }

func (c *audioCapture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		err = c.d.Close()
	})
	return err
}

// monoSamples folds a capture chunk down to normalized mono float32.
func monoSamples(chunk wave.Audio) []float32 {
	info := chunk.ChunkInfo()
	out := make([]float32, info.Len)
	for i := 0; i < info.Len; i++ {
		var sum float64
		for ch := 0; ch < info.Channels; ch++ {
			sum += float64(chunk.At(i, ch).Int()) / float64(math.MaxInt64)
		}
		out[i] = float32(sum / float64(info.Channels))
	}
	return out
}

// pcmBytes serializes samples as 16-bit little-endian PCM, or silence of the
// same length when the stream is disabled.
func pcmBytes(samples []float32, enabled bool) []byte {
	out := make([]byte, len(samples)*2)
	if !enabled {
		return out
	}
	for i, s := range samples {
		v := int16(math.Max(-1, math.Min(1, float64(s))) * math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
