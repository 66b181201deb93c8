package devices

import (
	"fmt"
	"image"
	"sync"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	vwebrtc "voicelink/internal/infrastructure/webrtc"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// videoCapture pumps camera or screen frames into the outbound track.
// ApplyConstraints restarts capture at the new rung without changing the
// track, so peer connections keep their sender.
type videoCapture struct {
	d      driver.Driver
	track  *vwebrtc.LocalSampleTrack
	logger *zap.SugaredLogger

	mu     sync.Mutex
	stop   chan struct{}
	rung   domain.VideoRung
	closed bool
}

func openVideoCapture(d driver.Driver, rung domain.VideoRung, logger *zap.SugaredLogger) (ports.VideoStream, error) {
	track, err := vwebrtc.NewLocalVideoTrack("video-" + d.ID())
	if err != nil {
		return nil, err
	}

	c := &videoCapture{d: d, track: track, logger: logger, rung: rung}
	if err := c.startLocked(rung); err != nil {
		return nil, err
	}
	return c, nil
}

// startLocked opens the driver and begins the pump for one rung. Callers
// hold c.mu or own the capture exclusively.
func (c *videoCapture) startLocked(rung domain.VideoRung) error {
	if err := c.d.Open(); err != nil {
		return mapDriverError(err)
	}

	recorder, ok := c.d.(driver.VideoRecorder)
	if !ok {
		c.d.Close()
		return domain.ErrDeviceNotFound
	}
	reader, err := recorder.VideoRecord(prop.Media{Video: prop.Video{
		Width:       rung.Width,
		Height:      rung.Height,
		FrameRate:   float32(rung.FrameRate),
		FrameFormat: frame.FormatI420,
	}})
	if err != nil {
		c.d.Close()
		return fmt.Errorf("%w: %v", domain.ErrConstraintsUnsatisfiable, err)
	}

	c.stop = make(chan struct{})
	go c.pump(video.ToI420(reader), c.stop, time.Duration(float64(time.Second)/float64(rung.FrameRate)))
	return nil
}

// encodeFrame is the encoder attachment point for outbound video. The track
// negotiates VP8 and expects an encoded bitstream; the default forwards the
// raw I420 planes unencoded, which only a loopback or test consumer can
// render. A vpx encoder (mediadevices pkg/codec) slots in here.
var encodeFrame = func(data []byte) []byte { return data }

func (c *videoCapture) pump(reader video.Reader, stop chan struct{}, frameDur time.Duration) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		img, release, err := reader.Read()
		if err != nil {
			return
		}
		data := i420Bytes(img)
		release()
		if data == nil {
			continue
		}
		data = encodeFrame(data)
		if err := c.track.WriteSample(media.Sample{Data: data, Duration: frameDur}); err != nil {
			c.logger.Debugw("video sample write failed", "track_id", c.track.ID(), "error", err)
		}
	}
}

func (c *videoCapture) Track() ports.LocalTrack { return c.track }

// ApplyConstraints restarts capture at the new ladder rung.
func (c *videoCapture) ApplyConstraints(rung domain.VideoRung) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if rung == c.rung {
		return nil
	}

	close(c.stop)
	c.d.Close()
	if err := c.startLocked(rung); err != nil {
		return err
	}
	c.rung = rung
	return nil
}

func (c *videoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stop)
	return c.d.Close()
}

// i420Bytes packs the planes of an I420 frame into one buffer.
func i420Bytes(img image.Image) []byte {
	ycbcr, ok := img.(*image.YCbCr)
	if !ok {
		return nil
	}
	out := make([]byte, 0, len(ycbcr.Y)+len(ycbcr.Cb)+len(ycbcr.Cr))
	out = append(out, ycbcr.Y...)
	out = append(out, ycbcr.Cb...)
	out = append(out, ycbcr.Cr...)
	return out
}
