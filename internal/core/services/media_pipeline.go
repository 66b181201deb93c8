package services

import (
	"context"
	"fmt"
	"sync"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"go.uber.org/zap"
)

// MediaConfig bundles the pipeline's detection and suppression settings.
type MediaConfig struct {
	Detection   domain.DetectionConfig
	Suppression ports.SuppressionConfig
}

// PipelineEvents receive local media changes. All handlers are optional and
// must not call back into the pipeline.
type PipelineEvents struct {
	// VideoSwapped fires when the single video slot changes occupant. The
	// swap is an in-place track replacement, never a renegotiation.
	VideoSwapped func(track ports.LocalTrack, source domain.VideoSource)

	// AudioReplaced fires when the primary audio track is substituted after a
	// device switch.
	AudioReplaced func(oldTrackID string, track ports.LocalTrack)

	// AudioAttached and AudioDetached fire when screen-share audio comes and
	// goes. Both require renegotiation by the caller.
	AudioAttached func(track ports.LocalTrack)
	AudioDetached func(trackID string)

	MuteChanged func(muted bool)
}

// LocalMediaPipeline owns all locally captured media: the microphone stream
// (with optional noise suppression), the single video slot, and the optional
// screen-share audio. The video slot always holds exactly one track; a 1-fps
// placeholder fills it whenever camera and screen share are both off.
type LocalMediaPipeline struct {
	provider   ports.DeviceProvider
	transport  ports.MediaTransport
	suppressor ports.NoiseSuppressor
	registry   *DeviceRegistry
	detector   *SpeakingDetector
	events     PipelineEvents
	cfg        MediaConfig
	logger     *zap.SugaredLogger

	audio          ports.AudioStream
	audioDevice    domain.DeviceID
	placeholder    ports.VideoStream
	video          ports.VideoStream
	source         domain.VideoSource
	screenAudio    ports.AudioStream
	muted          bool
	deafened       bool
	preDeafenMuted bool
	rung           domain.VideoRung
	detectorCancel context.CancelFunc
	mu             sync.Mutex
}

// NewLocalMediaPipeline creates an idle pipeline. AcquireAudio activates it.
func NewLocalMediaPipeline(
	provider ports.DeviceProvider,
	transport ports.MediaTransport,
	suppressor ports.NoiseSuppressor,
	registry *DeviceRegistry,
	detector *SpeakingDetector,
	events PipelineEvents,
	cfg MediaConfig,
	logger *zap.SugaredLogger,
) *LocalMediaPipeline {
	ladder := domain.VideoLadder()
	return &LocalMediaPipeline{
		provider:   provider,
		transport:  transport,
		suppressor: suppressor,
		registry:   registry,
		detector:   detector,
		events:     events,
		cfg:        cfg,
		logger:     logger,
		source:     domain.VideoPlaceholder,
		rung:       ladder[len(ladder)-1],
	}
}

// AcquireAudio opens the microphone (the given device, or the best available
// when id is empty), runs it through noise suppression, and fills the video
// slot with the placeholder. Suppression failure falls back to the raw stream.
func (p *LocalMediaPipeline) AcquireAudio(ctx context.Context, id domain.DeviceID) error {
	if id == "" {
		device, err := p.registry.Pick(ctx, domain.AudioInput)
		if err != nil {
			return fmt.Errorf("pick audio input: %w", err)
		}
		id = device.ID
	}

	stream, err := p.openProcessedAudio(ctx, id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.audio != nil {
		p.audio.Close()
		p.stopDetectorLocked()
	}
	p.audio = stream
	p.audioDevice = id
	stream.SetEnabled(!p.muted)
	p.startDetectorLocked(stream)

	if p.placeholder == nil {
		placeholder, err := p.transport.NewPlaceholderVideo()
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("create placeholder video: %w", err)
		}
		p.placeholder = placeholder
		p.video = placeholder
		p.source = domain.VideoPlaceholder
	}
	p.mu.Unlock()

	p.logger.Infow("audio acquired", "device_id", id)
	return nil
}

func (p *LocalMediaPipeline) openProcessedAudio(ctx context.Context, id domain.DeviceID) (ports.AudioStream, error) {
	raw, err := p.provider.OpenAudio(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open audio device %s: %w", id, err)
	}

	if p.suppressor == nil || p.cfg.Suppression.Method == "none" {
		return raw, nil
	}
	processed, err := p.suppressor.Initialize(raw, p.cfg.Suppression)
	if err != nil {
		p.logger.Warnw("noise suppression init failed, using raw stream",
			"method", p.cfg.Suppression.Method,
			"error", err,
		)
		return raw, nil
	}
	return processed, nil
}

// SwitchAudioDevice swaps the microphone in place; the new track replaces the
// old one on every session without renegotiation.
func (p *LocalMediaPipeline) SwitchAudioDevice(ctx context.Context, id domain.DeviceID) error {
	stream, err := p.openProcessedAudio(ctx, id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.audio
	var oldTrackID string
	if old != nil {
		oldTrackID = old.Track().ID()
		p.stopDetectorLocked()
	}
	p.audio = stream
	p.audioDevice = id
	stream.SetEnabled(!p.muted)
	p.startDetectorLocked(stream)
	handler := p.events.AudioReplaced
	p.mu.Unlock()

	if old != nil {
		old.Close()
		if handler != nil {
			handler(oldTrackID, stream.Track())
		}
	}
	p.logger.Infow("audio device switched", "device_id", id)
	return nil
}

// startDetectorLocked launches the speaking detector loop for a stream. The
// loop exits when the stream's frame channel closes. Caller holds mu.
func (p *LocalMediaPipeline) startDetectorLocked(stream ports.AudioStream) {
	ctx, cancel := context.WithCancel(context.Background())
	p.detectorCancel = cancel
	go p.detector.Run(ctx, stream.Frames())
}

func (p *LocalMediaPipeline) stopDetectorLocked() {
	if p.detectorCancel != nil {
		p.detectorCancel()
		p.detectorCancel = nil
	}
}

// CurrentTracks returns the tracks every new peer connection must send.
func (p *LocalMediaPipeline) CurrentTracks() []ports.LocalTrack {
	p.mu.Lock()
	defer p.mu.Unlock()

	var tracks []ports.LocalTrack
	if p.audio != nil {
		tracks = append(tracks, p.audio.Track())
	}
	if p.video != nil {
		tracks = append(tracks, p.video.Track())
	}
	if p.screenAudio != nil {
		tracks = append(tracks, p.screenAudio.Track())
	}
	return tracks
}

// EnableCamera puts the camera into the video slot, turning screen share off
// first if it is active.
func (p *LocalMediaPipeline) EnableCamera(ctx context.Context, id domain.DeviceID) error {
	if id == "" {
		device, err := p.registry.Pick(ctx, domain.VideoInput)
		if err != nil {
			return fmt.Errorf("pick camera: %w", err)
		}
		id = device.ID
	}

	p.mu.Lock()
	if p.source == domain.VideoCamera {
		p.mu.Unlock()
		return nil
	}
	var fire []func()
	if p.source == domain.VideoScreen {
		fire = append(fire, p.disableScreenLocked())
	}
	rung := p.rung
	p.mu.Unlock()
	for _, f := range fire {
		f()
	}

	camera, err := p.provider.OpenCamera(ctx, id, rung)
	if err != nil {
		return fmt.Errorf("open camera %s: %w", id, err)
	}

	p.mu.Lock()
	p.video = camera
	p.source = domain.VideoCamera
	handler := p.events.VideoSwapped
	track := camera.Track()
	p.mu.Unlock()

	if handler != nil {
		handler(track, domain.VideoCamera)
	}
	p.logger.Infow("camera enabled", "device_id", id)
	return nil
}

// DisableCamera restores the placeholder into the video slot.
func (p *LocalMediaPipeline) DisableCamera() {
	p.mu.Lock()
	if p.source != domain.VideoCamera {
		p.mu.Unlock()
		return
	}
	camera := p.video
	p.video = p.placeholder
	p.source = domain.VideoPlaceholder
	handler := p.events.VideoSwapped
	var track ports.LocalTrack
	if p.placeholder != nil {
		track = p.placeholder.Track()
	}
	p.mu.Unlock()

	camera.Close()
	if handler != nil && track != nil {
		handler(track, domain.VideoPlaceholder)
	}
	p.logger.Infow("camera disabled")
}

// EnableScreenShare puts the screen capture into the video slot, turning the
// camera off first. With captureAudio, the extra audio track is attached and
// the caller must renegotiate every session.
func (p *LocalMediaPipeline) EnableScreenShare(ctx context.Context, captureAudio bool) error {
	p.mu.Lock()
	if p.source == domain.VideoScreen {
		p.mu.Unlock()
		return nil
	}
	cameraOn := p.source == domain.VideoCamera
	p.mu.Unlock()
	if cameraOn {
		p.DisableCamera()
	}

	videoStream, audioStream, err := p.provider.OpenScreen(ctx, captureAudio)
	if err != nil {
		return fmt.Errorf("open screen capture: %w", err)
	}

	p.mu.Lock()
	p.video = videoStream
	p.source = domain.VideoScreen
	swapped := p.events.VideoSwapped
	videoTrack := videoStream.Track()

	var attached func()
	if audioStream != nil {
		p.screenAudio = audioStream
		if h := p.events.AudioAttached; h != nil {
			track := audioStream.Track()
			attached = func() { h(track) }
		}
	}
	p.mu.Unlock()

	if swapped != nil {
		swapped(videoTrack, domain.VideoScreen)
	}
	if attached != nil {
		attached()
	}
	p.logger.Infow("screen share enabled", "capture_audio", captureAudio)
	return nil
}

// DisableScreenShare restores the placeholder and detaches screen audio.
func (p *LocalMediaPipeline) DisableScreenShare() {
	p.mu.Lock()
	fire := p.disableScreenLocked()
	p.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// disableScreenLocked tears down screen capture and returns the deferred
// event dispatch. Caller holds mu and must invoke the returned func unlocked.
func (p *LocalMediaPipeline) disableScreenLocked() func() {
	if p.source != domain.VideoScreen {
		return func() {}
	}
	screen := p.video
	p.video = p.placeholder
	p.source = domain.VideoPlaceholder
	swapped := p.events.VideoSwapped
	var placeholderTrack ports.LocalTrack
	if p.placeholder != nil {
		placeholderTrack = p.placeholder.Track()
	}

	screenAudio := p.screenAudio
	p.screenAudio = nil
	detached := p.events.AudioDetached

	logger := p.logger
	return func() {
		screen.Close()
		if swapped != nil && placeholderTrack != nil {
			swapped(placeholderTrack, domain.VideoPlaceholder)
		}
		if screenAudio != nil {
			trackID := screenAudio.Track().ID()
			screenAudio.Close()
			if detached != nil {
				detached(trackID)
			}
		}
		logger.Infow("screen share disabled")
	}
}

// SetMuted gates the outgoing microphone. While deafened the flag is only
// remembered for restoration on un-deafen.
func (p *LocalMediaPipeline) SetMuted(muted bool) {
	p.mu.Lock()
	if p.deafened {
		p.preDeafenMuted = muted
		p.mu.Unlock()
		return
	}
	p.muted = muted
	if p.audio != nil {
		p.audio.SetEnabled(!muted)
	}
	handler := p.events.MuteChanged
	p.mu.Unlock()

	if handler != nil {
		handler(muted)
	}
}

// SetDeafened silences playback (applied by the session layer) and forces
// mute. Un-deafening restores the pre-deafen mute flag.
func (p *LocalMediaPipeline) SetDeafened(deafened bool) {
	p.mu.Lock()
	if p.deafened == deafened {
		p.mu.Unlock()
		return
	}
	p.deafened = deafened
	if deafened {
		p.preDeafenMuted = p.muted
		p.muted = true
	} else {
		p.muted = p.preDeafenMuted
	}
	if p.audio != nil {
		p.audio.SetEnabled(!p.muted)
	}
	muted := p.muted
	handler := p.events.MuteChanged
	p.mu.Unlock()

	if handler != nil {
		handler(muted)
	}
}

// ApplyVideoRung re-configures the active capture to a ladder rung. The
// placeholder ignores rungs; the value still applies to the next capture.
func (p *LocalMediaPipeline) ApplyVideoRung(rung domain.VideoRung) error {
	p.mu.Lock()
	p.rung = rung
	video := p.video
	source := p.source
	p.mu.Unlock()

	if source == domain.VideoPlaceholder || video == nil {
		return nil
	}
	return video.ApplyConstraints(rung)
}

// State returns a snapshot of the pipeline.
func (p *LocalMediaPipeline) State() domain.LocalMediaState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return domain.LocalMediaState{
		Muted:       p.muted,
		Deafened:    p.deafened,
		VideoSource: p.source,
		ScreenAudio: p.screenAudio != nil,
		AudioDevice: p.audioDevice,
		Speaking:    p.detector.Speaking(),
		CurrentRung: p.rung,
	}
}

// ReleaseAll closes every stream and returns the pipeline to idle.
func (p *LocalMediaPipeline) ReleaseAll() {
	p.mu.Lock()
	p.stopDetectorLocked()

	streams := []interface{ Close() error }{}
	if p.audio != nil {
		streams = append(streams, p.audio)
		p.audio = nil
	}
	if p.screenAudio != nil {
		streams = append(streams, p.screenAudio)
		p.screenAudio = nil
	}
	if p.video != nil && p.video != p.placeholder {
		streams = append(streams, p.video)
	}
	if p.placeholder != nil {
		streams = append(streams, p.placeholder)
		p.placeholder = nil
	}
	p.video = nil
	p.source = domain.VideoPlaceholder
	p.audioDevice = ""
	p.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	p.logger.Infow("local media released")
}
