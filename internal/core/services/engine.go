package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/logger"
	"voicelink/pkg/tracing"

	"go.uber.org/zap"
)

// Options carries everything the engine needs. Metrics, Suppressor and the
// event handlers may be nil.
type Options struct {
	Bus         ports.SignalBus
	Transport   ports.MediaTransport
	Devices     ports.DeviceProvider
	Suppressor  ports.NoiseSuppressor
	Preferences ports.PreferenceRepository
	Metrics     EngineMetrics

	Session SessionConfig
	Quality QualityConfig
	Hotplug DevicesConfig
	Media   MediaConfig

	// PeerEvents receive relayed remote state (speaking, mute, camera).
	PeerEvents PeerEventHandlers

	// SessionClosed fires when a peer session is removed; reason is
	// ErrMaxRetriesExceeded when the retry budget ran out, nil otherwise.
	SessionClosed func(userID domain.UserID, reason error)

	Logger *zap.SugaredLogger
}

// Engine is the conferencing façade: it owns the signaling coordinator,
// session manager, media pipeline, negotiation coordinator, quality monitor
// and device registry, and exposes the caller surface over them.
type Engine struct {
	logger  *zap.SugaredLogger
	ctxLog  *logger.ContextLogger
	metrics EngineMetrics

	bus      ports.SignalBus
	sm       *SessionManager
	sc       *SignalingCoordinator
	nc       *NegotiationCoordinator
	qm       *QualityMonitor
	pipeline *LocalMediaPipeline
	detector *SpeakingDetector
	registry *DeviceRegistry

	onSessionClosed func(userID domain.UserID, reason error)

	room   domain.RoomID
	selfID domain.UserID
	joined bool
	mu     sync.RWMutex
}

// NewEngine wires all sub-services together. Nothing runs until Start.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		logger:          opts.Logger,
		ctxLog:          logger.NewContextLogger(opts.Logger.Desugar()),
		metrics:         opts.Metrics,
		bus:             opts.Bus,
		onSessionClosed: opts.SessionClosed,
	}

	e.detector = NewSpeakingDetector(opts.Media.Detection, opts.Metrics, opts.Logger)
	e.registry = NewDeviceRegistry(opts.Devices, opts.Preferences, opts.Hotplug, opts.Logger)

	e.pipeline = NewLocalMediaPipeline(
		opts.Devices,
		opts.Transport,
		opts.Suppressor,
		e.registry,
		e.detector,
		PipelineEvents{
			VideoSwapped:  e.handleVideoSwapped,
			AudioReplaced: e.handleAudioReplaced,
			AudioAttached: e.handleAudioAttached,
			AudioDetached: e.handleAudioDetached,
			MuteChanged:   e.handleMuteChanged,
		},
		opts.Media,
		opts.Logger,
	)

	e.sm = NewSessionManager(opts.Transport, e.pipeline, opts.Session, opts.Metrics, opts.Logger)
	e.sm.OnSessionClosed(e.handleSessionClosed)

	e.sc = NewSignalingCoordinator(opts.Bus, e.sm, opts.PeerEvents, opts.Metrics, opts.Logger)
	e.sm.BindSignaler(e.sc)

	e.nc = NewNegotiationCoordinator(e.sm, opts.Metrics, opts.Logger)
	e.qm = NewQualityMonitor(e.sm, e.pipeline, opts.Quality, opts.Metrics, opts.Logger)

	e.detector.OnChange(e.handleSpeakingChanged)

	return e
}

// Start begins device hot-plug watching. Room membership is separate; see
// JoinRoom.
func (e *Engine) Start(ctx context.Context) {
	e.registry.Start(ctx)
}

// Close leaves the current room, stops all sub-services and closes the bus.
func (e *Engine) Close() error {
	if err := e.LeaveRoom(context.Background()); err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		e.logger.Warnw("leave during shutdown failed", "error", err)
	}
	e.nc.Close()
	e.registry.Stop()
	return e.bus.Close()
}

// JoinRoom acquires local audio, announces on the bus, and starts quality
// monitoring. Sessions open as the roster and offers arrive.
func (e *Engine) JoinRoom(ctx context.Context, room domain.RoomID, selfID domain.UserID, displayName string) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "join", string(room))
	defer span.End()
	ctx = logger.WithRoom(ctx, string(room), string(selfID))

	e.mu.Lock()
	if e.joined {
		e.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	e.mu.Unlock()

	if err := e.pipeline.AcquireAudio(ctx, ""); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("join room %s: %w", room, err)
	}
	if err := e.sc.Join(ctx, room, selfID, displayName); err != nil {
		e.pipeline.ReleaseAll()
		tracing.RecordError(ctx, err)
		return fmt.Errorf("join room %s: %w", room, err)
	}

	// Monitor lifetime is tied to room membership, not the join call.
	e.qm.Start(context.Background())

	e.mu.Lock()
	e.room = room
	e.selfID = selfID
	e.joined = true
	e.mu.Unlock()

	e.ctxLog.WithContext(ctx).Sugar().Infow("room joined", "display_name", displayName)
	return nil
}

// LeaveRoom tears down every session, clears the negotiation queue, stops
// monitoring and releases local media.
func (e *Engine) LeaveRoom(ctx context.Context) error {
	e.mu.Lock()
	if !e.joined {
		e.mu.Unlock()
		return domain.ErrNotInRoom
	}
	room := e.room
	selfID := e.selfID
	e.joined = false
	e.room = ""
	e.mu.Unlock()

	ctx, span := tracing.TraceRoomOperation(ctx, "leave", string(room))
	defer span.End()
	ctx = logger.WithRoom(ctx, string(room), string(selfID))

	e.sc.Leave(ctx)
	e.sm.CloseAll()
	e.nc.Clear()
	e.qm.Stop()
	e.pipeline.ReleaseAll()

	e.ctxLog.WithContext(ctx).Sugar().Info("room left")
	return nil
}

// Joined reports whether the engine is currently in a room.
func (e *Engine) Joined() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.joined
}

// CurrentRoom returns the joined room id, empty when not joined.
func (e *Engine) CurrentRoom() domain.RoomID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.room
}

// --- pipeline and detector event plumbing ---

func (e *Engine) handleVideoSwapped(track ports.LocalTrack, source domain.VideoSource) {
	e.sm.ReplaceVideoTrack(track)

	enabled := source != domain.VideoPlaceholder
	if err := e.sc.BroadcastCamera(context.Background(), enabled, string(source)); err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		e.logger.Debugw("camera broadcast failed", "error", err)
	}
}

func (e *Engine) handleAudioReplaced(oldTrackID string, track ports.LocalTrack) {
	e.sm.ReplaceAudioTrack(oldTrackID, track)
}

func (e *Engine) handleAudioAttached(track ports.LocalTrack) {
	e.sm.AttachAudioTrack(track)
	for _, userID := range e.sm.ActiveUsers() {
		e.nc.Request(userID)
	}
}

func (e *Engine) handleAudioDetached(trackID string) {
	e.sm.DetachAudioTrack(trackID)
	for _, userID := range e.sm.ActiveUsers() {
		e.nc.Request(userID)
	}
}

func (e *Engine) handleMuteChanged(muted bool) {
	if err := e.sc.BroadcastMute(context.Background(), muted); err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		e.logger.Debugw("mute broadcast failed", "error", err)
	}
}

func (e *Engine) handleSpeakingChanged(speaking bool) {
	if err := e.sc.BroadcastSpeaking(context.Background(), speaking); err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		e.logger.Debugw("speaking broadcast failed", "error", err)
	}
}

func (e *Engine) handleSessionClosed(userID domain.UserID, reason error) {
	if errors.Is(reason, domain.ErrMaxRetriesExceeded) {
		e.logger.Warnw("peer dropped after exhausted retries", "user_id", userID)
	}
	if e.onSessionClosed != nil {
		e.onSessionClosed(userID, reason)
	}
}

// --- caller surface ---

// SetMuted gates the local microphone and broadcasts the change.
func (e *Engine) SetMuted(muted bool) {
	e.pipeline.SetMuted(muted)
}

// SetDeafened silences all playback and forces mute; un-deafening restores
// the pre-deafen mute flag.
func (e *Engine) SetDeafened(deafened bool) {
	e.pipeline.SetDeafened(deafened)
	e.sm.SetDeafened(deafened)
}

// SetPeerVolume adjusts one peer's playback volume, clamped to [0, 2].
func (e *Engine) SetPeerVolume(userID domain.UserID, volume float64) error {
	return e.sm.SetVolume(userID, volume)
}

// SetPeerLocalMute mutes one peer locally.
func (e *Engine) SetPeerLocalMute(userID domain.UserID, muted bool) error {
	return e.sm.SetLocalMute(userID, muted)
}

// SetMasterVolume scales all playback, clamped to [0, 2].
func (e *Engine) SetMasterVolume(volume float64) {
	e.sm.ApplyMasterVolume(volume)
}

// SetAttenuation applies a percentage attenuation to all playback.
func (e *Engine) SetAttenuation(percent float64) {
	e.sm.ApplyAttenuation(percent)
}

// EnableCamera turns the camera on (empty id picks the best device).
func (e *Engine) EnableCamera(ctx context.Context, id domain.DeviceID) error {
	return e.pipeline.EnableCamera(ctx, id)
}

// DisableCamera turns the camera off, restoring the placeholder.
func (e *Engine) DisableCamera() {
	e.pipeline.DisableCamera()
}

// EnableScreenShare starts screen capture, optionally with audio.
func (e *Engine) EnableScreenShare(ctx context.Context, captureAudio bool) error {
	return e.pipeline.EnableScreenShare(ctx, captureAudio)
}

// DisableScreenShare stops screen capture.
func (e *Engine) DisableScreenShare() {
	e.pipeline.DisableScreenShare()
}

// SwitchAudioDevice swaps the microphone without renegotiation.
func (e *Engine) SwitchAudioDevice(ctx context.Context, id domain.DeviceID) error {
	return e.pipeline.SwitchAudioDevice(ctx, id)
}

// Devices returns the current device snapshot.
func (e *Engine) Devices(ctx context.Context) ([]domain.Device, error) {
	return e.registry.Enumerate(ctx)
}

// SetPreferredDevice persists a device preference.
func (e *Engine) SetPreferredDevice(ctx context.Context, kind domain.DeviceKind, id domain.DeviceID) error {
	return e.registry.SetPreferred(ctx, kind, id)
}

// TestDevice opens a device briefly and records the outcome.
func (e *Engine) TestDevice(ctx context.Context, id domain.DeviceID) (domain.DeviceTestResult, error) {
	return e.registry.TestDevice(ctx, id)
}

// HandleKey feeds a push-to-talk key event to the speaking detector.
func (e *Engine) HandleKey(key string, modifiers []string, pressed bool) {
	e.detector.HandleKey(key, modifiers, pressed)
}

// SetDetectionConfig swaps the speaking detection settings.
func (e *Engine) SetDetectionConfig(cfg domain.DetectionConfig) {
	e.detector.UpdateConfig(cfg)
}

// Sessions returns snapshots of all peer sessions.
func (e *Engine) Sessions() []domain.PeerSessionInfo {
	return e.sm.Sessions()
}

// MediaState returns a snapshot of the local pipeline.
func (e *Engine) MediaState() domain.LocalMediaState {
	return e.pipeline.State()
}

// RoomQuality returns the aggregate room quality.
func (e *Engine) RoomQuality() domain.RoomQuality {
	return e.qm.RoomQuality()
}

// QualityWarnings returns recorded degradation events.
func (e *Engine) QualityWarnings() []QualityWarning {
	return e.qm.Warnings()
}

// CurrentRung returns the active video quality rung.
func (e *Engine) CurrentRung() domain.VideoRung {
	return e.qm.CurrentRung()
}

// Members returns the last known roster.
func (e *Engine) Members() map[domain.UserID]string {
	return e.sc.Members()
}
