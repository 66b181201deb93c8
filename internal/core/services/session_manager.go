package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/retry"

	"go.uber.org/zap"
)

// OutboundSignaler is the outbound half of the signaling coordinator, as seen
// by the session manager.
type OutboundSignaler interface {
	SendDescription(ctx context.Context, target domain.UserID, desc ports.SessionDescription) error
	SendCandidate(ctx context.Context, target domain.UserID, candidate domain.CandidatePayload) error
	RequestPeerReconnect(ctx context.Context, target domain.UserID) error
}

// TrackSource supplies the local tracks a new session must send.
type TrackSource interface {
	CurrentTracks() []ports.LocalTrack
}

// SessionConfig tunes the per-session state machine.
type SessionConfig struct {
	ConnectTimeout time.Duration
	MaxRetries     int
	Backoff        retry.Config
}

// DefaultSessionConfig returns the production session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout: 30 * time.Second,
		MaxRetries:     3,
		Backoff: retry.Config{
			Enabled:      true,
			MaxAttempts:  3,
			InitialDelay: 2000 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

const sessionInboxSize = 32

type peerSession struct {
	userID      domain.UserID
	displayName string

	state        domain.SessionState
	retryCount   int
	lastAttempt  time.Time
	volume       float64
	locallyMuted bool
	sample       domain.QualitySample

	pc          ports.PeerConnection
	videoSender ports.TrackSender
	senders     map[string]ports.TrackSender // by local track ID

	inbox chan domain.Envelope
	done  chan struct{}

	connectTimer *time.Timer
	retryTimer   *time.Timer
}

// SessionManager owns one peer session per remote participant and drives each
// session's connection state machine, including timeouts and bounded retries.
type SessionManager struct {
	transport ports.MediaTransport
	tracks    TrackSource
	signaler  OutboundSignaler
	cfg       SessionConfig
	logger    *zap.SugaredLogger
	metrics   EngineMetrics

	sessions     map[domain.UserID]*peerSession
	masterVolume float64
	attenuation  float64 // percent, 0-100
	deafened     bool
	mu           sync.RWMutex

	onClosed func(userID domain.UserID, reason error)
}

// NewSessionManager creates a session manager. The outbound signaler is bound
// later (BindSignaler) because the signaling coordinator also needs the
// manager as its inbound sink.
func NewSessionManager(
	transport ports.MediaTransport,
	tracks TrackSource,
	cfg SessionConfig,
	metrics EngineMetrics,
	logger *zap.SugaredLogger,
) *SessionManager {
	return &SessionManager{
		transport:    transport,
		tracks:       tracks,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		sessions:     make(map[domain.UserID]*peerSession),
		masterVolume: 1.0,
	}
}

// BindSignaler attaches the outbound signaler. Must be called before Open.
func (m *SessionManager) BindSignaler(signaler OutboundSignaler) {
	m.signaler = signaler
}

// OnSessionClosed registers the handler invoked when a session is removed.
// The reason is nil for a deliberate close and ErrMaxRetriesExceeded when the
// retry budget is exhausted.
func (m *SessionManager) OnSessionClosed(handler func(userID domain.UserID, reason error)) {
	m.onClosed = handler
}

// Open creates a session for a remote user, destroying any existing session
// for the same user first. When initiator is true this side sends the offer;
// otherwise the session waits for the remote offer, which may be supplied
// immediately via initial.
func (m *SessionManager) Open(ctx context.Context, userID domain.UserID, displayName string, initiator bool, initial *domain.Envelope) error {
	m.mu.Lock()
	if old, exists := m.sessions[userID]; exists {
		m.destroyLocked(old)
		delete(m.sessions, userID)
	}

	sess := &peerSession{
		userID:      userID,
		displayName: displayName,
		state:       domain.SessionConnecting,
		volume:      1.0,
		lastAttempt: time.Now(),
		senders:     make(map[string]ports.TrackSender),
		inbox:       make(chan domain.Envelope, sessionInboxSize),
		done:        make(chan struct{}),
	}
	m.sessions[userID] = sess
	m.mu.Unlock()

	go m.runSignalWorker(sess)

	if err := m.attachConnection(ctx, sess, initiator); err != nil {
		m.remove(userID, err)
		return fmt.Errorf("open session for %s: %w", userID, err)
	}

	if initial != nil {
		_ = m.Signal(userID, *initial)
	}

	m.logger.Infow("peer session opened",
		"user_id", userID,
		"initiator", initiator,
	)
	if m.metrics != nil {
		m.metrics.SessionOpened()
	}
	return nil
}

// attachConnection builds a fresh transport connection for the session and
// arms the connection-establishment timeout.
func (m *SessionManager) attachConnection(ctx context.Context, sess *peerSession, initiator bool) error {
	pc, err := m.transport.NewConnection(ctx)
	if err != nil {
		return fmt.Errorf("create transport connection: %w", err)
	}

	userID := sess.userID
	pc.OnConnect(func() { m.handleConnected(userID) })
	pc.OnStateChange(func(state ports.ConnState) {
		if state == ports.ConnFailed || state == ports.ConnDisconnected {
			m.handleFailure(userID, domain.ErrConnectionTimeout)
		}
	})
	pc.OnCandidate(func(c domain.CandidatePayload) {
		if err := m.signaler.SendCandidate(context.Background(), userID, c); err != nil {
			m.logger.Debugw("dropping outbound candidate", "user_id", userID, "error", err)
		}
	})
	pc.OnRemoteTrack(func(track ports.RemoteTrack) {
		m.logger.Debugw("remote track started",
			"user_id", userID,
			"track_id", track.ID(),
			"kind", track.Kind(),
		)
	})

	for _, track := range m.tracks.CurrentTracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return fmt.Errorf("attach local track %s: %w", track.ID(), err)
		}
		sess.senders[track.ID()] = sender
		if track.Kind() == domain.TrackVideo {
			sess.videoSender = sender
		}
	}

	m.mu.Lock()
	sess.pc = pc
	sess.state = domain.SessionConnecting
	sess.lastAttempt = time.Now()
	sess.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.handleFailure(userID, domain.ErrConnectionTimeout)
	})
	m.mu.Unlock()

	if initiator {
		offer, err := pc.CreateOffer(ctx)
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := m.signaler.SendDescription(ctx, userID, offer); err != nil {
			// Best effort: the connect timeout recovers if the offer is lost.
			m.logger.Warnw("offer send failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// Signal enqueues an inbound signaling message for the session. Messages for
// one user are applied strictly in arrival order.
func (m *SessionManager) Signal(userID domain.UserID, env domain.Envelope) error {
	m.mu.RLock()
	sess, exists := m.sessions[userID]
	m.mu.RUnlock()
	if !exists {
		return domain.ErrSessionNotFound
	}

	select {
	case sess.inbox <- env:
		return nil
	case <-sess.done:
		return domain.ErrSessionNotFound
	}
}

func (m *SessionManager) runSignalWorker(sess *peerSession) {
	for {
		select {
		case <-sess.done:
			return
		case env := <-sess.inbox:
			if err := m.applySignal(sess, env); err != nil {
				m.logger.Warnw("signal apply failed",
					"user_id", sess.userID,
					"type", env.Type,
					"error", err,
				)
			}
		}
	}
}

func (m *SessionManager) applySignal(sess *peerSession, env domain.Envelope) error {
	m.mu.RLock()
	pc := sess.pc
	m.mu.RUnlock()
	if pc == nil {
		return domain.ErrSessionNotFound
	}

	switch env.Type {
	case domain.MsgOffer:
		var payload domain.DescriptionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("invalid offer payload: %w", err)
		}
		if err := pc.SetRemoteDescription(ports.SessionDescription{Type: "offer", SDP: payload.SDP}); err != nil {
			return fmt.Errorf("apply remote offer: %w", err)
		}
		answer, err := pc.CreateAnswer(context.Background())
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		return m.signaler.SendDescription(context.Background(), sess.userID, answer)

	case domain.MsgAnswer:
		var payload domain.DescriptionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("invalid answer payload: %w", err)
		}
		return pc.SetRemoteDescription(ports.SessionDescription{Type: "answer", SDP: payload.SDP})

	case domain.MsgICECandidate:
		var payload domain.CandidatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("invalid candidate payload: %w", err)
		}
		return pc.AddCandidate(payload)

	default:
		return fmt.Errorf("unexpected session signal type %s", env.Type)
	}
}

func (m *SessionManager) handleConnected(userID domain.UserID) {
	m.mu.Lock()
	sess, exists := m.sessions[userID]
	if !exists {
		m.mu.Unlock()
		return
	}
	if sess.connectTimer != nil {
		sess.connectTimer.Stop()
		sess.connectTimer = nil
	}
	sess.state = domain.SessionConnected
	sess.retryCount = 0
	m.mu.Unlock()

	m.applyGain(userID)
	m.logger.Infow("peer session connected", "user_id", userID)
}

// handleFailure routes a connection error into the retry path: back off, ask
// the remote side to re-initiate, and rearm the connect timeout. Exhausting
// the retry budget removes the session.
func (m *SessionManager) handleFailure(userID domain.UserID, cause error) {
	m.mu.Lock()
	sess, exists := m.sessions[userID]
	if !exists || !sess.state.Active() {
		m.mu.Unlock()
		return
	}
	if sess.connectTimer != nil {
		sess.connectTimer.Stop()
		sess.connectTimer = nil
	}
	if sess.pc != nil {
		sess.pc.Close()
		sess.pc = nil
	}
	sess.retryCount++
	attempt := sess.retryCount

	if attempt > m.cfg.MaxRetries {
		sess.state = domain.SessionFailed
		m.destroyLocked(sess)
		delete(m.sessions, userID)
		m.mu.Unlock()

		m.logger.Warnw("peer session removed after retry budget",
			"user_id", userID,
			"attempts", attempt-1,
			"cause", cause,
		)
		if m.metrics != nil {
			m.metrics.SessionClosed()
		}
		if m.onClosed != nil {
			m.onClosed(userID, domain.ErrMaxRetriesExceeded)
		}
		return
	}

	delay := m.cfg.Backoff.DelayFor(attempt)
	sess.state = domain.SessionDisconnected
	sess.retryTimer = time.AfterFunc(delay, func() { m.retryConnect(userID) })
	m.mu.Unlock()

	m.logger.Infow("peer session retry scheduled",
		"user_id", userID,
		"attempt", attempt,
		"delay", delay,
		"cause", cause,
	)
	if m.metrics != nil {
		m.metrics.SessionRetry()
	}
}

// retryConnect rebuilds the transport and asks the remote peer to re-offer.
// Both sides must agree who initiates, so the retry is always non-initiator.
func (m *SessionManager) retryConnect(userID domain.UserID) {
	m.mu.RLock()
	sess, exists := m.sessions[userID]
	m.mu.RUnlock()
	if !exists {
		return
	}

	ctx := context.Background()
	if err := m.attachConnection(ctx, sess, false); err != nil {
		m.handleFailure(userID, err)
		return
	}
	if err := m.signaler.RequestPeerReconnect(ctx, userID); err != nil {
		m.logger.Warnw("reconnect request send failed", "user_id", userID, "error", err)
	}
}

// Renegotiate creates and dispatches a fresh offer for the session. It is only
// valid while the underlying connection is stable and connected; otherwise the
// request is rejected so the negotiation coordinator can drop it.
func (m *SessionManager) Renegotiate(ctx context.Context, userID domain.UserID) error {
	m.mu.RLock()
	sess, exists := m.sessions[userID]
	var pc ports.PeerConnection
	var state domain.SessionState
	if exists {
		pc = sess.pc
		state = sess.state
	}
	m.mu.RUnlock()

	if !exists || pc == nil {
		return domain.ErrSessionNotFound
	}
	if state != domain.SessionConnected && state != domain.SessionDegraded {
		return domain.ErrRenegotiationRejected
	}
	if !pc.SignalingStable() {
		return domain.ErrRenegotiationRejected
	}

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("renegotiation offer: %w", err)
	}
	return m.signaler.SendDescription(ctx, userID, offer)
}

// Close removes a single session without retries.
func (m *SessionManager) Close(userID domain.UserID) {
	m.remove(userID, nil)
}

// CloseAll tears down every session and cancels all timers.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	users := make([]domain.UserID, 0, len(m.sessions))
	for userID := range m.sessions {
		users = append(users, userID)
	}
	m.mu.Unlock()

	for _, userID := range users {
		m.remove(userID, nil)
	}
}

func (m *SessionManager) remove(userID domain.UserID, reason error) {
	m.mu.Lock()
	sess, exists := m.sessions[userID]
	if !exists {
		m.mu.Unlock()
		return
	}
	m.destroyLocked(sess)
	delete(m.sessions, userID)
	m.mu.Unlock()

	m.logger.Infow("peer session closed", "user_id", userID)
	if m.metrics != nil {
		m.metrics.SessionClosed()
	}
	if m.onClosed != nil {
		m.onClosed(userID, reason)
	}
}

// destroyLocked cancels the session's timers and transport. Caller holds mu.
func (m *SessionManager) destroyLocked(sess *peerSession) {
	if sess.connectTimer != nil {
		sess.connectTimer.Stop()
		sess.connectTimer = nil
	}
	if sess.retryTimer != nil {
		sess.retryTimer.Stop()
		sess.retryTimer = nil
	}
	if sess.pc != nil {
		sess.pc.Close()
		sess.pc = nil
	}
	select {
	case <-sess.done:
	default:
		close(sess.done)
	}
}

// SetVolume sets the per-peer volume slider, clamped to [0, 2].
func (m *SessionManager) SetVolume(userID domain.UserID, volume float64) error {
	m.mu.Lock()
	sess, exists := m.sessions[userID]
	if !exists {
		m.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	sess.volume = domain.ClampVolume(volume)
	m.mu.Unlock()

	m.applyGain(userID)
	return nil
}

// SetLocalMute mutes a single peer locally, independent of their own mute state.
func (m *SessionManager) SetLocalMute(userID domain.UserID, muted bool) error {
	m.mu.Lock()
	sess, exists := m.sessions[userID]
	if !exists {
		m.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	sess.locallyMuted = muted
	m.mu.Unlock()

	m.applyGain(userID)
	return nil
}

// ApplyMasterVolume scales every session's playback, clamped to [0, 2].
func (m *SessionManager) ApplyMasterVolume(factor float64) {
	m.mu.Lock()
	m.masterVolume = domain.ClampVolume(factor)
	m.mu.Unlock()
	m.applyGainAll()
}

// ApplyAttenuation applies a percentage attenuation to every session.
func (m *SessionManager) ApplyAttenuation(percent float64) {
	m.mu.Lock()
	m.attenuation = percent
	m.mu.Unlock()
	m.applyGainAll()
}

// SetDeafened silences all remote playback without touching stored volumes.
func (m *SessionManager) SetDeafened(deafened bool) {
	m.mu.Lock()
	m.deafened = deafened
	m.mu.Unlock()
	m.applyGainAll()
}

func (m *SessionManager) applyGainAll() {
	m.mu.RLock()
	users := make([]domain.UserID, 0, len(m.sessions))
	for userID := range m.sessions {
		users = append(users, userID)
	}
	m.mu.RUnlock()

	for _, userID := range users {
		m.applyGain(userID)
	}
}

func (m *SessionManager) applyGain(userID domain.UserID) {
	m.mu.RLock()
	sess, exists := m.sessions[userID]
	if !exists || sess.pc == nil {
		m.mu.RUnlock()
		return
	}
	pc := sess.pc
	gain := domain.EffectiveGain(sess.volume, m.masterVolume, m.attenuation)
	if m.deafened || sess.locallyMuted {
		gain = 0
	}
	m.mu.RUnlock()

	if err := pc.SetReceiverGain(gain); err != nil {
		m.logger.Debugw("receiver gain apply failed", "user_id", userID, "error", err)
	}
}

// ReplaceVideoTrack swaps the video track on every session in place. This is
// a pure substitution and never triggers renegotiation.
func (m *SessionManager) ReplaceVideoTrack(track ports.LocalTrack) {
	m.mu.RLock()
	senders := make([]ports.TrackSender, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.videoSender != nil {
			senders = append(senders, sess.videoSender)
		}
	}
	m.mu.RUnlock()

	for _, sender := range senders {
		if err := sender.ReplaceTrack(track); err != nil {
			m.logger.Warnw("video track replace failed", "track_id", track.ID(), "error", err)
		}
	}
}

// ReplaceAudioTrack substitutes the primary audio track on every session in
// place, after a device switch. No renegotiation is triggered.
func (m *SessionManager) ReplaceAudioTrack(oldTrackID string, track ports.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		sender, exists := sess.senders[oldTrackID]
		if !exists {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			m.logger.Warnw("audio track replace failed",
				"user_id", sess.userID,
				"track_id", track.ID(),
				"error", err,
			)
			continue
		}
		delete(sess.senders, oldTrackID)
		sess.senders[track.ID()] = sender
	}
}

// AttachAudioTrack adds an extra audio track (screen-share audio) to every
// session. The caller must follow up with renegotiation requests per session.
func (m *SessionManager) AttachAudioTrack(track ports.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		if sess.pc == nil {
			continue
		}
		sender, err := sess.pc.AddTrack(track)
		if err != nil {
			m.logger.Warnw("audio track attach failed",
				"user_id", sess.userID,
				"track_id", track.ID(),
				"error", err,
			)
			continue
		}
		sess.senders[track.ID()] = sender
	}
}

// DetachAudioTrack removes a previously attached extra audio track from every
// session. The caller must follow up with renegotiation requests per session.
func (m *SessionManager) DetachAudioTrack(trackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		sender, exists := sess.senders[trackID]
		if !exists || sess.pc == nil {
			continue
		}
		if err := sess.pc.RemoveTrack(sender); err != nil {
			m.logger.Warnw("audio track detach failed",
				"user_id", sess.userID,
				"track_id", trackID,
				"error", err,
			)
		}
		delete(sess.senders, trackID)
	}
}

// RecordSample stores the latest quality sample and flips the session between
// connected and degraded according to the classification.
func (m *SessionManager) RecordSample(userID domain.UserID, sample domain.QualitySample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[userID]
	if !exists {
		return
	}
	sess.sample = sample

	switch sess.state {
	case domain.SessionConnected:
		if sample.Classification == domain.QualityPoor || sample.Classification == domain.QualityCritical {
			sess.state = domain.SessionDegraded
		}
	case domain.SessionDegraded:
		if sample.Classification != domain.QualityPoor && sample.Classification != domain.QualityCritical {
			sess.state = domain.SessionConnected
		}
	}
}

// Stats reads the live transport statistics of one session.
func (m *SessionManager) Stats(ctx context.Context, userID domain.UserID) (ports.TransportStats, error) {
	m.mu.RLock()
	sess, exists := m.sessions[userID]
	var pc ports.PeerConnection
	if exists {
		pc = sess.pc
	}
	m.mu.RUnlock()

	if !exists || pc == nil {
		return ports.TransportStats{}, domain.ErrSessionNotFound
	}
	return pc.Stats(ctx)
}

// ActiveUsers returns the ids of all current sessions.
func (m *SessionManager) ActiveUsers() []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]domain.UserID, 0, len(m.sessions))
	for userID := range m.sessions {
		users = append(users, userID)
	}
	return users
}

// Get returns a read-only snapshot of one session.
func (m *SessionManager) Get(userID domain.UserID) (domain.PeerSessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[userID]
	if !exists {
		return domain.PeerSessionInfo{}, false
	}
	return snapshotLocked(sess), true
}

// Sessions returns read-only snapshots of all sessions.
func (m *SessionManager) Sessions() []domain.PeerSessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]domain.PeerSessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, snapshotLocked(sess))
	}
	return infos
}

func snapshotLocked(sess *peerSession) domain.PeerSessionInfo {
	return domain.PeerSessionInfo{
		UserID:          sess.userID,
		DisplayName:     sess.displayName,
		State:           sess.state,
		RetryCount:      sess.retryCount,
		LastAttempt:     sess.lastAttempt,
		AudioSinkVolume: sess.volume,
		LocallyMuted:    sess.locallyMuted,
		Quality:         sess.sample,
	}
}
