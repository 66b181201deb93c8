package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// --- tracks and senders ---

type fakeTrack struct {
	id   string
	kind domain.TrackKind
}

func (t *fakeTrack) ID() string            { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

type fakeSender struct {
	mu       sync.Mutex
	track    ports.LocalTrack
	replaced int
}

func (s *fakeSender) ReplaceTrack(track ports.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.replaced++
	return nil
}

func (s *fakeSender) Track() ports.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) replacedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

type staticTracks []ports.LocalTrack

func (s staticTracks) CurrentTracks() []ports.LocalTrack { return s }

// --- peer connection and transport ---

type fakePeerConn struct {
	mu          sync.Mutex
	senders     []*fakeSender
	offers      int
	answers     int
	remoteDescs []ports.SessionDescription
	candidates  []domain.CandidatePayload
	stable      bool
	stats       ports.TransportStats
	statsErr    error
	closed      bool
	lastGain    float64
	gainSet     bool

	onConnect     func()
	onCandidate   func(domain.CandidatePayload)
	onStateChange func(ports.ConnState)
	onRemoteTrack func(ports.RemoteTrack)
}

func (c *fakePeerConn) AddTrack(track ports.LocalTrack) (ports.TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender := &fakeSender{track: track}
	c.senders = append(c.senders, sender)
	return sender, nil
}

func (c *fakePeerConn) RemoveTrack(sender ports.TrackSender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.senders {
		if s == sender {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			break
		}
	}
	return nil
}

func (c *fakePeerConn) CreateOffer(context.Context) (ports.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return ports.SessionDescription{Type: "offer", SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *fakePeerConn) CreateAnswer(context.Context) (ports.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers++
	return ports.SessionDescription{Type: "answer", SDP: fmt.Sprintf("answer-%d", c.answers)}, nil
}

func (c *fakePeerConn) SetRemoteDescription(desc ports.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteDescs = append(c.remoteDescs, desc)
	return nil
}

func (c *fakePeerConn) AddCandidate(candidate domain.CandidatePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakePeerConn) SignalingStable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stable
}

func (c *fakePeerConn) OnConnect(h func())                            { c.mu.Lock(); c.onConnect = h; c.mu.Unlock() }
func (c *fakePeerConn) OnRemoteTrack(h func(ports.RemoteTrack))       { c.mu.Lock(); c.onRemoteTrack = h; c.mu.Unlock() }
func (c *fakePeerConn) OnCandidate(h func(domain.CandidatePayload))   { c.mu.Lock(); c.onCandidate = h; c.mu.Unlock() }
func (c *fakePeerConn) OnStateChange(h func(ports.ConnState))         { c.mu.Lock(); c.onStateChange = h; c.mu.Unlock() }

func (c *fakePeerConn) Stats(context.Context) (ports.TransportStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, c.statsErr
}

func (c *fakePeerConn) SetReceiverGain(gain float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGain = gain
	c.gainSet = true
	return nil
}

func (c *fakePeerConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakePeerConn) connect() {
	c.mu.Lock()
	h := c.onConnect
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

func (c *fakePeerConn) offerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *fakePeerConn) gain() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastGain, c.gainSet
}

func (c *fakePeerConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakePeerConn
}

func (t *fakeTransport) NewConnection(context.Context) (ports.PeerConnection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn := &fakePeerConn{stable: true}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) NewPlaceholderVideo() (ports.VideoStream, error) {
	return &fakeVideoStream{track: &fakeTrack{id: "placeholder-video", kind: domain.TrackVideo}}, nil
}

func (t *fakeTransport) conn(i int) *fakePeerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func (t *fakeTransport) connCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// --- outbound signaler ---

type sentDesc struct {
	target domain.UserID
	desc   ports.SessionDescription
}

type fakeSignaler struct {
	mu         sync.Mutex
	descs      []sentDesc
	candidates []domain.UserID
	reconnects []domain.UserID
}

func (s *fakeSignaler) SendDescription(_ context.Context, target domain.UserID, desc ports.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descs = append(s.descs, sentDesc{target: target, desc: desc})
	return nil
}

func (s *fakeSignaler) SendCandidate(_ context.Context, target domain.UserID, _ domain.CandidatePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, target)
	return nil
}

func (s *fakeSignaler) RequestPeerReconnect(_ context.Context, target domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects = append(s.reconnects, target)
	return nil
}

func (s *fakeSignaler) sentDescs() []sentDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentDesc, len(s.descs))
	copy(out, s.descs)
	return out
}

func (s *fakeSignaler) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reconnects)
}

// --- signal bus ---

type busSend struct {
	room    domain.RoomID
	target  domain.UserID
	msgType domain.MessageType
	payload interface{}
}

type fakeBus struct {
	mu          sync.Mutex
	sent        []busSend
	sendErr     error
	onMessage   func(domain.Envelope)
	onReconnect func()
	closed      bool
}

func (b *fakeBus) Send(_ context.Context, room domain.RoomID, target domain.UserID, msgType domain.MessageType, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, busSend{room: room, target: target, msgType: msgType, payload: payload})
	return nil
}

func (b *fakeBus) OnMessage(h func(domain.Envelope)) { b.mu.Lock(); b.onMessage = h; b.mu.Unlock() }
func (b *fakeBus) OnReconnect(h func())              { b.mu.Lock(); b.onReconnect = h; b.mu.Unlock() }

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBus) inject(env domain.Envelope) {
	b.mu.Lock()
	h := b.onMessage
	b.mu.Unlock()
	if h != nil {
		h(env)
	}
}

func (b *fakeBus) fireReconnect() {
	b.mu.Lock()
	h := b.onReconnect
	b.mu.Unlock()
	if h != nil {
		h()
	}
}

func (b *fakeBus) sentMessages() []busSend {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]busSend, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *fakeBus) countType(msgType domain.MessageType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.sent {
		if s.msgType == msgType {
			n++
		}
	}
	return n
}

// --- device streams and provider ---

type fakeAudioStream struct {
	track   ports.LocalTrack
	frames  chan domain.AudioFrame
	mu      sync.Mutex
	enabled bool
	closed  bool
}

func newFakeAudioStream(id string) *fakeAudioStream {
	return &fakeAudioStream{
		track:   &fakeTrack{id: id, kind: domain.TrackAudio},
		frames:  make(chan domain.AudioFrame, 16),
		enabled: true,
	}
}

func (s *fakeAudioStream) Track() ports.LocalTrack            { return s.track }
func (s *fakeAudioStream) Frames() <-chan domain.AudioFrame   { return s.frames }

func (s *fakeAudioStream) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *fakeAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

func (s *fakeAudioStream) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeAudioStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeVideoStream struct {
	track  ports.LocalTrack
	mu     sync.Mutex
	rungs  []domain.VideoRung
	closed bool
}

func (s *fakeVideoStream) Track() ports.LocalTrack { return s.track }

func (s *fakeVideoStream) ApplyConstraints(rung domain.VideoRung) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rungs = append(s.rungs, rung)
	return nil
}

func (s *fakeVideoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeVideoStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeVideoStream) appliedRungs() []domain.VideoRung {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.VideoRung, len(s.rungs))
	copy(out, s.rungs)
	return out
}

type fakeProvider struct {
	mu           sync.Mutex
	devices      []domain.Device
	enumerateErr error
	openAudioErr error
	events       chan struct{}
	audioStreams []*fakeAudioStream
	cameras      []*fakeVideoStream
	screens      []*fakeVideoStream
}

func (p *fakeProvider) Enumerate(context.Context) ([]domain.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enumerateErr != nil {
		return nil, p.enumerateErr
	}
	out := make([]domain.Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

func (p *fakeProvider) RequestPermission(context.Context, domain.DeviceKind) error { return nil }

func (p *fakeProvider) Subscribe() (<-chan struct{}, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		return nil, func() {}
	}
	return p.events, func() {}
}

func (p *fakeProvider) OpenAudio(_ context.Context, id domain.DeviceID) (ports.AudioStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openAudioErr != nil {
		return nil, p.openAudioErr
	}
	stream := newFakeAudioStream("mic-" + string(id))
	p.audioStreams = append(p.audioStreams, stream)
	return stream, nil
}

func (p *fakeProvider) OpenCamera(_ context.Context, id domain.DeviceID, _ domain.VideoRung) (ports.VideoStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stream := &fakeVideoStream{track: &fakeTrack{id: "camera-" + string(id), kind: domain.TrackVideo}}
	p.cameras = append(p.cameras, stream)
	return stream, nil
}

func (p *fakeProvider) OpenScreen(_ context.Context, captureAudio bool) (ports.VideoStream, ports.AudioStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	video := &fakeVideoStream{track: &fakeTrack{id: "screen-video", kind: domain.TrackVideo}}
	p.screens = append(p.screens, video)
	if !captureAudio {
		return video, nil, nil
	}
	return video, newFakeAudioStream("screen-audio"), nil
}

func (p *fakeProvider) setDevices(devices []domain.Device) {
	p.mu.Lock()
	p.devices = devices
	p.mu.Unlock()
}

func (p *fakeProvider) lastAudio() *fakeAudioStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.audioStreams) == 0 {
		return nil
	}
	return p.audioStreams[len(p.audioStreams)-1]
}

// --- preferences ---

type fakePrefs struct {
	mu        sync.Mutex
	preferred map[domain.DeviceKind]domain.DeviceID
	results   map[domain.DeviceID]domain.DeviceTestResult
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{
		preferred: make(map[domain.DeviceKind]domain.DeviceID),
		results:   make(map[domain.DeviceID]domain.DeviceTestResult),
	}
}

func (p *fakePrefs) PreferredDevice(_ context.Context, kind domain.DeviceKind) (domain.DeviceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preferred[kind], nil
}

func (p *fakePrefs) SetPreferredDevice(_ context.Context, kind domain.DeviceKind, id domain.DeviceID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferred[kind] = id
	return nil
}

func (p *fakePrefs) RecordTestResult(_ context.Context, result domain.DeviceTestResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[result.DeviceID] = result
	return nil
}

func (p *fakePrefs) TestResult(_ context.Context, id domain.DeviceID) (domain.DeviceTestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results[id], nil
}

// --- noise suppression ---

type fakeSuppressor struct {
	initErr error
}

func (s *fakeSuppressor) Initialize(in ports.AudioStream, _ ports.SuppressionConfig) (ports.AudioStream, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return in, nil
}

func (s *fakeSuppressor) UpdateConfig(ports.SuppressionConfig) error { return nil }
func (s *fakeSuppressor) Stats() ports.SuppressionStats              { return ports.SuppressionStats{} }
func (s *fakeSuppressor) Destroy() error                             { return nil }

// --- metrics ---

type captureMetrics struct {
	sessionsOpened   atomic.Int64
	sessionsClosed   atomic.Int64
	retries          atomic.Int64
	renegQueued      atomic.Int64
	renegCompleted   atomic.Int64
	renegDropped     atomic.Int64
	stepDowns        atomic.Int64
	stepUps          atomic.Int64
	signalsSent      atomic.Int64
	signalsReceived  atomic.Int64
	speakingChanges  atomic.Int64
}

func (m *captureMetrics) SessionOpened()          { m.sessionsOpened.Add(1) }
func (m *captureMetrics) SessionClosed()          { m.sessionsClosed.Add(1) }
func (m *captureMetrics) SessionRetry()           { m.retries.Add(1) }
func (m *captureMetrics) RenegotiationQueued()    { m.renegQueued.Add(1) }
func (m *captureMetrics) RenegotiationCompleted() { m.renegCompleted.Add(1) }
func (m *captureMetrics) RenegotiationDropped()   { m.renegDropped.Add(1) }
func (m *captureMetrics) QualityStepDown()        { m.stepDowns.Add(1) }
func (m *captureMetrics) QualityStepUp()          { m.stepUps.Add(1) }
func (m *captureMetrics) VideoRungChanged(string) {}
func (m *captureMetrics) SignalSent(string)       { m.signalsSent.Add(1) }
func (m *captureMetrics) SignalReceived(string)   { m.signalsReceived.Add(1) }
func (m *captureMetrics) SpeakingChanged(bool)    { m.speakingChanges.Add(1) }
