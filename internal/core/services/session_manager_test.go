package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.ConnectTimeout = 40 * time.Millisecond
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg SessionConfig) (*SessionManager, *fakeTransport, *fakeSignaler) {
	t.Helper()
	transport := &fakeTransport{}
	signaler := &fakeSignaler{}
	tracks := staticTracks{
		&fakeTrack{id: "mic", kind: domain.TrackAudio},
		&fakeTrack{id: "placeholder-video", kind: domain.TrackVideo},
	}
	sm := NewSessionManager(transport, tracks, cfg, nil, testLogger())
	sm.BindSignaler(signaler)
	t.Cleanup(sm.CloseAll)
	return sm, transport, signaler
}

func offerEnvelope(from domain.UserID) domain.Envelope {
	payload, _ := json.Marshal(domain.DescriptionPayload{SDPType: "offer", SDP: "remote-offer"})
	return domain.Envelope{Room: "room-1", From: from, Type: domain.MsgOffer, Payload: payload}
}

func TestOpenAsInitiatorSendsOffer(t *testing.T) {
	sm, transport, signaler := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))

	require.Equal(t, 1, transport.connCount())
	descs := signaler.sentDescs()
	require.Len(t, descs, 1)
	assert.Equal(t, domain.UserID("alice"), descs[0].target)
	assert.Equal(t, "offer", descs[0].desc.Type)

	info, ok := sm.Get("alice")
	require.True(t, ok)
	assert.Equal(t, domain.SessionConnecting, info.State)
	assert.Equal(t, 1.0, info.AudioSinkVolume)
}

func TestInboundOfferProducesAnswer(t *testing.T) {
	sm, transport, signaler := newTestManager(t, DefaultSessionConfig())

	env := offerEnvelope("bob")
	require.NoError(t, sm.Open(context.Background(), "bob", "Bob", false, &env))

	require.Eventually(t, func() bool {
		return len(signaler.sentDescs()) == 1
	}, time.Second, 5*time.Millisecond)

	descs := signaler.sentDescs()
	assert.Equal(t, "answer", descs[0].desc.Type)
	assert.Equal(t, domain.UserID("bob"), descs[0].target)

	conn := transport.conn(0)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.remoteDescs, 1)
	assert.Equal(t, "offer", conn.remoteDescs[0].Type)
}

func TestSignalsAppliedInOrder(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	env := offerEnvelope("bob")
	require.NoError(t, sm.Open(context.Background(), "bob", "Bob", false, &env))

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(domain.CandidatePayload{Candidate: "cand"})
		require.NoError(t, sm.Signal("bob", domain.Envelope{
			Room: "room-1", From: "bob", Type: domain.MsgICECandidate, Payload: payload,
		}))
	}

	conn := transport.conn(0)
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.candidates) == 5 && len(conn.remoteDescs) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRetryScheduleThenRemoval(t *testing.T) {
	sm, transport, signaler := newTestManager(t, testSessionConfig())

	var mu sync.Mutex
	var closedWith error
	closed := make(chan struct{})
	sm.OnSessionClosed(func(userID domain.UserID, reason error) {
		mu.Lock()
		closedWith = reason
		mu.Unlock()
		close(closed)
	})

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))

	// Never connect: 40ms timeout, then retries at 10/20/40ms, each timing
	// out again, until the budget of 3 is spent.
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("session was not removed after exhausting retries")
	}

	mu.Lock()
	reason := closedWith
	mu.Unlock()
	assert.ErrorIs(t, reason, domain.ErrMaxRetriesExceeded)

	// Initial connection plus one per retry.
	assert.Equal(t, 4, transport.connCount())
	assert.Equal(t, 3, signaler.reconnectCount())

	_, ok := sm.Get("alice")
	assert.False(t, ok)
}

func TestConnectedStopsTimeoutAndResetsRetries(t *testing.T) {
	sm, transport, _ := newTestManager(t, testSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	transport.conn(0).connect()

	info, ok := sm.Get("alice")
	require.True(t, ok)
	assert.Equal(t, domain.SessionConnected, info.State)
	assert.Equal(t, 0, info.RetryCount)

	// Well past the connect timeout the session must still be alive.
	time.Sleep(3 * testSessionConfig().ConnectTimeout)
	info, ok = sm.Get("alice")
	require.True(t, ok)
	assert.Equal(t, domain.SessionConnected, info.State)
}

func TestEffectiveGainProduct(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	transport.conn(0).connect()

	require.NoError(t, sm.SetVolume("alice", 1.5))
	sm.ApplyMasterVolume(0.8)
	sm.ApplyAttenuation(50)

	gain, set := transport.conn(0).gain()
	require.True(t, set)
	assert.InDelta(t, 0.6, gain, 1e-9)

	sm.SetDeafened(true)
	gain, _ = transport.conn(0).gain()
	assert.Zero(t, gain)

	sm.SetDeafened(false)
	gain, _ = transport.conn(0).gain()
	assert.InDelta(t, 0.6, gain, 1e-9)
}

func TestVolumeClampedToSinkRange(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	transport.conn(0).connect()

	require.NoError(t, sm.SetVolume("alice", 3.5))
	info, _ := sm.Get("alice")
	assert.Equal(t, 2.0, info.AudioSinkVolume)

	require.NoError(t, sm.SetVolume("alice", -1))
	info, _ = sm.Get("alice")
	assert.Zero(t, info.AudioSinkVolume)

	assert.ErrorIs(t, sm.SetVolume("ghost", 1.0), domain.ErrSessionNotFound)
}

func TestLocalMuteSilencesOnePeer(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	transport.conn(0).connect()

	require.NoError(t, sm.SetLocalMute("alice", true))
	gain, _ := transport.conn(0).gain()
	assert.Zero(t, gain)

	require.NoError(t, sm.SetLocalMute("alice", false))
	gain, _ = transport.conn(0).gain()
	assert.Equal(t, 1.0, gain)
}

func TestRenegotiateRequiresStableConnectedSession(t *testing.T) {
	sm, transport, signaler := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))

	// Still connecting.
	assert.ErrorIs(t, sm.Renegotiate(context.Background(), "alice"), domain.ErrRenegotiationRejected)

	transport.conn(0).connect()
	require.NoError(t, sm.Renegotiate(context.Background(), "alice"))
	assert.Len(t, signaler.sentDescs(), 2) // initial offer + renegotiation offer

	conn := transport.conn(0)
	conn.mu.Lock()
	conn.stable = false
	conn.mu.Unlock()
	assert.ErrorIs(t, sm.Renegotiate(context.Background(), "alice"), domain.ErrRenegotiationRejected)

	assert.ErrorIs(t, sm.Renegotiate(context.Background(), "ghost"), domain.ErrSessionNotFound)
}

func TestReplaceVideoTrackDoesNotRenegotiate(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	transport.conn(0).connect()
	offersBefore := transport.conn(0).offerCount()

	sm.ReplaceVideoTrack(&fakeTrack{id: "camera-1", kind: domain.TrackVideo})

	conn := transport.conn(0)
	conn.mu.Lock()
	var videoSender *fakeSender
	for _, s := range conn.senders {
		if s.Track().Kind() == domain.TrackVideo {
			videoSender = s
		}
	}
	conn.mu.Unlock()

	require.NotNil(t, videoSender)
	assert.Equal(t, 1, videoSender.replacedCount())
	assert.Equal(t, "camera-1", videoSender.Track().ID())
	assert.Equal(t, offersBefore, transport.conn(0).offerCount())
}

func TestAttachAndDetachAudioTrack(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	transport.conn(0).connect()

	track := &fakeTrack{id: "screen-audio", kind: domain.TrackAudio}
	sm.AttachAudioTrack(track)

	conn := transport.conn(0)
	conn.mu.Lock()
	senderCount := len(conn.senders)
	conn.mu.Unlock()
	assert.Equal(t, 3, senderCount)

	sm.DetachAudioTrack("screen-audio")
	conn.mu.Lock()
	senderCount = len(conn.senders)
	conn.mu.Unlock()
	assert.Equal(t, 2, senderCount)
}

func TestRecordSampleTogglesDegraded(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	transport.conn(0).connect()

	sm.RecordSample("alice", domain.QualitySample{Classification: domain.QualityPoor})
	info, _ := sm.Get("alice")
	assert.Equal(t, domain.SessionDegraded, info.State)

	sm.RecordSample("alice", domain.QualitySample{Classification: domain.QualityGood})
	info, _ = sm.Get("alice")
	assert.Equal(t, domain.SessionConnected, info.State)
}

func TestOpenReplacesExistingSession(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))

	assert.Len(t, sm.Sessions(), 1)
	assert.Equal(t, 2, transport.connCount())
	assert.True(t, transport.conn(0).isClosed())
	assert.False(t, transport.conn(1).isClosed())
}

func TestCloseAllTearsDownEverything(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	require.NoError(t, sm.Open(context.Background(), "bob", "Bob", true, nil))
	sm.CloseAll()

	assert.Empty(t, sm.Sessions())
	assert.True(t, transport.conn(0).isClosed())
	assert.True(t, transport.conn(1).isClosed())
}

func TestStatsReadThroughTransport(t *testing.T) {
	sm, transport, _ := newTestManager(t, DefaultSessionConfig())

	require.NoError(t, sm.Open(context.Background(), "alice", "Alice", true, nil))
	conn := transport.conn(0)
	conn.mu.Lock()
	conn.stats = ports.TransportStats{PacketsLost: 5, PacketsReceived: 95, Jitter: 12 * time.Millisecond}
	conn.mu.Unlock()

	stats, err := sm.Stats(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, stats.LossRate(), 1e-9)

	_, err = sm.Stats(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
