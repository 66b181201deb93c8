package webrtc

import (
	"context"
	"testing"

	"voicelink/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rtpPacket(seq uint16, timestamp uint32) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, Timestamp: timestamp}}
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := NewTransport(TransportConfig{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return tr
}

func TestOfferCarriesAddedTracks(t *testing.T) {
	tr := newTestTransport(t)
	conn, err := tr.NewConnection(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	audio, err := NewLocalAudioTrack("mic")
	require.NoError(t, err)
	sender, err := conn.AddTrack(audio)
	require.NoError(t, err)
	assert.Equal(t, "mic", sender.Track().ID())
	assert.Equal(t, domain.TrackAudio, sender.Track().Kind())

	offer, err := conn.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
}

func TestReplaceTrackKeepsSenderBound(t *testing.T) {
	tr := newTestTransport(t)
	conn, err := tr.NewConnection(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	first, err := NewLocalVideoTrack("camera")
	require.NoError(t, err)
	sender, err := conn.AddTrack(first)
	require.NoError(t, err)

	second, err := NewLocalVideoTrack("screen")
	require.NoError(t, err)
	require.NoError(t, sender.ReplaceTrack(second))
	assert.Equal(t, "screen", sender.Track().ID())
}

func TestSignalingStableBeforeOffer(t *testing.T) {
	tr := newTestTransport(t)
	conn, err := tr.NewConnection(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, conn.SignalingStable())

	_, err = conn.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.False(t, conn.SignalingStable(), "pending local offer leaves signaling non-stable")
}

func TestReceiverGainClamped(t *testing.T) {
	tr := newTestTransport(t)
	conn, err := tr.NewConnection(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	pc := conn.(*peerConnection)
	require.NoError(t, pc.SetReceiverGain(3.5))
	assert.Equal(t, 2.0, pc.Gain())
	require.NoError(t, pc.SetReceiverGain(-1))
	assert.Equal(t, 0.0, pc.Gain())
}

func TestReceiverStatsCountsSequenceGaps(t *testing.T) {
	stats := &receiverStats{clockRate: 48000}

	stats.record(rtpPacket(100, 0))
	stats.record(rtpPacket(101, 960))
	stats.record(rtpPacket(105, 4800)) // 102..104 missing

	snap := stats.snapshot()
	assert.Equal(t, uint64(3), snap.PacketsReceived)
	assert.Equal(t, uint64(3), snap.PacketsLost)
}

func TestReceiverStatsHandlesSequenceWrap(t *testing.T) {
	stats := &receiverStats{clockRate: 48000}

	stats.record(rtpPacket(65534, 0))
	stats.record(rtpPacket(65535, 960))
	stats.record(rtpPacket(0, 1920))
	stats.record(rtpPacket(1, 2880))

	snap := stats.snapshot()
	assert.Equal(t, uint64(4), snap.PacketsReceived)
	assert.Zero(t, snap.PacketsLost)
}

func TestPlaceholderStream(t *testing.T) {
	tr := newTestTransport(t)
	stream, err := tr.NewPlaceholderVideo()
	require.NoError(t, err)

	assert.Equal(t, domain.TrackVideo, stream.Track().Kind())
	assert.Equal(t, "placeholder-video", stream.Track().ID())
	require.NoError(t, stream.ApplyConstraints(domain.VideoLadder()[0]))

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}
