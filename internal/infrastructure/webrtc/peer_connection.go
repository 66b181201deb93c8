package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	minReceiverGain = 0.0
	maxReceiverGain = 2.0
)

// peerConnection adapts a pion connection to ports.PeerConnection. Inbound
// RTP is drained and accounted so Stats works without a decode path.
type peerConnection struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu            sync.Mutex
	onConnect     func()
	onRemoteTrack func(ports.RemoteTrack)
	onCandidate   func(domain.CandidatePayload)
	onStateChange func(ports.ConnState)
	receivers     []*receiverStats
	remoteReports []*remoteReportStats
	gain          float64
	closed        bool
}

func newPeerConnection(pc *webrtc.PeerConnection, logger *zap.SugaredLogger) *peerConnection {
	c := &peerConnection{pc: pc, logger: logger, gain: 1.0}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		payload := domain.CandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *init.SDPMLineIndex
		}
		c.mu.Lock()
		handler := c.onCandidate
		c.mu.Unlock()
		if handler != nil {
			handler(payload)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		stats := &receiverStats{clockRate: float64(track.Codec().ClockRate)}
		c.mu.Lock()
		c.receivers = append(c.receivers, stats)
		handler := c.onRemoteTrack
		c.mu.Unlock()

		go c.drainRemote(track, stats)
		if handler != nil {
			handler(remoteTrack{id: track.ID(), kind: remoteKind(track.Kind())})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		connect := c.onConnect
		change := c.onStateChange
		c.mu.Unlock()

		if state == webrtc.PeerConnectionStateConnected && connect != nil {
			connect()
		}
		if change != nil {
			change(connState(state))
		}
	})

	return c
}

func connState(state webrtc.PeerConnectionState) ports.ConnState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return ports.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return ports.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ports.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ports.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ports.ConnFailed
	default:
		return ports.ConnClosed
	}
}

func (c *peerConnection) AddTrack(track ports.LocalTrack) (ports.TrackSender, error) {
	lt, err := unwrapLocal(track)
	if err != nil {
		return nil, err
	}
	sender, err := c.pc.AddTrack(lt.track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	reports := &remoteReportStats{clockRate: 48000}
	if track.Kind() == domain.TrackVideo {
		reports.clockRate = 90000
	}
	c.mu.Lock()
	c.remoteReports = append(c.remoteReports, reports)
	c.mu.Unlock()
	go c.readSenderReports(sender, reports)

	return &trackSender{sender: sender, current: track}, nil
}

func (c *peerConnection) RemoveTrack(sender ports.TrackSender) error {
	ts, ok := sender.(*trackSender)
	if !ok {
		return fmt.Errorf("unsupported sender type %T", sender)
	}
	if err := c.pc.RemoveTrack(ts.sender); err != nil {
		return fmt.Errorf("remove track: %w", err)
	}
	return nil
}

func (c *peerConnection) CreateOffer(_ context.Context) (ports.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return ports.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return ports.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return ports.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *peerConnection) CreateAnswer(_ context.Context) (ports.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return ports.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return ports.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return ports.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *peerConnection) SetRemoteDescription(desc ports.SessionDescription) error {
	sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *peerConnection) AddCandidate(candidate domain.CandidatePayload) error {
	init := webrtc.ICECandidateInit{Candidate: candidate.Candidate}
	if candidate.SDPMid != "" {
		mid := candidate.SDPMid
		init.SDPMid = &mid
	}
	idx := candidate.SDPMLineIndex
	init.SDPMLineIndex = &idx

	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (c *peerConnection) SignalingStable() bool {
	return c.pc.SignalingState() == webrtc.SignalingStateStable
}

func (c *peerConnection) OnConnect(handler func()) {
	c.mu.Lock()
	c.onConnect = handler
	c.mu.Unlock()
}

func (c *peerConnection) OnRemoteTrack(handler func(ports.RemoteTrack)) {
	c.mu.Lock()
	c.onRemoteTrack = handler
	c.mu.Unlock()
}

func (c *peerConnection) OnCandidate(handler func(domain.CandidatePayload)) {
	c.mu.Lock()
	c.onCandidate = handler
	c.mu.Unlock()
}

func (c *peerConnection) OnStateChange(handler func(ports.ConnState)) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// Stats aggregates inbound RTP accounting and RTCP receiver reports across
// all tracks of this connection.
func (c *peerConnection) Stats(_ context.Context) (ports.TransportStats, error) {
	c.mu.Lock()
	receivers := c.receivers
	reports := c.remoteReports
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ports.TransportStats{}, errors.New("connection closed")
	}

	var out ports.TransportStats
	for _, r := range receivers {
		snap := r.snapshot()
		out.PacketsReceived += snap.PacketsReceived
		out.PacketsLost += snap.PacketsLost
		if snap.Jitter > out.Jitter {
			out.Jitter = snap.Jitter
		}
	}
	for _, r := range reports {
		snap := r.snapshot()
		out.PacketsLost += snap.PacketsLost
		if snap.Jitter > out.Jitter {
			out.Jitter = snap.Jitter
		}
	}
	return out, nil
}

// SetReceiverGain stores the playback gain for remote audio, clamped to the
// sink's supported range. The playback sink reads it when rendering.
func (c *peerConnection) SetReceiverGain(gain float64) error {
	gain = math.Max(minReceiverGain, math.Min(maxReceiverGain, gain))
	c.mu.Lock()
	c.gain = gain
	c.mu.Unlock()
	return nil
}

// Gain returns the current playback gain for remote audio.
func (c *peerConnection) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

func (c *peerConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.pc.Close()
}

// drainRemote keeps inbound RTP flowing and feeds the per-track accounting.
func (c *peerConnection) drainRemote(track *webrtc.TrackRemote, stats *receiverStats) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debugw("remote track read ended", "track_id", track.ID(), "error", err)
			}
			return
		}
		stats.record(pkt)
	}
}

// readSenderReports consumes RTCP from a sender and keeps the most recent
// receiver-report figures for the remote side of the link.
func (c *peerConnection) readSenderReports(sender *webrtc.RTPSender, stats *remoteReportStats) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				stats.update(report)
			}
		}
	}
}
