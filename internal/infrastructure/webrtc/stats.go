package webrtc

import (
	"sync"
	"time"

	"voicelink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// receiverStats accounts inbound RTP per remote track. Loss is derived from
// sequence number gaps, jitter per the RFC 3550 interarrival estimator.
type receiverStats struct {
	mu        sync.Mutex
	clockRate float64

	started   bool
	highest   uint16
	received  uint64
	lost      uint64
	transit   float64
	jitter    float64 // in clock-rate units
}

func (s *receiverStats) record(pkt *rtp.Packet) {
	seq, timestamp := pkt.SequenceNumber, pkt.Timestamp
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	if !s.started {
		s.started = true
		s.highest = seq
	} else {
		gap := seq - s.highest // wraps correctly on uint16 overflow
		if gap > 0 && gap < 0x8000 {
			s.lost += uint64(gap - 1)
			s.highest = seq
		}
	}

	if s.clockRate > 0 {
		arrival := float64(now.UnixNano()) / float64(time.Second) * s.clockRate
		transit := arrival - float64(timestamp)
		if s.transit != 0 {
			d := transit - s.transit
			if d < 0 {
				d = -d
			}
			s.jitter += (d - s.jitter) / 16
		}
		s.transit = transit
	}
}

func (s *receiverStats) snapshot() ports.TransportStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jitter time.Duration
	if s.clockRate > 0 {
		jitter = time.Duration(s.jitter / s.clockRate * float64(time.Second))
	}
	return ports.TransportStats{
		PacketsReceived: s.received,
		PacketsLost:     s.lost,
		Jitter:          jitter,
	}
}

// remoteReportStats keeps the latest RTCP receiver report for one sender,
// describing how the remote side sees our outbound stream.
type remoteReportStats struct {
	mu        sync.Mutex
	clockRate float64

	totalLost uint64
	jitter    time.Duration
}

func (s *remoteReportStats) update(report rtcp.ReceptionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalLost = uint64(report.TotalLost)
	if s.clockRate > 0 {
		s.jitter = time.Duration(float64(report.Jitter) / s.clockRate * float64(time.Second))
	}
}

func (s *remoteReportStats) snapshot() ports.TransportStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.TransportStats{PacketsLost: s.totalLost, Jitter: s.jitter}
}
