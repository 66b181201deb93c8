package services

import (
	"context"
	"sync"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"go.uber.org/zap"
)

// StatsSource exposes the session manager surface the monitor samples from.
type StatsSource interface {
	ActiveUsers() []domain.UserID
	Get(userID domain.UserID) (domain.PeerSessionInfo, bool)
	Stats(ctx context.Context, userID domain.UserID) (ports.TransportStats, error)
	RecordSample(userID domain.UserID, sample domain.QualitySample)
}

// RungApplier re-configures the outgoing video to a ladder rung. Implemented
// by the local media pipeline.
type RungApplier interface {
	ApplyVideoRung(rung domain.VideoRung) error
}

// QualityConfig tunes the sampling and adaptation behaviour.
type QualityConfig struct {
	SampleInterval  time.Duration
	StepUpHold      time.Duration
	BadSampleCount  int
	WarningCapacity int
}

// DefaultQualityConfig returns the production monitor settings.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		SampleInterval:  5 * time.Second,
		StepUpHold:      30 * time.Second,
		BadSampleCount:  3,
		WarningCapacity: 32,
	}
}

// QualityWarning is one recorded degradation event. Per-peer sample warnings
// carry UserID, loss and jitter; ladder step-downs carry Rung, naming the
// rung now in effect.
type QualityWarning struct {
	UserID         domain.UserID
	Classification domain.Classification
	LossRate       float64
	Jitter         time.Duration
	Rung           string
	Time           time.Time
}

// QualityMonitor periodically samples every session's transport statistics,
// classifies them, and walks the outgoing video quality ladder: three
// consecutive bad rounds step down one rung, a sustained excellent streak
// steps up one rung.
type QualityMonitor struct {
	source  StatsSource
	rungs   RungApplier
	cfg     QualityConfig
	logger  *zap.SugaredLogger
	metrics EngineMetrics

	samples        map[domain.UserID]domain.QualitySample
	rung           domain.VideoRung
	badStreak      int
	excellentSince time.Time
	warnings       []QualityWarning
	mu             sync.RWMutex

	cancel context.CancelFunc
	nowFn  func() time.Time
}

// NewQualityMonitor creates a monitor starting at the top ladder rung.
func NewQualityMonitor(source StatsSource, rungs RungApplier, cfg QualityConfig, metrics EngineMetrics, logger *zap.SugaredLogger) *QualityMonitor {
	ladder := domain.VideoLadder()
	return &QualityMonitor{
		source:  source,
		rungs:   rungs,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		samples: make(map[domain.UserID]domain.QualitySample),
		rung:    ladder[len(ladder)-1],
		nowFn:   time.Now,
	}
}

// Start launches the sampling loop. Stop or context cancellation ends it.
func (qm *QualityMonitor) Start(ctx context.Context) {
	qm.mu.Lock()
	if qm.cancel != nil {
		qm.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	qm.cancel = cancel
	qm.mu.Unlock()

	go func() {
		ticker := time.NewTicker(qm.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				qm.Sample(ctx)
			}
		}
	}()
}

// Stop ends the sampling loop and clears accumulated samples.
func (qm *QualityMonitor) Stop() {
	qm.mu.Lock()
	if qm.cancel != nil {
		qm.cancel()
		qm.cancel = nil
	}
	qm.samples = make(map[domain.UserID]domain.QualitySample)
	qm.badStreak = 0
	qm.excellentSince = time.Time{}
	qm.mu.Unlock()
}

// Sample performs one sampling round over all active sessions.
func (qm *QualityMonitor) Sample(ctx context.Context) {
	now := qm.nowFn()
	users := qm.source.ActiveUsers()

	fresh := make(map[domain.UserID]domain.QualitySample, len(users))
	for _, userID := range users {
		info, ok := qm.source.Get(userID)
		if !ok {
			continue
		}

		var sample domain.QualitySample
		if info.State == domain.SessionConnecting || info.State == domain.SessionDisconnected {
			sample = domain.QualitySample{Classification: domain.QualityConnecting, Timestamp: now}
		} else {
			stats, err := qm.source.Stats(ctx, userID)
			if err != nil {
				qm.logger.Debugw("stats read failed", "user_id", userID, "error", err)
				sample = domain.QualitySample{Classification: domain.QualityUnknown, Timestamp: now}
			} else {
				sample = domain.QualitySample{
					LossRate:       stats.LossRate(),
					Jitter:         stats.Jitter,
					Classification: classifyStats(stats),
					Timestamp:      now,
				}
			}
		}

		qm.source.RecordSample(userID, sample)
		fresh[userID] = sample

		if sample.Classification == domain.QualityPoor || sample.Classification == domain.QualityCritical {
			qm.recordWarning(QualityWarning{
				UserID:         userID,
				Classification: sample.Classification,
				LossRate:       sample.LossRate,
				Jitter:         sample.Jitter,
				Time:           now,
			})
		}
	}

	qm.mu.Lock()
	qm.samples = fresh
	qm.mu.Unlock()

	qm.adapt(worstClassification(fresh), len(fresh) > 0, now)
}

// classifyStats buckets raw transport statistics into a quality class.
func classifyStats(stats ports.TransportStats) domain.Classification {
	loss := stats.LossRate()
	switch {
	case loss > 0.10 || stats.Jitter > 100*time.Millisecond:
		return domain.QualityCritical
	case loss > 0.05 || stats.Jitter > 50*time.Millisecond:
		return domain.QualityPoor
	case loss < 0.01 && stats.Jitter < 20*time.Millisecond:
		return domain.QualityExcellent
	default:
		return domain.QualityGood
	}
}

func worstClassification(samples map[domain.UserID]domain.QualitySample) domain.Classification {
	worst := domain.QualityExcellent
	rank := map[domain.Classification]int{
		domain.QualityExcellent:  0,
		domain.QualityGood:       1,
		domain.QualityUnknown:    1,
		domain.QualityConnecting: 1,
		domain.QualityPoor:       2,
		domain.QualityCritical:   3,
	}
	for _, s := range samples {
		if rank[s.Classification] > rank[worst] {
			worst = s.Classification
		}
	}
	return worst
}

// adapt walks the ladder. Any non-excellent round interrupts the step-up
// streak; only a full StepUpHold of uninterrupted excellent rounds steps up.
func (qm *QualityMonitor) adapt(worst domain.Classification, haveSessions bool, now time.Time) {
	qm.mu.Lock()

	if !haveSessions {
		qm.badStreak = 0
		qm.excellentSince = time.Time{}
		qm.mu.Unlock()
		return
	}

	var target domain.VideoRung
	var stepped int // -1 down, +1 up
	switch {
	case worst == domain.QualityPoor || worst == domain.QualityCritical:
		qm.excellentSince = time.Time{}
		qm.badStreak++
		if qm.badStreak >= qm.cfg.BadSampleCount {
			qm.badStreak = 0
			target = domain.NextLowerRung(qm.rung)
			if target != qm.rung {
				qm.rung = target
				stepped = -1
			}
		}
	case worst == domain.QualityExcellent:
		qm.badStreak = 0
		if qm.excellentSince.IsZero() {
			qm.excellentSince = now
		} else if now.Sub(qm.excellentSince) >= qm.cfg.StepUpHold {
			qm.excellentSince = now
			target = domain.NextHigherRung(qm.rung)
			if target != qm.rung {
				qm.rung = target
				stepped = +1
			}
		}
	default:
		qm.badStreak = 0
		qm.excellentSince = time.Time{}
	}
	rung := qm.rung
	qm.mu.Unlock()

	if stepped == 0 {
		return
	}
	if err := qm.rungs.ApplyVideoRung(rung); err != nil {
		qm.logger.Warnw("video rung apply failed", "rung", rung.Name, "error", err)
	}
	if stepped < 0 {
		qm.recordWarning(QualityWarning{
			Classification: worst,
			Rung:           rung.Name,
			Time:           now,
		})
	}
	if qm.metrics != nil {
		if stepped < 0 {
			qm.metrics.QualityStepDown()
		} else {
			qm.metrics.QualityStepUp()
		}
		qm.metrics.VideoRungChanged(rung.Name)
	}
	qm.logger.Infow("video quality rung changed",
		"rung", rung.Name,
		"direction", stepped,
		"worst", worst,
	)
}

func (qm *QualityMonitor) recordWarning(w QualityWarning) {
	qm.mu.Lock()
	qm.warnings = append(qm.warnings, w)
	if qm.cfg.WarningCapacity > 0 && len(qm.warnings) > qm.cfg.WarningCapacity {
		qm.warnings = qm.warnings[len(qm.warnings)-qm.cfg.WarningCapacity:]
	}
	qm.mu.Unlock()
}

// RoomQuality reduces the latest samples to the aggregate room quality.
func (qm *QualityMonitor) RoomQuality() domain.RoomQuality {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	samples := make([]domain.QualitySample, 0, len(qm.samples))
	for _, s := range qm.samples {
		samples = append(samples, s)
	}
	return domain.ReduceRoomQuality(samples)
}

// Warnings returns the recorded degradation events, oldest first.
func (qm *QualityMonitor) Warnings() []QualityWarning {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	out := make([]QualityWarning, len(qm.warnings))
	copy(out, qm.warnings)
	return out
}

// CurrentRung returns the active ladder rung.
func (qm *QualityMonitor) CurrentRung() domain.VideoRung {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.rung
}
