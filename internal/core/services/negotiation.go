package services

import (
	"context"
	"errors"
	"sync"

	"voicelink/internal/core/domain"
	"voicelink/pkg/tracing"

	"go.uber.org/zap"
)

// Renegotiator starts a renegotiation for one session. Implemented by the
// session manager.
type Renegotiator interface {
	Renegotiate(ctx context.Context, userID domain.UserID) error
}

// NegotiationCoordinator serializes all renegotiations behind a single global
// FIFO queue. At most one renegotiation is in flight at a time; pending
// requests are deduplicated per user. A renegotiation counts as complete once
// the local offer has been created and dispatched.
type NegotiationCoordinator struct {
	target  Renegotiator
	logger  *zap.SugaredLogger
	metrics EngineMetrics

	queue    []domain.UserID
	queued   map[domain.UserID]bool
	inFlight bool
	closed   bool
	mu       sync.Mutex

	wake chan struct{}
	done chan struct{}
}

// NewNegotiationCoordinator creates the coordinator and starts its drain loop.
func NewNegotiationCoordinator(target Renegotiator, metrics EngineMetrics, logger *zap.SugaredLogger) *NegotiationCoordinator {
	nc := &NegotiationCoordinator{
		target:  target,
		logger:  logger,
		metrics: metrics,
		queued:  make(map[domain.UserID]bool),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go nc.run()
	return nc
}

// Request enqueues a renegotiation for the given user. Duplicate requests for
// a user already pending are coalesced into one.
func (nc *NegotiationCoordinator) Request(userID domain.UserID) {
	nc.mu.Lock()
	if nc.closed || nc.queued[userID] {
		nc.mu.Unlock()
		return
	}
	nc.queued[userID] = true
	nc.queue = append(nc.queue, userID)
	nc.mu.Unlock()

	if nc.metrics != nil {
		nc.metrics.RenegotiationQueued()
	}
	select {
	case nc.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued requests, excluding any in flight.
func (nc *NegotiationCoordinator) Pending() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return len(nc.queue)
}

// Clear drops all pending requests, typically when leaving a room.
func (nc *NegotiationCoordinator) Clear() {
	nc.mu.Lock()
	nc.queue = nil
	nc.queued = make(map[domain.UserID]bool)
	nc.mu.Unlock()
}

// Close stops the drain loop. The coordinator cannot be reused afterwards.
func (nc *NegotiationCoordinator) Close() {
	nc.mu.Lock()
	if nc.closed {
		nc.mu.Unlock()
		return
	}
	nc.closed = true
	nc.queue = nil
	nc.queued = make(map[domain.UserID]bool)
	nc.mu.Unlock()

	close(nc.done)
}

func (nc *NegotiationCoordinator) run() {
	for {
		select {
		case <-nc.done:
			return
		case <-nc.wake:
		}
		nc.drain()
	}
}

// drain pops queued users one at a time, never overlapping renegotiations.
func (nc *NegotiationCoordinator) drain() {
	for {
		nc.mu.Lock()
		if nc.closed || len(nc.queue) == 0 {
			nc.mu.Unlock()
			return
		}
		userID := nc.queue[0]
		nc.queue = nc.queue[1:]
		delete(nc.queued, userID)
		nc.inFlight = true
		nc.mu.Unlock()

		ctx, span := tracing.TraceNegotiation(context.Background(), string(userID))
		err := nc.target.Renegotiate(ctx, userID)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()

		nc.mu.Lock()
		nc.inFlight = false
		nc.mu.Unlock()

		switch {
		case err == nil:
			if nc.metrics != nil {
				nc.metrics.RenegotiationCompleted()
			}
		case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrRenegotiationRejected):
			// Non-stable or vanished sessions drop their request; track changes
			// converge on the next negotiation trigger.
			if nc.metrics != nil {
				nc.metrics.RenegotiationDropped()
			}
			nc.logger.Debugw("renegotiation dropped", "user_id", userID, "reason", err)
		default:
			if nc.metrics != nil {
				nc.metrics.RenegotiationDropped()
			}
			nc.logger.Warnw("renegotiation failed", "user_id", userID, "error", err)
		}
	}
}
