package ports

import (
	"context"

	"voicelink/internal/core/domain"
)

// SignalBus is the external bidirectional message bus used for signaling.
// Delivery is at-least-once with no ordering guarantee across message types.
type SignalBus interface {
	// Send publishes a message to one member (or the whole room when target is
	// empty). Payload is marshalled by the bus implementation.
	Send(ctx context.Context, room domain.RoomID, target domain.UserID, msgType domain.MessageType, payload interface{}) error

	// OnMessage registers the inbound message handler. Only one handler is
	// active at a time; registering replaces the previous one.
	OnMessage(handler func(domain.Envelope))

	// OnReconnect registers a handler invoked after the bus re-establishes a
	// dropped connection.
	OnReconnect(handler func())

	Close() error
}
