package services

import (
	"context"
	"encoding/json"
	"sync"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"go.uber.org/zap"
)

// SessionSink is the inbound side of the session manager, as seen by the
// signaling coordinator.
type SessionSink interface {
	Open(ctx context.Context, userID domain.UserID, displayName string, initiator bool, initial *domain.Envelope) error
	Signal(userID domain.UserID, env domain.Envelope) error
	Close(userID domain.UserID)
}

// PeerEventHandlers receive relayed peer state changes. All handlers are
// optional and fire on bus goroutines.
type PeerEventHandlers struct {
	MemberJoined func(userID domain.UserID, displayName string)
	MemberLeft   func(userID domain.UserID)
	Speaking     func(userID domain.UserID, speaking bool)
	Muted        func(userID domain.UserID, muted bool)
	Camera       func(userID domain.UserID, enabled bool, source string)
}

// SignalingCoordinator bridges the signal bus and the session manager. The
// room joiner initiates toward every member of the roster it receives;
// members learning of a newcomer wait for the newcomer's offer instead.
type SignalingCoordinator struct {
	bus      ports.SignalBus
	sessions SessionSink
	handlers PeerEventHandlers
	logger   *zap.SugaredLogger
	metrics  EngineMetrics

	room        domain.RoomID
	selfID      domain.UserID
	displayName string
	joined      bool
	members     map[domain.UserID]string
	mu          sync.RWMutex
}

// NewSignalingCoordinator wires the coordinator to the bus. Inbound messages
// start flowing immediately but are ignored until Join.
func NewSignalingCoordinator(
	bus ports.SignalBus,
	sessions SessionSink,
	handlers PeerEventHandlers,
	metrics EngineMetrics,
	logger *zap.SugaredLogger,
) *SignalingCoordinator {
	sc := &SignalingCoordinator{
		bus:      bus,
		sessions: sessions,
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
		members:  make(map[domain.UserID]string),
	}
	bus.OnMessage(sc.handleMessage)
	bus.OnReconnect(sc.handleBusReconnect)
	return sc
}

// Join announces this client on the room's bus. The roster answer drives the
// outbound session openings.
func (sc *SignalingCoordinator) Join(ctx context.Context, room domain.RoomID, selfID domain.UserID, displayName string) error {
	sc.mu.Lock()
	if sc.joined {
		sc.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	sc.room = room
	sc.selfID = selfID
	sc.displayName = displayName
	sc.joined = true
	sc.members = make(map[domain.UserID]string)
	sc.mu.Unlock()

	if err := sc.announce(ctx); err != nil {
		sc.mu.Lock()
		sc.joined = false
		sc.mu.Unlock()
		return err
	}

	sc.logger.Infow("joined room", "room_id", room, "user_id", selfID)
	return nil
}

// Leave broadcasts the departure and forgets the room. Send failures are
// ignored; the bus server expires absent members on its own.
func (sc *SignalingCoordinator) Leave(ctx context.Context) {
	sc.mu.Lock()
	if !sc.joined {
		sc.mu.Unlock()
		return
	}
	room := sc.room
	selfID := sc.selfID
	sc.joined = false
	sc.members = make(map[domain.UserID]string)
	sc.mu.Unlock()

	if err := sc.bus.Send(ctx, room, "", domain.MsgMemberLeft, domain.MemberPayload{UserID: selfID}); err != nil {
		sc.logger.Debugw("leave broadcast failed", "room_id", room, "error", err)
	}
	sc.logger.Infow("left room", "room_id", room, "user_id", selfID)
}

// Joined reports whether the coordinator currently has a room.
func (sc *SignalingCoordinator) Joined() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.joined
}

// Members returns the last known roster, excluding this client.
func (sc *SignalingCoordinator) Members() map[domain.UserID]string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	members := make(map[domain.UserID]string, len(sc.members))
	for id, name := range sc.members {
		members[id] = name
	}
	return members
}

func (sc *SignalingCoordinator) announce(ctx context.Context) error {
	sc.mu.RLock()
	room, selfID, name := sc.room, sc.selfID, sc.displayName
	sc.mu.RUnlock()

	payload := domain.MemberPayload{UserID: selfID, DisplayName: name}
	if err := sc.bus.Send(ctx, room, "", domain.MsgMemberJoined, payload); err != nil {
		return domain.ErrSignalingUnavailable
	}
	if sc.metrics != nil {
		sc.metrics.SignalSent(string(domain.MsgMemberJoined))
	}
	return nil
}

// handleBusReconnect re-announces the current room after the bus recovers a
// dropped connection. The announce is idempotent on the server side.
func (sc *SignalingCoordinator) handleBusReconnect() {
	sc.mu.RLock()
	joined := sc.joined
	sc.mu.RUnlock()
	if !joined {
		return
	}
	if err := sc.announce(context.Background()); err != nil {
		sc.logger.Warnw("rejoin announce failed", "error", err)
	} else {
		sc.logger.Infow("re-announced after bus reconnect")
	}
}

func (sc *SignalingCoordinator) handleMessage(env domain.Envelope) {
	sc.mu.RLock()
	joined := sc.joined
	room := sc.room
	selfID := sc.selfID
	sc.mu.RUnlock()

	if !joined || env.Room != room || env.From == selfID {
		return
	}
	if env.To != "" && env.To != selfID {
		return
	}
	if sc.metrics != nil {
		sc.metrics.SignalReceived(string(env.Type))
	}

	switch env.Type {
	case domain.MsgMemberRoster:
		sc.handleRoster(env)
	case domain.MsgMemberJoined:
		sc.handleMemberJoined(env)
	case domain.MsgMemberLeft:
		sc.handleMemberLeft(env)
	case domain.MsgOffer:
		sc.handleOffer(env)
	case domain.MsgAnswer, domain.MsgICECandidate:
		if err := sc.sessions.Signal(env.From, env); err != nil {
			sc.logger.Debugw("signal without session dropped", "user_id", env.From, "type", env.Type)
		}
	case domain.MsgReconnectRequest:
		sc.handleReconnectRequest(env)
	case domain.MsgSpeakingChanged:
		var p domain.SpeakingPayload
		if json.Unmarshal(env.Payload, &p) == nil && sc.handlers.Speaking != nil {
			sc.handlers.Speaking(env.From, p.Speaking)
		}
	case domain.MsgMuteChanged:
		var p domain.MutePayload
		if json.Unmarshal(env.Payload, &p) == nil && sc.handlers.Muted != nil {
			sc.handlers.Muted(env.From, p.Muted)
		}
	case domain.MsgCameraChanged:
		var p domain.CameraPayload
		if json.Unmarshal(env.Payload, &p) == nil && sc.handlers.Camera != nil {
			sc.handlers.Camera(env.From, p.Enabled, p.Source)
		}
	default:
		sc.logger.Debugw("unknown bus message type", "type", env.Type)
	}
}

// handleRoster opens an initiator session toward every existing member. The
// roster is the join answer, so this side always offers first.
func (sc *SignalingCoordinator) handleRoster(env domain.Envelope) {
	var roster domain.RosterPayload
	if err := json.Unmarshal(env.Payload, &roster); err != nil {
		sc.logger.Warnw("invalid roster payload", "error", err)
		return
	}

	sc.mu.Lock()
	selfID := sc.selfID
	for _, member := range roster.Members {
		if member.UserID != selfID {
			sc.members[member.UserID] = member.DisplayName
		}
	}
	sc.mu.Unlock()

	for _, member := range roster.Members {
		if member.UserID == selfID {
			continue
		}
		if err := sc.sessions.Open(context.Background(), member.UserID, member.DisplayName, true, nil); err != nil {
			sc.logger.Warnw("session open from roster failed", "user_id", member.UserID, "error", err)
		}
	}
}

// handleMemberJoined only records the newcomer. The session is created when
// their offer arrives; opening one here would race their initiation.
func (sc *SignalingCoordinator) handleMemberJoined(env domain.Envelope) {
	var member domain.MemberPayload
	if err := json.Unmarshal(env.Payload, &member); err != nil {
		return
	}

	sc.mu.Lock()
	sc.members[member.UserID] = member.DisplayName
	sc.mu.Unlock()

	if sc.handlers.MemberJoined != nil {
		sc.handlers.MemberJoined(member.UserID, member.DisplayName)
	}
}

func (sc *SignalingCoordinator) handleMemberLeft(env domain.Envelope) {
	var member domain.MemberPayload
	if err := json.Unmarshal(env.Payload, &member); err != nil {
		member.UserID = env.From
	}
	userID := member.UserID
	if userID == "" {
		userID = env.From
	}

	sc.mu.Lock()
	delete(sc.members, userID)
	sc.mu.Unlock()

	sc.sessions.Close(userID)
	if sc.handlers.MemberLeft != nil {
		sc.handlers.MemberLeft(userID)
	}
}

func (sc *SignalingCoordinator) handleOffer(env domain.Envelope) {
	if err := sc.sessions.Signal(env.From, env); err == nil {
		return
	}

	sc.mu.RLock()
	name := sc.members[env.From]
	sc.mu.RUnlock()

	// First offer from a newcomer creates their session.
	if err := sc.sessions.Open(context.Background(), env.From, name, false, &env); err != nil {
		sc.logger.Warnw("session open from offer failed", "user_id", env.From, "error", err)
	}
}

// handleReconnectRequest rebuilds the session toward the requester with a
// fresh offer. The requester has already torn down its side.
func (sc *SignalingCoordinator) handleReconnectRequest(env domain.Envelope) {
	sc.mu.RLock()
	name := sc.members[env.From]
	sc.mu.RUnlock()

	if err := sc.sessions.Open(context.Background(), env.From, name, true, nil); err != nil {
		sc.logger.Warnw("session reopen after reconnect request failed", "user_id", env.From, "error", err)
	}
}

func (sc *SignalingCoordinator) send(ctx context.Context, target domain.UserID, msgType domain.MessageType, payload interface{}) error {
	sc.mu.RLock()
	joined := sc.joined
	room := sc.room
	sc.mu.RUnlock()

	if !joined {
		return domain.ErrNotInRoom
	}
	if err := sc.bus.Send(ctx, room, target, msgType, payload); err != nil {
		return err
	}
	if sc.metrics != nil {
		sc.metrics.SignalSent(string(msgType))
	}
	return nil
}

// SendDescription dispatches a local offer or answer to one peer.
func (sc *SignalingCoordinator) SendDescription(ctx context.Context, target domain.UserID, desc ports.SessionDescription) error {
	msgType := domain.MsgOffer
	if desc.Type == "answer" {
		msgType = domain.MsgAnswer
	}
	return sc.send(ctx, target, msgType, domain.DescriptionPayload{SDPType: desc.Type, SDP: desc.SDP})
}

// SendCandidate dispatches one ICE candidate to one peer.
func (sc *SignalingCoordinator) SendCandidate(ctx context.Context, target domain.UserID, candidate domain.CandidatePayload) error {
	return sc.send(ctx, target, domain.MsgICECandidate, candidate)
}

// RequestPeerReconnect asks a peer to rebuild its session toward us with a
// fresh offer.
func (sc *SignalingCoordinator) RequestPeerReconnect(ctx context.Context, target domain.UserID) error {
	return sc.send(ctx, target, domain.MsgReconnectRequest, nil)
}

// BroadcastSpeaking relays the local speaking flag to the room.
func (sc *SignalingCoordinator) BroadcastSpeaking(ctx context.Context, speaking bool) error {
	return sc.send(ctx, "", domain.MsgSpeakingChanged, domain.SpeakingPayload{Speaking: speaking})
}

// BroadcastMute relays the local mute flag to the room.
func (sc *SignalingCoordinator) BroadcastMute(ctx context.Context, muted bool) error {
	return sc.send(ctx, "", domain.MsgMuteChanged, domain.MutePayload{Muted: muted})
}

// BroadcastCamera relays the local video source to the room.
func (sc *SignalingCoordinator) BroadcastCamera(ctx context.Context, enabled bool, source string) error {
	return sc.send(ctx, "", domain.MsgCameraChanged, domain.CameraPayload{Enabled: enabled, Source: source})
}
