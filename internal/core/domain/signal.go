package domain

import "encoding/json"

// MessageType enumerates the signaling messages exchanged over the bus.
type MessageType string

const (
	MsgMemberRoster     MessageType = "member-roster"
	MsgMemberJoined     MessageType = "member-joined"
	MsgMemberLeft       MessageType = "member-left"
	MsgOffer            MessageType = "offer"
	MsgAnswer           MessageType = "answer"
	MsgICECandidate     MessageType = "ice-candidate"
	MsgSpeakingChanged  MessageType = "speaking-changed"
	MsgMuteChanged      MessageType = "mute-changed"
	MsgCameraChanged    MessageType = "camera-changed"
	MsgReconnectRequest MessageType = "reconnect-request"
)

// Envelope is one signaling message as carried by the bus. An empty To
// addresses every member of the room.
type Envelope struct {
	Room    RoomID          `json:"room"`
	From    UserID          `json:"from"`
	To      UserID          `json:"to,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RosterMember is one entry of the member-roster payload.
type RosterMember struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type RosterPayload struct {
	Members []RosterMember `json:"members"`
}

type MemberPayload struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type DescriptionPayload struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid,omitempty"`
	SDPMLineIndex uint16 `json:"sdp_mline_index,omitempty"`
}

type SpeakingPayload struct {
	Speaking bool `json:"speaking"`
}

type MutePayload struct {
	Muted bool `json:"muted"`
}

type CameraPayload struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`
}
