package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every websocket frame between a client and the
// relay, in both directions.
type Message struct {
	Type    Type            `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Type names a message kind on the wire.
type Type string

// Client to relay.
const (
	TypeJoinRoom     Type = "join-room"
	TypeLeaveRoom    Type = "leave-room"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeCaption      Type = "caption"
	TypeScreenShare  Type = "screen-share"
)

// Relay to client. Offer, answer, ice-candidate, caption and screen-share are
// also forwarded under their inbound names.
const (
	TypeWelcome      Type = "welcome"
	TypeRoster       Type = "roster"
	TypePeerJoined   Type = "peer-joined"
	TypePeerLeft     Type = "peer-left"
	TypeParticipants Type = "participants"
	TypeError        Type = "error"
)

// Participant is a member of a room as seen on the wire.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"room_id,omitempty"`
}

// JoinPayload is the payload of join-room.
type JoinPayload struct {
	Name string `json:"name"`
}

// WelcomePayload carries the relay-assigned connection id.
type WelcomePayload struct {
	ID string `json:"id"`
}

// RosterPayload answers a join: Self is the joiner, Members is every current
// member including the joiner, in join order.
type RosterPayload struct {
	Self    string        `json:"self"`
	Members []Participant `json:"members"`
}

// PeerJoinedPayload announces a newcomer to existing members.
type PeerJoinedPayload struct {
	Participant Participant `json:"participant"`
}

// PeerLeftPayload announces a departure.
type PeerLeftPayload struct {
	ID string `json:"id"`
}

// ParticipantsPayload is the full membership after a change.
type ParticipantsPayload struct {
	Members []Participant `json:"members"`
}

// SessionDescription mirrors the SDP object exchanged by offer and answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate mirrors an ICE candidate init object.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CaptionPayload is a finalized transcript segment. Timestamp is unix millis
// stamped by the relay.
type CaptionPayload struct {
	Name      string `json:"name"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ScreenSharePayload is the advisory presenting flag.
type ScreenSharePayload struct {
	Active bool `json:"active"`
}

// ErrorPayload is sent back to a client whose message could not be processed.
type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds a message of the given type with payload encoded as JSON.
func New(t Type, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// MustNew is New for payload types that always encode.
func MustNew(t Type, payload any) *Message {
	msg, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}

// Errorf builds an error message for a client.
func Errorf(format string, args ...any) *Message {
	return MustNew(TypeError, ErrorPayload{Error: fmt.Sprintf(format, args...)})
}
