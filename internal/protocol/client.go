package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned by ParseClientMessage for a type the relay does
// not accept from clients.
var ErrUnknownType = errors.New("unknown message type")

// ClientMessage is the closed set of messages a client may send to the relay.
// Only types in this package implement it.
type ClientMessage interface {
	clientMessage()
}

// JoinRoom asks the relay to add the sender to a room.
type JoinRoom struct {
	RoomID string
	Name   string
}

// LeaveRoom removes the sender from a room.
type LeaveRoom struct {
	RoomID string
}

// Directed is an offer, answer or ICE candidate addressed to one connection.
// The payload is forwarded untouched.
type Directed struct {
	Type    Type
	Target  string
	Payload []byte
}

// Caption is a finalized caption for the rest of the room.
type Caption struct {
	RoomID string
	Name   string
	Text   string
}

// ScreenShare is the sender's presenting flag for the rest of the room.
type ScreenShare struct {
	RoomID string
	Active bool
}

func (JoinRoom) clientMessage()    {}
func (LeaveRoom) clientMessage()   {}
func (Directed) clientMessage()    {}
func (Caption) clientMessage()     {}
func (ScreenShare) clientMessage() {}

// ParseClientMessage validates an inbound envelope and returns its variant.
func ParseClientMessage(m *Message) (ClientMessage, error) {
	switch m.Type {
	case TypeJoinRoom:
		if strings.TrimSpace(m.RoomID) == "" {
			return nil, fmt.Errorf("%s: missing room_id", m.Type)
		}
		var p JoinPayload
		if len(m.Payload) > 0 {
			if err := m.Decode(&p); err != nil {
				return nil, err
			}
		}
		return JoinRoom{RoomID: m.RoomID, Name: strings.TrimSpace(p.Name)}, nil

	case TypeLeaveRoom:
		if m.RoomID == "" {
			return nil, fmt.Errorf("%s: missing room_id", m.Type)
		}
		return LeaveRoom{RoomID: m.RoomID}, nil

	case TypeOffer, TypeAnswer, TypeICECandidate:
		if m.Target == "" {
			return nil, fmt.Errorf("%s: missing target", m.Type)
		}
		if len(m.Payload) == 0 {
			return nil, fmt.Errorf("%s: missing payload", m.Type)
		}
		return Directed{Type: m.Type, Target: m.Target, Payload: m.Payload}, nil

	case TypeCaption:
		if m.RoomID == "" {
			return nil, fmt.Errorf("%s: missing room_id", m.Type)
		}
		var p CaptionPayload
		if err := m.Decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, fmt.Errorf("%s: empty text", m.Type)
		}
		return Caption{RoomID: m.RoomID, Name: p.Name, Text: p.Text}, nil

	case TypeScreenShare:
		if m.RoomID == "" {
			return nil, fmt.Errorf("%s: missing room_id", m.Type)
		}
		var p ScreenSharePayload
		if err := m.Decode(&p); err != nil {
			return nil, err
		}
		return ScreenShare{RoomID: m.RoomID, Active: p.Active}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
}
