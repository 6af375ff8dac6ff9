package session

import (
	"encoding/json"
	"time"

	"github.com/BioHazard786/meshcall/internal/protocol"
)

// Event is something the relay told us. The set of events is closed.
type Event interface {
	event()
}

// Joined is emitted each time the relay confirms a join. Members includes
// Self and is in join order. Reconnect is set for every join after the first,
// when all peer links must be rebuilt for the new identity.
type Joined struct {
	Self      string
	RoomID    string
	Members   []protocol.Participant
	Reconnect bool
}

// PeerJoined announces a newcomer that will initiate a link to us.
type PeerJoined struct {
	Participant protocol.Participant
}

// PeerLeft announces a departed participant.
type PeerLeft struct {
	ID string
}

// Participants carries the full member list after any membership change.
type Participants struct {
	Members []protocol.Participant
}

// Signal is an offer, answer or ICE candidate addressed to us.
type Signal struct {
	Type    protocol.Type
	From    string
	Payload json.RawMessage
}

// Caption is a final caption from another participant.
type Caption struct {
	From      string
	Name      string
	Text      string
	Timestamp time.Time
}

// ScreenShare reports another participant's screen-share state.
type ScreenShare struct {
	From   string
	Active bool
}

// ServerError is an error reply from the relay.
type ServerError struct {
	Message string
}

// Disconnected is emitted when a connection drops; the client retries after
// RetryIn.
type Disconnected struct {
	Err     error
	RetryIn time.Duration
}

func (Joined) event()       {}
func (PeerJoined) event()   {}
func (PeerLeft) event()     {}
func (Participants) event() {}
func (Signal) event()       {}
func (Caption) event()      {}
func (ScreenShare) event()  {}
func (ServerError) event()  {}
func (Disconnected) event() {}

// decodeEvent maps a relay message to an Event. Messages the client has no
// use for yield a nil Event.
func decodeEvent(msg *protocol.Message) (Event, error) {
	switch msg.Type {
	case protocol.TypeRoster:
		var p protocol.RosterPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return Joined{Self: p.Self, RoomID: msg.RoomID, Members: p.Members}, nil

	case protocol.TypePeerJoined:
		var p protocol.PeerJoinedPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return PeerJoined{Participant: p.Participant}, nil

	case protocol.TypePeerLeft:
		var p protocol.PeerLeftPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return PeerLeft{ID: p.ID}, nil

	case protocol.TypeParticipants:
		var p protocol.ParticipantsPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return Participants{Members: p.Members}, nil

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		if len(msg.Payload) == 0 {
			return nil, msg.Decode(nil)
		}
		return Signal{Type: msg.Type, From: msg.From, Payload: msg.Payload}, nil

	case protocol.TypeCaption:
		var p protocol.CaptionPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return Caption{From: msg.From, Name: p.Name, Text: p.Text, Timestamp: time.UnixMilli(p.Timestamp)}, nil

	case protocol.TypeScreenShare:
		var p protocol.ScreenSharePayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return ScreenShare{From: msg.From, Active: p.Active}, nil

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return ServerError{Message: p.Error}, nil
	}
	return nil, nil
}
