// Package peerlink negotiates and tears down the direct media connections
// between participants. A Manager keeps one Link per remote participant; each
// Link is a small state machine driven by its own operation queue.
package peerlink

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

var (
	ErrLinkClosed         = errors.New("link closed")
	ErrRemoteLeft         = errors.New("remote participant left")
	ErrLocalClose         = errors.New("closed locally")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrTransportFailed    = errors.New("transport failed")
	ErrTransportClosed    = errors.New("transport closed")
	ErrIdentityChanged    = errors.New("local identity changed")
	ErrControlNotOpen     = errors.New("control channel not open")
)

// Role says which side of a link sends the offer.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is a link's negotiation state.
type State int

const (
	StateNew State = iota
	StateOffering
	StateAwaitingOffer
	StateAnswered
	StateICEExchanging
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateAnswered:
		return "answered"
	case StateICEExchanging:
		return "ice-exchanging"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var transitions = map[State][]State{
	StateNew:           {StateOffering, StateAwaitingOffer},
	StateOffering:      {StateAnswered},
	StateAwaitingOffer: {StateAnswered},
	StateAnswered:      {StateICEExchanging, StateConnected},
	StateICEExchanging: {StateConnected},
}

// CanTransition reports whether from → to is a legal move. Every state except
// closed may move to closed.
func CanTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ConnState is a transport's connectivity as reported to its link.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (c ConnState) String() string {
	switch c {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(c))
}

// Transport is one media connection to a remote participant. It is also the
// media.Sink that local sources bind to.
type Transport interface {
	media.Sink

	// CreateOffer and CreateAnswer also apply the result as the local
	// description.
	CreateOffer(ctx context.Context) (protocol.SessionDescription, error)
	CreateAnswer(ctx context.Context) (protocol.SessionDescription, error)
	SetRemoteDescription(desc protocol.SessionDescription) error
	AddICECandidate(c protocol.Candidate) error

	SendControl(data []byte) error
	Close() error
}

// Handler receives a transport's callbacks. Implementations must not block.
type Handler interface {
	LocalCandidate(c protocol.Candidate)
	ConnectionState(s ConnState)
	ControlOpen()
	Control(data []byte)

	// Media records n bytes of inbound media. Returning false tells the
	// transport to stop reading.
	Media(kind media.Kind, n int) bool
}

// TransportFactory creates the transport for the link localID → remoteID.
type TransportFactory func(localID, remoteID string, h Handler) (Transport, error)

// Signaler carries offers, answers and candidates through the relay.
type Signaler interface {
	SendSignal(t protocol.Type, target string, payload any) error
}

// Event reports link activity to the Manager's consumer.
type Event interface {
	linkEvent()
}

// StateChanged is emitted on every state transition. Err is set when the
// link closed.
type StateChanged struct {
	RemoteID string
	State    State
	Err      error
}

// RemoteUpdated is emitted when the remote announces its name or media state
// over the control channel.
type RemoteUpdated struct {
	RemoteID string
	Remote   RemoteInfo
}

func (StateChanged) linkEvent()  {}
func (RemoteUpdated) linkEvent() {}

// RemoteInfo is what a remote told us about itself.
type RemoteInfo struct {
	Name       string
	Version    string
	Audio      bool
	Video      bool
	Presenting bool
	Hello      bool
}
