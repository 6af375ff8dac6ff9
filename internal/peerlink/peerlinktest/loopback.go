// Package peerlinktest provides an in-memory peerlink transport for tests.
package peerlinktest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peerlink"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// Network connects in-process transports to each other. Two ends
// connect once both have exchanged descriptions and at least one candidate
// each way. It is deterministic, which makes mesh behavior testable without
// real networking.
type Network struct {
	mu      sync.Mutex
	ends    map[[2]string]*Transport
	blocked map[[2]string]bool
}

func NewNetwork() *Network {
	return &Network{
		ends:    make(map[[2]string]*Transport),
		blocked: make(map[[2]string]bool),
	}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Factory returns a TransportFactory whose transports live on n.
func (n *Network) Factory() peerlink.TransportFactory {
	return func(localID, remoteID string, h peerlink.Handler) (peerlink.Transport, error) {
		t := &Transport{
			net:    n,
			local:  localID,
			remote: remoteID,
			h:      h,
			bound:  make(map[media.Kind]webrtc.TrackLocal),
		}
		n.mu.Lock()
		n.ends[[2]string{localID, remoteID}] = t
		n.mu.Unlock()
		return t, nil
	}
}

// Block keeps a and b from ever connecting.
func (n *Network) Block(a, b string) {
	n.mu.Lock()
	n.blocked[pairKey(a, b)] = true
	n.mu.Unlock()
}

// Transport returns the end local → remote, or nil.
func (n *Network) Transport(local, remote string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ends[[2]string{local, remote}]
}

// Fail reports a transport failure on both ends of a ↔ b.
func (n *Network) Fail(a, b string) {
	for _, t := range []*Transport{n.Transport(a, b), n.Transport(b, a)} {
		if t != nil {
			t.h.ConnectionState(peerlink.ConnFailed)
		}
	}
}

// Deliver simulates size bytes of kind media arriving at to from from. It
// reports whether the receiving link accepted it.
func (n *Network) Deliver(from, to string, kind media.Kind, size int) bool {
	t := n.Transport(to, from)
	if t == nil || !t.isConnected() {
		return false
	}
	return t.h.Media(kind, size)
}

func (n *Network) maybeConnect(t *Transport) {
	n.mu.Lock()
	peer := n.ends[[2]string{t.remote, t.local}]
	if peer == nil || n.blocked[pairKey(t.local, t.remote)] || !t.ready() || !peer.ready() {
		n.mu.Unlock()
		return
	}
	first := t.markConnected()
	second := peer.markConnected()
	n.mu.Unlock()

	for _, end := range []struct {
		t     *Transport
		fresh bool
	}{{t, first}, {peer, second}} {
		if end.fresh {
			end.t.h.ConnectionState(peerlink.ConnConnected)
			end.t.h.ControlOpen()
		}
	}
}

func (n *Network) remove(t *Transport) {
	n.mu.Lock()
	if n.ends[[2]string{t.local, t.remote}] == t {
		delete(n.ends, [2]string{t.local, t.remote})
	}
	peer := n.ends[[2]string{t.remote, t.local}]
	n.mu.Unlock()

	if peer != nil && peer.isConnected() {
		peer.h.ConnectionState(peerlink.ConnDisconnected)
	}
}

// Transport is one end of a loopback connection.
type Transport struct {
	net    *Network
	local  string
	remote string
	h      peerlink.Handler

	mu         sync.Mutex
	localDesc  *protocol.SessionDescription
	remoteDesc *protocol.SessionDescription
	candidates int
	connected  bool
	closed     bool
	bound      map[media.Kind]webrtc.TrackLocal
	binds      int
}

var errClosed = errors.New("loopback transport closed")

func (t *Transport) CreateOffer(ctx context.Context) (protocol.SessionDescription, error) {
	return t.describe(ctx, "offer")
}

func (t *Transport) CreateAnswer(ctx context.Context) (protocol.SessionDescription, error) {
	t.mu.Lock()
	hasOffer := t.remoteDesc != nil && t.remoteDesc.Type == "offer"
	t.mu.Unlock()
	if !hasOffer {
		return protocol.SessionDescription{}, errors.New("create answer: no remote offer")
	}
	return t.describe(ctx, "answer")
}

func (t *Transport) describe(ctx context.Context, kind string) (protocol.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return protocol.SessionDescription{}, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return protocol.SessionDescription{}, errClosed
	}
	desc := protocol.SessionDescription{
		Type: kind,
		SDP:  fmt.Sprintf("v=0\r\no=loopback %s %s\r\n", t.local, t.remote),
	}
	t.localDesc = &desc
	t.mu.Unlock()

	// Gathering yields one host candidate right after the local description.
	t.h.LocalCandidate(protocol.Candidate{Candidate: "candidate:1 1 udp 1 loopback " + t.local})
	t.net.maybeConnect(t)
	return desc, nil
}

func (t *Transport) SetRemoteDescription(desc protocol.SessionDescription) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errClosed
	}
	t.remoteDesc = &desc
	t.mu.Unlock()

	t.net.maybeConnect(t)
	return nil
}

func (t *Transport) AddICECandidate(c protocol.Candidate) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errClosed
	}
	if t.remoteDesc == nil {
		t.mu.Unlock()
		return errors.New("add candidate: remote description not set")
	}
	t.candidates++
	t.mu.Unlock()

	t.net.maybeConnect(t)
	return nil
}

func (t *Transport) Bind(kind media.Kind, track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errClosed
	}
	t.bound[kind] = track
	t.binds++
	return nil
}

// Bound returns the track currently bound for kind.
func (t *Transport) Bound(kind media.Kind) webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bound[kind]
}

// Binds counts Bind calls.
func (t *Transport) Binds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.binds
}

// Candidates counts remote candidates applied.
func (t *Transport) Candidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.candidates
}

func (t *Transport) SendControl(data []byte) error {
	if !t.isConnected() {
		return peerlink.ErrControlNotOpen
	}
	peer := t.net.Transport(t.remote, t.local)
	if peer == nil || !peer.isConnected() {
		return peerlink.ErrControlNotOpen
	}
	peer.h.Control(data)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	t.net.remove(t)
	return nil
}

func (t *Transport) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.localDesc != nil && t.remoteDesc != nil && t.candidates > 0
}

func (t *Transport) markConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return false
	}
	t.connected = true
	return true
}

func (t *Transport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closed
}
