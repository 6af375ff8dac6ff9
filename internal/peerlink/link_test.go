package peerlink_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/peerlink"
	"github.com/BioHazard786/meshcall/internal/peerlink/peerlinktest"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

type sentSignal struct {
	Type   protocol.Type
	Target string
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (r *recordingSignaler) SendSignal(t protocol.Type, target string, _ any) error {
	r.mu.Lock()
	r.sent = append(r.sent, sentSignal{Type: t, Target: target})
	r.mu.Unlock()
	return nil
}

func (r *recordingSignaler) types() []protocol.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Type, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Type)
	}
	return out
}

type linkFixture struct {
	net    *peerlinktest.Network
	sig    *recordingSignaler
	mu     sync.Mutex
	events []peerlink.Event
}

func (f *linkFixture) open(t *testing.T, role peerlink.Role, timeout time.Duration) *peerlink.Link {
	t.Helper()
	l, err := peerlink.StartLink("local", "remote", role, timeout, f.net.Factory(), f.sig,
		func(ev peerlink.Event) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close(peerlink.ErrLocalClose) })
	return l
}

func newLinkFixture() *linkFixture {
	return &linkFixture{net: peerlinktest.NewNetwork(), sig: &recordingSignaler{}}
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestCanTransition(t *testing.T) {
	assert.True(t, peerlink.CanTransition(peerlink.StateNew, peerlink.StateOffering))
	assert.True(t, peerlink.CanTransition(peerlink.StateNew, peerlink.StateAwaitingOffer))
	assert.True(t, peerlink.CanTransition(peerlink.StateOffering, peerlink.StateAnswered))
	assert.True(t, peerlink.CanTransition(peerlink.StateAwaitingOffer, peerlink.StateAnswered))
	assert.True(t, peerlink.CanTransition(peerlink.StateAnswered, peerlink.StateICEExchanging))
	assert.True(t, peerlink.CanTransition(peerlink.StateICEExchanging, peerlink.StateConnected))
	assert.True(t, peerlink.CanTransition(peerlink.StateAnswered, peerlink.StateConnected))

	assert.False(t, peerlink.CanTransition(peerlink.StateNew, peerlink.StateConnected))
	assert.False(t, peerlink.CanTransition(peerlink.StateOffering, peerlink.StateAwaitingOffer))
	assert.False(t, peerlink.CanTransition(peerlink.StateConnected, peerlink.StateOffering))
	assert.False(t, peerlink.CanTransition(peerlink.StateClosed, peerlink.StateNew))
	for _, s := range []peerlink.State{peerlink.StateNew, peerlink.StateOffering, peerlink.StateAwaitingOffer, peerlink.StateAnswered, peerlink.StateICEExchanging, peerlink.StateConnected} {
		assert.True(t, peerlink.CanTransition(s, peerlink.StateClosed), "%s -> closed", s)
	}
}

func TestInitiatorSendsOfferThenCandidate(t *testing.T) {
	f := newLinkFixture()
	l := f.open(t, peerlink.RoleInitiator, time.Minute)

	require.Eventually(t, func() bool { return len(f.sig.types()) == 2 }, waitFor, tick)
	assert.Equal(t, []protocol.Type{protocol.TypeOffer, protocol.TypeICECandidate}, f.sig.types())
	assert.Equal(t, peerlink.StateOffering, l.State())
}

func TestCandidatesBeforeOfferAreQueued(t *testing.T) {
	f := newLinkFixture()
	l := f.open(t, peerlink.RoleResponder, time.Minute)
	require.Eventually(t, func() bool { return l.State() == peerlink.StateAwaitingOffer }, waitFor, tick)

	for i := 0; i < 3; i++ {
		c := protocol.Candidate{Candidate: "candidate:early"}
		require.NoError(t, l.HandleSignal(protocol.TypeICECandidate, payload(t, c)))
	}
	require.Eventually(t, func() bool { return l.PendingCandidates() == 3 }, waitFor, tick)

	tr := f.net.Transport("local", "remote")
	require.NotNil(t, tr)
	assert.Zero(t, tr.Candidates())

	offer := protocol.SessionDescription{Type: "offer", SDP: "v=0"}
	require.NoError(t, l.HandleSignal(protocol.TypeOffer, payload(t, offer)))

	require.Eventually(t, func() bool { return tr.Candidates() == 3 }, waitFor, tick)
	assert.Zero(t, l.PendingCandidates())
	require.Eventually(t, func() bool { return l.State() == peerlink.StateICEExchanging }, waitFor, tick)
	assert.Contains(t, f.sig.types(), protocol.TypeAnswer)
}

func TestInitiatorDropsOffer(t *testing.T) {
	f := newLinkFixture()
	l := f.open(t, peerlink.RoleInitiator, time.Minute)
	require.Eventually(t, func() bool { return len(f.sig.types()) == 2 }, waitFor, tick)

	offer := protocol.SessionDescription{Type: "offer", SDP: "v=0"}
	require.NoError(t, l.HandleSignal(protocol.TypeOffer, payload(t, offer)))
	require.NoError(t, l.HandleSignal(protocol.TypeICECandidate, payload(t, protocol.Candidate{Candidate: "x"})))

	require.Eventually(t, func() bool { return l.PendingCandidates() == 1 }, waitFor, tick)
	assert.Equal(t, peerlink.StateOffering, l.State())
	assert.NotContains(t, f.sig.types(), protocol.TypeAnswer)
}

func TestResponderIgnoresAnswer(t *testing.T) {
	f := newLinkFixture()
	l := f.open(t, peerlink.RoleResponder, time.Minute)
	require.Eventually(t, func() bool { return l.State() == peerlink.StateAwaitingOffer }, waitFor, tick)

	answer := protocol.SessionDescription{Type: "answer", SDP: "v=0"}
	require.NoError(t, l.HandleSignal(protocol.TypeAnswer, payload(t, answer)))
	require.NoError(t, l.HandleSignal(protocol.TypeICECandidate, payload(t, protocol.Candidate{Candidate: "x"})))

	require.Eventually(t, func() bool { return l.PendingCandidates() == 1 }, waitFor, tick)
	assert.Equal(t, peerlink.StateAwaitingOffer, l.State())
}

func TestHandleSignalRejectsBadInput(t *testing.T) {
	f := newLinkFixture()
	l := f.open(t, peerlink.RoleResponder, time.Minute)

	assert.ErrorIs(t, l.HandleSignal(protocol.TypeCaption, json.RawMessage(`{}`)), protocol.ErrUnknownType)
	assert.Error(t, l.HandleSignal(protocol.TypeOffer, json.RawMessage(`"nope"`)))
}

func TestNegotiationTimeout(t *testing.T) {
	f := newLinkFixture()
	l := f.open(t, peerlink.RoleInitiator, 50*time.Millisecond)

	select {
	case <-l.Done():
	case <-time.After(waitFor):
		t.Fatal("link did not time out")
	}
	assert.ErrorIs(t, l.Err(), peerlink.ErrNegotiationTimeout)
	assert.Equal(t, peerlink.StateClosed, l.State())

	f.mu.Lock()
	last := f.events[len(f.events)-1]
	f.mu.Unlock()
	assert.Equal(t, peerlink.StateChanged{RemoteID: "remote", State: peerlink.StateClosed, Err: peerlink.ErrNegotiationTimeout}, last)
}

func TestCloseIsIdempotentAndDropsLateWork(t *testing.T) {
	f := newLinkFixture()
	l := f.open(t, peerlink.RoleResponder, time.Minute)

	l.Close(peerlink.ErrRemoteLeft)
	l.Close(peerlink.ErrLocalClose)
	assert.ErrorIs(t, l.Err(), peerlink.ErrRemoteLeft)

	offer := protocol.SessionDescription{Type: "offer", SDP: "v=0"}
	require.NoError(t, l.HandleSignal(protocol.TypeOffer, payload(t, offer)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, peerlink.StateClosed, l.State())
	assert.NotContains(t, f.sig.types(), protocol.TypeAnswer)

	closes := 0
	f.mu.Lock()
	for _, ev := range f.events {
		if sc, ok := ev.(peerlink.StateChanged); ok && sc.State == peerlink.StateClosed {
			closes++
		}
	}
	f.mu.Unlock()
	assert.Equal(t, 1, closes)
	assert.True(t, l.Info().Inbound.Finalized)
}
