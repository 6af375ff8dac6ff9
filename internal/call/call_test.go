package call

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peerlink"
	"github.com/BioHazard786/meshcall/internal/peerlink/peerlinktest"
	"github.com/BioHazard786/meshcall/internal/server"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trackingListener remembers accepted connections so a test can cut them.
type trackingListener struct {
	net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}
	return conn, err
}

// dropAll closes every connection accepted so far, websockets included.
func (l *trackingListener) dropAll() {
	l.mu.Lock()
	conns := l.conns
	l.conns = nil
	l.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func startRelay(t *testing.T) string {
	url, _ := startDroppableRelay(t)
	return url
}

func startDroppableRelay(t *testing.T) (string, *trackingListener) {
	t.Helper()

	hub := signaling.NewHub(signaling.Options{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewUnstartedServer(server.NewMux(hub, server.Options{Logger: quietLogger()}))
	ln := &trackingListener{Listener: srv.Listener}
	srv.Listener = ln
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		ln.dropAll()
		cancel()
		<-hub.Done()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", ln
}

type running struct {
	*Call
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// stop hangs up and waits for Run to return.
func (r *running) stop(t *testing.T) {
	r.once.Do(func() {
		r.cancel()
		select {
		case err := <-r.done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("Run did not return after cancel")
		}
	})
}

func startCall(t *testing.T, url string, net *peerlinktest.Network, name string) *running {
	t.Helper()
	return startCallWith(t, url, net.Factory(), waitFor, name)
}

func startCallWith(t *testing.T, url string, factory peerlink.TransportFactory, timeout time.Duration, name string) *running {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := New(ctx, Options{
		Config: &config.Client{
			RelayURL:           url,
			CaptionHistory:     6,
			NegotiationTimeout: timeout,
			ReconnectInitial:   10 * time.Millisecond,
			ReconnectMax:       50 * time.Millisecond,
		},
		RoomID:   "calm-otter-harbor",
		Name:     name,
		Capturer: media.Synthetic{},
		Factory:  factory,
		Dialer:   websocket.DefaultDialer,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	r := &running{Call: c, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- c.Run(ctx) }()

	t.Cleanup(func() { r.stop(t) })
	return r
}

// meshed reports whether c sees want participants with a connected link to
// every one of them but itself.
func meshed(c *Call, want int) bool {
	snap := c.Snapshot()
	if len(snap.Participants) != want {
		return false
	}
	for _, p := range snap.Participants {
		if !p.Self && (!p.Linked || p.Link != peerlink.StateConnected) {
			return false
		}
	}
	return true
}

// participant finds name in c's view, or returns the zero Participant.
func participant(c *Call, name string) Participant {
	for _, p := range c.Snapshot().Participants {
		if p.Name == name {
			return p
		}
	}
	return Participant{}
}

func TestThreeParticipantsFormMesh(t *testing.T) {
	url := startRelay(t)
	net := peerlinktest.NewNetwork()

	a := startCall(t, url, net, "Ada")
	require.Eventually(t, func() bool { return meshed(a.Call, 1) }, waitFor, tick)
	b := startCall(t, url, net, "Bo")
	require.Eventually(t, func() bool { return meshed(b.Call, 2) }, waitFor, tick)
	c := startCall(t, url, net, "Cy")

	for _, p := range []*running{a, b, c} {
		require.Eventually(t, func() bool { return meshed(p.Call, 3) }, waitFor, tick)
	}

	var names []string
	for _, p := range c.Snapshot().Participants {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Ada", "Bo", "Cy"}, names)

	require.Eventually(t, func() bool {
		return participant(b.Call, "Ada").Remote.Name == "Ada"
	}, waitFor, tick)
	assert.Equal(t, peerlink.RoleInitiator, mustLink(t, c.Call, a.Snapshot().Self).Role())
}

func mustLink(t *testing.T, c *Call, id string) *peerlink.Link {
	t.Helper()
	l, ok := c.manager.Link(id)
	require.True(t, ok)
	return l
}

func TestScreenShareSubstitutesAndAnnounces(t *testing.T) {
	url := startRelay(t)
	net := peerlinktest.NewNetwork()

	a := startCall(t, url, net, "Ada")
	b := startCall(t, url, net, "Bo")
	require.Eventually(t, func() bool { return meshed(a.Call, 2) && meshed(b.Call, 2) }, waitFor, tick)

	on, err := a.ToggleScreenShare()
	require.NoError(t, err)
	assert.True(t, on)

	aSelf, bSelf := a.Snapshot().Self, b.Snapshot().Self
	bound := net.Transport(aSelf, bSelf).Bound(media.KindVideo)
	require.NotNil(t, bound)
	assert.Equal(t, "meshcall-screen", bound.StreamID())
	assert.Equal(t, peerlink.StateConnected, mustLink(t, a.Call, bSelf).State())

	require.Eventually(t, func() bool { return participant(b.Call, "Ada").Presenting }, waitFor, tick)
	require.Eventually(t, func() bool { return participant(b.Call, "Ada").Remote.Presenting }, waitFor, tick)
	assert.True(t, a.Snapshot().Local.Presenting)

	on, err = a.ToggleScreenShare()
	require.NoError(t, err)
	assert.False(t, on)
	require.Eventually(t, func() bool { return !participant(b.Call, "Ada").Presenting }, waitFor, tick)
	require.Eventually(t, func() bool {
		return net.Transport(aSelf, bSelf).Bound(media.KindVideo).StreamID() == "meshcall-camera"
	}, waitFor, tick)
	assert.Equal(t, peerlink.StateConnected, mustLink(t, a.Call, bSelf).State())
}

func TestCaptionsReachEveryoneElse(t *testing.T) {
	url := startRelay(t)
	net := peerlinktest.NewNetwork()

	a := startCall(t, url, net, "Ada")
	b := startCall(t, url, net, "Bo")
	c := startCall(t, url, net, "Cy")
	for _, p := range []*running{a, b, c} {
		require.Eventually(t, func() bool { return len(p.Snapshot().Participants) == 3 }, waitFor, tick)
	}

	a.DraftCaption("hel")
	require.Eventually(t, func() bool { return a.Snapshot().Interim == "hel" }, waitFor, tick)
	require.True(t, a.SubmitCaption("hello all"))

	for _, p := range []*running{b, c} {
		require.Eventually(t, func() bool { return len(p.Snapshot().Captions) == 1 }, waitFor, tick)
		got := p.Snapshot().Captions[0]
		assert.Equal(t, "Ada", got.Name)
		assert.Equal(t, "hello all", got.Text)
		assert.Equal(t, a.Snapshot().Self, got.From)
		assert.False(t, got.Local)
		assert.False(t, got.Timestamp.IsZero())
	}

	mine := a.Snapshot()
	require.Len(t, mine.Captions, 1)
	assert.True(t, mine.Captions[0].Local)
	assert.Empty(t, mine.Interim)
}

func TestDepartureLeavesOthersConnected(t *testing.T) {
	url := startRelay(t)
	net := peerlinktest.NewNetwork()

	a := startCall(t, url, net, "Ada")
	b := startCall(t, url, net, "Bo")
	c := startCall(t, url, net, "Cy")
	for _, p := range []*running{a, b, c} {
		require.Eventually(t, func() bool { return meshed(p.Call, 3) }, waitFor, tick)
	}
	bSelf := b.Snapshot().Self

	require.NoError(t, b.Leave())
	b.stop(t)

	for _, p := range []*running{a, c} {
		require.Eventually(t, func() bool { return meshed(p.Call, 2) }, waitFor, tick)
	}

	var gone *LinkSummary
	for _, s := range a.Summary() {
		if s.RemoteID == bSelf {
			gone = &s
		}
	}
	require.NotNil(t, gone)
	assert.Equal(t, "left", gone.Outcome)
	assert.Equal(t, "Bo", gone.Name)
	assert.True(t, gone.Connected)
}

// gated blocks every pair it creates transports for while blocked is set.
func gated(net *peerlinktest.Network, blocked *atomic.Bool) peerlink.TransportFactory {
	factory := net.Factory()
	return func(localID, remoteID string, h peerlink.Handler) (peerlink.Transport, error) {
		if blocked.Load() {
			net.Block(localID, remoteID)
		}
		return factory(localID, remoteID, h)
	}
}

func TestTimedOutPeerLeavesGrid(t *testing.T) {
	url := startRelay(t)
	net := peerlinktest.NewNetwork()
	var blocked atomic.Bool
	blocked.Store(true)
	factory := gated(net, &blocked)

	a := startCallWith(t, url, factory, 200*time.Millisecond, "Ada")
	require.Eventually(t, func() bool { return len(a.Snapshot().Participants) == 1 }, waitFor, tick)
	b := startCallWith(t, url, factory, 200*time.Millisecond, "Bo")
	require.Eventually(t, func() bool {
		return b.Snapshot().Self != "" && len(a.Summary()) == 1
	}, waitFor, tick)
	bSelf := b.Snapshot().Self

	require.Eventually(t, func() bool {
		snap := a.Snapshot()
		return len(snap.Participants) == 1 && snap.Participants[0].Self
	}, waitFor, tick)
	assert.Equal(t, Participant{}, participant(a.Call, "Bo"))
	require.Eventually(t, func() bool { return participant(b.Call, "Ada").ID == "" }, waitFor, tick)

	summary := a.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, bSelf, summary[0].RemoteID)
	assert.Equal(t, "timed out", summary[0].Outcome)
	assert.False(t, summary[0].Connected)

	// A newcomer on a working path still shows up and links.
	blocked.Store(false)
	c := startCallWith(t, url, factory, 200*time.Millisecond, "Cy")
	require.Eventually(t, func() bool { return participant(a.Call, "Cy").Link == peerlink.StateConnected }, waitFor, tick)
	require.Eventually(t, func() bool { return meshed(c.Call, 3) }, waitFor, tick)
	assert.Equal(t, Participant{}, participant(a.Call, "Bo"))
}

func TestRelayDropRebuildsMesh(t *testing.T) {
	url, relay := startDroppableRelay(t)
	net := peerlinktest.NewNetwork()

	a := startCall(t, url, net, "Ada")
	b := startCall(t, url, net, "Bo")
	require.Eventually(t, func() bool { return meshed(a.Call, 2) && meshed(b.Call, 2) }, waitFor, tick)
	oldA, oldB := a.Snapshot().Self, b.Snapshot().Self

	relay.dropAll()

	for _, p := range []*running{a, b} {
		require.Eventually(t, func() bool {
			self := p.Snapshot().Self
			return self != oldA && self != oldB && meshed(p.Call, 2) && len(p.manager.Links()) == 1
		}, waitFor, tick)
	}

	newA, newB := a.Snapshot().Self, b.Snapshot().Self
	assert.Equal(t, peerlink.StateConnected, mustLink(t, a.Call, newB).State())
	assert.Equal(t, peerlink.StateConnected, mustLink(t, b.Call, newA).State())
	assert.Equal(t, "Bo", participant(a.Call, "Bo").Name)

	// The old link ends either on the identity change or, when the relay
	// still listed the old Bo at re-join, on his departure notice.
	old := 0
	for _, s := range a.Summary() {
		if s.RemoteID == oldB {
			assert.Contains(t, []string{"rebuilt after reconnect", "left"}, s.Outcome)
			old++
		}
	}
	assert.NotZero(t, old)
}

func TestPermissionDeniedFailsBeforeConnecting(t *testing.T) {
	_, err := New(context.Background(), Options{
		Config:   &config.Client{RelayURL: "ws://127.0.0.1:1/ws"},
		RoomID:   "room",
		Capturer: media.Synthetic{Deny: true},
		Factory:  peerlinktest.NewNetwork().Factory(),
		Logger:   quietLogger(),
	})
	require.ErrorIs(t, err, media.ErrPermissionDenied)

	var callErr *Error
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "open camera and microphone", callErr.Op)
}

func TestRunTwice(t *testing.T) {
	url := startRelay(t)
	a := startCall(t, url, peerlinktest.NewNetwork(), "Ada")
	require.Eventually(t, func() bool { return len(a.Snapshot().Participants) == 1 }, waitFor, tick)
	assert.ErrorIs(t, a.Run(context.Background()), ErrAlreadyRunning)
}

func TestErrorFormatting(t *testing.T) {
	err := WrapError("join room", ErrNotRunning, "room full")
	assert.Equal(t, "join room: call not running (room full)", err.Error())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, "leave room: call not running", NewError("leave room", ErrNotRunning).Error())
}
