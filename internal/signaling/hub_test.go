package signaling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

type hubFixture struct {
	t     *testing.T
	hub   *Hub
	probe *Conn
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	h := NewHub(Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
	})
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})

	f := &hubFixture{t: t, hub: h}
	f.probe = f.connect("probe")
	return f
}

// connect registers a queue-only connection and consumes its welcome.
func (f *hubFixture) connect(id string) *Conn {
	f.t.Helper()

	c := &Conn{ID: id, hub: f.hub, send: make(chan *protocol.Message, 64)}
	require.True(f.t, f.hub.Register(c))
	welcome := f.expect(c, protocol.TypeWelcome)

	var p protocol.WelcomePayload
	require.NoError(f.t, welcome.Decode(&p))
	assert.Equal(f.t, id, p.ID)
	return c
}

func (f *hubFixture) deliver(c *Conn, msg *protocol.Message) {
	f.t.Helper()
	require.True(f.t, f.hub.Deliver(c, msg))
}

func (f *hubFixture) join(c *Conn, room, name string) {
	f.t.Helper()
	msg := protocol.MustNew(protocol.TypeJoinRoom, protocol.JoinPayload{Name: name})
	msg.RoomID = room
	f.deliver(c, msg)
}

func (f *hubFixture) expect(c *Conn, want protocol.Type) *protocol.Message {
	f.t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(f.t, ok, "queue of %s closed while waiting for %s", c.ID, want)
		require.Equal(f.t, want, msg.Type, "conn %s", c.ID)
		return msg
	case <-time.After(2 * time.Second):
		f.t.Fatalf("conn %s: timed out waiting for %s", c.ID, want)
		return nil
	}
}

// barrier returns once every message delivered before it has been handled.
func (f *hubFixture) barrier() {
	f.t.Helper()
	f.deliver(f.probe, &protocol.Message{Type: "barrier"})
	f.expect(f.probe, protocol.TypeError)
}

// drain returns everything queued for c after a barrier.
func (f *hubFixture) drain(c *Conn) []*protocol.Message {
	f.t.Helper()
	f.barrier()
	var out []*protocol.Message
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []*protocol.Message) []protocol.Type {
	out := make([]protocol.Type, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestHubJoinSendsRosterAndNotifiesMembers(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")

	f.join(a, "r1", "Alice")
	roster := f.expect(a, protocol.TypeRoster)
	f.expect(a, protocol.TypeParticipants)

	var rp protocol.RosterPayload
	require.NoError(t, roster.Decode(&rp))
	assert.Equal(t, "a", rp.Self)
	assert.Equal(t, []string{"a"}, ids(rp.Members))

	f.join(b, "r1", "Bob")
	roster = f.expect(b, protocol.TypeRoster)
	require.NoError(t, roster.Decode(&rp))
	assert.Equal(t, []string{"a", "b"}, ids(rp.Members))
	f.expect(b, protocol.TypeParticipants)

	joined := f.expect(a, protocol.TypePeerJoined)
	var pj protocol.PeerJoinedPayload
	require.NoError(t, joined.Decode(&pj))
	assert.Equal(t, protocol.Participant{ID: "b", Name: "Bob", RoomID: "r1"}, pj.Participant)

	parts := f.expect(a, protocol.TypeParticipants)
	var pp protocol.ParticipantsPayload
	require.NoError(t, parts.Decode(&pp))
	assert.Equal(t, []string{"a", "b"}, ids(pp.Members))
}

func TestHubJoinWithoutNameUsesDefault(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")

	f.join(a, "r1", "")
	var rp protocol.RosterPayload
	require.NoError(t, f.expect(a, protocol.TypeRoster).Decode(&rp))
	assert.Equal(t, DefaultName, rp.Members[0].Name)
}

func TestHubRejoinDoesNotAnnounceAgain(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")

	f.join(a, "r1", "Alice")
	f.join(b, "r1", "Bob")
	f.drain(a)
	f.drain(b)

	f.join(b, "r1", "Bobby")
	assert.Equal(t, []protocol.Type{protocol.TypeParticipants}, types(f.drain(a)))
	assert.Equal(t, []protocol.Type{protocol.TypeRoster, protocol.TypeParticipants}, types(f.drain(b)))
}

func TestHubDirectedMessageReachesOnlyTarget(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	c := f.connect("c")

	for _, conn := range []*Conn{a, b, c} {
		f.join(conn, "r1", conn.ID)
	}
	f.drain(a)
	f.drain(b)
	f.drain(c)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	f.deliver(a, &protocol.Message{Type: protocol.TypeOffer, Target: "b", Payload: payload})

	got := f.drain(b)
	require.Len(t, got, 1, "target sees the message exactly once")
	assert.Equal(t, protocol.TypeOffer, got[0].Type)
	assert.Equal(t, "a", got[0].From)
	assert.JSONEq(t, string(payload), string(got[0].Payload))

	assert.Empty(t, f.drain(a), "sender never sees its own message")
	assert.Empty(t, f.drain(c))
}

func TestHubDirectedMessagesKeepOrder(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1", "a")
	f.join(b, "r1", "b")
	f.drain(a)
	f.drain(b)

	for i := 0; i < 20; i++ {
		f.deliver(a, &protocol.Message{
			Type:    protocol.TypeICECandidate,
			Target:  "b",
			Payload: json.RawMessage(`{"candidate":"c` + string(rune('a'+i)) + `"}`),
		})
	}

	got := f.drain(b)
	require.Len(t, got, 20)
	for i, msg := range got {
		var cand protocol.Candidate
		require.NoError(t, msg.Decode(&cand))
		assert.Equal(t, "c"+string(rune('a'+i)), cand.Candidate)
	}
}

func TestHubDropsStaleTargets(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	outsider := f.connect("x")

	f.join(a, "r1", "a")
	f.join(b, "r1", "b")
	f.join(outsider, "r2", "x")
	f.drain(a)
	f.drain(b)
	f.drain(outsider)

	offer := func(target string) *protocol.Message {
		return &protocol.Message{Type: protocol.TypeOffer, Target: target, Payload: json.RawMessage(`{}`)}
	}

	f.deliver(a, offer("gone"))
	f.deliver(a, offer("a"))
	f.deliver(a, offer("x"))

	assert.Empty(t, f.drain(a), "stale targets are not reported to the sender")
	assert.Empty(t, f.drain(outsider))

	f.hub.Unregister(b)
	f.drain(a)
	f.deliver(a, offer("b"))
	assert.Empty(t, f.drain(a))
}

func TestHubDisconnectNotifiesEachMemberOnce(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	c := f.connect("c")
	for _, conn := range []*Conn{a, b, c} {
		f.join(conn, "r1", conn.ID)
	}
	f.drain(a)
	f.drain(b)
	f.drain(c)

	f.hub.Unregister(a)

	for _, conn := range []*Conn{b, c} {
		got := f.drain(conn)
		assert.Equal(t, []protocol.Type{protocol.TypePeerLeft, protocol.TypeParticipants}, types(got))

		var left protocol.PeerLeftPayload
		require.NoError(t, got[0].Decode(&left))
		assert.Equal(t, "a", left.ID)

		var pp protocol.ParticipantsPayload
		require.NoError(t, got[1].Decode(&pp))
		assert.Equal(t, []string{"b", "c"}, ids(pp.Members))
	}

	_, ok := <-a.send
	assert.False(t, ok, "queue is closed on disconnect")

	f.barrier()
	_, inRoom := f.hub.registry.RoomOf("a")
	assert.False(t, inRoom)
}

func TestHubJoinThenImmediateDisconnect(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")

	f.join(a, "r1", "Alice")
	f.hub.Unregister(a)
	f.barrier()

	assert.Empty(t, f.hub.registry.MembersOf("r1"))
	assert.Equal(t, 0, f.hub.registry.Rooms())
	assert.Empty(t, f.drain(f.probe))
}

func TestHubLeaveRoom(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1", "a")
	f.join(b, "r1", "b")
	f.drain(a)
	f.drain(b)

	leave := &protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: "r1"}
	f.deliver(b, leave)
	assert.Equal(t, []protocol.Type{protocol.TypePeerLeft, protocol.TypeParticipants}, types(f.drain(a)))
	assert.Empty(t, f.drain(b))

	f.deliver(b, leave)
	assert.Empty(t, f.drain(a), "second leave changes nothing")
}

func TestHubMoveAnnouncesDepartureInOldRoom(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	f.join(a, "r1", "a")
	f.join(b, "r1", "b")
	f.drain(a)
	f.drain(b)

	f.join(b, "r2", "b")
	assert.Equal(t, []protocol.Type{protocol.TypePeerLeft, protocol.TypeParticipants}, types(f.drain(a)))
	assert.Equal(t, []protocol.Type{protocol.TypeRoster, protocol.TypeParticipants}, types(f.drain(b)))
}

func TestHubCaptionAndScreenShareBroadcastExceptSender(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	c := f.connect("c")
	for _, conn := range []*Conn{a, b, c} {
		f.join(conn, "r1", conn.ID)
	}
	f.drain(a)
	f.drain(b)
	f.drain(c)

	caption := protocol.MustNew(protocol.TypeCaption, protocol.CaptionPayload{Text: "hello"})
	caption.RoomID = "r1"
	f.deliver(a, caption)

	share := protocol.MustNew(protocol.TypeScreenShare, protocol.ScreenSharePayload{Active: true})
	share.RoomID = "r1"
	f.deliver(a, share)

	assert.Empty(t, f.drain(a))
	for _, conn := range []*Conn{b, c} {
		got := f.drain(conn)
		require.Equal(t, []protocol.Type{protocol.TypeCaption, protocol.TypeScreenShare}, types(got))

		var cp protocol.CaptionPayload
		require.NoError(t, got[0].Decode(&cp))
		assert.Equal(t, protocol.CaptionPayload{Name: "a", Text: "hello", Timestamp: 1700000000000}, cp)
		assert.Equal(t, "a", got[0].From)

		var sp protocol.ScreenSharePayload
		require.NoError(t, got[1].Decode(&sp))
		assert.True(t, sp.Active)
		assert.Equal(t, "a", got[1].From)
	}
}

func TestHubIgnoresBroadcastFromNonMember(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	outsider := f.connect("x")
	f.join(a, "r1", "a")
	f.drain(a)

	caption := protocol.MustNew(protocol.TypeCaption, protocol.CaptionPayload{Text: "spam"})
	caption.RoomID = "r1"
	f.deliver(outsider, caption)

	assert.Empty(t, f.drain(a))
}

func TestHubRepliesErrorToInvalidMessage(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")

	f.deliver(a, &protocol.Message{Type: protocol.TypeOffer})
	errMsg := f.expect(a, protocol.TypeError)

	var ep protocol.ErrorPayload
	require.NoError(t, errMsg.Decode(&ep))
	assert.Contains(t, ep.Error, "missing target")
}

func TestHubEvictsSlowConsumer(t *testing.T) {
	f := newHubFixture(t)
	a := f.connect("a")
	slow := &Conn{ID: "slow", hub: f.hub, send: make(chan *protocol.Message, 1)}
	require.True(t, f.hub.Register(slow))

	f.join(a, "r1", "a")
	f.join(slow, "r1", "slow")
	f.barrier()

	_, inRoom := f.hub.registry.RoomOf("slow")
	assert.False(t, inRoom, "connection with a full queue is dropped")

	got := types(f.drain(a))
	assert.Contains(t, got, protocol.TypePeerLeft)
}
