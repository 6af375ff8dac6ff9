package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// DefaultName is used for participants that join without a display name.
const DefaultName = "Guest"

// Options configures a Hub. Zero fields take the defaults below.
type Options struct {
	// SendQueue is the per-connection outbound buffer. A connection whose
	// buffer is full is dropped.
	SendQueue int

	// MaxMessageBytes caps a single inbound frame.
	MaxMessageBytes int64

	// MessagesPerSecond and Burst rate limit each connection; 0 disables.
	MessagesPerSecond float64
	Burst             int

	// PingInterval is how often the relay pings idle clients.
	PingInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// PongWait is how long a connection may stay silent before it is dropped.
func (o Options) PongWait() time.Duration {
	return o.PingInterval * 10 / 9
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024 // enough for SDP
	}
	if o.MessagesPerSecond > 0 && o.Burst <= 0 {
		o.Burst = int(o.MessagesPerSecond) * 2
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 54 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type inbound struct {
	conn *Conn
	msg  *protocol.Message
}

// Hub is the central brain of the relay. A single goroutine (Run) owns the
// connection table and the room registry, so every inbound message is applied
// atomically.
type Hub struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	done       chan struct{}

	conns    map[string]*Conn
	registry *Registry

	// evict collects connections whose queue overflowed while handling the
	// current message; they are dropped once it is done.
	evict []*Conn

	now func() time.Time
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		opts:       opts,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
		conns:      make(map[string]*Conn),
		registry:   NewRegistry(),
		now:        time.Now,
	}
}

// Register hands a new connection to the hub. It returns false once the hub
// has stopped.
func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister tells the hub a connection has ended.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver queues an inbound message from c. It returns false once the hub has
// stopped.
func (h *Hub) Deliver(c *Conn, msg *protocol.Message) bool {
	select {
	case h.inbound <- inbound{conn: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run processes hub events until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.conns {
				close(c.send)
			}
			h.conns = map[string]*Conn{}
			h.logger.Info("hub stopped")
			return

		case c := <-h.register:
			h.conns[c.ID] = c
			h.logger.Info("client registered", "conn", c.ID)
			h.send(c, protocol.MustNew(protocol.TypeWelcome, protocol.WelcomePayload{ID: c.ID}))

		case c := <-h.unregister:
			h.disconnect(c)

		case in := <-h.inbound:
			if h.conns[in.conn.ID] != in.conn {
				// Late message from a connection already dropped.
				continue
			}
			h.handle(in.conn, in.msg)
		}

		h.flushEvictions()
		h.metrics.SetConnections(len(h.conns))
		h.metrics.SetRooms(h.registry.Rooms())
	}
}

func (h *Hub) handle(c *Conn, msg *protocol.Message) {
	h.metrics.Message(string(msg.Type))

	parsed, err := protocol.ParseClientMessage(msg)
	if err != nil {
		h.metrics.Drop(metrics.DropInvalid)
		h.logger.Warn("invalid message", "conn", c.ID, "type", msg.Type, "error", err)
		h.send(c, protocol.Errorf("%v", err))
		return
	}

	switch m := parsed.(type) {
	case protocol.JoinRoom:
		h.joinRoom(c, m)
	case protocol.LeaveRoom:
		h.leaveRoom(c, m)
	case protocol.Directed:
		h.forward(c, m)
	case protocol.Caption:
		h.caption(c, m)
	case protocol.ScreenShare:
		h.screenShare(c, m)
	default:
		h.logger.Error("unhandled client message", "conn", c.ID, "variant", fmt.Sprintf("%T", m))
	}
}

func (h *Hub) joinRoom(c *Conn, m protocol.JoinRoom) {
	name := m.Name
	if name == "" {
		name = DefaultName
	}

	res := h.registry.Join(m.RoomID, c.ID, name)
	if res.Previous != "" {
		h.logger.Info("client moved rooms", "conn", c.ID, "from", res.Previous, "to", m.RoomID)
		h.announceDeparture(res.Previous, c.ID)
	}

	h.logger.Info("client joined room", "conn", c.ID, "room", m.RoomID, "name", name, "members", len(res.Roster))

	roster := protocol.MustNew(protocol.TypeRoster, protocol.RosterPayload{Self: c.ID, Members: res.Roster})
	roster.RoomID = m.RoomID
	h.send(c, roster)

	if !res.Rejoined {
		joined := protocol.MustNew(protocol.TypePeerJoined, protocol.PeerJoinedPayload{Participant: res.Self})
		joined.RoomID = m.RoomID
		h.broadcast(m.RoomID, c.ID, joined)
	}

	h.broadcastParticipants(m.RoomID)
}

func (h *Hub) leaveRoom(c *Conn, m protocol.LeaveRoom) {
	if !h.registry.Leave(m.RoomID, c.ID) {
		return
	}
	h.logger.Info("client left room", "conn", c.ID, "room", m.RoomID)
	h.announceDeparture(m.RoomID, c.ID)
}

// forward relays an offer, answer or candidate to its target only. Targets
// that are gone or not in the sender's room are stale and dropped silently.
func (h *Hub) forward(c *Conn, m protocol.Directed) {
	target, ok := h.conns[m.Target]
	if !ok || target == c {
		h.dropStale(c, m)
		return
	}
	room, ok := h.registry.RoomOf(c.ID)
	if !ok {
		h.dropStale(c, m)
		return
	}
	if targetRoom, ok := h.registry.RoomOf(target.ID); !ok || targetRoom != room {
		h.dropStale(c, m)
		return
	}

	h.send(target, &protocol.Message{
		Type:    m.Type,
		RoomID:  room,
		From:    c.ID,
		Target:  target.ID,
		Payload: m.Payload,
	})
}

func (h *Hub) dropStale(c *Conn, m protocol.Directed) {
	h.metrics.Drop(metrics.DropStaleTarget)
	h.logger.Debug("dropping message for stale target", "conn", c.ID, "type", m.Type, "target", m.Target)
}

func (h *Hub) caption(c *Conn, m protocol.Caption) {
	member, ok := h.registry.Member(m.RoomID, c.ID)
	if !ok {
		h.metrics.Drop(metrics.DropNotMember)
		h.logger.Debug("caption from non-member", "conn", c.ID, "room", m.RoomID)
		return
	}
	name := m.Name
	if name == "" {
		name = member.Name
	}

	msg := protocol.MustNew(protocol.TypeCaption, protocol.CaptionPayload{
		Name:      name,
		Text:      m.Text,
		Timestamp: h.now().UnixMilli(),
	})
	msg.RoomID = m.RoomID
	msg.From = c.ID
	h.broadcast(m.RoomID, c.ID, msg)
}

func (h *Hub) screenShare(c *Conn, m protocol.ScreenShare) {
	if _, ok := h.registry.Member(m.RoomID, c.ID); !ok {
		h.metrics.Drop(metrics.DropNotMember)
		h.logger.Debug("screen share from non-member", "conn", c.ID, "room", m.RoomID)
		return
	}

	msg := protocol.MustNew(protocol.TypeScreenShare, protocol.ScreenSharePayload{Active: m.Active})
	msg.RoomID = m.RoomID
	msg.From = c.ID
	h.broadcast(m.RoomID, c.ID, msg)
}

// disconnect removes c from the hub and from every room it was in.
func (h *Hub) disconnect(c *Conn) {
	if h.conns[c.ID] != c {
		return
	}
	delete(h.conns, c.ID)
	close(c.send)

	for _, roomID := range h.registry.RemoveEverywhere(c.ID) {
		h.announceDeparture(roomID, c.ID)
	}
	h.logger.Info("client unregistered", "conn", c.ID)
}

func (h *Hub) announceDeparture(roomID, connID string) {
	left := protocol.MustNew(protocol.TypePeerLeft, protocol.PeerLeftPayload{ID: connID})
	left.RoomID = roomID
	h.broadcast(roomID, "", left)
	h.broadcastParticipants(roomID)

	if len(h.registry.MembersOf(roomID)) == 0 {
		h.logger.Info("room deleted", "room", roomID)
	}
}

func (h *Hub) broadcastParticipants(roomID string) {
	msg := protocol.MustNew(protocol.TypeParticipants, protocol.ParticipantsPayload{Members: h.registry.MembersOf(roomID)})
	msg.RoomID = roomID
	h.broadcast(roomID, "", msg)
}

// broadcast sends msg to every member of roomID except the connection with id
// except.
func (h *Hub) broadcast(roomID, except string, msg *protocol.Message) {
	for _, p := range h.registry.MembersOf(roomID) {
		if p.ID == except {
			continue
		}
		if c, ok := h.conns[p.ID]; ok {
			h.send(c, msg)
		}
	}
}

// send enqueues without blocking. A full queue marks the connection for
// eviction.
func (h *Hub) send(c *Conn, msg *protocol.Message) {
	select {
	case c.send <- msg:
	default:
		h.metrics.Drop(metrics.DropSlowConsumer)
		h.logger.Warn("client send queue full, dropping connection", "conn", c.ID)
		h.evict = append(h.evict, c)
	}
}

func (h *Hub) flushEvictions() {
	for len(h.evict) > 0 {
		c := h.evict[0]
		h.evict = h.evict[1:]
		h.disconnect(c)
	}
}
