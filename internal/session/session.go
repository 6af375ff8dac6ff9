// Package session keeps a participant connected to the relay: it dials,
// joins the room, turns relay messages into typed events and reconnects with
// backoff whenever the connection drops.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrNotJoined is returned by Send while the client has no live, joined
// connection.
var ErrNotJoined = errors.New("not joined to a room")

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Client.
type Options struct {
	// URL is the relay websocket endpoint, e.g. wss://host/ws.
	URL    string
	RoomID string
	Name   string

	// Reconnect backoff bounds; attempts are unbounded.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Dialer defaults to one that resolves through dns.Resolver.
	Dialer *websocket.Dialer

	Logger *slog.Logger
}

// Client is the participant side of the relay connection.
type Client struct {
	opts   Options
	logger *slog.Logger
	dialer *websocket.Dialer
	events chan Event

	mu       sync.Mutex
	state    State
	self     string
	out      chan *protocol.Message
	connDone chan struct{}
	joins    int
}

// New creates a Client. Call Run to connect.
func New(opts Options) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 5 * time.Second
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := opts.Dialer
	if dialer == nil {
		resolver := &dns.Resolver{Logger: opts.Logger}
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			NetDialContext:   resolver.DialContext,
		}
	}

	return &Client{
		opts:   opts,
		logger: opts.Logger.With("room", opts.RoomID),
		dialer: dialer,
		events: make(chan Event, 64),
	}
}

// Events delivers relay events in arrival order. It is closed when Run
// returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Self returns the connection id the relay assigned to the current (or last)
// connection.
func (c *Client) Self() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// RoomID returns the room this client joins.
func (c *Client) RoomID() string {
	return c.opts.RoomID
}

// Run connects and stays connected until ctx is cancelled. Every new
// connection re-sends join-room. Run returns nil after cancellation; it never
// gives up on its own.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.setState(StateClosed)

	b := newReconnectBackOff(c.opts.InitialBackoff, c.opts.MaxBackoff)

	for attempt := 1; ; attempt++ {
		err := c.connect(ctx, b.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		c.logger.Warn("relay connection lost, reconnecting", "attempt", attempt, "in", wait, "error", err)
		c.emit(ctx, Disconnected{Err: err, RetryIn: wait})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// reconnectBackOff is an exponential backoff whose jittered waits never leave
// [lo, hi].
type reconnectBackOff struct {
	*backoff.ExponentialBackOff
	lo, hi time.Duration
}

func newReconnectBackOff(lo, hi time.Duration) *reconnectBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lo
	b.MaxInterval = hi
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnectBackOff{ExponentialBackOff: b, lo: lo, hi: hi}
}

func (b *reconnectBackOff) NextBackOff() time.Duration {
	return min(max(b.ExponentialBackOff.NextBackOff(), b.lo), b.hi)
}

// connect runs one connection from dial to drop. onJoined fires when the
// relay confirms the join.
func (c *Client) connect(ctx context.Context, onJoined func()) error {
	c.setState(StateConnecting)
	defer c.setState(StateDisconnected)

	ws, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer ws.Close()

	// Until the writer owns shutdown, cancellation just drops the socket.
	stopHandshake := context.AfterFunc(ctx, func() { ws.Close() })
	defer stopHandshake()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var welcome protocol.Message
	if err := ws.ReadJSON(&welcome); err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	var wp protocol.WelcomePayload
	if welcome.Type != protocol.TypeWelcome {
		return fmt.Errorf("expected %s, got %s", protocol.TypeWelcome, welcome.Type)
	}
	if err := welcome.Decode(&wp); err != nil {
		return err
	}
	c.mu.Lock()
	c.self = wp.ID
	c.mu.Unlock()
	c.logger.Info("connected to relay", "self", wp.ID)

	join := protocol.MustNew(protocol.TypeJoinRoom, protocol.JoinPayload{Name: c.opts.Name})
	join.RoomID = c.opts.RoomID
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	if !stopHandshake() {
		return ctx.Err()
	}

	connCtx, cancel := context.WithCancel(ctx)
	out := make(chan *protocol.Message, 64)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	c.mu.Lock()
	c.out, c.connDone = out, done
	c.mu.Unlock()

	go func() {
		defer close(writerDone)
		c.writePump(connCtx, ws, out)
	}()

	defer func() {
		cancel()
		<-writerDone
		c.mu.Lock()
		c.out, c.connDone = nil, nil
		c.mu.Unlock()
		close(done)
	}()

	for {
		var msg protocol.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read from relay: %w", err)
		}
		c.dispatch(ctx, &msg, onJoined)
	}
}

// writePump drains out onto ws and keeps the connection alive with pings.
// Cancelling ctx flushes whatever is already queued, then sends a close frame
// and closes ws, which ends the reader.
func (c *Client) writePump(ctx context.Context, ws *websocket.Conn, out <-chan *protocol.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg := <-out:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				c.logger.Debug("relay write failed", "error", err)
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			if !c.flush(ws, out) {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes the messages still buffered in out. A leave-room queued just
// before shutdown goes out this way.
func (c *Client) flush(ws *websocket.Conn, out <-chan *protocol.Message) bool {
	for {
		select {
		case msg := <-out:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				c.logger.Debug("relay write failed", "error", err)
				return false
			}
		default:
			return true
		}
	}
}

func (c *Client) dispatch(ctx context.Context, msg *protocol.Message, onJoined func()) {
	ev, err := decodeEvent(msg)
	if err != nil {
		c.logger.Warn("ignoring malformed relay message", "type", msg.Type, "error", err)
		return
	}
	if ev == nil {
		c.logger.Debug("ignoring relay message", "type", msg.Type)
		return
	}

	if j, ok := ev.(Joined); ok {
		c.mu.Lock()
		c.state = StateJoined
		c.joins++
		j.Reconnect = c.joins > 1
		c.mu.Unlock()
		onJoined()
		c.logger.Info("joined room", "self", j.Self, "members", len(j.Members), "reconnect", j.Reconnect)
		ev = j
	}
	c.emit(ctx, ev)
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}

// Send queues msg on the live connection. Room-scoped messages without a room
// id are stamped with the client's room.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.Lock()
	out, done, state := c.out, c.connDone, c.state
	c.mu.Unlock()

	if state != StateJoined || out == nil {
		return ErrNotJoined
	}
	if msg.RoomID == "" {
		msg.RoomID = c.opts.RoomID
	}

	select {
	case out <- msg:
		return nil
	case <-done:
		return ErrNotJoined
	}
}

// SendSignal sends an offer, answer or ICE candidate to target.
func (c *Client) SendSignal(t protocol.Type, target string, payload any) error {
	msg, err := protocol.New(t, payload)
	if err != nil {
		return err
	}
	msg.Target = target
	return c.Send(msg)
}

// SendCaption broadcasts a final caption to the room.
func (c *Client) SendCaption(text string) error {
	msg, err := protocol.New(protocol.TypeCaption, protocol.CaptionPayload{Name: c.opts.Name, Text: text})
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// SendScreenShare announces the local screen-share state to the room.
func (c *Client) SendScreenShare(active bool) error {
	msg, err := protocol.New(protocol.TypeScreenShare, protocol.ScreenSharePayload{Active: active})
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Leave tells the relay this participant is leaving the room. The connection
// stays open until Run's context is cancelled.
func (c *Client) Leave() error {
	return c.Send(&protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: c.opts.RoomID})
}
