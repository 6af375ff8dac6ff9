package signaling

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Conn is one client websocket session. Its ID is the connection identity
// every other participant sees.
type Conn struct {
	// ID is assigned by the relay and never changes.
	ID string

	hub *Hub

	// ws is nil for connections created by tests.
	ws *websocket.Conn

	// send is the outbound queue. Only the hub writes to it and only the hub
	// closes it; WritePump is its single reader.
	send chan *protocol.Message

	limiter *rate.Limiter
}

// NewConn wraps an upgraded websocket for hub.
func NewConn(hub *Hub, ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:   uuid.NewString(),
		hub:  hub,
		ws:   ws,
		send: make(chan *protocol.Message, hub.opts.SendQueue),
	}
	if hub.opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(hub.opts.MessagesPerSecond), hub.opts.Burst)
	}
	return c
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	pongWait := c.hub.opts.PongWait()
	c.ws.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", "conn", c.ID, "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.metrics.Drop(metrics.DropRateLimited)
			c.hub.logger.Debug("message rate limited", "conn", c.ID, "type", msg.Type)
			continue
		}

		if !c.hub.Deliver(c, &msg) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue.
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				c.hub.logger.Debug("websocket write failed", "conn", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
