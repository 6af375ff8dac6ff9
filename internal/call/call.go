// Package call ties one participant's relay session, peer links, local media
// and side channels together.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/broadcast"
	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peerlink"
	"github.com/BioHazard786/meshcall/internal/protocol"
	"github.com/BioHazard786/meshcall/internal/session"
	"github.com/BioHazard786/meshcall/internal/version"
)

// Options configures a Call.
type Options struct {
	Config *config.Client
	RoomID string
	Name   string

	// Capturer opens the camera, microphone and screen. Defaults to
	// synthetic sources.
	Capturer media.Capturer

	// Factory builds peer transports. Defaults to pion configured from
	// Config.
	Factory peerlink.TransportFactory

	// Transcriber, when set, feeds captions alongside the prompt.
	Transcriber broadcast.Transcriber

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Call is one participant in one room.
type Call struct {
	opts   Options
	logger *slog.Logger

	session   *session.Client
	manager   *peerlink.Manager
	media     *media.LocalMedia
	captions  *broadcast.Buffer
	publisher *broadcast.Publisher
	prompt    *broadcast.Manual
	presence  *broadcast.Presence

	changed chan struct{}

	mu      sync.Mutex
	runCtx  context.Context
	running bool
	members []protocol.Participant
	names   map[string]string
	screen  media.Source
	notice  string
	started time.Time

	// unreachable holds remotes whose link failed; they stay off the grid
	// until the relay announces them again.
	unreachable map[string]bool
}

// New opens local media and prepares the call. ctx bounds the capture
// sources, so it should live as long as the call. A capturer refusal is
// returned before anything touches the network.
func New(ctx context.Context, opts Options) (*Call, error) {
	if opts.Config == nil {
		return nil, errors.New("call: missing client config")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Capturer == nil {
		opts.Capturer = media.Synthetic{}
	}
	logger := opts.Logger.With("room", opts.RoomID)
	cfg := opts.Config

	sources, err := opts.Capturer.Open(ctx, media.Constraints{Audio: true, Video: true})
	if err != nil {
		return nil, NewError("open camera and microphone", err)
	}

	factory := opts.Factory
	if factory == nil {
		factory, err = peerlink.NewPionFactory(peerlink.PionConfigFrom(cfg, logger))
		if err != nil {
			return nil, NewError("set up webrtc", err)
		}
	}

	sess := session.New(session.Options{
		URL:            cfg.RelayURL,
		RoomID:         opts.RoomID,
		Name:           opts.Name,
		InitialBackoff: cfg.ReconnectInitial,
		MaxBackoff:     cfg.ReconnectMax,
		Dialer:         opts.Dialer,
		Logger:         logger,
	})
	lm := media.NewLocalMedia(logger, sources...)
	mgr := peerlink.NewManager(peerlink.Options{
		Factory:  factory,
		Signaler: sess,
		Media:    lm,
		Name:     opts.Name,
		Version:  version.Version,
		Timeout:  cfg.NegotiationTimeout,
		Logger:   logger,
	})

	c := &Call{
		opts:     opts,
		logger:   logger,
		session:  sess,
		manager:  mgr,
		media:    lm,
		captions: broadcast.NewBuffer(cfg.CaptionHistory),
		prompt:   broadcast.NewManual(),
		presence: broadcast.NewPresence(),
		changed:  make(chan struct{}, 1),
		names:    make(map[string]string),

		unreachable: make(map[string]bool),
	}
	c.publisher = broadcast.NewPublisher(broadcast.PublisherOptions{
		Sender:   sess,
		History:  c.captions,
		Name:     opts.Name,
		Self:     sess.Self,
		OnChange: c.notify,
		Logger:   logger,
	})
	lm.OnChange(func(st media.State) {
		mgr.BroadcastMediaState(st)
		c.notify()
	})
	return c, nil
}

// Run connects to the relay and runs the call until ctx is cancelled.
// Connection drops are retried; they never end the call.
func (c *Call) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.runCtx = ctx
	c.started = time.Now()
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() {
		if err := c.session.Run(ctx); err != nil {
			c.logger.Error("session ended", "error", err)
		}
	})
	spawn(func() { c.publisher.Pump(ctx, c.prompt) })
	if c.opts.Transcriber != nil {
		spawn(func() { c.publisher.Pump(ctx, c.opts.Transcriber) })
	}
	spawn(func() {
		for ev := range c.manager.Events() {
			c.linkEvent(ev)
			c.notify()
		}
	})

	for ev := range c.session.Events() {
		c.handle(ev)
	}

	c.prompt.Close()
	c.manager.Close()
	wg.Wait()

	c.mu.Lock()
	screen := c.screen
	c.mu.Unlock()
	if screen != nil {
		screen.Stop()
	}
	c.media.Close()
	c.logger.Info("call ended", "duration", time.Since(c.started).Round(time.Second))
	return nil
}

func (c *Call) handle(ev session.Event) {
	switch ev := ev.(type) {
	case session.Joined:
		c.presence.Reset()
		c.setMembers(ev.Members)
		c.readmit("")
		c.setNotice("")
		if err := c.manager.Bootstrap(ev.Self, ev.Members); err != nil {
			c.logger.Warn("bootstrap links", "error", err)
		}
		if ev.Reconnect && c.Presenting() {
			c.announceScreen(true)
		}
	case session.PeerJoined:
		c.addMember(ev.Participant)
		c.readmit(ev.Participant.ID)
		if err := c.manager.PeerJoined(ev.Participant); err != nil {
			c.logger.Warn("prepare link", "remote", ev.Participant.ID, "error", err)
		}
		if c.Presenting() {
			// Newcomers missed the earlier announcement.
			c.announceScreen(true)
		}
	case session.PeerLeft:
		c.removeMember(ev.ID)
		c.readmit(ev.ID)
		c.manager.PeerLeft(ev.ID)
		c.presence.Remove(ev.ID)
	case session.Participants:
		c.setMembers(ev.Members)
	case session.Signal:
		if err := c.manager.HandleSignal(ev.From, ev.Type, ev.Payload); err != nil {
			c.logger.Warn("bad signal", "from", ev.From, "type", ev.Type, "error", err)
		}
	case session.Caption:
		c.captions.Add(broadcast.Entry{
			From:      ev.From,
			Name:      ev.Name,
			Text:      ev.Text,
			Timestamp: ev.Timestamp,
		})
	case session.ScreenShare:
		c.presence.Set(ev.From, ev.Active)
	case session.ServerError:
		c.logger.Warn("relay error", "message", ev.Message)
		c.setNotice("relay: " + ev.Message)
	case session.Disconnected:
		c.setNotice(fmt.Sprintf("connection lost, retrying in %s", ev.RetryIn.Round(100*time.Millisecond)))
	}
	c.notify()
}

// linkEvent hides a remote whose link timed out or failed. A close from a
// link that has already been replaced is ignored.
func (c *Call) linkEvent(ev peerlink.Event) {
	sc, ok := ev.(peerlink.StateChanged)
	if !ok || sc.State != peerlink.StateClosed {
		return
	}
	if !errors.Is(sc.Err, peerlink.ErrNegotiationTimeout) && !errors.Is(sc.Err, peerlink.ErrTransportFailed) {
		return
	}
	if _, ok := c.manager.Link(sc.RemoteID); ok {
		return
	}

	c.mu.Lock()
	c.unreachable[sc.RemoteID] = true
	c.mu.Unlock()
	c.logger.Warn("peer unreachable, removed from grid", "remote", sc.RemoteID, "error", sc.Err)
}

// readmit puts id back on the grid, or everyone when id is empty.
func (c *Call) readmit(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		clear(c.unreachable)
		return
	}
	delete(c.unreachable, id)
}

// Leave tells the room this participant is going. Cancel Run's context
// afterwards to hang up.
func (c *Call) Leave() error {
	if err := c.session.Leave(); err != nil && !errors.Is(err, session.ErrNotJoined) {
		return NewError("leave room", err)
	}
	return nil
}

// ToggleMic mutes or unmutes the microphone on every link.
func (c *Call) ToggleMic() (bool, error) {
	return c.media.Toggle(media.KindAudio)
}

// ToggleCamera turns the camera off or on for every link.
func (c *Call) ToggleCamera() (bool, error) {
	return c.media.Toggle(media.KindVideo)
}

// ToggleScreenShare starts a screen capture in place of the camera, or stops
// the running one. It reports whether sharing is now on.
func (c *Call) ToggleScreenShare() (bool, error) {
	c.mu.Lock()
	src, ctx := c.screen, c.runCtx
	c.mu.Unlock()

	if src != nil {
		src.Stop()
		return false, nil
	}
	if ctx == nil {
		return false, ErrNotRunning
	}

	src, err := c.opts.Capturer.OpenScreen(ctx)
	if err != nil {
		return false, NewError("start screen share", err)
	}
	c.mu.Lock()
	c.screen = src
	c.mu.Unlock()

	if err := c.media.Substitute(src); err != nil {
		c.logger.Warn("screen not bound on every link", "error", err)
	}
	c.announceScreen(true)
	go c.watchScreen(src)
	c.notify()
	return true, nil
}

// watchScreen clears the presenting flag once src ends, however it ends.
// Local media restores the camera by itself.
func (c *Call) watchScreen(src media.Source) {
	<-src.Done()

	c.mu.Lock()
	if c.screen != src {
		c.mu.Unlock()
		return
	}
	c.screen = nil
	c.mu.Unlock()

	c.announceScreen(false)
	c.notify()
}

func (c *Call) announceScreen(active bool) {
	if err := c.session.SendScreenShare(active); err != nil {
		c.logger.Debug("screen share not announced", "active", active, "error", err)
	}
}

// Presenting reports whether this participant is sharing a screen.
func (c *Call) Presenting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// DraftCaption shows text as the local interim caption.
func (c *Call) DraftCaption(text string) {
	c.prompt.Interim(text)
}

// SubmitCaption broadcasts text as a final caption.
func (c *Call) SubmitCaption(text string) bool {
	return c.prompt.Final(text)
}

// Updates signals that Snapshot may have changed. Signals coalesce.
func (c *Call) Updates() <-chan struct{} {
	return c.changed
}

func (c *Call) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Call) setNotice(s string) {
	c.mu.Lock()
	c.notice = s
	c.mu.Unlock()
}

func (c *Call) setMembers(members []protocol.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = append([]protocol.Participant(nil), members...)
	for _, p := range members {
		c.names[p.ID] = p.Name
	}
}

func (c *Call) addMember(p protocol.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[p.ID] = p.Name
	for _, m := range c.members {
		if m.ID == p.ID {
			return
		}
	}
	c.members = append(c.members, p)
}

func (c *Call) removeMember(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.members {
		if m.ID == id {
			c.members = append(c.members[:i], c.members[i+1:]...)
			return
		}
	}
}
