package peerlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// Link is one participant's view of its media connection to one remote.
// Negotiation steps and transport callbacks are serialized on the link's own
// operation queue; once closed, queued and late work is discarded.
type Link struct {
	localID  string
	remoteID string
	role     Role

	logger    *slog.Logger
	signaler  Signaler
	transport Transport
	inbound   *Inbound
	hello     func() Hello
	notify    func(*Link, Event)

	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	timer   *time.Timer

	mu         sync.Mutex
	state      State
	err        error
	localDesc  *protocol.SessionDescription
	remoteDesc *protocol.SessionDescription
	pending    []protocol.Candidate
	remote     RemoteInfo
	created    time.Time
	connected  time.Time
	queue      []func()
	wake       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

type linkConfig struct {
	localID  string
	remoteID string
	role     Role
	timeout  time.Duration
	factory  TransportFactory
	signaler Signaler
	hello    func() Hello
	notify   func(*Link, Event)
	logger   *slog.Logger
}

func newLink(cfg linkConfig) (*Link, error) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		localID:  cfg.localID,
		remoteID: cfg.remoteID,
		role:     cfg.role,
		logger:   cfg.logger.With("remote", cfg.remoteID, "role", cfg.role.String()),
		signaler: cfg.signaler,
		inbound:  NewInbound(),
		hello:    cfg.hello,
		notify:   cfg.notify,
		ctx:      ctx,
		cancel:   cancel,
		created:  time.Now(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	t, err := cfg.factory(cfg.localID, cfg.remoteID, linkHandler{l})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create transport for %s: %w", cfg.remoteID, err)
	}
	l.transport = t
	l.timeout = cfg.timeout
	return l, nil
}

// run starts negotiation. Transport callbacks that arrive earlier stay
// queued until then.
func (l *Link) run() {
	l.mu.Lock()
	l.timer = time.AfterFunc(l.timeout, func() { l.enqueue(l.negotiationTimeout) })
	l.mu.Unlock()

	go l.loop()
	l.enqueue(l.start)
}

// RemoteID is the connection id of the other side.
func (l *Link) RemoteID() string { return l.remoteID }

// Role reports which side sends the offer.
func (l *Link) Role() Role { return l.role }

// State returns the current negotiation state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err is the reason the link closed, or nil.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Done is closed once the link is closed and has left its manager.
func (l *Link) Done() <-chan struct{} { return l.done }

// Transport exposes the link's transport, mainly so local media can bind it.
func (l *Link) Transport() Transport { return l.transport }

// Info is a snapshot of a link for display.
type Info struct {
	RemoteID  string
	Role      Role
	State     State
	Err       error
	Remote    RemoteInfo
	Inbound   InboundSummary
	Created   time.Time
	Connected time.Time
}

// Info returns a snapshot of the link.
func (l *Link) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Info{
		RemoteID:  l.remoteID,
		Role:      l.role,
		State:     l.state,
		Err:       l.err,
		Remote:    l.remote,
		Inbound:   l.inbound.Snapshot(),
		Created:   l.created,
		Connected: l.connected,
	}
}

// HandleSignal queues an inbound offer, answer or candidate.
func (l *Link) HandleSignal(t protocol.Type, payload json.RawMessage) error {
	switch t {
	case protocol.TypeOffer, protocol.TypeAnswer:
		var desc protocol.SessionDescription
		if err := json.Unmarshal(payload, &desc); err != nil {
			return fmt.Errorf("decode %s: %w", t, err)
		}
		if t == protocol.TypeOffer {
			l.enqueue(func() { l.handleOffer(desc) })
		} else {
			l.enqueue(func() { l.handleAnswer(desc) })
		}
	case protocol.TypeICECandidate:
		var c protocol.Candidate
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("decode %s: %w", t, err)
		}
		l.enqueue(func() { l.handleCandidate(c) })
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownType, t)
	}
	return nil
}

// SendMediaState announces local media state over the control channel.
func (l *Link) SendMediaState(st media.State) {
	l.enqueue(func() {
		data, err := EncodeControl(ControlMediaState, MediaState{Audio: st.Audio, Video: st.Video, Presenting: st.Presenting})
		if err != nil {
			l.logger.Error("encode media state", "error", err)
			return
		}
		if err := l.transport.SendControl(data); err != nil {
			l.logger.Debug("media state not sent", "error", err)
		}
	})
}

// Close tears the link down with reason. Closing twice is a no-op.
func (l *Link) Close(reason error) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		from := l.state
		l.state = StateClosed
		l.err = reason
		l.queue = nil
		l.mu.Unlock()

		l.cancel()
		l.stopTimer()

		if err := l.transport.Close(); err != nil {
			l.logger.Debug("transport close", "error", err)
		}
		final := l.inbound.Finalize()

		l.logger.Info("link closed", "from", from, "reason", reason, "received_bytes", final.Bytes())
		l.notify(l, StateChanged{RemoteID: l.remoteID, State: StateClosed, Err: reason})
		close(l.done)
	})
}

func (l *Link) enqueue(op func()) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, op)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Link) loop() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.state == StateClosed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			op := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			op()
		}
	}
}

// transition moves to next if legal and reports whether it did.
func (l *Link) transition(next State) bool {
	l.mu.Lock()
	prev := l.state
	if !CanTransition(prev, next) {
		l.mu.Unlock()
		return false
	}
	l.state = next
	if next == StateConnected {
		l.connected = time.Now()
	}
	l.mu.Unlock()

	l.logger.Debug("link state", "from", prev, "to", next)
	l.notify(l, StateChanged{RemoteID: l.remoteID, State: next})
	return true
}

func (l *Link) stopTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
}

func (l *Link) fail(err error) {
	l.logger.Warn("link failed", "error", err)
	l.Close(err)
}

func (l *Link) start() {
	if l.role == RoleResponder {
		l.transition(StateAwaitingOffer)
		return
	}

	if !l.transition(StateOffering) {
		return
	}
	offer, err := l.transport.CreateOffer(l.ctx)
	if err != nil {
		l.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	l.mu.Lock()
	l.localDesc = &offer
	l.mu.Unlock()

	if err := l.signaler.SendSignal(protocol.TypeOffer, l.remoteID, offer); err != nil {
		l.fail(fmt.Errorf("send offer: %w", err))
	}
}

func (l *Link) handleOffer(desc protocol.SessionDescription) {
	if l.role == RoleInitiator {
		l.logger.Warn("dropping offer on initiator link")
		return
	}
	if l.State() != StateAwaitingOffer {
		l.logger.Debug("dropping duplicate offer", "state", l.State())
		return
	}

	if err := l.transport.SetRemoteDescription(desc); err != nil {
		l.fail(fmt.Errorf("set remote offer: %w", err))
		return
	}
	l.mu.Lock()
	l.remoteDesc = &desc
	l.mu.Unlock()
	l.flushPending()

	answer, err := l.transport.CreateAnswer(l.ctx)
	if err != nil {
		l.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	l.mu.Lock()
	l.localDesc = &answer
	l.mu.Unlock()

	if err := l.signaler.SendSignal(protocol.TypeAnswer, l.remoteID, answer); err != nil {
		l.fail(fmt.Errorf("send answer: %w", err))
		return
	}
	l.transition(StateAnswered)
}

func (l *Link) handleAnswer(desc protocol.SessionDescription) {
	if l.role == RoleResponder || l.State() != StateOffering {
		l.logger.Debug("dropping unexpected answer", "state", l.State())
		return
	}

	if err := l.transport.SetRemoteDescription(desc); err != nil {
		l.fail(fmt.Errorf("set remote answer: %w", err))
		return
	}
	l.mu.Lock()
	l.remoteDesc = &desc
	l.mu.Unlock()

	l.transition(StateAnswered)
	l.flushPending()
}

func (l *Link) handleCandidate(c protocol.Candidate) {
	l.mu.Lock()
	if l.remoteDesc == nil {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.applyCandidate(c)
}

// flushPending applies candidates that arrived before the remote
// description, in arrival order.
func (l *Link) flushPending() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		l.applyCandidate(c)
	}
}

func (l *Link) applyCandidate(c protocol.Candidate) {
	if err := l.transport.AddICECandidate(c); err != nil {
		l.logger.Warn("add remote candidate", "error", err)
		return
	}
	l.markICE()
}

func (l *Link) markICE() {
	if l.State() == StateAnswered {
		l.transition(StateICEExchanging)
	}
}

// PendingCandidates reports how many remote candidates wait for the remote
// description.
func (l *Link) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Link) localCandidate(c protocol.Candidate) {
	if err := l.signaler.SendSignal(protocol.TypeICECandidate, l.remoteID, c); err != nil {
		l.logger.Debug("candidate not sent", "error", err)
		return
	}
	l.markICE()
}

func (l *Link) connState(s ConnState) {
	switch s {
	case ConnConnected:
		if l.transition(StateConnected) {
			l.stopTimer()
			l.logger.Info("link connected")
		}
	case ConnFailed:
		l.fail(ErrTransportFailed)
	case ConnClosed:
		l.fail(ErrTransportClosed)
	case ConnDisconnected:
		l.logger.Debug("transport disconnected, waiting for recovery")
	}
}

func (l *Link) negotiationTimeout() {
	if l.State() != StateConnected {
		l.fail(ErrNegotiationTimeout)
	}
}

func (l *Link) controlOpen() {
	data, err := EncodeControl(ControlHello, l.hello())
	if err != nil {
		l.logger.Error("encode hello", "error", err)
		return
	}
	if err := l.transport.SendControl(data); err != nil {
		l.logger.Debug("hello not sent", "error", err)
	}
}

func (l *Link) control(data []byte) {
	msg, err := DecodeControl(data)
	if err != nil {
		l.logger.Warn("bad control message", "error", err)
		return
	}

	l.mu.Lock()
	switch msg.Type {
	case ControlHello:
		var h Hello
		if err = msg.DecodePayload(&h); err == nil {
			l.remote = RemoteInfo{
				Name: h.Name, Version: h.Version,
				Audio: h.Audio, Video: h.Video, Presenting: h.Presenting,
				Hello: true,
			}
		}
	case ControlMediaState:
		var ms MediaState
		if err = msg.DecodePayload(&ms); err == nil {
			l.remote.Audio, l.remote.Video, l.remote.Presenting = ms.Audio, ms.Video, ms.Presenting
		}
	default:
		err = fmt.Errorf("unknown control message %q", msg.Type)
	}
	remote := l.remote
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("bad control message", "type", msg.Type, "error", err)
		return
	}
	l.notify(l, RemoteUpdated{RemoteID: l.remoteID, Remote: remote})
}

// linkHandler adapts transport callbacks onto the link's queue.
type linkHandler struct {
	l *Link
}

func (h linkHandler) LocalCandidate(c protocol.Candidate) {
	h.l.enqueue(func() { h.l.localCandidate(c) })
}

func (h linkHandler) ConnectionState(s ConnState) {
	h.l.enqueue(func() { h.l.connState(s) })
}

func (h linkHandler) ControlOpen() {
	h.l.enqueue(h.l.controlOpen)
}

func (h linkHandler) Control(data []byte) {
	buf := append([]byte(nil), data...)
	h.l.enqueue(func() { h.l.control(buf) })
}

func (h linkHandler) Media(kind media.Kind, n int) bool {
	return h.l.inbound.Append(kind, n)
}
