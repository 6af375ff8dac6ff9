package peerlink

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// DefaultNegotiationTimeout bounds how long a link may take to connect.
const DefaultNegotiationTimeout = 30 * time.Second

// Options configures a Manager.
type Options struct {
	Factory  TransportFactory
	Signaler Signaler

	// Media is bound to every link; nil means receive-only.
	Media *media.LocalMedia

	// Name and Version go into the hello sent on each control channel.
	Name    string
	Version string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Manager owns every peer link of one participant and builds the mesh: after
// a join it initiates to every existing member and answers everyone who
// joins later.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	self    string
	links   map[string]*Link
	order   []string
	history []Info

	evMu   sync.RWMutex
	events chan Event
	quit   chan struct{}
	closed bool
}

func NewManager(opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultNegotiationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		links:  make(map[string]*Link),
		events: make(chan Event, 256),
		quit:   make(chan struct{}),
	}
}

// Events delivers link state changes and remote updates. It is closed by
// Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Self is the local connection id links are built for.
func (m *Manager) Self() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Bootstrap starts the mesh after a join: any links from a previous identity
// are closed, then one initiator link is created per roster member other than
// self.
func (m *Manager) Bootstrap(self string, roster []protocol.Participant) error {
	m.mu.Lock()
	old := m.self
	m.self = self
	stale := m.takeAllLocked()
	m.mu.Unlock()

	reason := ErrIdentityChanged
	if old == "" || old == self {
		reason = ErrLocalClose
	}
	for _, l := range stale {
		l.Close(reason)
	}

	var errs []error
	for _, p := range roster {
		if p.ID == self {
			continue
		}
		if _, err := m.open(p.ID, RoleInitiator); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PeerJoined prepares a responder link for a newcomer, who will send the
// offer.
func (m *Manager) PeerJoined(p protocol.Participant) error {
	if p.ID == m.Self() {
		return nil
	}
	_, err := m.open(p.ID, RoleResponder)
	return err
}

// PeerLeft closes the link to id. Other links are untouched.
func (m *Manager) PeerLeft(id string) {
	m.mu.Lock()
	l := m.links[id]
	m.mu.Unlock()
	if l != nil {
		l.Close(ErrRemoteLeft)
	}
}

// HandleSignal routes an offer, answer or candidate from a remote to its
// link. Signals for unknown remotes are stale and dropped.
func (m *Manager) HandleSignal(from string, t protocol.Type, payload json.RawMessage) error {
	m.mu.Lock()
	l := m.links[from]
	m.mu.Unlock()
	if l == nil {
		m.logger.Debug("dropping signal for unknown link", "from", from, "type", t)
		return nil
	}
	return l.HandleSignal(t, payload)
}

// BroadcastMediaState tells every remote about a local media change.
func (m *Manager) BroadcastMediaState(st media.State) {
	for _, l := range m.live() {
		l.SendMediaState(st)
	}
}

// Link returns the live link to id.
func (m *Manager) Link(id string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	return l, ok
}

// Links returns snapshots of the live links in creation order.
func (m *Manager) Links() []Info {
	live := m.live()
	out := make([]Info, 0, len(live))
	for _, l := range live {
		out = append(out, l.Info())
	}
	return out
}

// History returns the final snapshot of every closed link followed by the
// live ones.
func (m *Manager) History() []Info {
	m.mu.Lock()
	out := append([]Info(nil), m.history...)
	m.mu.Unlock()
	return append(out, m.Links()...)
}

// CloseAll closes every live link.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := m.takeAllLocked()
	m.mu.Unlock()
	for _, l := range links {
		l.Close(ErrLocalClose)
	}
}

// Close closes every link and then the events channel.
func (m *Manager) Close() {
	m.CloseAll()

	m.evMu.Lock()
	defer m.evMu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.quit)
		close(m.events)
	}
}

func (m *Manager) open(remoteID string, role Role) (*Link, error) {
	m.mu.Lock()
	prev := m.links[remoteID]
	self := m.self
	m.mu.Unlock()
	if prev != nil {
		// A second announcement for the same id means the remote rebuilt
		// its side; start over.
		prev.Close(ErrLocalClose)
	}

	l, err := newLink(linkConfig{
		localID:  self,
		remoteID: remoteID,
		role:     role,
		timeout:  m.opts.Timeout,
		factory:  m.opts.Factory,
		signaler: m.opts.Signaler,
		hello:    m.hello,
		notify:   m.forward,
		logger:   m.logger,
	})
	if err != nil {
		m.logger.Error("open link", "remote", remoteID, "error", err)
		return nil, err
	}

	m.mu.Lock()
	m.links[remoteID] = l
	m.order = append(m.order, remoteID)
	m.mu.Unlock()
	l.run()

	if m.opts.Media != nil {
		if err := m.opts.Media.Attach(remoteID, l.Transport()); err != nil {
			m.logger.Warn("bind local media", "remote", remoteID, "error", err)
		}
	}
	m.logger.Info("link opened", "remote", remoteID, "role", role.String())
	return l, nil
}

func (m *Manager) hello() Hello {
	h := Hello{Name: m.opts.Name, Version: m.opts.Version}
	if m.opts.Media != nil {
		st := m.opts.Media.State()
		h.Audio, h.Video, h.Presenting = st.Audio, st.Video, st.Presenting
	}
	return h
}

// forward is every link's notify hook. A closed link leaves the table before
// its close is reported; events from links that are no longer current are
// dropped.
func (m *Manager) forward(l *Link, ev Event) {
	if sc, ok := ev.(StateChanged); ok && sc.State == StateClosed {
		if !m.retire(l) {
			return
		}
	} else if !m.current(l) {
		return
	}

	m.evMu.RLock()
	defer m.evMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	case <-m.quit:
	}
}

func (m *Manager) current(l *Link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[l.remoteID] == l && l.State() != StateClosed
}

// retire records a closed link in history. If it was the current link for
// its remote it also leaves the table and local media is unbound from it;
// retire reports whether that happened.
func (m *Manager) retire(l *Link) bool {
	m.mu.Lock()
	m.history = append(m.history, l.Info())
	isCurrent := m.links[l.remoteID] == l
	if isCurrent {
		delete(m.links, l.remoteID)
		m.dropOrderLocked(l.remoteID)
	}
	m.mu.Unlock()

	if isCurrent && m.opts.Media != nil {
		m.opts.Media.Detach(l.remoteID)
	}
	return isCurrent
}

func (m *Manager) takeAllLocked() []*Link {
	out := make([]*Link, 0, len(m.order))
	for _, id := range m.order {
		if l, ok := m.links[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (m *Manager) dropOrderLocked(id string) {
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) live() []*Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeAllLocked()
}
