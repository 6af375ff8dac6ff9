package media

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// State is the local publishing state announced to peers.
type State struct {
	Audio      bool
	Video      bool
	Presenting bool
}

// LocalMedia owns the current local sources. Every mutation applies to all
// attached sinks under one lock, so links never see a half-applied change.
type LocalMedia struct {
	logger *slog.Logger

	mu       sync.Mutex
	primary  map[Kind]Source
	override map[Kind]Source
	enabled  map[Kind]bool
	sinks    map[string]Sink
	onChange func(State)
	closed   bool
	quit     chan struct{}
}

// NewLocalMedia starts with the given capture sources, all enabled.
func NewLocalMedia(logger *slog.Logger, sources ...Source) *LocalMedia {
	if logger == nil {
		logger = slog.Default()
	}
	m := &LocalMedia{
		logger:   logger,
		primary:  make(map[Kind]Source),
		override: make(map[Kind]Source),
		enabled:  map[Kind]bool{KindAudio: true, KindVideo: true},
		sinks:    make(map[string]Sink),
		quit:     make(chan struct{}),
	}
	for _, s := range sources {
		m.primary[s.Kind()] = s
	}
	return m
}

// OnChange registers fn to run after every state change. fn runs without the
// lock held.
func (m *LocalMedia) OnChange(fn func(State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Attach binds the current tracks to sink and keeps it updated until Detach.
func (m *LocalMedia) Attach(id string, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sinks[id] = sink
	var errs []error
	for _, kind := range Kinds {
		if err := sink.Bind(kind, m.trackLocked(kind)); err != nil {
			errs = append(errs, fmt.Errorf("bind %s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// Detach stops updating the sink registered under id.
func (m *LocalMedia) Detach(id string) {
	m.mu.Lock()
	delete(m.sinks, id)
	m.mu.Unlock()
}

// Current returns the source currently published for kind, which is nil when
// the kind is disabled or has no source.
func (m *LocalMedia) Current(kind Kind) Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled[kind] {
		return nil
	}
	return m.sourceLocked(kind)
}

// Substitute publishes src in place of the capture source of the same kind
// on every link. When src ends the capture source comes back by itself.
func (m *LocalMedia) Substitute(src Source) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("local media closed")
	}
	m.override[src.Kind()] = src
	err := m.rebindLocked(src.Kind())
	m.logger.Info("substituted local source", "kind", src.Kind(), "source", src.Label())
	m.mu.Unlock()
	m.notify()

	go func() {
		select {
		case <-src.Done():
			m.restoreIf(src)
		case <-m.quit:
		}
	}()
	return err
}

// Restore drops any substitution for kind.
func (m *LocalMedia) Restore(kind Kind) error {
	m.mu.Lock()
	if _, ok := m.override[kind]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.override, kind)
	err := m.rebindLocked(kind)
	m.logger.Info("restored local source", "kind", kind)
	m.mu.Unlock()
	m.notify()
	return err
}

func (m *LocalMedia) restoreIf(src Source) {
	m.mu.Lock()
	if m.override[src.Kind()] != src {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if err := m.Restore(src.Kind()); err != nil {
		m.logger.Warn("restore after source ended", "kind", src.Kind(), "error", err)
	}
}

// Substituted reports whether kind currently carries a substitute source.
func (m *LocalMedia) Substituted(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.override[kind]
	return ok
}

// SetEnabled mutes (on=false) or unmutes kind on every link.
func (m *LocalMedia) SetEnabled(kind Kind, on bool) error {
	m.mu.Lock()
	if m.enabled[kind] == on {
		m.mu.Unlock()
		return nil
	}
	m.enabled[kind] = on
	err := m.rebindLocked(kind)
	m.mu.Unlock()
	m.notify()
	return err
}

// Toggle flips kind and returns the new setting.
func (m *LocalMedia) Toggle(kind Kind) (bool, error) {
	on := !m.Enabled(kind)
	return on, m.SetEnabled(kind, on)
}

// Enabled reports whether kind is unmuted.
func (m *LocalMedia) Enabled(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}

// State returns what peers should display for us.
func (m *LocalMedia) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Close stops watching substituted sources. Sinks keep their last binding.
func (m *LocalMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.quit)
	}
}

func (m *LocalMedia) stateLocked() State {
	_, presenting := m.override[KindVideo]
	return State{
		Audio:      m.enabled[KindAudio] && m.sourceLocked(KindAudio) != nil,
		Video:      m.enabled[KindVideo] && m.sourceLocked(KindVideo) != nil,
		Presenting: presenting,
	}
}

func (m *LocalMedia) sourceLocked(kind Kind) Source {
	if s, ok := m.override[kind]; ok {
		return s
	}
	return m.primary[kind]
}

func (m *LocalMedia) trackLocked(kind Kind) webrtc.TrackLocal {
	if !m.enabled[kind] {
		return nil
	}
	if s := m.sourceLocked(kind); s != nil {
		return s.Track()
	}
	return nil
}

// rebindLocked pushes kind's effective track to every sink. A failing sink
// does not stop the others.
func (m *LocalMedia) rebindLocked(kind Kind) error {
	track := m.trackLocked(kind)
	var errs []error
	for id, sink := range m.sinks {
		if err := sink.Bind(kind, track); err != nil {
			m.logger.Warn("rebind failed", "link", id, "kind", kind, "error", err)
			errs = append(errs, fmt.Errorf("link %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *LocalMedia) notify() {
	m.mu.Lock()
	fn, st := m.onChange, m.stateLocked()
	m.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
