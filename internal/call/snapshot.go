package call

import (
	"errors"
	"time"

	"github.com/BioHazard786/meshcall/internal/broadcast"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peerlink"
	"github.com/BioHazard786/meshcall/internal/protocol"
	"github.com/BioHazard786/meshcall/internal/session"
)

// Participant is one row of the room view.
type Participant struct {
	ID         string
	Name       string
	Self       bool
	Linked     bool
	Link       peerlink.State
	Remote     peerlink.RemoteInfo
	Presenting bool
}

// Snapshot is everything the room view shows.
type Snapshot struct {
	RoomID       string
	Self         string
	Connection   session.State
	Local        media.State
	Participants []Participant
	Captions     []broadcast.Entry
	Interim      string
	Notice       string
}

// Snapshot returns the current view of the call. Participants are in join
// order; remotes whose link timed out or failed are left out.
func (c *Call) Snapshot() Snapshot {
	self := c.session.Self()

	c.mu.Lock()
	members := make([]protocol.Participant, 0, len(c.members))
	for _, m := range c.members {
		if !c.unreachable[m.ID] {
			members = append(members, m)
		}
	}
	notice := c.notice
	presenting := c.screen != nil
	c.mu.Unlock()

	snap := Snapshot{
		RoomID:     c.opts.RoomID,
		Self:       self,
		Connection: c.session.State(),
		Local:      c.media.State(),
		Captions:   c.captions.Entries(),
		Interim:    c.publisher.Interim(),
		Notice:     notice,
	}

	for _, m := range members {
		p := Participant{ID: m.ID, Name: m.Name}
		if m.ID == self {
			p.Self = true
			p.Presenting = presenting
		} else {
			p.Presenting = c.presence.Active(m.ID)
			if l, ok := c.manager.Link(m.ID); ok {
				info := l.Info()
				p.Linked = true
				p.Link = info.State
				p.Remote = info.Remote
			}
		}
		snap.Participants = append(snap.Participants, p)
	}
	return snap
}

// LinkSummary is how one link ended, for the report printed after leaving.
type LinkSummary struct {
	RemoteID  string
	Name      string
	Outcome   string
	Connected bool
	Duration  time.Duration
	Received  uint64
}

// Summary lists every link the call had, closed ones first.
func (c *Call) Summary() []LinkSummary {
	history := c.manager.History()

	c.mu.Lock()
	names := make(map[string]string, len(c.names))
	for id, n := range c.names {
		names[id] = n
	}
	c.mu.Unlock()

	out := make([]LinkSummary, 0, len(history))
	for _, info := range history {
		s := LinkSummary{
			RemoteID:  info.RemoteID,
			Name:      names[info.RemoteID],
			Outcome:   outcome(info),
			Connected: !info.Connected.IsZero(),
			Received:  info.Inbound.Bytes(),
		}
		if s.Name == "" {
			s.Name = info.Remote.Name
		}
		if s.Connected {
			end := info.Inbound.Audio.Last
			if info.Inbound.Video.Last.After(end) {
				end = info.Inbound.Video.Last
			}
			if end.After(info.Connected) {
				s.Duration = end.Sub(info.Connected)
			}
		}
		out = append(out, s)
	}
	return out
}

func outcome(info peerlink.Info) string {
	switch {
	case info.Err == nil:
		return info.State.String()
	case errors.Is(info.Err, peerlink.ErrRemoteLeft):
		return "left"
	case errors.Is(info.Err, peerlink.ErrLocalClose):
		return "hung up"
	case errors.Is(info.Err, peerlink.ErrIdentityChanged):
		return "rebuilt after reconnect"
	case errors.Is(info.Err, peerlink.ErrNegotiationTimeout):
		return "timed out"
	case errors.Is(info.Err, peerlink.ErrTransportFailed):
		return "failed"
	}
	return info.Err.Error()
}
