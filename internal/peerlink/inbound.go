package peerlink

import (
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
)

// TrackStats counts inbound media of one kind.
type TrackStats struct {
	Packets uint64
	Bytes   uint64
	First   time.Time
	Last    time.Time
}

// InboundSummary is a point-in-time view of an Inbound.
type InboundSummary struct {
	Audio     TrackStats
	Video     TrackStats
	Finalized bool
}

// Bytes is the total received across kinds.
func (s InboundSummary) Bytes() uint64 {
	return s.Audio.Bytes + s.Video.Bytes
}

// Inbound accumulates a link's received media. Transports Append as packets
// arrive; Finalize releases the subscription, after which Append refuses more.
type Inbound struct {
	mu    sync.Mutex
	now   func() time.Time
	audio TrackStats
	video TrackStats
	final bool
}

func NewInbound() *Inbound {
	return &Inbound{now: time.Now}
}

// Append records one packet of n bytes. It returns false once finalized.
func (in *Inbound) Append(kind media.Kind, n int) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.final {
		return false
	}

	st := &in.audio
	if kind == media.KindVideo {
		st = &in.video
	}
	now := in.now()
	if st.Packets == 0 {
		st.First = now
	}
	st.Last = now
	st.Packets++
	st.Bytes += uint64(n)
	return true
}

// Finalize stops accumulation and returns the final totals. Later calls
// return the same totals.
func (in *Inbound) Finalize() InboundSummary {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.final = true
	return in.summaryLocked()
}

// Snapshot returns the totals so far.
func (in *Inbound) Snapshot() InboundSummary {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.summaryLocked()
}

func (in *Inbound) summaryLocked() InboundSummary {
	return InboundSummary{Audio: in.audio, Video: in.video, Finalized: in.final}
}
