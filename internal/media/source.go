// Package media owns the participant's local audio and video sources and binds
// them to every peer link.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Kind is the media kind of a source or a link slot.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

// Kinds lists every kind in slot order.
var Kinds = []Kind{KindAudio, KindVideo}

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CodecType maps k to pion's codec type.
func (k Kind) CodecType() webrtc.RTPCodecType {
	if k == KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// KindOf maps a pion codec type back to a Kind.
func KindOf(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

// Source produces one local track. Done is closed when the source ends,
// either through Stop or on its own, for example when the user stops a
// screen capture.
type Source interface {
	ID() string
	Kind() Kind
	Label() string
	Track() webrtc.TrackLocal
	Done() <-chan struct{}
	Stop()
}

// Sink is a link's sending side. Binding a nil track sends nothing for that
// kind without renegotiating.
type Sink interface {
	Bind(kind Kind, track webrtc.TrackLocal) error
}

// SampleSource is a Source backed by a pion sample track.
type SampleSource struct {
	id    string
	kind  Kind
	label string
	track *webrtc.TrackLocalStaticSample

	stopOnce sync.Once
	done     chan struct{}
}

// NewSampleSource creates a source for kind with Opus or VP8 framing.
func NewSampleSource(kind Kind, label string) (*SampleSource, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, "meshcall-"+label)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	return &SampleSource{
		id:    id,
		kind:  kind,
		label: label,
		track: track,
		done:  make(chan struct{}),
	}, nil
}

func (s *SampleSource) ID() string               { return s.id }
func (s *SampleSource) Kind() Kind               { return s.kind }
func (s *SampleSource) Label() string            { return s.label }
func (s *SampleSource) Track() webrtc.TrackLocal { return s.track }
func (s *SampleSource) Done() <-chan struct{}    { return s.done }

// WriteSample sends one frame on every link the source is bound to.
func (s *SampleSource) WriteSample(data []byte, duration time.Duration) error {
	return s.track.WriteSample(pionmedia.Sample{Data: data, Duration: duration})
}

// Stop ends the source and closes Done.
func (s *SampleSource) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Pump writes frame() every interval until ctx is cancelled or the source
// stops.
func (s *SampleSource) Pump(ctx context.Context, interval time.Duration, frame func() []byte) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			// Unbound tracks drop samples; that is not an error.
			_ = s.WriteSample(frame(), interval)
		}
	}
}
