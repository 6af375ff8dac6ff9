package broadcast

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// Segment is a piece of transcribed speech. Interim segments are revised
// until a final one settles the text.
type Segment struct {
	Text  string
	Final bool
}

// Transcriber produces caption segments. The channel is closed when the
// transcriber stops.
type Transcriber interface {
	Segments() <-chan Segment
}

// Manual is a Transcriber driven by hand, such as a caption prompt: the text
// being typed is interim, submitting it makes it final.
type Manual struct {
	ch   chan Segment
	once sync.Once
	quit chan struct{}
}

func NewManual() *Manual {
	return &Manual{ch: make(chan Segment, 16), quit: make(chan struct{})}
}

func (m *Manual) Segments() <-chan Segment { return m.ch }

// Interim updates the local preview. It never blocks; if the consumer is
// behind the update is dropped, since a newer one will follow.
func (m *Manual) Interim(text string) {
	select {
	case <-m.quit:
		return
	default:
	}
	select {
	case m.ch <- Segment{Text: text}:
	default:
	}
}

// Final submits text for broadcast. It reports false once closed.
func (m *Manual) Final(text string) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case <-m.quit:
		return false
	case m.ch <- Segment{Text: text, Final: true}:
		return true
	}
}

// Close stops the transcriber. Segments already queued are still delivered.
func (m *Manual) Close() {
	m.once.Do(func() { close(m.quit) })
}

// LineTranscriber reads the output of an external speech-to-text tool, one
// segment per line. Lines starting with "~" are interim; every other
// non-empty line is final.
type LineTranscriber struct {
	ch chan Segment
}

// NewLineTranscriber starts reading r until EOF or ctx is done.
func NewLineTranscriber(ctx context.Context, r io.Reader) *LineTranscriber {
	t := &LineTranscriber{ch: make(chan Segment)}
	go t.read(ctx, r)
	return t
}

func (t *LineTranscriber) Segments() <-chan Segment { return t.ch }

func (t *LineTranscriber) read(ctx context.Context, r io.Reader) {
	defer close(t.ch)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		seg := Segment{Text: line, Final: true}
		if rest, ok := strings.CutPrefix(line, "~"); ok {
			seg = Segment{Text: strings.TrimSpace(rest)}
		}
		select {
		case t.ch <- seg:
		case <-ctx.Done():
			return
		}
	}
}
