package media

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermissionDenied is returned by a Capturer when the user or the platform
// refuses access to a device.
var ErrPermissionDenied = errors.New("media permission denied")

// Constraints selects which devices to open.
type Constraints struct {
	Audio bool
	Video bool
}

// Capturer opens local devices. Device selection is the capturer's business.
type Capturer interface {
	Open(ctx context.Context, c Constraints) ([]Source, error)
	OpenScreen(ctx context.Context) (Source, error)
}

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = time.Second / 15
)

// opusSilence is a valid 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Synthetic is a Capturer that produces generated frames instead of touching
// real devices. Sources keep pumping until ctx is cancelled or they stop.
type Synthetic struct {
	// Deny makes every Open fail with ErrPermissionDenied.
	Deny bool
}

func (s Synthetic) Open(ctx context.Context, c Constraints) ([]Source, error) {
	if s.Deny {
		return nil, fmt.Errorf("open devices: %w", ErrPermissionDenied)
	}

	var out []Source
	if c.Audio {
		mic, err := NewSampleSource(KindAudio, "microphone")
		if err != nil {
			return nil, err
		}
		go mic.Pump(ctx, audioFrame, func() []byte { return opusSilence })
		out = append(out, mic)
	}
	if c.Video {
		cam, err := NewSampleSource(KindVideo, "camera")
		if err != nil {
			return nil, err
		}
		go cam.Pump(ctx, videoFrame, testPattern("camera"))
		out = append(out, cam)
	}
	return out, nil
}

func (s Synthetic) OpenScreen(ctx context.Context) (Source, error) {
	if s.Deny {
		return nil, fmt.Errorf("open screen: %w", ErrPermissionDenied)
	}
	screen, err := NewSampleSource(KindVideo, "screen")
	if err != nil {
		return nil, err
	}
	go screen.Pump(ctx, videoFrame, testPattern("screen"))
	return screen, nil
}

// testPattern returns frames that carry the source label and a counter, so a
// receiver can tell camera from screen.
func testPattern(label string) func() []byte {
	var n uint32
	return func() []byte {
		n++
		return fmt.Appendf(nil, "%s:%d", label, n)
	}
}
