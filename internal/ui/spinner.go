package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// StepSpinner animates one setup step on a single line until the step
// finishes. It is only used before the room view owns the terminal.
type StepSpinner struct {
	out    io.Writer
	label  string
	frames spinner.Spinner

	stop    chan struct{}
	stopped chan struct{}
	started atomic.Bool
	once    sync.Once
}

// NewStepSpinner returns a spinner for label writing to stdout.
func NewStepSpinner(label string) *StepSpinner {
	return &StepSpinner{
		out:     os.Stdout,
		label:   label,
		frames:  spinner.Points,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *StepSpinner) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.stopped)
		t := time.NewTicker(s.frames.FPS)
		defer t.Stop()
		for i := 0; ; i++ {
			frame := s.frames.Frames[i%len(s.frames.Frames)]
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frame), s.label)
			select {
			case <-s.stop:
				fmt.Fprint(s.out, "\r\033[K")
				return
			case <-t.C:
			}
		}
	}()
}

// Stop clears the line. Safe to call more than once, and before Start.
func (s *StepSpinner) Stop() {
	s.once.Do(func() {
		close(s.stop)
		if s.started.Load() {
			<-s.stopped
		}
	})
}

// Done stops the spinner and prints a success line.
func (s *StepSpinner) Done(msg string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", IconSuccess, msg)
}

// Fail stops the spinner and prints an error line.
func (s *StepSpinner) Fail(msg string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", IconError, ErrorStyle.Render(msg))
}
