package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// CaptionSender delivers a final caption to the room.
type CaptionSender interface {
	SendCaption(text string) error
}

// Publisher turns transcriber output into captions: interim text stays in
// the local preview, finals go to the room and into the local history.
type Publisher struct {
	sender  CaptionSender
	history *Buffer
	name    string
	self    func() string
	now     func() time.Time
	logger  *slog.Logger
	changed func()

	mu      sync.Mutex
	interim string
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Sender  CaptionSender
	History *Buffer
	Name    string

	// Self returns the current connection id, which changes on reconnect.
	Self func() string

	// OnChange runs after the preview or history changed.
	OnChange func()

	Logger *slog.Logger
}

func NewPublisher(opts PublisherOptions) *Publisher {
	if opts.History == nil {
		opts.History = NewBuffer(DefaultHistory)
	}
	if opts.Self == nil {
		opts.Self = func() string { return "" }
	}
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Publisher{
		sender:  opts.Sender,
		history: opts.History,
		name:    opts.Name,
		self:    opts.Self,
		now:     time.Now,
		logger:  opts.Logger,
		changed: opts.OnChange,
	}
}

// Publish handles one segment. A final segment clears the preview; empty
// finals are dropped.
func (p *Publisher) Publish(seg Segment) error {
	text := strings.TrimSpace(seg.Text)

	p.mu.Lock()
	if !seg.Final {
		p.interim = text
		p.mu.Unlock()
		p.changed()
		return nil
	}
	p.interim = ""
	p.mu.Unlock()

	if text == "" {
		p.changed()
		return nil
	}
	if err := p.sender.SendCaption(text); err != nil {
		p.changed()
		return fmt.Errorf("send caption: %w", err)
	}
	p.history.Add(Entry{
		From:      p.self(),
		Name:      p.name,
		Text:      text,
		Timestamp: p.now(),
		Local:     true,
	})
	p.changed()
	return nil
}

// Interim is the text currently being spoken, not yet broadcast.
func (p *Publisher) Interim() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interim
}

// Pump publishes everything t produces until it stops or ctx is done. Send
// failures, such as while the relay connection is being restored, are logged
// and the caption is lost.
func (p *Publisher) Pump(ctx context.Context, t Transcriber) {
	segs := t.Segments()
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-segs:
			if !ok {
				return
			}
			if err := p.Publish(seg); err != nil {
				p.logger.Warn("caption dropped", "error", err)
			}
		}
	}
}
