// Package broadcast holds the room-wide side channels that do not travel over
// peer links: captions and the advisory screen-share flag.
package broadcast

import (
	"sync"
	"time"
)

// DefaultHistory is how many captions a viewer keeps on screen.
const DefaultHistory = 6

// Entry is one final caption as shown to the viewer.
type Entry struct {
	From      string
	Name      string
	Text      string
	Timestamp time.Time

	// Local marks captions this participant spoke.
	Local bool
}

// Buffer keeps the most recent captions, oldest first. When full, adding
// evicts the oldest entry.
type Buffer struct {
	mu      sync.Mutex
	size    int
	entries []Entry
}

// NewBuffer returns a buffer holding at most size entries. A size below one
// means DefaultHistory.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = DefaultHistory
	}
	return &Buffer{size: size, entries: make([]Entry, 0, size)}
}

func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == b.size {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.size-1]
	}
	b.entries = append(b.entries, e)
}

// Entries returns a copy of the buffered captions, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Cap is the configured history size.
func (b *Buffer) Cap() int {
	return b.size
}
