package broadcast

import (
	"slices"
	"sync"
)

// Presence tracks which participants say they are presenting. The flag is
// advisory; it is cleared when the participant leaves.
type Presence struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{set: make(map[string]struct{})}
}

// Set records id's announcement and reports whether it changed anything.
func (p *Presence) Set(id string, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, was := p.set[id]
	if active {
		p.set[id] = struct{}{}
	} else {
		delete(p.set, id)
	}
	return was != active
}

// Remove forgets id, reporting whether it was presenting.
func (p *Presence) Remove(id string) bool {
	return p.Set(id, false)
}

// Reset forgets everyone, as after a reconnect when ids are reissued.
func (p *Presence) Reset() {
	p.mu.Lock()
	clear(p.set)
	p.mu.Unlock()
}

func (p *Presence) Active(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.set[id]
	return ok
}

// IDs lists presenting participants in sorted order.
func (p *Presence) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.set))
	for id := range p.set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
