package engine

import (
	"sync"

	"github.com/roach88/attrstore/internal/ir"
)

// pinSet tracks sequences that readers still need. Compaction never
// discards history at or above the lowest pin.
type pinSet struct {
	mu   sync.Mutex
	next uint64
	pins map[uint64]ir.Seq
}

func newPinSet() *pinSet {
	return &pinSet{pins: make(map[uint64]ir.Seq)}
}

// acquire pins the value returned by head and returns it. head is read
// under the pin lock, so a concurrent horizon computation either sees the
// pin or ran before head could have been read.
func (p *pinSet) acquire(head func() ir.Seq) (uint64, ir.Seq) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	s := head()
	p.pins[p.next] = s
	return p.next, s
}

// advance moves a pin forward. Pins never move backwards.
func (p *pinSet) advance(id uint64, s ir.Seq) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.pins[id]; ok && s > cur {
		p.pins[id] = s
	}
}

func (p *pinSet) release(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pins, id)
}

// horizon returns the lowest pinned seq, or head when nothing is pinned.
func (p *pinSet) horizon(head ir.Seq) ir.Seq {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := head
	for _, s := range p.pins {
		if s < h {
			h = s
		}
	}
	return h
}

func (p *pinSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pins)
}
