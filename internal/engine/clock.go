package engine

import (
	"sync/atomic"

	"github.com/roach88/attrstore/internal/ir"
)

// Clock issues the global mutation sequence.
//
// Every committed mutation is stamped with a strictly increasing seq from
// this clock. The seq doubles as the entity version and the watch
// watermark, so it never uses wall-clock time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The store only ticks it inside the commit critical section, which makes
// the tick and the log append one step.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start.
// Used after journal replay to resume from the last committed seq.
func NewClockAt(start ir.Seq) *Clock {
	c := &Clock{}
	c.seq.Store(int64(start))
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() ir.Seq {
	return ir.Seq(c.seq.Add(1))
}

// Peek returns the value the next call to Next will return.
func (c *Clock) Peek() ir.Seq {
	return ir.Seq(c.seq.Load() + 1)
}

// Current returns the last issued sequence number without incrementing.
func (c *Clock) Current() ir.Seq {
	return ir.Seq(c.seq.Load())
}
