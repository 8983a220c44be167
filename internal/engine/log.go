package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/attrstore/internal/ir"
)

// mutationLog is the append-only, index-addressable record of every commit.
//
// Records are never mutated in place. Readers hold only a seq cursor and
// fetch records with seq > cursor. Compaction drops a prefix; a reader whose
// cursor falls below the retained prefix gets an error, which cannot happen
// while the store honors pins.
//
// Waiting uses a notification channel that is closed and replaced on each
// append, so any number of readers can wait without registering.
type mutationLog struct {
	mu      sync.RWMutex
	base    ir.Seq // records[0].Seq == base+1
	records []ir.MutationRecord
	notify  chan struct{}
	closed  bool

	head atomic.Int64 // last published seq
}

func newMutationLog(base ir.Seq) *mutationLog {
	l := &mutationLog{
		base:    base,
		records: make([]ir.MutationRecord, 0, 64),
		notify:  make(chan struct{}),
	}
	l.head.Store(int64(base))
	return l
}

// Head returns the seq of the last published record.
func (l *mutationLog) Head() ir.Seq {
	return ir.Seq(l.head.Load())
}

// append publishes rec. Callers hold the commit lock, so appends are
// serialized and rec.Seq is exactly Head()+1.
func (l *mutationLog) append(rec ir.MutationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if want := l.Head() + 1; rec.Seq != want {
		invariantViolation("log append seq %d, want %d", rec.Seq, want)
	}
	l.records = append(l.records, rec)
	l.head.Store(int64(rec.Seq))

	close(l.notify)
	l.notify = make(chan struct{})
}

// Wait returns a channel closed on the next append or on close.
//
// Use with a re-check to avoid missing an append that raced the call:
//
//	ch := log.Wait()
//	if recs := log.Read(cursor, n); len(recs) > 0 { ... }
//	<-ch
func (l *mutationLog) Wait() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notify
}

// Read returns up to limit records with seq > after, in order.
func (l *mutationLog) Read(after ir.Seq, limit int) ([]ir.MutationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if after < l.base {
		return nil, fmt.Errorf("log compacted past seq %d (retained from %d)", after, l.base+1)
	}
	start := int(after - l.base)
	if start >= len(l.records) {
		return nil, nil
	}
	end := len(l.records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]ir.MutationRecord, end-start)
	copy(out, l.records[start:end])
	return out, nil
}

// Len returns the number of retained records.
func (l *mutationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Base returns the seq after which records are retained.
func (l *mutationLog) Base() ir.Seq {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base
}

// truncate drops every record with seq <= upTo.
func (l *mutationLog) truncate(upTo ir.Seq) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if upTo <= l.base {
		return 0
	}
	if upTo > l.Head() {
		upTo = l.Head()
	}
	n := int(upTo - l.base)
	// Copy into a fresh slice so the dropped records can be collected.
	kept := make([]ir.MutationRecord, len(l.records)-n, max(len(l.records)-n, 64))
	copy(kept, l.records[n:])
	l.records = kept
	l.base = upTo
	return n
}

// close wakes every waiter. Further appends are a bug.
func (l *mutationLog) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.notify)
}

// Closed reports whether close has been called.
func (l *mutationLog) Closed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}
