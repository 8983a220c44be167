package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/attrstore/internal/ir"
)

// Defaults for StoreOption values.
const (
	// DefaultBookmarkInterval is how often an idle watch emits a bookmark
	// when its cursor has advanced past the last one.
	DefaultBookmarkInterval = time.Second

	// DefaultQueueSize is the capacity of each subscription's event channel.
	DefaultQueueSize = 64

	// DefaultMaxSubscriptions caps concurrently open watches.
	DefaultMaxSubscriptions = 1024

	// DefaultReadBatch is the maximum number of log records a subscription
	// consumes per wakeup.
	DefaultReadBatch = 256
)

// Journal persists mutation records. The store calls Append inside the
// commit critical section, before the record becomes visible; an Append
// error aborts the commit. Replay streams every persisted record in seq
// order and is called once by Open.
//
// Implemented by store.Store (SQLite).
type Journal interface {
	Append(ctx context.Context, rec ir.MutationRecord) error
	Replay(ctx context.Context, fn func(ir.MutationRecord) error) error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithJournal makes the store durable. Open replays the journal before
// accepting requests; an empty journal is bootstrapped.
func WithJournal(j Journal) StoreOption {
	return func(s *Store) {
		s.journal = j
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// WithBookmarkInterval sets the idle bookmark period for watches.
// Non-positive values keep the default.
func WithBookmarkInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.bookmarkInterval = d
		}
	}
}

// WithQueueSize sets the per-subscription channel capacity.
// Use WithQueueSize(1) in tests that exercise backpressure.
func WithQueueSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithMaxSubscriptions caps concurrently open watches.
func WithMaxSubscriptions(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxSubscriptions = n
		}
	}
}

// WithIDGenerator sets the subscription id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) {
		s.ids = g
	}
}

// WithMetrics records store activity in m.
func WithMetrics(m *Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}
