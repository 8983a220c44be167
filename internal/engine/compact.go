package engine

import (
	"context"

	"github.com/roach88/attrstore/internal/ir"
)

// CompactStats reports what one Compact pass released.
type CompactStats struct {
	Horizon  ir.Seq
	Records  int // mutation records dropped from the in-memory log
	Versions int // superseded entity versions released
	LogLen   int // records retained after the pass
}

// Compact releases in-memory history that no reader can observe: log
// records at or below the lowest pinned seq and every entity version
// shadowed at that seq. Query results are unchanged. The journal is not
// touched.
func (s *Store) Compact(ctx context.Context) (CompactStats, error) {
	if err := ctx.Err(); err != nil {
		return CompactStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return CompactStats{}, ErrClosed
	}

	horizon := s.pins.horizon(s.log.Head())
	stats := CompactStats{
		Horizon:  horizon,
		Records:  s.log.truncate(horizon),
		Versions: s.table.trim(horizon),
	}
	stats.LogLen = s.log.Len()

	s.metrics.compacted(stats.LogLen)
	s.logger.Debug("compacted", "horizon", horizon, "records", stats.Records, "versions", stats.Versions)
	return stats, nil
}
