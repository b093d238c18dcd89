package cache

import (
	"sync/atomic"
	"time"
)

// counters holds the hot-path statistics. Updated atomically from concurrent
// task completions; never behind a lock.
type counters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	restoreNanos atomic.Int64
	timeSavedMS  atomic.Int64
}

func (c *counters) recordHit(restoreTime, originalDuration time.Duration) {
	c.hits.Add(1)
	c.restoreNanos.Add(restoreTime.Nanoseconds())
	if saved := originalDuration - restoreTime; saved > 0 {
		c.timeSavedMS.Add(saved.Milliseconds())
	}
}

func (c *counters) recordMiss() {
	c.misses.Add(1)
}

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.restoreNanos.Store(0)
	c.timeSavedMS.Store(0)
}

// Statistics is a read-only snapshot of cache activity.
type Statistics struct {
	TotalEntries   int64
	TotalSize      int64
	HitCount       int64
	MissCount      int64
	AvgRestoreTime time.Duration
	TimeSavedMS    int64
}

func (c *counters) snapshot(totalEntries, totalSize int64) Statistics {
	hits := c.hits.Load()
	stats := Statistics{
		TotalEntries: totalEntries,
		TotalSize:    totalSize,
		HitCount:     hits,
		MissCount:    c.misses.Load(),
		TimeSavedMS:  c.timeSavedMS.Load(),
	}
	if hits > 0 {
		stats.AvgRestoreTime = time.Duration(c.restoreNanos.Load() / hits)
	}
	return stats
}
