package feedcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits        uint64    `json:"hits"`
	Misses      uint64    `json:"misses"`
	Size        int       `json:"size"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsRecorder keeps monotonic hit/miss counters and the current entry count.
type StatsRecorder struct {
	clock  clockwork.Clock
	hits   atomic.Uint64
	misses atomic.Uint64
	size   atomic.Int64

	mu          sync.RWMutex
	lastUpdated time.Time
}

// NewStatsRecorder returns a recorder that stamps writes with clock.
func NewStatsRecorder(clock clockwork.Clock) *StatsRecorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StatsRecorder{clock: clock}
}

// RecordHit counts a served lookup.
func (r *StatsRecorder) RecordHit() {
	r.hits.Add(1)
	r.touch()
}

// RecordMiss counts a lookup that found nothing servable.
func (r *StatsRecorder) RecordMiss() {
	r.misses.Add(1)
	r.touch()
}

// SetSize records the number of live entries.
func (r *StatsRecorder) SetSize(size int) {
	if size < 0 {
		size = 0
	}
	r.size.Store(int64(size))
	r.touch()
}

// Snapshot returns the current counters. It never fails.
func (r *StatsRecorder) Snapshot() CacheStats {
	r.mu.RLock()
	lastUpdated := r.lastUpdated
	r.mu.RUnlock()
	return CacheStats{
		Hits:        r.hits.Load(),
		Misses:      r.misses.Load(),
		Size:        int(r.size.Load()),
		LastUpdated: lastUpdated,
	}
}

func (r *StatsRecorder) touch() {
	now := r.clock.Now()
	r.mu.Lock()
	r.lastUpdated = now
	r.mu.Unlock()
}
