package feedcache

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestStatsRecorderCounts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewStatsRecorder(clock)

	if got := r.Snapshot(); got.Hits != 0 || got.Misses != 0 || got.Size != 0 || !got.LastUpdated.IsZero() {
		t.Fatalf("expected zero snapshot, got %+v", got)
	}
	if r.Snapshot().HitRatio() != 0 {
		t.Fatalf("expected zero ratio before lookups")
	}

	r.RecordMiss()
	clock.Advance(time.Second)
	r.RecordHit()
	r.RecordHit()
	r.SetSize(3)

	got := r.Snapshot()
	if got.Hits != 2 || got.Misses != 1 || got.Size != 3 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if !got.LastUpdated.Equal(clock.Now()) {
		t.Fatalf("expected last updated %v, got %v", clock.Now(), got.LastUpdated)
	}
	if ratio := got.HitRatio(); ratio < 0.66 || ratio > 0.67 {
		t.Fatalf("unexpected hit ratio %v", ratio)
	}

	r.SetSize(-4)
	if r.Snapshot().Size != 0 {
		t.Fatalf("expected negative size clamped to zero")
	}
}

func TestStatsRecorderConcurrent(t *testing.T) {
	r := NewStatsRecorder(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordHit()
				r.RecordMiss()
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	got := r.Snapshot()
	if got.Hits != 800 || got.Misses != 800 {
		t.Fatalf("expected 800/800, got %+v", got)
	}
}
