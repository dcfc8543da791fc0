package gigachat

import (
	"testing"
	"time"
)

func TestCallStatsSnapshot(t *testing.T) {
	s := NewCallStats(time.Hour)
	for _, ms := range []int64{100, 200, 300, 400, 500} {
		s.Record("text", ms)
	}

	snap := s.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("count = %d", snap.Count)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Errorf("min/max = %d/%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Errorf("avg = %v", snap.AvgMs)
	}
	if snap.P50Ms < 200 || snap.P50Ms > 400 {
		t.Errorf("p50 = %v", snap.P50Ms)
	}
}

func TestCallStatsByOp(t *testing.T) {
	s := NewCallStats(time.Hour)
	s.Record("text", 100)
	s.Record("text", 300)
	s.Record("vision", 500)
	s.Record("upload", 40)

	byOp := s.ByOp()
	if len(byOp) != 3 {
		t.Fatalf("ops = %d, want 3", len(byOp))
	}
	if got := byOp["text"]; got.Count != 2 || got.AvgMs != 200 {
		t.Errorf("text = %+v", got)
	}
	if got := byOp["vision"]; got.Count != 1 || got.MinMs != 500 {
		t.Errorf("vision = %+v", got)
	}
	if s.Snapshot().Count != 4 {
		t.Errorf("overall count = %d, want 4", s.Snapshot().Count)
	}
}

func TestCallStatsEmpty(t *testing.T) {
	s := NewCallStats(time.Hour)
	snap := s.Snapshot()
	if snap.Count != 0 {
		t.Errorf("count = %d, want 0", snap.Count)
	}
}

func TestCallStatsPrunesOldSamples(t *testing.T) {
	s := NewCallStats(10 * time.Millisecond)
	s.Record("text", 100)
	time.Sleep(30 * time.Millisecond)
	s.Record("text", 200)

	snap := s.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("count = %d, want 1 after pruning", snap.Count)
	}
	if snap.MinMs != 200 {
		t.Errorf("min = %d, want the surviving sample", snap.MinMs)
	}
}
