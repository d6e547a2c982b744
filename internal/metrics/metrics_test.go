package metrics

import (
	"testing"
	"time"
)

func TestUpdateCollectorSnapshot(t *testing.T) {
	var c UpdateCollector
	c.RecordBlock(100, 5, 10*time.Millisecond)
	c.RecordBlock(101, 0, 20*time.Millisecond)

	snap := c.Snapshot()
	if snap.TotalBlocks != 2 {
		t.Fatalf("TotalBlocks = %d, want 2", snap.TotalBlocks)
	}
	if snap.TotalUpdates != 5 {
		t.Fatalf("TotalUpdates = %d, want 5", snap.TotalUpdates)
	}
	if snap.LastBlockNumber != 101 {
		t.Fatalf("LastBlockNumber = %d, want 101", snap.LastBlockNumber)
	}
	if snap.AvgBlockMillis <= 0 {
		t.Fatal("expected positive AvgBlockMillis")
	}
	if snap.LastUpdated == "" {
		t.Fatal("expected non-empty LastUpdated")
	}
}

func TestQueryCollectorSnapshot(t *testing.T) {
	var c QueryCollector
	c.RecordQuery(false, 5*time.Microsecond)
	c.RecordQuery(true, 15*time.Microsecond)

	snap := c.Snapshot()
	if snap.TotalQueries != 2 {
		t.Fatalf("TotalQueries = %d, want 2", snap.TotalQueries)
	}
	if snap.ColdQueries != 1 {
		t.Fatalf("ColdQueries = %d, want 1", snap.ColdQueries)
	}
	if snap.AvgQueryMicros <= 0 {
		t.Fatal("expected positive AvgQueryMicros")
	}
}

func TestEmptyCollectorSnapshotHasNoLastUpdated(t *testing.T) {
	var c UpdateCollector
	if got := c.Snapshot().LastUpdated; got != "" {
		t.Fatalf("LastUpdated = %q, want empty before any record", got)
	}
}
