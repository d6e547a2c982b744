package main

import (
	"os"
	"testing"

	"statepir/internal/delta"
	"statepir/internal/metrics"
)

func TestOnDeltaFeedsWriterAndHub(t *testing.T) {
	dir := t.TempDir()
	svc := &updateService{
		writer: delta.NewWriter(dir),
		hub:    delta.NewHub(),
		stats:  &metrics.UpdateCollector{},
	}

	d := delta.BucketDelta{BlockNumber: 7, Updates: []delta.Update{{BucketID: 1, NewValue: [32]byte{9}}}}
	svc.onDelta(d)

	if svc.writer.CurrentBlock() != 7 {
		t.Fatalf("writer.CurrentBlock() = %d, want 7", svc.writer.CurrentBlock())
	}
	snap := svc.stats.Snapshot()
	if snap.TotalBlocks != 1 || snap.LastBlockNumber != 7 {
		t.Fatalf("unexpected metrics snapshot: %+v", snap)
	}
}

func TestOnDeltaFlushesImmediatelyOnFirstCall(t *testing.T) {
	dir := t.TempDir()
	svc := &updateService{
		writer: delta.NewWriter(dir),
		hub:    delta.NewHub(),
		stats:  &metrics.UpdateCollector{},
	}
	// lastFlush's zero value satisfies the flushInterval check on the very
	// first call, so onDelta should write the tiered file out immediately.
	svc.onDelta(delta.BucketDelta{BlockNumber: 1})

	if _, err := os.Stat(svc.writer.FilePath()); err != nil {
		t.Fatalf("expected delta file to exist after first onDelta: %v", err)
	}
}
