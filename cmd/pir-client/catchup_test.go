package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"statepir/internal/bucket"
	"statepir/internal/delta"
	"statepir/internal/hint"
	"statepir/internal/prf"
)

// newTestStore builds a store with enough hints over a tiny domain that,
// overwhelmingly likely, several cover every index — so tests can assert on
// real subset membership instead of guessing which hint a PRF draw lands on.
func newTestStore(domainSize uint64, blockNumber uint64) *hint.Store {
	seed := prf.Seed{}
	table := &hint.Table{
		Seed:        seed,
		DomainSize:  domainSize,
		SubsetSize:  2,
		BlockNumber: blockNumber,
		Hints:       make([]hint.Hint, 50),
	}
	return hint.NewStore(table)
}

func subsetContains(subset []uint64, target uint64) bool {
	for _, v := range subset {
		if v == target {
			return true
		}
	}
	return false
}

func TestPickCoveringRangeChoosesSmallestSufficientTier(t *testing.T) {
	info := &deltaInfoResponse{
		CurrentBlock: 1000,
		Ranges: []struct {
			Offset        uint32 `json:"offset"`
			Size          uint32 `json:"size"`
			BlocksCovered uint32 `json:"blocks_covered"`
		}{
			{Offset: 100, Size: 10, BlocksCovered: 1},
			{Offset: 200, Size: 20, BlocksCovered: 10},
			{Offset: 300, Size: 30, BlocksCovered: 100},
			{Offset: 400, Size: 40, BlocksCovered: 1000},
		},
	}

	offset, size, ok := pickCoveringRange(info, 50)
	if !ok {
		t.Fatal("expected a covering range")
	}
	if offset != 300 || size != 30 {
		t.Fatalf("picked offset=%d size=%d, want the 100-block tier at offset=300 size=30", offset, size)
	}
}

func TestPickCoveringRangeNoneWideEnough(t *testing.T) {
	info := &deltaInfoResponse{
		CurrentBlock: 1000,
		Ranges: []struct {
			Offset        uint32 `json:"offset"`
			Size          uint32 `json:"size"`
			BlocksCovered uint32 `json:"blocks_covered"`
		}{
			{Offset: 100, Size: 10, BlocksCovered: 1},
			{Offset: 200, Size: 20, BlocksCovered: 10},
		},
	}
	if _, _, ok := pickCoveringRange(info, 50); ok {
		t.Fatal("expected no covering range")
	}
}

func TestCatchUpBucketedLaneAppliesRangeAndAdvancesBlock(t *testing.T) {
	store := newTestStore(4, 5)
	ids := []uint32{0, 0, 0, 0}
	bucketIdx, err := bucket.Build(ids)
	if err != nil {
		t.Fatalf("bucket.Build: %v", err)
	}

	before := make([]hint.Hint, len(store.Hints))
	for i, h := range store.Hints {
		before[i] = h.Value
	}

	d := &delta.BucketDelta{
		BlockNumber: 9,
		Updates: []delta.Update{
			{BucketID: 0, OldValue: [32]byte{1}, NewValue: [32]byte{2}},
		},
	}
	raw := d.ToBytes()

	mux := http.NewServeMux()
	mux.HandleFunc("/index/deltas/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deltaInfoResponse{
			CurrentBlock: 9,
			Ranges: []struct {
				Offset        uint32 `json:"offset"`
				Size          uint32 `json:"size"`
				BlocksCovered uint32 `json:"blocks_covered"`
			}{{Offset: 0, Size: uint32(len(raw)), BlocksCovered: 10}},
		})
	})
	mux.HandleFunc("/index/deltas", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write(raw)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if err := catchUpBucketedLane(context.Background(), srv.Client(), srv.URL, store, bucketIdx); err != nil {
		t.Fatalf("catchUpBucketedLane: %v", err)
	}
	if store.BlockNumber != 9 {
		t.Fatalf("store.BlockNumber = %d, want 9", store.BlockNumber)
	}

	touched := 0
	for i, h := range store.Hints {
		wantChanged := subsetContains(h.Subset, 0)
		if wantChanged {
			touched++
		}
		if changed := h.Value != before[i]; changed != wantChanged {
			t.Fatalf("hint %d subset=%v: value changed=%v, want %v", i, h.Subset, changed, wantChanged)
		}
	}
	if touched == 0 {
		t.Fatal("expected at least one of 50 hints over a 4-record domain to cover index 0")
	}
}

func TestCatchUpBucketedLaneNoOpWhenAlreadyCurrent(t *testing.T) {
	store := newTestStore(4, 9)
	bucketIdx, _ := bucket.Build([]uint32{0, 0, 0, 0})

	mux := http.NewServeMux()
	mux.HandleFunc("/index/deltas/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deltaInfoResponse{CurrentBlock: 9})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if err := catchUpBucketedLane(context.Background(), srv.Client(), srv.URL, store, bucketIdx); err != nil {
		t.Fatalf("catchUpBucketedLane: %v", err)
	}
	if store.BlockNumber != 9 {
		t.Fatalf("store.BlockNumber = %d, want unchanged 9", store.BlockNumber)
	}
}

func TestCatchUpBucketedLaneTooFarBehind(t *testing.T) {
	store := newTestStore(4, 0)
	bucketIdx, _ := bucket.Build([]uint32{0, 0, 0, 0})

	mux := http.NewServeMux()
	mux.HandleFunc("/index/deltas/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deltaInfoResponse{
			CurrentBlock: 100000,
			Ranges: []struct {
				Offset        uint32 `json:"offset"`
				Size          uint32 `json:"size"`
				BlocksCovered uint32 `json:"blocks_covered"`
			}{{Offset: 0, Size: 12, BlocksCovered: 10000}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := catchUpBucketedLane(context.Background(), srv.Client(), srv.URL, store, bucketIdx)
	if err != ErrCatchUpTooFarBehind {
		t.Fatalf("err = %v, want ErrCatchUpTooFarBehind", err)
	}
}
