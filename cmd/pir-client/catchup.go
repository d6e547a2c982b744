package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"statepir/internal/bucket"
	"statepir/internal/delta"
	"statepir/internal/hint"
)

// deltaInfoResponse mirrors the JSON body of GET /index/deltas/info.
type deltaInfoResponse struct {
	CurrentBlock uint64 `json:"current_block"`
	Ranges       []struct {
		Offset        uint32 `json:"offset"`
		Size          uint32 `json:"size"`
		BlocksCovered uint32 `json:"blocks_covered"`
	} `json:"ranges"`
}

// fetchDeltaInfo reads the server's tiered delta directory.
func fetchDeltaInfo(ctx context.Context, httpClient *http.Client, serverURL string) (*deltaInfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/index/deltas/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pir-client: /index/deltas/info returned %s: %s", resp.Status, body)
	}
	var out deltaInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// pickCoveringRange returns the smallest range whose BlocksCovered is at
// least blocksBehind, the same rule spec's full-catch-up read shape
// describes: never download more history than needed to close the gap.
func pickCoveringRange(info *deltaInfoResponse, blocksBehind uint64) (offset, size uint32, ok bool) {
	best := -1
	for i, r := range info.Ranges {
		if uint64(r.BlocksCovered) < blocksBehind {
			continue
		}
		if best == -1 || r.BlocksCovered < info.Ranges[best].BlocksCovered {
			best = i
		}
	}
	if best == -1 {
		return 0, 0, false
	}
	return info.Ranges[best].Offset, info.Ranges[best].Size, true
}

// fetchDeltaRange downloads one tier's merged BucketDelta bytes via an
// HTTP Range request against /index/deltas.
func fetchDeltaRange(ctx context.Context, httpClient *http.Client, serverURL string, offset, size uint32) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/index/deltas", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pir-client: /index/deltas returned %s: %s", resp.Status, body)
	}
	return io.ReadAll(resp.Body)
}

// applyBucketDelta folds one block-range's net bucket changes into the
// client's hint store, so the local hints stay consistent with the
// server's live bucket index without a full hint-table redownload.
// bucketIdx maps each touched bucket_id to the flat domain index the
// bucketed lane's value array stores it at.
func applyBucketDelta(store *hint.Store, bucketIdx *bucket.Index, d *delta.BucketDelta) {
	for _, u := range d.Updates {
		r := bucketIdx.Lookup(u.BucketID)
		if r.Count == 0 {
			continue
		}
		store.ApplyDelta(uint64(r.Start), u.OldValue, u.NewValue)
	}
	store.BlockNumber = d.BlockNumber
}

// catchUpBucketedLane brings store up to the server's current block by
// fetching the smallest range-delta tier that covers the gap, or by
// reporting ErrCatchUpTooFarBehind so the caller knows to fall back to a
// full hint-table redownload instead.
func catchUpBucketedLane(ctx context.Context, httpClient *http.Client, serverURL string, store *hint.Store, bucketIdx *bucket.Index) error {
	info, err := fetchDeltaInfo(ctx, httpClient, serverURL)
	if err != nil {
		return err
	}
	if info.CurrentBlock <= store.BlockNumber {
		return nil
	}
	blocksBehind := info.CurrentBlock - store.BlockNumber
	offset, size, ok := pickCoveringRange(info, blocksBehind)
	if !ok {
		return ErrCatchUpTooFarBehind
	}

	raw, err := fetchDeltaRange(ctx, httpClient, serverURL, offset, size)
	if err != nil {
		return err
	}
	d, err := delta.FromBytes(raw)
	if err != nil {
		return fmt.Errorf("pir-client: parsing delta range: %w", err)
	}
	applyBucketDelta(store, bucketIdx, d)
	store.BlockNumber = info.CurrentBlock
	return nil
}

// ErrCatchUpTooFarBehind is returned when no published tier covers the
// client's gap to the current block; the caller must refetch the raw
// bucket index and hint table from scratch instead of catching up.
var ErrCatchUpTooFarBehind = fmt.Errorf("pir-client: no delta range covers the gap to the current block, refetch the raw index")

// fetchBucketIndex downloads and parses the current bucket index, needed
// to resolve a delta's bucket_id updates to domain indices.
func fetchBucketIndex(ctx context.Context, httpClient *http.Client, serverURL string) (*bucket.Index, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/index/raw", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pir-client: /index/raw returned %s: %s", resp.Status, body)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return bucket.Unmarshal(raw)
}
