// Command pir-client is a thin demonstration CLI over the query engine's
// client half: it loads a local hint store, submits one query for a
// caller-supplied record index over HTTP, and prints the recovered value.
//
// Resolving an address/slot to a record index is the caller's job (via a
// locally cached address table, bucket index, or stem index downloaded
// once out of band) — this binary exercises the query protocol itself,
// not lane addressing.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"statepir/internal/config"
	"statepir/internal/hint"
	"statepir/internal/queryengine"
)

func main() {
	serverURL := flag.String("server", "", "base URL of the pir-server instance")
	hintPath := flag.String("hint", "", "path to the local hint table (hint.bin)")
	laneName := flag.String("lane", "", "lane name to query")
	target := flag.Uint64("index", 0, "record index to query")
	cold := flag.Bool("cold", false, "force a cold query, ignoring the local hint store")
	bucketed := flag.Bool("bucketed", false, "the queried lane serves the bucketed index; catch the local hint store up via the live delta log before querying")
	flag.Parse()

	cfg := config.LoadClientConfig()
	if *serverURL == "" {
		*serverURL = cfg.ServerURL
	}
	if *hintPath == "" {
		*hintPath = cfg.HintPath
	}
	if *laneName == "" {
		*laneName = cfg.LaneName
	}
	if *serverURL == "" || *hintPath == "" || *laneName == "" {
		fmt.Println("usage: pir-client -server http://host:port -hint hint.bin -lane balance -index N")
		return
	}

	table, err := hint.LoadTable(*hintPath)
	if err != nil {
		log.Fatalf("loading hint table: %v", err)
	}
	store := hint.NewStore(table)
	log.Printf("loaded %d hints over a domain of %d records (block %d)\n", len(store.Hints), store.DomainSize, store.BlockNumber)

	httpClient := &http.Client{Timeout: 10 * time.Second}

	meta, err := fetchMetadata(context.Background(), httpClient, *serverURL, *laneName)
	if err != nil {
		log.Printf("warning: could not fetch snapshot metadata, querying without staleness checks: %v", err)
	}

	if *bucketed {
		bucketIdx, err := fetchBucketIndex(context.Background(), httpClient, *serverURL)
		if err != nil {
			log.Printf("warning: could not fetch bucket index, skipping delta catch-up: %v", err)
		} else if err := catchUpBucketedLane(context.Background(), httpClient, *serverURL, store, bucketIdx); err != nil {
			if err == ErrCatchUpTooFarBehind {
				log.Fatalf("local hint store is too far behind the server's delta log; redownload the hint table and bucket index from scratch")
			}
			log.Printf("warning: delta catch-up failed: %v", err)
		} else {
			log.Printf("caught up to block %d via the delta log\n", store.BlockNumber)
		}
	}

	submit := func(ctx context.Context, q queryengine.CompressedQuery) (hint.Hint, error) {
		return submitQuery(ctx, httpClient, *serverURL, *laneName, meta, q)
	}
	client := &queryengine.Client{Store: store, Submit: submit}

	start := time.Now()
	var value [32]byte
	if *cold {
		value, err = client.ColdQuery(context.Background(), *target, hint.SubsetSize(store.DomainSize))
	} else {
		value, err = client.Query(context.Background(), *target)
		if err == queryengine.ErrNoHintCoversTarget {
			log.Printf("no hint covers index %d, falling back to a cold query\n", *target)
			value, err = client.ColdQuery(context.Background(), *target, hint.SubsetSize(store.DomainSize))
		}
	}
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	fmt.Printf("index=%d value=%s (%.1fms)\n", *target, hex.EncodeToString(value[:]), time.Since(start).Seconds()*1000)
}

// snapshotMetadata is the subset of GET /metadata/<lane> a client caches to
// detect snapshot rotation: it echoes these back on every query so the
// server can reject a query against a generation the client's local hint
// store no longer matches, rather than silently returning garbage.
type snapshotMetadata struct {
	SnapshotBlockHash string `json:"snapshot_block_hash"`
	ParamsVersion     string `json:"params_version"`
}

func fetchMetadata(ctx context.Context, httpClient *http.Client, serverURL, laneName string) (*snapshotMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/metadata/"+laneName, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pir-client: /metadata/%s returned %s", laneName, resp.Status)
	}
	var meta snapshotMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func submitQuery(ctx context.Context, httpClient *http.Client, serverURL, laneName string, meta *snapshotMetadata, q queryengine.CompressedQuery) (hint.Hint, error) {
	body := map[string]interface{}{
		"seed":             hex.EncodeToString(q.Seed[:]),
		"nonce":            q.Nonce,
		"subset_size":      q.SubsetSize,
		"domain_size":      q.DomainSize,
		"correction_index": q.CorrectionIndex,
	}
	if meta != nil {
		body["snapshot_block_hash"] = meta.SnapshotBlockHash
		body["params_version"] = meta.ParamsVersion
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return hint.Hint{}, err
	}

	url := serverURL + "/query/" + laneName + "/seeded/binary"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return hint.Hint{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return hint.Hint{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return hint.Hint{}, fmt.Errorf("pir-client: snapshot rotated on server (%s); refetch metadata, hint table, and bucket index", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return hint.Hint{}, fmt.Errorf("pir-client: server returned %s", resp.Status)
	}

	var out struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return hint.Hint{}, err
	}
	decoded, err := hex.DecodeString(out.Value)
	if err != nil || len(decoded) != 32 {
		return hint.Hint{}, fmt.Errorf("pir-client: malformed value in response")
	}
	var h hint.Hint
	copy(h[:], decoded)
	return h, nil
}

