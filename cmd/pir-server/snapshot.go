package main

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"statepir/internal/bucket"
	"statepir/internal/hint"
	"statepir/internal/lane"
	"statepir/internal/pirdb"
	"statepir/internal/record"
	"statepir/internal/snapshot"
	"statepir/internal/stem"
)

// loadGeneration reads one lane-builder output directory (db.bin, hint.bin,
// and whichever addressing index the configured lane kind needs) into a
// ready-to-serve snapshot.Generation.
func loadGeneration(dir string, laneKind lane.Kind, chainID, blockNumber uint64) (*snapshot.Generation, *lane.Lane, error) {
	db, err := pirdb.Open(filepath.Join(dir, "db.bin"), pirdb.EntrySize)
	if err != nil {
		return nil, nil, fmt.Errorf("opening value database: %w", err)
	}

	table, err := hint.LoadTable(filepath.Join(dir, "hint.bin"))
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("loading hint table: %w", err)
	}

	var resolver lane.Resolver
	var buckets *bucket.Index
	var stems *stem.Index
	var laneName string

	switch laneKind {
	case lane.Balance:
		laneName = "balance"
		entries, loadErr := loadAddressTable(filepath.Join(dir, "addresses.bin"))
		if loadErr != nil {
			db.Close()
			return nil, nil, fmt.Errorf("loading address table: %w", loadErr)
		}
		resolver = lane.NewBalanceLane(entries)
	case lane.Bucketed:
		laneName = "bucketed"
		raw, loadErr := os.ReadFile(filepath.Join(dir, "buckets.bin"))
		if loadErr != nil {
			db.Close()
			return nil, nil, fmt.Errorf("reading bucket index: %w", loadErr)
		}
		buckets, err = bucket.Unmarshal(raw)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("parsing bucket index: %w", err)
		}
		resolver = lane.NewBucketedLane(buckets)
	case lane.Stem:
		laneName = "stem"
		raw, loadErr := os.ReadFile(filepath.Join(dir, "stems.bin"))
		if loadErr != nil {
			db.Close()
			return nil, nil, fmt.Errorf("reading stem index: %w", loadErr)
		}
		stems, err = stem.Unmarshal(raw)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("parsing stem index: %w", err)
		}
		resolver = lane.NewStemLane(stems)
	default:
		db.Close()
		return nil, nil, fmt.Errorf("unknown lane kind %d", laneKind)
	}

	header := record.StateHeader{
		Version:     1,
		EntrySize:   record.EntrySize,
		EntryCount:  db.EntryCount(),
		BlockNumber: blockNumber,
		ChainID:     chainID,
	}
	meta := snapshot.Metadata{
		BlockNumber: blockNumber,
		BlockHash:   generationFingerprint(laneName, chainID, blockNumber, db.EntryCount()),
		ChainID:     chainID,
		Version:     paramsVersion(table),
	}
	crs := map[string][]byte{laneName: []byte(fmt.Sprintf("crs-%s-%d", laneName, table.BlockNumber))}

	gen := snapshot.NewGeneration(meta, header, db, buckets, stems, table, crs)
	return gen, &lane.Lane{Name: laneName, Resolver: resolver}, nil
}

// generationFingerprint stands in for a real Ethereum block hash: this
// binary only ever receives a block number and chain id on its command
// line, never a header to hash. It still gives clients a stable value that
// changes whenever the server rotates to a generation covering a
// different block, entry count, or lane, which is what snapshot-mismatch
// detection on the query path actually needs.
func generationFingerprint(laneName string, chainID, blockNumber, entryCount uint64) [32]byte {
	var buf [8 + 8 + 8]byte
	binary.LittleEndian.PutUint64(buf[0:8], chainID)
	binary.LittleEndian.PutUint64(buf[8:16], blockNumber)
	binary.LittleEndian.PutUint64(buf[16:24], entryCount)
	h := sha256.New()
	h.Write([]byte(laneName))
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// paramsVersion fingerprints the hint table's CRS parameters (seed, subset
// width, domain size). It changes whenever the lane is rebuilt with a new
// master seed or a resized hint table, independent of a plain block-number
// rotation that reuses the same parameters.
func paramsVersion(table *hint.Table) string {
	h := sha256.New()
	h.Write(table.Seed[:])
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], table.DomainSize)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(table.SubsetSize))
	h.Write(buf[:])
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

func loadAddressTable(path string) ([]lane.AddressEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	const rowSize = 24
	if len(raw)%rowSize != 0 {
		return nil, fmt.Errorf("address table length %d is not a multiple of %d", len(raw), rowSize)
	}
	n := len(raw) / rowSize
	entries := make([]lane.AddressEntry, n)
	for i := 0; i < n; i++ {
		off := i * rowSize
		var e lane.AddressEntry
		copy(e.Address[:], raw[off:off+20])
		e.Index = uint64(binary.LittleEndian.Uint32(raw[off+20 : off+24]))
		entries[i] = e
	}
	return entries, nil
}
