// Command lane-builder reads a state.bin export and produces the serving
// artifacts for one PIR lane: a flat 32-byte value database, the
// addressing index the lane's Resolver needs (an address table, a bucket
// index, or a stem index), and a hint table over the resulting array.
//
// Each deployed snapshot serves exactly one lane; the "single-shard"
// config reported by /crs/<lane> reflects that. Running lane-builder
// against the same state.bin once per lane produces the full set of
// snapshot directories a pir-server deployment rotates between.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"statepir/internal/bucket"
	"statepir/internal/config"
	"statepir/internal/hint"
	"statepir/internal/prf"
	"statepir/internal/record"
	"statepir/internal/stem"
)

func main() {
	lane := flag.String("lane", "", "lane kind to build: balance, bucketed, or stem")
	statePath := flag.String("state", "", "path to the sorted state.bin export")
	outDir := flag.String("out", "", "directory to write the lane's artifacts into")
	seedHex := flag.String("seed", "", "32-char hex master seed for the hint table (random if empty)")
	hintCount := flag.Int("hints", 0, "number of hints to build (defaults to the subset size)")
	flag.Parse()

	cfg := config.LoadLaneBuilderConfig()
	if *statePath == "" {
		*statePath = cfg.StatePath
	}
	if *outDir == "" {
		*outDir = cfg.OutputDir
	}
	if *seedHex == "" {
		*seedHex = cfg.MasterSeed
	}
	if *lane == "" || *statePath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "usage: lane-builder -lane balance|bucketed|stem -state state.bin -out dir")
		os.Exit(2)
	}

	log.Println("========================================")
	log.Println("Lane Builder")
	log.Println("========================================")
	log.Printf("lane=%s state=%s out=%s\n", *lane, *statePath, *outDir)

	buf, err := os.ReadFile(*statePath)
	if err != nil {
		log.Fatalf("reading state file: %v", err)
	}
	db, err := record.Parse(buf)
	if err != nil {
		log.Fatalf("parsing state file: %v", err)
	}
	if err := db.Validate(); err != nil {
		log.Fatalf("state file fails order validation: %v", err)
	}
	log.Printf("loaded %d records at block %d\n", db.EntryCount(), db.Header.BlockNumber)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("creating output dir: %v", err)
	}

	var values [][32]byte
	switch *lane {
	case "balance":
		values, err = buildBalanceLane(db, *outDir)
	case "bucketed":
		values, err = buildBucketedLane(db, *outDir)
	case "stem":
		values, err = buildStemLane(db, *outDir)
	default:
		log.Fatalf("unknown lane kind %q", *lane)
	}
	if err != nil {
		log.Fatalf("building %s lane: %v", *lane, err)
	}

	dbPath := filepath.Join(*outDir, "db.bin")
	if err := writeValueArray(dbPath, values); err != nil {
		log.Fatalf("writing value database: %v", err)
	}
	log.Printf("wrote %d-entry value database to %s\n", len(values), dbPath)

	seed, err := resolveSeed(*seedHex)
	if err != nil {
		log.Fatalf("resolving master seed: %v", err)
	}
	subsetSize := hint.SubsetSize(uint64(len(values)))
	m := *hintCount
	if m <= 0 {
		m = subsetSize
	}
	table := hint.Build(seed, uint64(len(values)), subsetSize, m, db.Header.BlockNumber, func(i uint64) [32]byte {
		return values[i]
	})
	hintPath := filepath.Join(*outDir, "hint.bin")
	if err := hint.SaveTable(table, hintPath); err != nil {
		log.Fatalf("writing hint table: %v", err)
	}
	log.Printf("wrote %d hints (subset size %d) to %s\n", len(table.Hints), subsetSize, hintPath)
	log.Println("done")
}

func resolveSeed(seedHex string) (prf.Seed, error) {
	var seed prf.Seed
	if seedHex == "" {
		if _, err := rand.Read(seed[:]); err != nil {
			return seed, err
		}
		return seed, nil
	}
	if len(seedHex) != 32 {
		return seed, fmt.Errorf("master seed must be 32 hex chars (16 bytes), got %d chars", len(seedHex))
	}
	decoded, err := hex.DecodeString(seedHex)
	if err != nil {
		return seed, fmt.Errorf("master seed is not valid hex: %v", err)
	}
	copy(seed[:], decoded)
	return seed, nil
}

func writeValueArray(path string, values [][32]byte) error {
	buf := make([]byte, len(values)*32)
	for i, v := range values {
		copy(buf[i*32:(i+1)*32], v[:])
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// buildBalanceLane lays out one record per address (first slot seen per
// address wins) sorted by address, and writes the address->index table
// lane.BalanceLane needs for direct lookup.
func buildBalanceLane(db *record.Database, outDir string) ([][32]byte, error) {
	seen := make(map[[20]byte]bool)
	type row struct {
		addr  [20]byte
		value [32]byte
	}
	var rows []row
	for i := uint64(0); i < db.EntryCount(); i++ {
		r := db.Record(i)
		if seen[r.Address] {
			continue
		}
		seen[r.Address] = true
		rows = append(rows, row{addr: r.Address, value: r.Value})
	}
	sort.Slice(rows, func(i, j int) bool {
		return lessBytes(rows[i].addr[:], rows[j].addr[:])
	})

	values := make([][32]byte, len(rows))
	addrBuf := make([]byte, 24*len(rows))
	for i, r := range rows {
		values[i] = r.value
		off := i * 24
		copy(addrBuf[off:off+20], r.addr[:])
		putUint32(addrBuf[off+20:off+24], uint32(i))
	}
	return values, atomicWrite(filepath.Join(outDir, "addresses.bin"), addrBuf)
}

// buildBucketedLane keeps the canonical record order (the order the bucket
// index's cumulative start/count table assumes) and writes the bucket
// index alongside it.
func buildBucketedLane(db *record.Database, outDir string) ([][32]byte, error) {
	n := db.EntryCount()
	values := make([][32]byte, n)
	ids := make([]uint32, n)
	for i := uint64(0); i < n; i++ {
		r := db.Record(i)
		values[i] = r.Value
		ids[i] = bucket.ID(r.Address, r.Slot)
	}
	idx, err := bucket.Build(ids)
	if err != nil {
		return nil, err
	}
	idx.BlockNumber = db.Header.BlockNumber
	return values, atomicWrite(filepath.Join(outDir, "buckets.bin"), idx.Marshal())
}

// buildStemLane reorders records into stem-then-subindex order so that
// stem.Index's StartIndex+subindex arithmetic addresses the right row of
// the array this function returns, and writes the stem index describing
// that layout.
func buildStemLane(db *record.Database, outDir string) ([][32]byte, error) {
	type leaf struct {
		s        stem.Stem
		subindex byte
		value    [32]byte
	}
	n := db.EntryCount()
	leaves := make([]leaf, n)
	var zero [32]byte
	for i := uint64(0); i < n; i++ {
		r := db.Record(i)
		ti := stem.BasicDataTreeIndex()
		if r.Slot != zero {
			ti = stem.StorageTreeIndex(r.Slot)
		}
		leaves[i] = leaf{s: stem.Compute(r.Address, ti), subindex: ti.Subindex(), value: r.Value}
	}
	sort.Slice(leaves, func(i, j int) bool {
		if c := compareStems(leaves[i].s, leaves[j].s); c != 0 {
			return c < 0
		}
		return leaves[i].subindex < leaves[j].subindex
	})

	var values [][32]byte
	var ranges []stem.Range
	var cur stem.Stem
	var start uint64
	haveCur := false
	for _, l := range leaves {
		if !haveCur || l.s != cur {
			start = uint64(len(values))
			ranges = append(ranges, stem.Range{Stem: l.s, StartIndex: start})
			cur = l.s
			haveCur = true
		}
		// Zero-fill unused subindices so each leaf sits at start+subindex.
		for uint64(len(values)) < start+uint64(l.subindex) {
			values = append(values, [32]byte{})
		}
		values = append(values, l.value)
	}
	idx := stem.BuildIndex(ranges)
	return values, atomicWrite(filepath.Join(outDir, "stems.bin"), idx.Marshal())
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func compareStems(a, b stem.Stem) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func putUint32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
