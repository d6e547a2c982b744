// Package delta implements the delta log: per-block bucket value changes
// coalesced into a tiered range-delta file, and a WebSocket broadcaster that
// pushes each new block's delta to subscribed clients so they can catch up
// their local bucket state without re-downloading the whole database.
package delta

import (
	"encoding/binary"
	"os"
	"path/filepath"
)

// Update is one bucket's value change within a block: the record value a
// client cached at bucket_id moved from OldValue to NewValue. A client
// applies it with value ^= OldValue ^ NewValue, the same XOR-fold the hint
// table uses, so it never needs the absolute value to stay in sync.
type Update struct {
	BucketID uint32
	OldValue [32]byte
	NewValue [32]byte
}

// BucketDelta is the set of bucket value changes introduced by one block.
type BucketDelta struct {
	BlockNumber uint64
	Updates     []Update
}

const updateWireSize = 4 + 32 + 32 // bucket_id:4 + old_value:32 + new_value:32

// ToBytes serializes a delta as block_number:8 || update_count:4 ||
// (bucket_id:4 || old_value:32 || new_value:32)*.
func (d *BucketDelta) ToBytes() []byte {
	buf := make([]byte, 12+len(d.Updates)*updateWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], d.BlockNumber)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(d.Updates)))
	off := 12
	for _, u := range d.Updates {
		binary.LittleEndian.PutUint32(buf[off:off+4], u.BucketID)
		copy(buf[off+4:off+36], u.OldValue[:])
		copy(buf[off+36:off+68], u.NewValue[:])
		off += updateWireSize
	}
	return buf
}

// FromBytes parses a blob produced by ToBytes, rejecting truncated payloads
// and implausible update counts before trusting the length.
func FromBytes(data []byte) (*BucketDelta, error) {
	const headerLen = 12
	if len(data) < headerLen {
		return nil, &FormatError{"header too short"}
	}
	blockNumber := binary.LittleEndian.Uint64(data[0:8])
	count := binary.LittleEndian.Uint32(data[8:12])
	if count > (1 << 20) {
		return nil, &FormatError{"implausible update count"}
	}
	want := headerLen + int(count)*updateWireSize
	if len(data) < want {
		return nil, &FormatError{"truncated update payload"}
	}
	d := &BucketDelta{BlockNumber: blockNumber, Updates: make([]Update, count)}
	off := headerLen
	for i := range d.Updates {
		u := Update{BucketID: binary.LittleEndian.Uint32(data[off : off+4])}
		copy(u.OldValue[:], data[off+4:off+36])
		copy(u.NewValue[:], data[off+36:off+68])
		d.Updates[i] = u
		off += updateWireSize
	}
	return d, nil
}

// mergeDeltas folds a run of per-block deltas into one, keeping only the net
// change per bucket touched: the first old value observed and the last new
// value observed across the whole run. Three writes to the same bucket
// (v1->v2->v3) coalesce to a single entry carrying old=v1, new=v3 — the
// intermediate v2 never needs to cross the wire.
func mergeDeltas(deltas []BucketDelta) BucketDelta {
	if len(deltas) == 0 {
		return BucketDelta{}
	}
	net := make(map[uint32]*Update)
	order := make([]uint32, 0)
	for _, d := range deltas {
		for _, u := range d.Updates {
			existing, seen := net[u.BucketID]
			if !seen {
				order = append(order, u.BucketID)
				copyU := u
				net[u.BucketID] = &copyU
				continue
			}
			existing.NewValue = u.NewValue
		}
	}
	merged := BucketDelta{
		BlockNumber: deltas[len(deltas)-1].BlockNumber,
		Updates:     make([]Update, 0, len(order)),
	}
	for _, id := range order {
		merged.Updates = append(merged.Updates, *net[id])
	}
	return merged
}

// DefaultTiers mirrors the reference range widths: a client behind by one
// block downloads a tiny delta; a client behind by ten thousand blocks
// downloads the coarsest tier instead of replaying history block by block.
var DefaultTiers = []uint64{1, 10, 100, 1000, 10000}

const (
	fileMagic      = "RDLT"
	fileVersion    = 1
	headerSize     = 4 + 1 + 3 + 8 + 4 // magic, version, pad, current_block, num_ranges
	rangeEntrySize = 4 + 4 + 4 + 4     // blocks_covered, offset, size, entry_count
)

type rangeEntry struct {
	blocksCovered uint32
	offset        uint32
	size          uint32
	entryCount    uint32
}

// Writer maintains a sliding window of recent block deltas per tier and
// flushes them into a single tiered file that clients can range-request
// against, downloading only the tier that covers how far behind they are.
type Writer struct {
	dataDir      string
	tiers        []uint64
	windows      [][]BucketDelta
	currentBlock uint64
}

// NewWriter creates a writer that maintains DefaultTiers under dataDir.
func NewWriter(dataDir string) *Writer {
	return &Writer{
		dataDir: dataDir,
		tiers:   DefaultTiers,
		windows: make([][]BucketDelta, len(DefaultTiers)),
	}
}

func (w *Writer) filePath() string {
	return filepath.Join(w.dataDir, "bucket-deltas.bin")
}

// CurrentBlock reports the most recent block number folded into the writer.
func (w *Writer) CurrentBlock() uint64 { return w.currentBlock }

// AddDelta appends a block's delta to every tier's window, trimming each
// window back to its configured block count.
func (w *Writer) AddDelta(d BucketDelta) {
	w.currentBlock = d.BlockNumber
	for i, tier := range w.tiers {
		w.windows[i] = append(w.windows[i], d)
		if uint64(len(w.windows[i])) > tier {
			w.windows[i] = w.windows[i][uint64(len(w.windows[i]))-tier:]
		}
	}
}

// Write flushes the current tiers to disk atomically (temp file then
// rename), returning the path written.
func (w *Writer) Write() (string, error) {
	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", err
	}

	rangeData := make([][]byte, len(w.tiers))
	entries := make([]rangeEntry, len(w.tiers))
	offset := uint32(headerSize + len(w.tiers)*rangeEntrySize)
	for i, tier := range w.tiers {
		merged := mergeDeltas(w.windows[i])
		if len(w.windows[i]) == 0 {
			merged = BucketDelta{BlockNumber: w.currentBlock}
		}
		data := merged.ToBytes()
		rangeData[i] = data
		entries[i] = rangeEntry{
			blocksCovered: uint32(tier),
			offset:        offset,
			size:          uint32(len(data)),
			entryCount:    uint32(len(w.windows[i])),
		}
		offset += uint32(len(data))
	}

	buf := make([]byte, offset)
	copy(buf[0:4], fileMagic)
	buf[4] = fileVersion
	binary.LittleEndian.PutUint64(buf[8:16], w.currentBlock)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(w.tiers)))

	dirOff := headerSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[dirOff:dirOff+4], e.blocksCovered)
		binary.LittleEndian.PutUint32(buf[dirOff+4:dirOff+8], e.offset)
		binary.LittleEndian.PutUint32(buf[dirOff+8:dirOff+12], e.size)
		binary.LittleEndian.PutUint32(buf[dirOff+12:dirOff+16], e.entryCount)
		dirOff += rangeEntrySize
	}
	for i, e := range entries {
		copy(buf[e.offset:e.offset+e.size], rangeData[i])
	}

	path := w.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// Load restores the writer's current block number from an existing tiered
// file's header, if present. It does not attempt to reconstruct the
// per-tier windows, which are rebuilt from live chain-follower traffic.
func (w *Writer) Load() error {
	data, err := os.ReadFile(w.filePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) < headerSize || string(data[0:4]) != fileMagic {
		return &FormatError{"malformed range delta header"}
	}
	w.currentBlock = binary.LittleEndian.Uint64(data[8:16])
	return nil
}

// FilePath returns the path Write/Load use, for handlers that need to
// serve the file's bytes directly (e.g. via http.ServeFile for Range
// requests).
func (w *Writer) FilePath() string { return w.filePath() }

// TierInfo describes one directory entry of a tiered range-delta file, the
// shape the /index/deltas/info endpoint reports per tier.
type TierInfo struct {
	BlocksCovered uint32
	Offset        uint32
	Size          uint32
	EntryCount    uint32
}

// ReadDirectory parses a tiered range-delta file's header and directory
// without loading the tier payloads, for the /index/deltas/info endpoint.
func ReadDirectory(path string) (currentBlock uint64, tiers []TierInfo, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	if len(data) < headerSize || string(data[0:4]) != fileMagic {
		return 0, nil, &FormatError{"malformed range delta header"}
	}
	currentBlock = binary.LittleEndian.Uint64(data[8:16])
	numRanges := binary.LittleEndian.Uint32(data[16:20])

	dirOff := headerSize
	tiers = make([]TierInfo, 0, numRanges)
	for i := uint32(0); i < numRanges; i++ {
		if dirOff+rangeEntrySize > len(data) {
			return 0, nil, &FormatError{"truncated directory"}
		}
		tiers = append(tiers, TierInfo{
			BlocksCovered: binary.LittleEndian.Uint32(data[dirOff : dirOff+4]),
			Offset:        binary.LittleEndian.Uint32(data[dirOff+4 : dirOff+8]),
			Size:          binary.LittleEndian.Uint32(data[dirOff+8 : dirOff+12]),
			EntryCount:    binary.LittleEndian.Uint32(data[dirOff+12 : dirOff+16]),
		})
		dirOff += rangeEntrySize
	}
	return currentBlock, tiers, nil
}

// FormatError reports a malformed delta blob.
type FormatError struct{ Reason string }

func (e *FormatError) Error() string { return "delta: " + e.Reason }
