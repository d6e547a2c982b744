// Package hint implements the hint table: XOR-parity preprocessing over
// PRF-selected subsets of the record array, and the client-side store that
// indexes those hints for fast lookup and tracks which ones have been
// consumed by a query.
package hint

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"statepir/internal/prf"
	"statepir/internal/record"
)

// ValueSize is the width of one XOR-parity hint: a record's value field.
const ValueSize = 32

// Hint is a 32-byte XOR parity over the values at a PRF-selected subset of
// record indices.
type Hint [ValueSize]byte

func xorInto(dst *Hint, src []byte) {
	for i := 0; i < ValueSize; i++ {
		dst[i] ^= src[i]
	}
}

// XorInto folds src into dst in place; exported for callers (the query
// engine) that accumulate partial XOR-parities outside this package.
func XorInto(dst *Hint, src [ValueSize]byte) {
	xorInto(dst, src[:])
}

// UpdateHint applies a single record change to a hint that covers it:
// new = old XOR oldValue XOR newValue.
func UpdateHint(h *Hint, oldValue, newValue [ValueSize]byte) {
	xorInto(h, oldValue[:])
	xorInto(h, newValue[:])
}

// SubsetSize returns floor(sqrt(n)), the reference subset width for a
// database of n records.
func SubsetSize(n uint64) int {
	return int(math.Sqrt(float64(n)))
}

// Table is the server-side hint table: M parities, each over a PRF-derived
// subset of the record domain, all drawn from one master 16-byte seed.
type Table struct {
	Seed        prf.Seed
	DomainSize  uint64
	SubsetSize  int
	BlockNumber uint64
	Hints       []Hint
}

// ValueAt fetches the 32-byte value to fold into a hint; callers supply this
// over whatever backs the record array (an in-memory slice, a mapped file).
type ValueAt func(index uint64) [ValueSize]byte

// Build computes M hints over a database of domainSize records, each hint's
// subset the first subsetSize distinct draws of PRF(seed, nonce=h).
func Build(seed prf.Seed, domainSize uint64, subsetSize, m int, blockNumber uint64, valueAt ValueAt) *Table {
	p := prf.New(seed, domainSize)
	hints := make([]Hint, m)
	for h := 0; h < m; h++ {
		subset := p.SubsetWithNonce(uint64(h), subsetSize)
		var parity Hint
		for _, idx := range subset {
			v := valueAt(idx)
			xorInto(&parity, v[:])
		}
		hints[h] = parity
	}
	return &Table{
		Seed:        seed,
		DomainSize:  domainSize,
		SubsetSize:  subsetSize,
		BlockNumber: blockNumber,
		Hints:       hints,
	}
}

// Subset returns S_h, the sorted set of record indices hint h parities over.
func (t *Table) Subset(h int) []uint64 {
	return prf.New(t.Seed, t.DomainSize).SubsetWithNonce(uint64(h), t.SubsetSize)
}

// CoversTarget checks subset membership for hint h without materializing it.
func (t *Table) CoversTarget(h int, target uint64) bool {
	p := prf.New(t.Seed, t.DomainSize)
	seen := make(map[uint64]struct{}, t.SubsetSize)
	for counter := uint64(0); len(seen) < t.SubsetSize; counter++ {
		idx := p.IndexWithNonce(uint64(h), counter)
		if idx == target {
			return true
		}
		seen[idx] = struct{}{}
	}
	return false
}

const (
	tableMagic   = "HINT"
	tableVersion = 1
	headerSize   = 4 + 1 + 16 + 8 + 4 + 4 + 8 // magic, version, seed, domain, subset, m, block
)

// Marshal serializes the table as a fixed header followed by the hint array.
func (t *Table) Marshal() []byte {
	buf := make([]byte, headerSize+len(t.Hints)*ValueSize)
	copy(buf[0:4], tableMagic)
	buf[4] = tableVersion
	copy(buf[5:21], t.Seed[:])
	binary.LittleEndian.PutUint64(buf[21:29], t.DomainSize)
	binary.LittleEndian.PutUint32(buf[29:33], uint32(t.SubsetSize))
	binary.LittleEndian.PutUint32(buf[33:37], uint32(len(t.Hints)))
	binary.LittleEndian.PutUint64(buf[37:45], t.BlockNumber)
	for i, h := range t.Hints {
		copy(buf[headerSize+i*ValueSize:headerSize+(i+1)*ValueSize], h[:])
	}
	return buf
}

// ParseTable decodes a blob produced by Marshal.
func ParseTable(buf []byte) (*Table, error) {
	if len(buf) < headerSize {
		return nil, &FormatError{"truncated header"}
	}
	if string(buf[0:4]) != tableMagic {
		return nil, &FormatError{"bad magic"}
	}
	if buf[4] != tableVersion {
		return nil, &FormatError{fmt.Sprintf("unsupported version %d", buf[4])}
	}
	t := &Table{}
	copy(t.Seed[:], buf[5:21])
	t.DomainSize = binary.LittleEndian.Uint64(buf[21:29])
	t.SubsetSize = int(binary.LittleEndian.Uint32(buf[29:33]))
	m := binary.LittleEndian.Uint32(buf[33:37])
	t.BlockNumber = binary.LittleEndian.Uint64(buf[37:45])
	want := headerSize + int(m)*ValueSize
	if len(buf) != want {
		return nil, &FormatError{"hint array length mismatch"}
	}
	t.Hints = make([]Hint, m)
	for i := range t.Hints {
		copy(t.Hints[i][:], buf[headerSize+i*ValueSize:headerSize+(i+1)*ValueSize])
	}
	return t, nil
}

// SaveTable writes the table to path via a temp-file-then-rename, matching
// the atomic-publish idiom used for the rest of the snapshot's artifacts.
func SaveTable(t *Table, path string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, t.Marshal(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadTable reads a table previously written by SaveTable.
func LoadTable(path string) (*Table, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(buf)
}

// FormatError reports a malformed hint table blob.
type FormatError struct{ Reason string }

func (e *FormatError) Error() string { return "hint: " + e.Reason }

// entryValue extracts the 32-byte value field from a full record, so a
// Table can be built directly from a parsed record.Database.
func entryValue(db *record.Database, i uint64) [ValueSize]byte {
	r := db.Record(i)
	return r.Value
}

// BuildFromDatabase is a convenience wrapper around Build for the common
// case of hashing over an already-parsed record database.
func BuildFromDatabase(seed prf.Seed, db *record.Database, subsetSize, m int, blockNumber uint64) *Table {
	n := db.EntryCount()
	return Build(seed, n, subsetSize, m, blockNumber, func(i uint64) [ValueSize]byte {
		return entryValue(db, i)
	})
}

// StoredHint pairs a hint's subset (materialized, for fast membership index
// construction) with its parity value.
type StoredHint struct {
	Subset []uint64
	Value  Hint
}

// Store is the client-side hint store: the set of hints downloaded for the
// current snapshot, indexed by covered index for O(1) lookup, with
// consumed-hint tracking so a hint is not reused against the same target
// family without a refresh.
type Store struct {
	BlockNumber uint64
	Seed        prf.Seed
	DomainSize  uint64
	Hints       []StoredHint
	index       map[uint64][]int
	consumed    map[int]bool
}

// NewStore builds a client store directly from a server Table, materializing
// each hint's subset once so lookups don't repeatedly invoke the PRF.
func NewStore(t *Table) *Store {
	s := &Store{
		BlockNumber: t.BlockNumber,
		Seed:        t.Seed,
		DomainSize:  t.DomainSize,
		Hints:       make([]StoredHint, len(t.Hints)),
	}
	for h := range t.Hints {
		s.Hints[h] = StoredHint{Subset: t.Subset(h), Value: t.Hints[h]}
	}
	s.rebuildIndex()
	return s
}

func (s *Store) rebuildIndex() {
	s.index = make(map[uint64][]int)
	s.consumed = make(map[int]bool)
	for h, stored := range s.Hints {
		for _, idx := range stored.Subset {
			s.index[idx] = append(s.index[idx], h)
		}
	}
}

// FindHintForTarget returns the id and value of an unconsumed hint covering
// target, preferring the index; it falls back to a linear scan if the index
// has not been built (a Store assembled directly rather than via NewStore).
func (s *Store) FindHintForTarget(target uint64) (int, *StoredHint, bool) {
	if s.index != nil {
		if ids, ok := s.index[target]; ok {
			for _, h := range ids {
				if !s.consumed[h] {
					return h, &s.Hints[h], true
				}
			}
		}
		return 0, nil, false
	}
	for h := range s.Hints {
		if s.consumed[h] {
			continue
		}
		if containsSorted(s.Hints[h].Subset, target) {
			return h, &s.Hints[h], true
		}
	}
	return 0, nil, false
}

func containsSorted(subset []uint64, target uint64) bool {
	i := sort.Search(len(subset), func(i int) bool { return subset[i] >= target })
	return i < len(subset) && subset[i] == target
}

// MarkConsumed flags hint h as used; it must not be reused for a new target
// in the same family until the store is refreshed.
func (s *Store) MarkConsumed(h int) {
	if s.consumed == nil {
		s.consumed = make(map[int]bool)
	}
	s.consumed[h] = true
}

// ConsumedCount reports how many hints are currently marked consumed, for
// comparison against a refresh threshold.
func (s *Store) ConsumedCount() int {
	return len(s.consumed)
}

// NeedsRefresh reports whether the number of consumed hints has reached
// threshold.
func (s *Store) NeedsRefresh(threshold int) bool {
	return s.ConsumedCount() >= threshold
}

// ApplyDelta updates every stored hint whose subset contains idx to reflect
// a record value change, without needing to re-download the table.
func (s *Store) ApplyDelta(idx uint64, oldValue, newValue [ValueSize]byte) {
	for _, h := range s.index[idx] {
		UpdateHint(&s.Hints[h].Value, oldValue, newValue)
	}
}

// SizeBytes estimates the store's resident memory footprint.
func (s *Store) SizeBytes() int {
	total := 0
	for _, h := range s.Hints {
		total += len(h.Subset)*8 + ValueSize
	}
	return total
}

// RecoverValue decodes a query response using the stored hint value: the
// server's XOR-parity response, folded with the hint, yields the target
// record's value.
func RecoverValue(response, hintValue Hint) Hint {
	result := response
	xorInto(&result, hintValue[:])
	return result
}
