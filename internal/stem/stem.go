// Package stem implements EIP-7864-style stem/subindex addressing: a 31-byte
// group key per account/storage-slot neighborhood, with up to 256 subindices
// (one database row each) living under it.
package stem

import (
	"bytes"
	"sort"

	"lukechampine.com/blake3"
)

// Subindex reservations, per EIP-7864 tree embedding.
const (
	BasicDataSubindex   = 0
	CodeHashSubindex    = 1
	HeaderStorageOffset = 64  // storage slots 0-63 -> subindex 64-127
	CodeOffset          = 128 // code chunks 0-127 -> subindex 128-255
	stemSubtreeWidth    = 256
)

// mainStorageOffset is 256^31 == 1<<248, big-endian, used to push storage
// slots >= 64 into an overflow stem.
var mainStorageOffset = func() [32]byte {
	var b [32]byte
	b[0] = 1
	return b
}()

// Stem is the 31-byte group key derived from an address and a tree index.
type Stem [31]byte

// TreeIndex is (stem_pos[31] || subindex[1]), the input to stem derivation.
type TreeIndex [32]byte

// Subindex returns the trailing byte of a tree index.
func (t TreeIndex) Subindex() byte { return t[31] }

// BasicDataTreeIndex is the fixed tree index for an account's basic_data leaf.
func BasicDataTreeIndex() TreeIndex {
	var t TreeIndex
	t[31] = BasicDataSubindex
	return t
}

// CodeHashTreeIndex is the fixed tree index for an account's code_hash leaf.
func CodeHashTreeIndex() TreeIndex {
	var t TreeIndex
	t[31] = CodeHashSubindex
	return t
}

// StorageTreeIndex computes the tree index for a 32-byte big-endian storage
// slot: slots 0-63 land at a fixed subindex in the account's own stem; slots
// >= 64 land in an overflow stem via MAIN_STORAGE_OFFSET + slot.
func StorageTreeIndex(slot [32]byte) TreeIndex {
	smallSlot := true
	for _, b := range slot[:31] {
		if b != 0 {
			smallSlot = false
			break
		}
	}
	if smallSlot && slot[31] < 64 {
		var t TreeIndex
		t[31] = HeaderStorageOffset + slot[31]
		return t
	}
	return addWithOffset(slot, mainStorageOffset)
}

// CodeChunkTreeIndex computes the tree index for code chunk chunkID.
func CodeChunkTreeIndex(chunkID uint32) TreeIndex {
	pos := uint64(CodeOffset) + uint64(chunkID)
	subindex := byte(pos % stemSubtreeWidth)
	stemPos := pos / stemSubtreeWidth

	var t TreeIndex
	var posBytes [8]byte
	for i := 7; i >= 0; i-- {
		posBytes[i] = byte(stemPos)
		stemPos >>= 8
	}
	copy(t[23:31], posBytes[:])
	t[31] = subindex
	return t
}

// addWithOffset computes (offset + slot) as a 32-byte big-endian sum, split
// into a 31-byte stem position and a 1-byte subindex.
func addWithOffset(slot [32]byte, offset [32]byte) TreeIndex {
	var result TreeIndex
	var carry uint16
	for i := 31; i >= 0; i-- {
		sum := uint16(slot[i]) + uint16(offset[i]) + carry
		result[i] = byte(sum)
		carry = sum >> 8
	}
	return result
}

// Compute derives the 31-byte stem from a 20-byte address and a tree index:
// blake3(pad32(address) || tree_index[:31])[:31].
func Compute(address [20]byte, ti TreeIndex) Stem {
	var input [63]byte
	copy(input[12:32], address[:])
	copy(input[32:63], ti[:31])

	h := blake3.Sum256(input[:])
	var s Stem
	copy(s[:], h[:31])
	return s
}

// TreeKey is stem || subindex, the full 32-byte position in the UBT.
func TreeKey(address [20]byte, ti TreeIndex) [32]byte {
	s := Compute(address, ti)
	var key [32]byte
	copy(key[:31], s[:])
	key[31] = ti.Subindex()
	return key
}

// Range is the database position a stem's subindices start at.
type Range struct {
	Stem       Stem
	StartIndex uint64
}

// Index is a sorted list of (stem, start_index) pairs, binary-searchable.
type Index struct {
	Ranges []Range
}

// BuildIndex sorts and wraps a set of stem ranges. Ranges must already carry
// unique stems; duplicate stems are a build-time bug, not a runtime one, so
// BuildIndex does not attempt to merge them.
func BuildIndex(ranges []Range) *Index {
	out := make([]Range, len(ranges))
	copy(out, ranges)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Stem[:], out[j].Stem[:]) < 0
	})
	return &Index{Ranges: out}
}

// Lookup resolves (address, tree index) to a database index via binary
// search on the stem, returning (index, true) or (0, false) if the stem is
// absent from the database.
func (idx *Index) Lookup(address [20]byte, ti TreeIndex) (uint64, bool) {
	target := Compute(address, ti)
	i := sort.Search(len(idx.Ranges), func(i int) bool {
		return bytes.Compare(idx.Ranges[i].Stem[:], target[:]) >= 0
	})
	if i == len(idx.Ranges) || idx.Ranges[i].Stem != target {
		return 0, false
	}
	return idx.Ranges[i].StartIndex + uint64(ti.Subindex()), true
}

// Marshal serializes the index as count:u64 followed by (stem:31 ||
// start_index:u64) entries in sorted order.
func (idx *Index) Marshal() []byte {
	out := make([]byte, 8+len(idx.Ranges)*39)
	putUint64(out[0:8], uint64(len(idx.Ranges)))
	for i, r := range idx.Ranges {
		off := 8 + i*39
		copy(out[off:off+31], r.Stem[:])
		putUint64(out[off+31:off+39], r.StartIndex)
	}
	return out
}

// Unmarshal parses a blob produced by Marshal.
func Unmarshal(buf []byte) (*Index, error) {
	if len(buf) < 8 {
		return nil, errShortBuffer
	}
	count := getUint64(buf[0:8])
	want := 8 + count*39
	if uint64(len(buf)) != want {
		return nil, errShortBuffer
	}
	ranges := make([]Range, count)
	for i := uint64(0); i < count; i++ {
		off := 8 + i*39
		copy(ranges[i].Stem[:], buf[off:off+31])
		ranges[i].StartIndex = getUint64(buf[off+31 : off+39])
	}
	return &Index{Ranges: ranges}, nil
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func getUint64(src []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(src[i]) << (8 * i)
	}
	return v
}

type stemError string

func (e stemError) Error() string { return string(e) }

const errShortBuffer = stemError("stem: malformed index blob")
