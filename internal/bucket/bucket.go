// Package bucket implements the bucket index: a deterministic partition of
// records into 2^18 buckets keyed by the first 18 bits of
// keccak256(address||slot), used for balance-style lanes under live churn.
package bucket

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// Bits is the number of leading hash bits that select a bucket.
	Bits = 18
	// NumBuckets is 2^Bits, the fixed bucket count.
	NumBuckets = 1 << Bits

	entrySize = 8 // start:u32 + count:u32
)

// ID computes the bucket a given (address, slot) pair falls into: the first
// 18 bits of keccak256(address||slot), taken big-endian from the hash.
func ID(address [20]byte, slot [32]byte) uint32 {
	buf := make([]byte, 0, 52)
	buf = append(buf, address[:]...)
	buf = append(buf, slot[:]...)
	h := crypto.Keccak256(buf)
	v := (uint32(h[0]) << 10) | (uint32(h[1]) << 2) | (uint32(h[2]) >> 6)
	return v & (NumBuckets - 1)
}

// Range is the (start, count) pair stored for one bucket.
type Range struct {
	Start uint32
	Count uint32
}

// Index is the built 2^18-slot bucket table plus the total record count it
// was built over.
type Index struct {
	Table       [NumBuckets]Range
	TotalEntries uint32
	BlockNumber uint64
}

// Build assigns start[b] at the first record whose bucket is b, backfilling
// empty buckets with (prev_end, 0). ids must already be bucket ids computed
// over the sorted record array, in record order.
func Build(ids []uint32) (*Index, error) {
	idx := &Index{TotalEntries: uint32(len(ids))}

	counts := make([]uint32, NumBuckets)
	for _, b := range ids {
		if b >= NumBuckets {
			return nil, fmt.Errorf("bucket: id %d out of range", b)
		}
		counts[b]++
	}

	var cursor uint32
	for b := 0; b < NumBuckets; b++ {
		idx.Table[b] = Range{Start: cursor, Count: counts[b]}
		cursor += counts[b]
	}
	if cursor != idx.TotalEntries {
		return nil, fmt.Errorf("bucket: cumulative count %d != total entries %d", cursor, idx.TotalEntries)
	}
	return idx, nil
}

// Lookup returns the range for bucket id b.
func (idx *Index) Lookup(b uint32) Range {
	if b >= NumBuckets {
		return Range{}
	}
	return idx.Table[b]
}

// Sum returns the sum of all bucket counts; must equal TotalEntries.
func (idx *Index) Sum() uint64 {
	var sum uint64
	for _, r := range idx.Table {
		sum += uint64(r.Count)
	}
	return sum
}

// Marshal serializes the raw bucket table (no header) as the /index/raw blob:
// NumBuckets * 8 bytes, each (start:u32, count:u32) little-endian.
func (idx *Index) Marshal() []byte {
	out := make([]byte, NumBuckets*entrySize)
	for b, r := range idx.Table {
		off := b * entrySize
		binary.LittleEndian.PutUint32(out[off:], r.Start)
		binary.LittleEndian.PutUint32(out[off+4:], r.Count)
	}
	return out
}

// Unmarshal parses a raw bucket table blob produced by Marshal.
func Unmarshal(buf []byte) (*Index, error) {
	if len(buf) != NumBuckets*entrySize {
		return nil, fmt.Errorf("bucket: index blob is %d bytes, want %d", len(buf), NumBuckets*entrySize)
	}
	idx := &Index{}
	var total uint32
	for b := 0; b < NumBuckets; b++ {
		off := b * entrySize
		r := Range{
			Start: binary.LittleEndian.Uint32(buf[off:]),
			Count: binary.LittleEndian.Uint32(buf[off+4:]),
		}
		idx.Table[b] = r
		total += r.Count
	}
	idx.TotalEntries = total
	return idx, nil
}
