// Package prf implements the AES-128 keystream PRF that expands a 16-byte
// hint seed into a deterministic subset of database indices, per the
// independent-random-subsets hint scheme. Each counter tick runs one
// AES block (crypto/aes) to produce keystream, and subset membership is
// decided by rejection sampling over that stream.
package prf

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sort"
)

// Seed is the 16-byte AES key identifying one hint's subset.
type Seed [16]byte

// PRF expands a seed deterministically into indices over [0, domainSize).
type PRF struct {
	block      cipher.Block
	domainSize uint64
}

// New creates a PRF keyed by seed over the given domain size.
func New(seed Seed, domainSize uint64) *PRF {
	block, err := aes.NewCipher(seed[:])
	if err != nil {
		// aes.NewCipher only fails on bad key length; Seed is fixed-size.
		panic(err)
	}
	return &PRF{block: block, domainSize: domainSize}
}

// Index returns the counter-th pseudorandom index in [0, domainSize).
func (p *PRF) Index(counter uint64) uint64 {
	var in, out [16]byte
	binary.LittleEndian.PutUint64(in[:8], counter)
	p.block.Encrypt(out[:], in[:])
	return binary.LittleEndian.Uint64(out[:8]) % p.domainSize
}

// Subset generates a sorted, deduplicated set of `size` indices via
// rejection sampling: draw successive keystream indices, discard repeats,
// stop once size distinct values have been collected.
func (p *PRF) Subset(size int) []uint64 {
	seen := make(map[uint64]struct{}, size)
	result := make([]uint64, 0, size)
	var counter uint64
	for len(result) < size {
		idx := p.Index(counter)
		counter++
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		result = append(result, idx)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// IndexWithNonce is Index but mixes a second 64-bit value (nonce) into the
// block input so a single master PRF can deterministically derive many
// independent draw streams — one per hint h, in the hint table build.
func (p *PRF) IndexWithNonce(nonce, counter uint64) uint64 {
	var in, out [16]byte
	binary.LittleEndian.PutUint64(in[:8], nonce)
	binary.LittleEndian.PutUint64(in[8:], counter)
	p.block.Encrypt(out[:], in[:])
	return binary.LittleEndian.Uint64(out[:8]) % p.domainSize
}

// SubsetWithNonce is Subset but draws from the nonce-tagged stream used by
// IndexWithNonce, so callers can derive many independent subsets (one per
// hint index) from a single seeded PRF instance.
func (p *PRF) SubsetWithNonce(nonce uint64, size int) []uint64 {
	seen := make(map[uint64]struct{}, size)
	result := make([]uint64, 0, size)
	var counter uint64
	for len(result) < size {
		idx := p.IndexWithNonce(nonce, counter)
		counter++
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		result = append(result, idx)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// ExpandSeed is a convenience wrapper equivalent to New(seed, domainSize).Subset(size).
func ExpandSeed(seed Seed, size int, domainSize uint64) []uint64 {
	return New(seed, domainSize).Subset(size)
}

// Contains reports whether target would appear in Subset(size) without
// materializing the whole subset, by generating indices up to size draws
// and checking for a match. It draws from the nonce-free Index stream, not
// the per-hint SubsetWithNonce streams.
func (p *PRF) Contains(size int, target uint64) bool {
	seen := make(map[uint64]struct{}, size)
	var counter uint64
	for len(seen) < size {
		idx := p.Index(counter)
		counter++
		if idx == target {
			return true
		}
		seen[idx] = struct{}{}
	}
	return false
}
