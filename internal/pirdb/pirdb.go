// Package pirdb memory-maps the PIR database file and answers single-entry
// reads on the hot query path without copying the whole file into the
// process heap. It is the read-time counterpart to internal/record's
// in-memory parser: record.Parse validates and indexes a database at
// build time, pirdb.Open serves it at query time.
package pirdb

import (
	"sync"

	"golang.org/x/exp/mmap"
)

// EntrySize is the width of one compacted record: just the 32-byte value
// field, the layout used by lanes that only ever need to return a value
// (the full 84-byte record layout, with address and slot, is parsed by
// internal/record; no lane serves it at query time).
const EntrySize = 32

// DB is a read-only, memory-mapped, fixed-stride record array.
type DB struct {
	mu         sync.RWMutex
	reader     *mmap.ReaderAt
	entrySize  int
	entryCount uint64
}

// Open maps path read-only and validates its length is a whole number of
// entrySize-byte records.
func Open(path string, entrySize int) (*DB, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	n := r.Len()
	if entrySize <= 0 || n%entrySize != 0 {
		r.Close()
		return nil, &FormatError{Reason: "database length is not a multiple of the entry size"}
	}
	return &DB{
		reader:     r,
		entrySize:  entrySize,
		entryCount: uint64(n / entrySize),
	}, nil
}

// EntryCount reports how many fixed-stride records the mapping holds.
func (d *DB) EntryCount() uint64 {
	return d.entryCount
}

// Entry reads the record at index i into a freshly allocated slice.
// Out-of-range indices return a zeroed entry rather than panicking,
// since a hot query path shouldn't crash on a malformed client index.
func (d *DB) Entry(i uint64) []byte {
	buf := make([]byte, d.entrySize)
	d.EntryInto(i, buf)
	return buf
}

// EntryInto reads the record at index i into dst, which must be entrySize
// bytes, avoiding an allocation per lookup during a hint-table build sweep.
func (d *DB) EntryInto(i uint64, dst []byte) {
	if i >= d.entryCount {
		for j := range dst {
			dst[j] = 0
		}
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	off := int64(i) * int64(d.entrySize)
	if _, err := d.reader.ReadAt(dst, off); err != nil {
		for j := range dst {
			dst[j] = 0
		}
	}
}

// Value32 returns the entry at index i as a fixed-size 32-byte value, for
// the common compacted-value database layout.
func (d *DB) Value32(i uint64) [32]byte {
	var v [32]byte
	if d.entrySize == 32 {
		d.EntryInto(i, v[:])
		return v
	}
	buf := d.Entry(i)
	copy(v[:], buf)
	return v
}

// Close unmaps the database file.
func (d *DB) Close() error {
	return d.reader.Close()
}

// FormatError reports a malformed database mapping.
type FormatError struct{ Reason string }

func (e *FormatError) Error() string { return "pirdb: " + e.Reason }
