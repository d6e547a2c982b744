// Package record implements the state.bin codec: a 64-byte header followed
// by a flat array of 84-byte StorageRecords, sorted by keccak256(address||slot).
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// HeaderSize is the fixed size of StateHeader on disk.
	HeaderSize = 64
	// EntrySize is the fixed size of a single StorageRecord on disk.
	EntrySize = 84

	addressSize = 20
	slotSize    = 32
	valueSize   = 32

	magicValue   = "PIR2"
	formatVersion = uint16(1)
)

// FormatError is returned when the header fails magic/version/size checks
// or the file is truncated.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "record: format error: " + e.Reason }

// OrderError is returned by Validate when record i breaks the required
// keccak256(address||slot) ascending order.
type OrderError struct {
	Index int
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("record: order error at index %d", e.Index)
}

// StateHeader is the fixed 64-byte preamble of state.bin.
type StateHeader struct {
	Version     uint16
	EntrySize   uint16
	EntryCount  uint64
	BlockNumber uint64
	ChainID     uint64
	BlockHash   [32]byte
}

// StorageRecord is one 84-byte (address, slot, value) triple.
type StorageRecord struct {
	Address [addressSize]byte
	Slot    [slotSize]byte
	Value   [valueSize]byte
}

// SortKey returns keccak256(address||slot), the value records are ordered by.
func (r StorageRecord) SortKey() [32]byte {
	buf := make([]byte, 0, addressSize+slotSize)
	buf = append(buf, r.Address[:]...)
	buf = append(buf, r.Slot[:]...)
	return crypto.Keccak256Hash(buf)
}

func (r StorageRecord) marshal(dst []byte) {
	copy(dst[0:20], r.Address[:])
	copy(dst[20:52], r.Slot[:])
	copy(dst[52:84], r.Value[:])
}

func unmarshalRecord(src []byte) StorageRecord {
	var r StorageRecord
	copy(r.Address[:], src[0:20])
	copy(r.Slot[:], src[20:52])
	copy(r.Value[:], src[52:84])
	return r
}

// Database is a parsed, read-only view over a state.bin byte slice. It never
// copies the record bytes out of the backing slice.
type Database struct {
	Header StateHeader
	data   []byte // raw bytes, header stripped
}

// Parse validates the header and returns a Database view over buf. It does
// not check record ordering; call Validate separately when that matters
// (build time) since it is skipped on the server's hot startup path.
func Parse(buf []byte) (*Database, error) {
	if len(buf) < HeaderSize {
		return nil, &FormatError{Reason: "buffer shorter than header"}
	}

	if string(buf[0:4]) != magicValue {
		return nil, &FormatError{Reason: fmt.Sprintf("bad magic %q", buf[0:4])}
	}

	h := StateHeader{
		Version:     binary.LittleEndian.Uint16(buf[4:6]),
		EntrySize:   binary.LittleEndian.Uint16(buf[6:8]),
		EntryCount:  binary.LittleEndian.Uint64(buf[8:16]),
		BlockNumber: binary.LittleEndian.Uint64(buf[16:24]),
		ChainID:     binary.LittleEndian.Uint64(buf[24:32]),
	}
	copy(h.BlockHash[:], buf[32:64])

	if h.Version != formatVersion {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.EntrySize != EntrySize {
		return nil, &FormatError{Reason: fmt.Sprintf("unexpected entry_size %d", h.EntrySize)}
	}

	want := h.EntryCount * EntrySize
	body := buf[HeaderSize:]
	if uint64(len(body)) != want {
		return nil, &FormatError{Reason: fmt.Sprintf("body length %d != entry_count*entry_size %d", len(body), want)}
	}

	return &Database{Header: h, data: body}, nil
}

// Marshal serializes a header and records into the wire format Parse reads.
func Marshal(h StateHeader, records []StorageRecord) []byte {
	h.EntryCount = uint64(len(records))
	h.EntrySize = EntrySize
	h.Version = formatVersion

	out := make([]byte, HeaderSize+len(records)*EntrySize)
	copy(out[0:4], magicValue)
	binary.LittleEndian.PutUint16(out[4:6], h.Version)
	binary.LittleEndian.PutUint16(out[6:8], h.EntrySize)
	binary.LittleEndian.PutUint64(out[8:16], h.EntryCount)
	binary.LittleEndian.PutUint64(out[16:24], h.BlockNumber)
	binary.LittleEndian.PutUint64(out[24:32], h.ChainID)
	copy(out[32:64], h.BlockHash[:])

	for i, r := range records {
		r.marshal(out[HeaderSize+i*EntrySize : HeaderSize+(i+1)*EntrySize])
	}
	return out
}

// EntryCount reports the number of records in the database.
func (d *Database) EntryCount() uint64 { return d.Header.EntryCount }

// Record returns record i as a decoded value. It panics if i is out of range;
// callers on the query path should bounds-check against EntryCount first.
func (d *Database) Record(i uint64) StorageRecord {
	off := i * EntrySize
	return unmarshalRecord(d.data[off : off+EntrySize])
}

// RecordBytes returns the raw 84-byte slice for record i, without copying.
func (d *Database) RecordBytes(i uint64) []byte {
	off := i * EntrySize
	return d.data[off : off+EntrySize]
}

// Validate walks the record array and rejects the first out-of-order pair.
// It is meant to run at build time; serving paths skip it for startup speed.
func (d *Database) Validate() error {
	if d.Header.EntryCount == 0 {
		return nil
	}
	prev := d.Record(0).SortKey()
	for i := uint64(1); i < d.Header.EntryCount; i++ {
		cur := d.Record(i).SortKey()
		if !lessKey(prev, cur) {
			return &OrderError{Index: int(i)}
		}
		prev = cur
	}
	return nil
}

func lessKey(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
