package record

import (
	"sort"
	"testing"
)

func mkRecord(addr byte, slot byte, value byte) StorageRecord {
	var r StorageRecord
	r.Address[0] = addr
	r.Slot[0] = slot
	r.Value[0] = value
	return r
}

func sortedFixture(t *testing.T, n int) []StorageRecord {
	t.Helper()
	records := make([]StorageRecord, n)
	for i := 0; i < n; i++ {
		records[i] = mkRecord(byte(i+1), byte(i+1), byte(i+10))
	}
	sort.Slice(records, func(i, j int) bool {
		ki, kj := records[i].SortKey(), records[j].SortKey()
		for b := range ki {
			if ki[b] != kj[b] {
				return ki[b] < kj[b]
			}
		}
		return false
	})
	return records
}

func TestParseAndValidateRoundTrip(t *testing.T) {
	records := sortedFixture(t, 3)
	header := StateHeader{BlockNumber: 20_000_000, ChainID: 1}
	buf := Marshal(header, records)

	db, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if db.EntryCount() != 3 {
		t.Fatalf("EntryCount = %d, want 3", db.EntryCount())
	}
	if db.Header.BlockNumber != 20_000_000 || db.Header.ChainID != 1 {
		t.Fatalf("header fields not preserved: %+v", db.Header)
	}
	if err := db.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for i, want := range records {
		got := db.Record(uint64(i))
		if got != want {
			t.Fatalf("record %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := Marshal(StateHeader{}, nil)
	buf[0] = 'X'
	if _, err := Parse(buf); err == nil {
		t.Fatal("expected FormatError for bad magic")
	}
}

func TestParseRejectsTruncatedBody(t *testing.T) {
	records := sortedFixture(t, 2)
	buf := Marshal(StateHeader{}, records)
	buf = buf[:len(buf)-1]
	if _, err := Parse(buf); err == nil {
		t.Fatal("expected FormatError for truncated body")
	}
}

func TestValidateRejectsOutOfOrder(t *testing.T) {
	records := sortedFixture(t, 4)
	records[1], records[2] = records[2], records[1]
	buf := Marshal(StateHeader{}, records)

	db, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err = db.Validate()
	if err == nil {
		t.Fatal("expected OrderError")
	}
	if _, ok := err.(*OrderError); !ok {
		t.Fatalf("got %T, want *OrderError", err)
	}
}

func TestEmptyDatabase(t *testing.T) {
	buf := Marshal(StateHeader{}, nil)
	db, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if db.EntryCount() != 0 {
		t.Fatalf("EntryCount = %d, want 0", db.EntryCount())
	}
	if err := db.Validate(); err != nil {
		t.Fatalf("Validate on empty db: %v", err)
	}
}
