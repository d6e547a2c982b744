package pirdb

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, entries [][32]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.bin")
	buf := make([]byte, 0, len(entries)*32)
	for _, e := range entries {
		buf = append(buf, e[:]...)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenAndEntryCount(t *testing.T) {
	var a, b [32]byte
	a[0] = 1
	b[0] = 2
	path := writeFixture(t, [][32]byte{a, b})

	db, err := Open(path, EntrySize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if db.EntryCount() != 2 {
		t.Fatalf("EntryCount = %d, want 2", db.EntryCount())
	}
}

func TestEntryReadsExpectedBytes(t *testing.T) {
	var a, b [32]byte
	a[5] = 0xAB
	b[5] = 0xCD
	path := writeFixture(t, [][32]byte{a, b})

	db, err := Open(path, EntrySize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	got := db.Value32(1)
	if got != b {
		t.Fatalf("Value32(1) = %x, want %x", got, b)
	}
}

func TestEntryOutOfRangeReturnsZero(t *testing.T) {
	var a [32]byte
	a[0] = 1
	path := writeFixture(t, [][32]byte{a})

	db, err := Open(path, EntrySize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var zero [32]byte
	if got := db.Value32(5); got != zero {
		t.Fatalf("out-of-range entry = %x, want zero", got)
	}
}

func TestOpenRejectsMisalignedLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, make([]byte, 33), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path, EntrySize); err == nil {
		t.Fatal("expected error for misaligned database length")
	}
}
