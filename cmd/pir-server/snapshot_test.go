package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAddressTableRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addresses.bin")

	buf := make([]byte, 2*24)
	buf[0] = 0xaa
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	buf[24] = 0xbb
	binary.LittleEndian.PutUint32(buf[44:48], 1)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := loadAddressTable(path)
	if err != nil {
		t.Fatalf("loadAddressTable: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Address[0] != 0xaa || entries[0].Index != 0 {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].Address[0] != 0xbb || entries[1].Index != 1 {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
}

func TestLoadAddressTableRejectsMisalignedLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addresses.bin")
	if err := os.WriteFile(path, make([]byte, 10), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadAddressTable(path); err == nil {
		t.Fatal("expected error for misaligned address table")
	}
}

func TestParseLaneKind(t *testing.T) {
	if _, err := parseLaneKind("bogus"); err == nil {
		t.Fatal("expected error for unknown lane")
	}
	for _, name := range []string{"balance", "bucketed", "stem"} {
		if _, err := parseLaneKind(name); err != nil {
			t.Fatalf("parseLaneKind(%q): %v", name, err)
		}
	}
}
