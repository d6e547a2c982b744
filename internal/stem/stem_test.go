package stem

import "testing"

func TestStorageTreeIndexSmallSlot(t *testing.T) {
	var slot [32]byte
	slot[31] = 5
	ti := StorageTreeIndex(slot)
	if ti.Subindex() != HeaderStorageOffset+5 {
		t.Fatalf("subindex = %d, want %d", ti.Subindex(), HeaderStorageOffset+5)
	}
	for i := 0; i < 31; i++ {
		if ti[i] != 0 {
			t.Fatalf("expected zero stem_pos bytes for small slot, got %v", ti[:31])
		}
	}
}

func TestStorageTreeIndexOverflowSlot(t *testing.T) {
	var slot [32]byte
	slot[31] = 64 // first overflow slot
	ti := StorageTreeIndex(slot)
	// MAIN_STORAGE_OFFSET (256^31) + 64 -> subindex 64, stem_pos bumped by 0
	if ti.Subindex() != 64 {
		t.Fatalf("subindex = %d, want 64", ti.Subindex())
	}
	if ti[0] != 1 {
		t.Fatalf("expected MAIN_STORAGE_OFFSET's leading byte in stem_pos[0], got %v", ti[:4])
	}
}

func TestBasicDataAndCodeHashAreDistinctFixedSubindices(t *testing.T) {
	if BasicDataTreeIndex().Subindex() != 0 {
		t.Fatal("basic_data subindex should be 0")
	}
	if CodeHashTreeIndex().Subindex() != 1 {
		t.Fatal("code_hash subindex should be 1")
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	var addr [20]byte
	addr[0] = 0x42
	ti := BasicDataTreeIndex()

	a := Compute(addr, ti)
	b := Compute(addr, ti)
	if a != b {
		t.Fatal("Compute is not deterministic")
	}
}

func TestComputeDiffersByAddress(t *testing.T) {
	var a1, a2 [20]byte
	a1[0], a2[0] = 1, 2
	ti := BasicDataTreeIndex()
	if Compute(a1, ti) == Compute(a2, ti) {
		t.Fatal("expected different stems for different addresses")
	}
}

func TestIndexLookupPresentAndAbsent(t *testing.T) {
	var addrPresent, addrAbsent [20]byte
	addrPresent[0] = 0xAA
	addrAbsent[0] = 0xBB

	ti := BasicDataTreeIndex()
	s := Compute(addrPresent, ti)

	idx := BuildIndex([]Range{{Stem: s, StartIndex: 100}})

	got, ok := idx.Lookup(addrPresent, ti)
	if !ok {
		t.Fatal("expected lookup to find the stem")
	}
	if got != 100 {
		t.Fatalf("index = %d, want 100", got)
	}

	if _, ok := idx.Lookup(addrAbsent, ti); ok {
		t.Fatal("expected lookup to report absence for unknown address")
	}
}

func TestIndexMarshalUnmarshalRoundTrip(t *testing.T) {
	var addr [20]byte
	addr[0] = 7
	ti := CodeHashTreeIndex()
	s := Compute(addr, ti)

	idx := BuildIndex([]Range{{Stem: s, StartIndex: 42}})
	buf := idx.Marshal()

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Ranges) != 1 || got.Ranges[0] != idx.Ranges[0] {
		t.Fatalf("round trip mismatch: %+v", got.Ranges)
	}
}

func TestCodeChunkTreeIndexOverflow(t *testing.T) {
	// chunk 200 -> pos = 128+200 = 328 -> stem_pos=1, subindex=72
	ti := CodeChunkTreeIndex(200)
	if ti.Subindex() != 72 {
		t.Fatalf("subindex = %d, want 72", ti.Subindex())
	}
	if ti[30] != 1 {
		t.Fatalf("stem_pos low byte = %d, want 1", ti[30])
	}
}
