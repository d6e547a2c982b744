package hint

import (
	"testing"

	"statepir/internal/prf"
)

func fakeValue(i uint64) [ValueSize]byte {
	var v [ValueSize]byte
	v[0] = byte(i)
	v[1] = byte(i >> 8)
	return v
}

func TestBuildAndRecoverRoundTrip(t *testing.T) {
	var seed prf.Seed
	seed[0] = 9

	const domain = 10_000
	table := Build(seed, domain, SubsetSize(domain), 200, 42, fakeValue)

	h := 17
	subset := table.Subset(h)
	if len(subset) != table.SubsetSize {
		t.Fatalf("subset size = %d, want %d", len(subset), table.SubsetSize)
	}

	// response = server XOR sweep over S_h with correction bit at target flipped
	target := subset[0]
	var response Hint
	for _, idx := range subset {
		if idx == target {
			continue
		}
		v := fakeValue(idx)
		xorInto(&response, v[:])
	}
	targetValue := fakeValue(target)

	recovered := RecoverValue(response, table.Hints[h])
	if recovered != Hint(targetValue) {
		t.Fatalf("recovered = %x, want %x", recovered, targetValue)
	}
}

func TestMarshalUnmarshalTableRoundTrip(t *testing.T) {
	var seed prf.Seed
	seed[2] = 5
	table := Build(seed, 1000, SubsetSize(1000), 10, 7, fakeValue)

	buf := table.Marshal()
	got, err := ParseTable(buf)
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if got.DomainSize != table.DomainSize || got.SubsetSize != table.SubsetSize || got.BlockNumber != table.BlockNumber {
		t.Fatalf("header mismatch: %+v vs %+v", got, table)
	}
	if len(got.Hints) != len(table.Hints) {
		t.Fatalf("hint count mismatch: %d vs %d", len(got.Hints), len(table.Hints))
	}
	for i := range table.Hints {
		if got.Hints[i] != table.Hints[i] {
			t.Fatalf("hint %d mismatch", i)
		}
	}
}

func TestParseTableRejectsBadMagic(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, "NOPE")
	if _, err := ParseTable(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestSaveLoadTableRoundTrip(t *testing.T) {
	var seed prf.Seed
	seed[1] = 3
	table := Build(seed, 500, SubsetSize(500), 5, 99, fakeValue)

	path := t.TempDir() + "/hints.bin"
	if err := SaveTable(table, path); err != nil {
		t.Fatalf("SaveTable: %v", err)
	}
	got, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if len(got.Hints) != len(table.Hints) {
		t.Fatalf("hint count mismatch after load")
	}
}

func TestStoreFindHintForTargetAndConsume(t *testing.T) {
	var seed prf.Seed
	seed[4] = 1
	table := Build(seed, 2000, SubsetSize(2000), 50, 1, fakeValue)

	store := NewStore(table)

	target := table.Subset(0)[0]
	h, stored, ok := store.FindHintForTarget(target)
	if !ok {
		t.Fatal("expected to find a hint covering target")
	}
	if stored.Value != table.Hints[h] {
		t.Fatal("stored hint value mismatch")
	}

	store.MarkConsumed(h)
	if !store.consumedAll(target) {
		// target may be covered by more than one hint; only assert if this
		// was the sole covering hint
		if len(store.index[target]) == 1 {
			t.Fatal("expected no unconsumed hint left for target")
		}
	}
}

// consumedAll reports whether every hint covering idx has been consumed.
func (s *Store) consumedAll(idx uint64) bool {
	for _, h := range s.index[idx] {
		if !s.consumed[h] {
			return false
		}
	}
	return true
}

func TestStoreNeedsRefresh(t *testing.T) {
	var seed prf.Seed
	table := Build(seed, 1000, SubsetSize(1000), 10, 1, fakeValue)
	store := NewStore(table)

	if store.NeedsRefresh(3) {
		t.Fatal("fresh store should not need refresh")
	}
	store.MarkConsumed(0)
	store.MarkConsumed(1)
	store.MarkConsumed(2)
	if !store.NeedsRefresh(3) {
		t.Fatal("expected refresh to trigger after threshold consumed")
	}
}

func TestStoreApplyDeltaUpdatesCoveringHints(t *testing.T) {
	var seed prf.Seed
	table := Build(seed, 500, SubsetSize(500), 20, 1, fakeValue)
	store := NewStore(table)

	idx := table.Subset(0)[0]
	oldValue := fakeValue(idx)
	var newValue [ValueSize]byte
	newValue[0] = 0xFF

	before := make(map[int]Hint, len(store.index[idx]))
	for _, h := range store.index[idx] {
		before[h] = store.Hints[h].Value
	}

	store.ApplyDelta(idx, oldValue, newValue)

	for h, old := range before {
		if store.Hints[h].Value == old {
			t.Fatalf("hint %d value unchanged after delta", h)
		}
	}
}
