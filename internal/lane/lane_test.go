package lane

import (
	"testing"

	"statepir/internal/bucket"
	"statepir/internal/stem"
)

func TestBalanceLaneResolve(t *testing.T) {
	var a1, a2 [20]byte
	a1[0] = 1
	a2[0] = 2
	l := NewBalanceLane([]AddressEntry{{Address: a2, Index: 7}, {Address: a1, Index: 3}})

	if l.Kind() != Balance {
		t.Fatal("wrong kind")
	}

	got, ok := l.Resolve(a1, [32]byte{})
	if !ok || got != (Target{Start: 3, Count: 1}) {
		t.Fatalf("Resolve(a1) = %+v, %v", got, ok)
	}

	var missing [20]byte
	missing[0] = 9
	if _, ok := l.Resolve(missing, [32]byte{}); ok {
		t.Fatal("expected miss for unknown address")
	}
}

func TestBucketedLaneResolve(t *testing.T) {
	var addr [20]byte
	addr[0] = 0xAB
	var slot [32]byte
	slot[0] = 0x01

	id := bucket.ID(addr, slot)
	idx, err := bucket.Build([]uint32{id, id})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	l := NewBucketedLane(idx)
	if l.Kind() != Bucketed {
		t.Fatal("wrong kind")
	}
	got, ok := l.Resolve(addr, slot)
	if !ok || got.Count != 2 {
		t.Fatalf("Resolve = %+v, %v", got, ok)
	}
}

func TestStemLaneResolve(t *testing.T) {
	var addr [20]byte
	addr[0] = 0x42

	ti := stem.BasicDataTreeIndex()
	s := stem.Compute(addr, ti)
	idx := stem.BuildIndex([]stem.Range{{Stem: s, StartIndex: 500}})
	l := NewStemLane(idx)

	if l.Kind() != Stem {
		t.Fatal("wrong kind")
	}
	got, ok := l.Resolve(addr, [32]byte{})
	if !ok || got != (Target{Start: 500, Count: 1}) {
		t.Fatalf("Resolve = %+v, %v", got, ok)
	}
}

func TestRegistryLookupAndNames(t *testing.T) {
	l1 := &Lane{Name: "balance", Resolver: NewBalanceLane(nil)}
	l2 := &Lane{Name: "stem", Resolver: NewStemLane(stem.BuildIndex(nil))}
	r := NewRegistry([]*Lane{l1, l2})

	if got, ok := r.Lookup("balance"); !ok || got != l1 {
		t.Fatal("expected to find balance lane")
	}
	if _, ok := r.Lookup("nope"); ok {
		t.Fatal("expected miss for unknown lane")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "balance" || names[1] != "stem" {
		t.Fatalf("Names() = %v", names)
	}
}
