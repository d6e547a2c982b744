package chainfollower

import (
	"math/big"
	"testing"
)

func TestBalanceValueEncodesBigEndian(t *testing.T) {
	v := balanceValue(big.NewInt(256))
	if v[30] != 1 || v[31] != 0 {
		t.Fatalf("balanceValue(256) = %x, want big-endian 0x0100 in last two bytes", v)
	}
}

func TestBalanceValueZeroForNil(t *testing.T) {
	if v := balanceValue(nil); v != ([32]byte{}) {
		t.Fatalf("balanceValue(nil) = %x, want zero", v)
	}
}

func TestNewFollowerCopiesSeed(t *testing.T) {
	seed := map[uint32][32]byte{5: {1, 2, 3}}
	f := NewFollower(nil, seed)
	seed[5] = [32]byte{9, 9, 9}
	if f.cache[5] != ([32]byte{1, 2, 3}) {
		t.Fatal("NewFollower must copy the seed map, not alias it")
	}
}
