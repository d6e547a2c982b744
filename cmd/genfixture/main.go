// Command genfixture produces a small, valid state.bin for local
// development and tests. It is not the state-export tool (an external
// collaborator this repository only consumes the output of) — it generates
// synthetic (address, slot, balance) triples sorted the way record.Parse
// expects, clamping oversized balances to 32 bytes the way a real export
// must when an account's wei balance exceeds what a fixed-width field can
// carry without truncation.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"flag"
	"log"
	"math/big"
	"os"
	"sort"

	"github.com/holiman/uint256"

	"statepir/internal/record"
)

func main() {
	out := flag.String("out", "state.bin", "output path for the generated state.bin")
	count := flag.Int("n", 1000, "number of accounts to generate")
	blockNumber := flag.Uint64("block", 1, "block number to stamp into the header")
	chainID := flag.Uint64("chain-id", 1, "chain id to stamp into the header")
	seedHex := flag.String("seed", "", "optional deterministic seed for account addresses/balances")
	flag.Parse()

	accounts := make([]record.StorageRecord, *count)
	randSrc := rand.Reader
	if *seedHex != "" {
		randSrc = deterministicReader(*seedHex)
	}

	for i := 0; i < *count; i++ {
		var addr [20]byte
		if _, err := randSrc.Read(addr[:]); err != nil {
			log.Fatalf("generating address: %v", err)
		}

		balance, err := randomBalance(randSrc)
		if err != nil {
			log.Fatalf("generating balance: %v", err)
		}

		accounts[i] = record.StorageRecord{
			Address: addr,
			Value:   clampBalance(balance),
		}
	}

	sort.Slice(accounts, func(i, j int) bool {
		ki, kj := accounts[i].SortKey(), accounts[j].SortKey()
		return lessKey(ki, kj)
	})

	header := record.StateHeader{BlockNumber: *blockNumber, ChainID: *chainID}
	data := record.Marshal(header, accounts)

	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("writing %s: %v", *out, err)
	}
	log.Printf("wrote %d accounts (%d bytes) to %s\n", len(accounts), len(data), *out)
}

// clampBalance mirrors the clamping a real balance export must do when a
// wei amount (e.g. a beacon deposit contract's aggregate balance) exceeds
// what fits in the fixed-width value field: rather than truncate silently,
// it saturates to the field's maximum.
func clampBalance(balance *big.Int) [32]byte {
	u, overflow := uint256.FromBig(balance)
	if overflow {
		var max [32]byte
		for i := range max {
			max[i] = 0xff
		}
		return max
	}
	return u.Bytes32()
}

func randomBalance(r interface {
	Read([]byte) (int, error)
}) (*big.Int, error) {
	var buf [8]byte
	if _, err := r.Read(buf[:]); err != nil {
		return nil, err
	}
	maxWei, ok := new(big.Int).SetString("100000000000000000000", 10) // up to ~100 ETH
	if !ok {
		panic("invalid max wei constant")
	}
	n := new(big.Int).SetUint64(binary.LittleEndian.Uint64(buf[:]))
	return n.Mod(n, maxWei), nil
}

func lessKey(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// deterministicReader produces a reproducible byte stream from a hex seed,
// for fixtures that need to stay stable across test runs.
type seededReader struct {
	state []byte
	pos   int
}

func deterministicReader(seedHex string) *seededReader {
	return &seededReader{state: []byte(seedHex)}
}

func (r *seededReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.state[r.pos%len(r.state)] ^ byte(r.pos)
		r.pos++
	}
	return len(p), nil
}
