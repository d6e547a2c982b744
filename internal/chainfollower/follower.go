package chainfollower

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"statepir/internal/bucket"
	"statepir/internal/delta"
)

// PollInterval mirrors the reference service's block-processing cadence: a
// fixed ticker rather than a subscription, so it works against providers
// that don't support eth_subscribe.
const PollInterval = 2 * time.Second

// zeroSlot is the slot used to bucket an account's balance entry: balances
// live at the account level, not under any particular storage slot.
var zeroSlot [32]byte

// balanceValue encodes a wei amount as the 32-byte big-endian value a
// bucketed record holds, the same width record.StorageRecord.Value uses.
func balanceValue(balance *big.Int) [32]byte {
	var v [32]byte
	if balance == nil {
		return v
	}
	u, overflow := uint256.FromBig(balance)
	if overflow {
		// Balances don't overflow 256 bits on any real chain; clamp rather
		// than panic if fed a malformed fixture.
		return [32]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	return u.Bytes32()
}

// Follower polls an execution node for new blocks, derives the set of
// addresses touched by each block's transactions, and diffs their balances
// against a local cache to produce bucket deltas. It is the only piece of
// the pipeline that talks to the chain; everything downstream consumes
// delta.BucketDelta values it emits.
type Follower struct {
	client  *ethclient.Client
	chainID *big.Int

	mu    sync.Mutex
	cache map[uint32][32]byte
}

// NewFollower wraps a dialed client. seed pre-populates the balance cache
// (typically from the active snapshot generation) so the first block
// processed after a restart doesn't manufacture a spurious delta for every
// address it happens to touch.
func NewFollower(client *ethclient.Client, seed map[uint32][32]byte) *Follower {
	cache := make(map[uint32][32]byte, len(seed))
	for k, v := range seed {
		cache[k] = v
	}
	return &Follower{client: client, cache: cache}
}

// Connect fetches and stores the chain ID, required to build a transaction
// signer for sender recovery.
func (f *Follower) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	chainID, err := f.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chainfollower: fetch chain id: %w", err)
	}
	f.chainID = chainID
	return nil
}

// ChainID returns the chain id fetched by Connect.
func (f *Follower) ChainID() *big.Int { return f.chainID }

// Run polls for new blocks every PollInterval starting just after
// fromBlock, calling onDelta once per block that produced any updates. It
// blocks until ctx is canceled.
func (f *Follower) Run(ctx context.Context, fromBlock uint64, onDelta func(delta.BucketDelta)) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	last := fromBlock
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			head, err := f.client.BlockNumber(ctx)
			if err != nil {
				log.Printf("chainfollower: block number: %v", err)
				continue
			}
			for bn := last + 1; bn <= head; bn++ {
				d, err := f.ProcessBlock(ctx, bn)
				if err != nil {
					log.Printf("chainfollower: block %d: %v", bn, err)
					continue
				}
				if len(d.Updates) > 0 {
					onDelta(d)
				}
			}
			last = head
		}
	}
}

// ProcessBlock fetches block bn, recovers the set of addresses its
// transactions touch (senders and direct recipients), re-reads each
// address's current balance, and returns the bucket deltas for every
// address whose cached balance changed.
func (f *Follower) ProcessBlock(ctx context.Context, bn uint64) (delta.BucketDelta, error) {
	block, err := f.client.BlockByNumber(ctx, new(big.Int).SetUint64(bn))
	if err != nil {
		return delta.BucketDelta{}, fmt.Errorf("load block: %w", err)
	}

	touched := make(map[string]struct{})
	signer := types.LatestSignerForChainID(f.chainID)
	for _, tx := range block.Transactions() {
		if from, err := types.Sender(signer, tx); err == nil {
			touched[strings.ToLower(from.Hex())] = struct{}{}
		}
		if to := tx.To(); to != nil {
			touched[strings.ToLower(to.Hex())] = struct{}{}
		}
	}
	if len(touched) == 0 {
		return delta.BucketDelta{BlockNumber: bn}, nil
	}

	blockRef := new(big.Int).SetUint64(bn)
	updates := make([]delta.Update, 0, len(touched))

	f.mu.Lock()
	defer f.mu.Unlock()

	for addrHex := range touched {
		addr := common.HexToAddress(addrHex)
		balance, err := f.client.BalanceAt(ctx, addr, blockRef)
		if err != nil {
			log.Printf("chainfollower: balance at %s: %v", addrHex, err)
			continue
		}

		var a20 [20]byte
		copy(a20[:], addr.Bytes())
		bucketID := bucket.ID(a20, zeroSlot)

		newValue := balanceValue(balance)
		oldValue := f.cache[bucketID]
		if oldValue == newValue {
			continue
		}
		f.cache[bucketID] = newValue

		updates = append(updates, delta.Update{
			BucketID: bucketID,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}

	return delta.BucketDelta{BlockNumber: bn, Updates: updates}, nil
}
