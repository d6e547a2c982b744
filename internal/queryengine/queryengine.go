// Package queryengine implements the query protocol: the server's
// XOR-sweep responder over a compressed selector, and the client's
// selector construction, submission, and response recovery against a local
// hint store.
package queryengine

import (
	"context"
	"crypto/rand"
	"errors"

	"statepir/internal/hint"
	"statepir/internal/prf"
)

// NoCorrection marks a CompressedQuery as carrying no correction bit — the
// server responds with the plain subset parity, used by the cold-query
// fallback's first leg.
const NoCorrection = ^uint64(0)

// CompressedQuery is the selector a client sends in place of the full
// length-N indicator vector: a PRF seed and nonce (identifying the subset
// S_h), plus the single correction index t where the indicator is flipped.
// At ~48 bytes this is independent of the database size N.
type CompressedQuery struct {
	Seed            prf.Seed
	Nonce           uint64
	SubsetSize      int
	DomainSize      uint64
	CorrectionIndex uint64
}

// Server answers compressed queries against a backing record array. It
// never sees a plaintext target index, only the seed/nonce identifying a
// subset and the index bit being corrected, which is indistinguishable from
// any other member of the domain.
type Server struct {
	ValueAt hint.ValueAt
}

// Respond expands q's selector deterministically and returns the XOR
// parity of the symmetric difference between S_h and {CorrectionIndex} —
// the binary-indicator reduction of the RLWE response Σ q_i · db[i].
func (s *Server) Respond(q CompressedQuery) hint.Hint {
	p := prf.New(q.Seed, q.DomainSize)
	subset := p.SubsetWithNonce(q.Nonce, q.SubsetSize)
	return respondXOR(s.ValueAt, subset, q.CorrectionIndex)
}

func respondXOR(valueAt hint.ValueAt, subset []uint64, correction uint64) hint.Hint {
	var result hint.Hint
	inSubset := false
	for _, idx := range subset {
		if idx == correction {
			inSubset = true
			continue
		}
		hint.XorInto(&result, valueAt(idx))
	}
	if correction != NoCorrection && !inSubset {
		hint.XorInto(&result, valueAt(correction))
	}
	return result
}

// ErrNoHintCoversTarget is returned by Client.Query when the local store
// has no unconsumed hint whose subset contains the requested index; the
// caller should retry via ColdQuery.
var ErrNoHintCoversTarget = errors.New("queryengine: no unconsumed hint covers target index")

// SubmitFunc dispatches a compressed query to the server and returns its
// XOR-parity response. The transport (HTTP, in this repository's case) is
// supplied by the caller so this package stays free of wire concerns.
type SubmitFunc func(ctx context.Context, q CompressedQuery) (hint.Hint, error)

// Client constructs queries against a local hint store and recovers
// plaintext values from server responses.
type Client struct {
	Store  *hint.Store
	Submit SubmitFunc
}

// Query resolves target using a stored hint. On success it marks the used
// hint consumed, per the refresh policy in hint.Store.
func (c *Client) Query(ctx context.Context, target uint64) ([32]byte, error) {
	h, stored, ok := c.Store.FindHintForTarget(target)
	if !ok {
		return [32]byte{}, ErrNoHintCoversTarget
	}

	q := CompressedQuery{
		Seed:            c.Store.Seed,
		Nonce:           uint64(h),
		SubsetSize:      len(stored.Subset),
		DomainSize:      c.Store.DomainSize,
		CorrectionIndex: target,
	}

	response, err := c.Submit(ctx, q)
	if err != nil {
		return [32]byte{}, err
	}

	value := hint.RecoverValue(response, stored.Value)
	c.Store.MarkConsumed(h)
	return [32]byte(value), nil
}

// ColdQuery serves a target with no covering hint, at the cost of two round
// trips instead of one: it draws a fresh random subset R of size
// subsetSize, asks for the plain parity of R and then the parity of R with
// the correction bit set at target, and XORs the two responses together.
// This is the "inflated selector" fallback described for cold misses.
func (c *Client) ColdQuery(ctx context.Context, target uint64, subsetSize int) ([32]byte, error) {
	var seed prf.Seed
	if _, err := rand.Read(seed[:]); err != nil {
		return [32]byte{}, err
	}

	base := CompressedQuery{
		Seed:            seed,
		Nonce:           0,
		SubsetSize:      subsetSize,
		DomainSize:      c.Store.DomainSize,
		CorrectionIndex: NoCorrection,
	}
	plain, err := c.Submit(ctx, base)
	if err != nil {
		return [32]byte{}, err
	}

	corrected := base
	corrected.CorrectionIndex = target
	withTarget, err := c.Submit(ctx, corrected)
	if err != nil {
		return [32]byte{}, err
	}

	var value hint.Hint
	hint.XorInto(&value, [32]byte(plain))
	hint.XorInto(&value, [32]byte(withTarget))
	return [32]byte(value), nil
}
