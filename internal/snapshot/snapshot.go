// Package snapshot implements the snapshot lifecycle: one process-wide
// handle to the currently active, fully immutable generation of database,
// bucket index, stem index, hint table, and CRS — swapped atomically on
// rotation, with the superseded generation retired only once every
// in-flight query against it has finished.
package snapshot

import (
	"fmt"
	"io"
	"sync/atomic"

	"statepir/internal/bucket"
	"statepir/internal/hint"
	"statepir/internal/pirdb"
	"statepir/internal/record"
	"statepir/internal/stem"
)

// Metadata describes the Ethereum block a generation is bound to, the
// value a client checks against an external light client before trusting
// any response served out of this generation.
type Metadata struct {
	BlockNumber uint64
	BlockHash   [32]byte
	ChainID     uint64
	Version     string
}

// Generation is one complete, immutable set of serving artifacts. All
// fields are read-only for the generation's lifetime; mutation happens by
// building a new Generation and rotating it in.
type Generation struct {
	Meta      Metadata
	DB        *pirdb.DB
	Buckets   *bucket.Index
	Stems     *stem.Index
	Hints     *hint.Table
	CRS       map[string][]byte // lane name -> opaque CRS blob
	Header    record.StateHeader
	refCount  int32
	onRetired func()
}

// closers collects the generation's memory-mapped resources so Retire can
// release them once the last query finishes.
func (g *Generation) closers() []io.Closer {
	var out []io.Closer
	if g.DB != nil {
		out = append(out, g.DB)
	}
	return out
}

func (g *Generation) acquire() {
	atomic.AddInt32(&g.refCount, 1)
}

func (g *Generation) release() {
	if atomic.AddInt32(&g.refCount, -1) == 0 && g.onRetired != nil {
		g.onRetired()
	}
}

// Handle holds the process-wide pointer to the active generation and
// performs atomic pointer-swap rotation. The zero value is not usable;
// construct with NewHandle.
type Handle struct {
	current atomic.Pointer[Generation]
}

// NewHandle creates a handle initialized with gen as generation zero. gen
// starts with an implicit reference held by the handle itself, released
// only when a later rotation supersedes it.
func NewHandle(gen *Generation) *Handle {
	gen.acquire()
	h := &Handle{}
	h.current.Store(gen)
	return h
}

// Acquire returns the active generation with an extra reference held for
// the duration of one request; the caller must call Release when done.
func (h *Handle) Acquire() *Generation {
	gen := h.current.Load()
	gen.acquire()
	return gen
}

// Release drops the reference taken by Acquire. Once a generation is both
// retired (superseded by Rotate) and has no outstanding references, its
// memory maps are closed.
func (h *Handle) Release(gen *Generation) {
	gen.release()
}

// Rotate swaps in next as the active generation and releases the handle's
// own reference on the outgoing generation, which will be retired once any
// in-flight queries against it complete. It refuses a generation whose
// metadata has block number zero; it does no other validation.
func (h *Handle) Rotate(next *Generation) error {
	if next.Meta.BlockNumber == 0 {
		return fmt.Errorf("snapshot: refusing to rotate to generation with zero block number")
	}
	next.acquire()
	old := h.current.Swap(next)
	old.release()
	return nil
}

// Active returns the current generation's metadata without acquiring a
// reference — safe for status/health endpoints that don't hold the result
// across a query.
func (h *Handle) Active() Metadata {
	return h.current.Load().Meta
}

// NewGeneration assembles a Generation and wires a retirement callback that
// closes every memory-mapped resource exactly once, when the reference
// count reaches zero after rotation supersedes it.
func NewGeneration(meta Metadata, header record.StateHeader, db *pirdb.DB, buckets *bucket.Index, stems *stem.Index, hints *hint.Table, crs map[string][]byte) *Generation {
	g := &Generation{
		Meta:    meta,
		Header:  header,
		DB:      db,
		Buckets: buckets,
		Stems:   stems,
		Hints:   hints,
		CRS:     crs,
	}
	g.onRetired = func() {
		for _, c := range g.closers() {
			_ = c.Close()
		}
	}
	return g
}
