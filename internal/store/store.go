// Package store defines the persistence contract for indexed blocks,
// transactions, and Silent Payments outputs, independent of any specific
// backend. internal/store/clickhouse provides the concrete implementation.
package store

import "context"

// IndexedBlock is a header row: created on ingest, mutated only via
// MarkOrphan.
type IndexedBlock struct {
	Height   uint32
	Hash     [32]byte
	Header   [80]byte
	IsOrphan bool
}

// IndexedTransaction is a child row of a block.
type IndexedTransaction struct {
	TxID         [32]byte
	BlockHeight  uint32
	IndexInBlock uint32
	IsCoinbase   bool
	Raw          []byte
}

// IndexedOutput is one retained P2TR output, keyed by (TxID, Vout).
type IndexedOutput struct {
	TxID         [32]byte
	Vout         uint32
	BlockHeight  uint32
	ScriptPubKey [34]byte
	Amount       uint64
	XOnlyKey     [32]byte
	Fingerprint  uint32
}

// Query names a prefix+range scan: outputs whose fingerprint is one of
// Fingerprints, whose owning block height is within [StartHeight,
// EndHeight], and whose owning block is not orphaned.
type Query struct {
	Fingerprints []uint32
	StartHeight  uint32
	EndHeight    uint32
}

// Candidate is one query result row, denormalized with its owning block's
// identity so the caller never needs a second round-trip.
type Candidate struct {
	Output         IndexedOutput
	BlockHash      [32]byte
	BlockTimestamp int64
}

// Store is the fixed set of persistence operations the core requires. It is
// the only interface-like boundary in the system; every implementation is
// expected to enforce the invariants named on each method.
type Store interface {
	// InsertBlock idempotently records a block and its transactions and
	// outputs in one atomic batch. Inserting a height that already exists
	// with the same hash is a no-op; the same height under a different
	// hash is a StoreConflict.
	InsertBlock(ctx context.Context, block IndexedBlock, txs []IndexedTransaction, outputs []IndexedOutput) error

	// MarkOrphan flips a block's orphan flag. It is the only mutation ever
	// applied to a persisted block.
	MarkOrphan(ctx context.Context, height uint32) error

	// TipHeight returns the maximum height of a non-orphaned block, or
	// zero if the store is empty.
	TipHeight(ctx context.Context) (uint32, error)

	// Query returns every matching output whose owning block is not
	// orphaned, alongside the full set of non-orphaned heights in
	// [StartHeight, EndHeight] that were consulted to answer it — spec.md's
	// scanned_blocks, which a caller must report even when Fingerprints
	// matched nothing in an otherwise populated range.
	Query(ctx context.Context, q Query) ([]Candidate, []uint32, error)

	// MissingHeights returns up to limit heights in [0, maxHeight] that
	// have no non-orphaned block recorded, used by the ingester to detect
	// and backfill gaps left by a slow-consumer pause or a crash.
	MissingHeights(ctx context.Context, maxHeight uint32, limit uint32) ([]uint32, error)
}
