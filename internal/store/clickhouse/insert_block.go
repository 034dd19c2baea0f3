package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/store"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// InsertBlock stores a block, its transactions, and its outputs. Idempotency
// is checked against whisper_blocks by height before any row is written:
// same hash at that height is a silent no-op, a different hash is a
// StoreConflict fatal to this ingest attempt. ClickHouse offers no
// multi-table ACID transaction, so the three PrepareBatch/Send calls below
// are the closest approximation available; a failure partway through is
// surfaced to the ingester, which is expected to re-run this call — every
// insert here is itself idempotent by (height) or (tx-id, vout) uniqueness,
// so a retry after partial failure converges rather than duplicating rows.
// insertBlockRow always writes one version above whatever is currently on
// record at that height, orphaned or not, so re-ingesting a block that was
// previously marked orphan outranks the orphaned row on FINAL/merge instead
// of being discarded in its favor.
func (r *Repository) InsertBlock(ctx context.Context, block store.IndexedBlock, txs []store.IndexedTransaction, outputs []store.IndexedOutput) error {
	start := time.Now()
	var err error
	defer func() { r.metrics.Observe("insert_block", err, start) }()

	existingHash, found, err := r.existingBlockHash(ctx, block.Height)
	if err != nil {
		return err
	}
	if found {
		if existingHash == block.Hash {
			err = nil
			return nil
		}
		err = whisperr.New(whisperr.StoreConflict, "block height already recorded under a different hash")
		return err
	}

	if err = r.insertBlockRow(ctx, block); err != nil {
		return err
	}
	if err = r.insertTransactionRows(ctx, txs); err != nil {
		return err
	}
	if err = r.insertOutputRows(ctx, outputs); err != nil {
		return err
	}
	return nil
}

func (r *Repository) existingBlockHash(ctx context.Context, height uint32) ([32]byte, bool, error) {
	const query = `
SELECT hash
FROM whisper_blocks FINAL
WHERE height = ? AND is_orphan = 0
LIMIT 1`

	rows, err := r.conn.Query(ctx, query, height)
	if err != nil {
		return [32]byte{}, false, classifyConnErr("query existing block", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return [32]byte{}, false, nil
	}

	var hash []byte
	if err := rows.Scan(&hash); err != nil {
		return [32]byte{}, false, whisperr.Wrap(whisperr.StoreUnavailable, "scan existing block hash", err)
	}
	var out [32]byte
	copy(out[:], hash)
	return out, true, nil
}

func (r *Repository) insertBlockRow(ctx context.Context, block store.IndexedBlock) error {
	current, err := r.currentBlockVersion(ctx, block.Height)
	if err != nil {
		return err
	}

	const query = `
INSERT INTO whisper_blocks (height, hash, header, is_orphan, version, inserted_at) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return classifyConnErr("prepare block batch", err)
	}

	orphan := uint8(0)
	if block.IsOrphan {
		orphan = 1
	}
	if err := batch.Append(block.Height, block.Hash[:], block.Header[:], orphan, current+1, time.Now().UTC()); err != nil {
		return whisperr.Wrap(whisperr.StoreUnavailable, "append block", err)
	}
	if err := batch.Send(); err != nil {
		return classifyConnErr("insert block", err)
	}
	return nil
}

// currentBlockVersion returns the highest version recorded at height,
// across is_orphan states, or zero if the height has never been written.
// insertBlockRow always writes current+1 so a block re-ingested after
// MarkOrphan outranks the orphaned row on ReplacingMergeTree's merge
// instead of being silently discarded in its favor.
func (r *Repository) currentBlockVersion(ctx context.Context, height uint32) (uint64, error) {
	const query = `
SELECT version
FROM whisper_blocks FINAL
WHERE height = ?
LIMIT 1`

	rows, err := r.conn.Query(ctx, query, height)
	if err != nil {
		return 0, classifyConnErr("query block version", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, nil
	}

	var version uint64
	if err := rows.Scan(&version); err != nil {
		return 0, whisperr.Wrap(whisperr.StoreUnavailable, "scan block version", err)
	}
	return version, nil
}

func (r *Repository) insertTransactionRows(ctx context.Context, txs []store.IndexedTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	const query = `
INSERT INTO whisper_transactions (txid, block_height, index_in_block, is_coinbase, raw) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return classifyConnErr("prepare transaction batch", err)
	}

	for _, tx := range txs {
		if err := batch.Append(tx.TxID[:], tx.BlockHeight, tx.IndexInBlock, tx.IsCoinbase, tx.Raw); err != nil {
			return whisperr.Wrap(whisperr.StoreUnavailable, "append transaction", err)
		}
	}
	if err := batch.Send(); err != nil {
		return classifyConnErr("insert transactions", err)
	}
	return nil
}

func (r *Repository) insertOutputRows(ctx context.Context, outputs []store.IndexedOutput) error {
	if len(outputs) == 0 {
		return nil
	}

	const query = `
INSERT INTO whisper_outputs (
	txid, vout, block_height, script_pubkey, amount, x_only_key, fingerprint
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return classifyConnErr("prepare output batch", err)
	}

	for _, out := range outputs {
		if err := batch.Append(
			out.TxID[:],
			out.Vout,
			out.BlockHeight,
			out.ScriptPubKey[:],
			out.Amount,
			out.XOnlyKey[:],
			out.Fingerprint,
		); err != nil {
			return whisperr.Wrap(whisperr.StoreUnavailable, fmt.Sprintf("append output vout=%d", out.Vout), err)
		}
	}
	if err := batch.Send(); err != nil {
		return classifyConnErr("insert outputs", err)
	}
	return nil
}
