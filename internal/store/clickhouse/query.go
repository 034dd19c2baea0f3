package clickhouse

import (
	"context"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/store"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// Query performs the prefix+range scan spec.md §4.3 requires: every output
// whose fingerprint is in q.Fingerprints, whose block height is within
// [StartHeight, EndHeight], and whose owning block is not orphaned. The
// join against whisper_blocks (keyed by height, deduplicated with FINAL)
// both filters orphans and supplies the block hash/timestamp the Candidate
// needs. whisper_outputs' ORDER BY (fingerprint, block_height) is the
// physical sort key ClickHouse uses to satisfy the fingerprint IN (...)
// predicate without a full scan.
//
// The second return is scanned_blocks: every non-orphaned height in
// [StartHeight, EndHeight], independent of whether a fingerprint matched
// anything there. It is fetched separately from the candidate rows because
// a range with no matching output must still report the heights that were
// actually consulted (spec.md §6, worked scenario S1) rather than an empty
// list derived from zero result rows.
func (r *Repository) Query(ctx context.Context, q store.Query) ([]store.Candidate, []uint32, error) {
	start := time.Now()
	var err error
	defer func() { r.metrics.Observe("query", err, start) }()

	var scanned []uint32
	scanned, err = r.scannedHeights(ctx, q.StartHeight, q.EndHeight)
	if err != nil {
		return nil, nil, err
	}

	if len(q.Fingerprints) == 0 {
		return nil, scanned, nil
	}

	const sql = `
SELECT
	o.txid, o.vout, o.block_height, o.script_pubkey, o.amount, o.x_only_key, o.fingerprint,
	b.hash, b.inserted_at
FROM whisper_outputs o
INNER JOIN (
	SELECT height, hash, inserted_at
	FROM whisper_blocks FINAL
	WHERE is_orphan = 0
) AS b ON b.height = o.block_height
WHERE o.fingerprint IN ? AND o.block_height BETWEEN ? AND ?`

	rows, qerr := r.conn.Query(ctx, sql, q.Fingerprints, q.StartHeight, q.EndHeight)
	if qerr != nil {
		err = classifyConnErr("query outputs", qerr)
		return nil, nil, err
	}
	defer rows.Close()

	var results []store.Candidate
	for rows.Next() {
		var (
			txid, script, xOnly, hash []byte
			vout, blockHeight         uint32
			amount                    uint64
			fingerprint               uint32
			insertedAt                time.Time
		)
		if err = rows.Scan(&txid, &vout, &blockHeight, &script, &amount, &xOnly, &fingerprint, &hash, &insertedAt); err != nil {
			err = whisperr.Wrap(whisperr.StoreUnavailable, "scan candidate row", err)
			return nil, nil, err
		}

		var candidate store.Candidate
		copy(candidate.Output.TxID[:], txid)
		candidate.Output.Vout = vout
		candidate.Output.BlockHeight = blockHeight
		copy(candidate.Output.ScriptPubKey[:], script)
		candidate.Output.Amount = amount
		copy(candidate.Output.XOnlyKey[:], xOnly)
		candidate.Output.Fingerprint = fingerprint
		copy(candidate.BlockHash[:], hash)
		candidate.BlockTimestamp = insertedAt.Unix()

		results = append(results, candidate)
	}
	if err = rows.Err(); err != nil {
		err = whisperr.Wrap(whisperr.StoreUnavailable, "iterate candidates", err)
		return nil, nil, err
	}
	return results, scanned, nil
}

// scannedHeights lists every non-orphaned block height in [lo, hi],
// regardless of whether it holds any output at all.
func (r *Repository) scannedHeights(ctx context.Context, lo, hi uint32) ([]uint32, error) {
	const sql = `
SELECT height
FROM whisper_blocks FINAL
WHERE is_orphan = 0 AND height BETWEEN ? AND ?
ORDER BY height ASC`

	rows, qerr := r.conn.Query(ctx, sql, lo, hi)
	if qerr != nil {
		return nil, classifyConnErr("query scanned heights", qerr)
	}
	defer rows.Close()

	var heights []uint32
	for rows.Next() {
		var height uint32
		if err := rows.Scan(&height); err != nil {
			return nil, whisperr.Wrap(whisperr.StoreUnavailable, "scan block height", err)
		}
		heights = append(heights, height)
	}
	if err := rows.Err(); err != nil {
		return nil, whisperr.Wrap(whisperr.StoreUnavailable, "iterate scanned heights", err)
	}
	return heights, nil
}
