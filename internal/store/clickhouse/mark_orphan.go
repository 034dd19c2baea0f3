package clickhouse

import (
	"context"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// MarkOrphan flips is_orphan for the block at height. whisper_blocks is a
// ReplacingMergeTree keyed on height and versioned, so a mutation is
// expressed as inserting a new, higher-versioned row rather than an
// in-place ALTER UPDATE: this is the idiomatic ClickHouse way to model the
// single mutable field spec.md permits on an otherwise-immutable row.
func (r *Repository) MarkOrphan(ctx context.Context, height uint32) error {
	start := time.Now()
	var err error
	defer func() { r.metrics.Observe("mark_orphan", err, start) }()

	const selectQuery = `
SELECT hash, header, version
FROM whisper_blocks FINAL
WHERE height = ?
LIMIT 1`

	rows, err := r.conn.Query(ctx, selectQuery, height)
	if err != nil {
		err = classifyConnErr("query block to orphan", err)
		return err
	}

	var (
		hash    []byte
		header  []byte
		version uint64
	)
	if !rows.Next() {
		rows.Close()
		err = whisperr.New(whisperr.BadRequest, "no block recorded at that height")
		return err
	}
	if err = rows.Scan(&hash, &header, &version); err != nil {
		rows.Close()
		err = whisperr.Wrap(whisperr.StoreUnavailable, "scan block to orphan", err)
		return err
	}
	rows.Close()

	const insertQuery = `
INSERT INTO whisper_blocks (height, hash, header, is_orphan, version, inserted_at) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		err = classifyConnErr("prepare orphan batch", err)
		return err
	}
	if err = batch.Append(height, hash, header, uint8(1), version+1, time.Now().UTC()); err != nil {
		err = whisperr.Wrap(whisperr.StoreUnavailable, "append orphan row", err)
		return err
	}
	if err = batch.Send(); err != nil {
		err = classifyConnErr("insert orphan row", err)
		return err
	}
	return nil
}
