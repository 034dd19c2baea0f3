package clickhouse

import (
	"context"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// TipHeight returns the maximum height of a non-orphaned block, or zero if
// the store is empty. FINAL forces ReplacingMergeTree deduplication so a
// pending orphan-mark merge cannot make a stale row look like the tip.
func (r *Repository) TipHeight(ctx context.Context) (uint32, error) {
	start := time.Now()
	var err error
	defer func() { r.metrics.Observe("tip_height", err, start) }()

	const query = `
SELECT coalesce(max(height), toUInt32(0))
FROM whisper_blocks FINAL
WHERE is_orphan = 0`

	rows, qerr := r.conn.Query(ctx, query)
	if qerr != nil {
		err = classifyConnErr("query tip height", qerr)
		return 0, err
	}
	defer rows.Close()

	var height uint32
	if !rows.Next() {
		err = whisperr.New(whisperr.StoreUnavailable, "tip height query returned no row")
		return 0, err
	}
	if err = rows.Scan(&height); err != nil {
		err = whisperr.Wrap(whisperr.StoreUnavailable, "scan tip height", err)
		return 0, err
	}
	if err = rows.Err(); err != nil {
		err = whisperr.Wrap(whisperr.StoreUnavailable, "iterate tip height", err)
		return 0, err
	}
	return height, nil
}
