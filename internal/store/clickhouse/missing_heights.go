package clickhouse

import (
	"context"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// MissingHeights returns up to limit heights in [0, maxHeight] with no
// non-orphaned block recorded, ascending. Adapted from the teacher's
// RandomMissingBlockHeights gap-scan (LEFT ANTI JOIN against numbers()),
// ordered instead of randomized since a gap-filling ingester wants to
// backfill the oldest hole first.
func (r *Repository) MissingHeights(ctx context.Context, maxHeight uint32, limit uint32) ([]uint32, error) {
	start := time.Now()
	var err error
	defer func() { r.metrics.Observe("missing_heights", err, start) }()

	if limit == 0 {
		return nil, nil
	}

	const query = `
WITH toUInt32(?) AS mx
SELECT number AS height
FROM numbers(mx + 1) AS m
LEFT ANTI JOIN (
	SELECT height
	FROM whisper_blocks FINAL
	WHERE is_orphan = 0 AND height <= mx
) AS b ON b.height = m.number
WHERE m.number <= mx
ORDER BY height ASC
LIMIT ?`

	rows, qerr := r.conn.Query(ctx, query, maxHeight, limit)
	if qerr != nil {
		err = classifyConnErr("query missing heights", qerr)
		return nil, err
	}
	defer rows.Close()

	var heights []uint32
	for rows.Next() {
		var height uint32
		if err = rows.Scan(&height); err != nil {
			err = whisperr.Wrap(whisperr.StoreUnavailable, "scan missing height", err)
			return nil, err
		}
		heights = append(heights, height)
	}
	if err = rows.Err(); err != nil {
		err = whisperr.Wrap(whisperr.StoreUnavailable, "iterate missing heights", err)
		return nil, err
	}
	return heights, nil
}
