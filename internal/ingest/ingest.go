// Package ingest runs the single-writer block ingestion loop: receive one
// raw block, parse it, and persist it, holding exclusive writer access to
// the store. It implements spec.md §4.4's indexer state machine (unseen →
// received → parsed → persisted|failed) and the slow-consumer backpressure
// policy of §5 — a block is never dropped, the loop blocks the source
// until the current block is wholly persisted or wholly failed.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SakshamSinghal20/Whisper/internal/chainparser"
	"github.com/SakshamSinghal20/Whisper/internal/clock"
	"github.com/SakshamSinghal20/Whisper/internal/spcrypto"
	"github.com/SakshamSinghal20/Whisper/internal/store"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// BlockSource is a push stream of raw serialised Bitcoin blocks. ReceiveBlock
// blocks until the next block is available or returns an error when the
// source disconnects; reconnection is this package's concern, not the
// source's.
type BlockSource interface {
	ReceiveBlock(ctx context.Context) ([]byte, error)
}

// HeightFallback resolves a block's height by hash when the parser cannot
// recover it from the coinbase (pre-BIP-34 or ambiguous encodings).
type HeightFallback interface {
	BlockHeightByHash(ctx context.Context, hash [32]byte) (uint32, error)
}

// GapSource fetches a single historical block by height, addressing heights
// store.Store.MissingHeights reports as never persisted below the current
// tip — a block this ingester previously dropped as BadBlock/StoreConflict,
// or one it crashed before writing. Reconciliation is skipped entirely when
// nil, for a source that cannot address an arbitrary historical height.
type GapSource interface {
	FetchBlock(ctx context.Context, height uint32) ([]byte, error)
}

// Metrics observes ingestion outcomes.
type Metrics interface {
	ObserveBlock(err error, started time.Time)
	ObserveReconnect(attempt int)
}

const (
	initialBackoff = time.Second
	maxBackoff     = 2 * time.Minute
	storeRetryWait = 5 * time.Second

	// gapReconcileInterval is how many successfully received blocks pass
	// between backfill scans of the range below the current tip.
	gapReconcileInterval = 500
	// gapReconcileLimit bounds a single scan so a large gap is backfilled
	// incrementally across several reconciliation passes instead of one
	// unbounded query.
	gapReconcileLimit = 200
)

// Ingester runs the ingestion loop described above.
type Ingester struct {
	logger   *zap.Logger
	source   BlockSource
	fallback HeightFallback
	gaps     GapSource
	store    store.Store
	metrics  Metrics
	sleep    func(context.Context, time.Duration) error
}

// New builds an Ingester. fallback may be nil; blocks that need it and
// don't have it fail with BadBlock, per spec.md §6. gaps may be nil, in
// which case missing-height backfill is skipped entirely.
func New(source BlockSource, fallback HeightFallback, gaps GapSource, s store.Store, metrics Metrics, logger *zap.Logger) *Ingester {
	return &Ingester{
		logger:   logger.Named("ingest"),
		source:   source,
		fallback: fallback,
		gaps:     gaps,
		store:    s,
		metrics:  metrics,
		sleep:    clock.SleepWithContext,
	}
}

// Run drives the loop until ctx is canceled.
func (in *Ingester) Run(ctx context.Context) error {
	backoff := initialBackoff
	attempt := 0

	if err := in.reconcileGaps(ctx); err != nil {
		return err
	}

	received := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := in.source.ReceiveBlock(ctx)
		if err != nil {
			attempt++
			in.metrics.ObserveReconnect(attempt)
			in.logger.Warn("block source disconnected, reconnecting",
				zap.Error(err), zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			if waitErr := in.sleep(ctx, backoff); waitErr != nil {
				return waitErr
			}
			backoff = nextBackoff(backoff)
			continue
		}
		attempt = 0
		backoff = initialBackoff

		if err := in.processWithRetry(ctx, raw); err != nil {
			return err
		}

		received++
		if received%gapReconcileInterval == 0 {
			if err := in.reconcileGaps(ctx); err != nil {
				return err
			}
		}
	}
}

// reconcileGaps backfills heights below the store's tip that were never
// persisted with a non-orphaned block — left behind by a prior BadBlock/
// StoreConflict drop, or a crash between receiving and persisting. It is a
// no-op when no GapSource is configured, when the store is still empty, or
// when the scan itself fails: a failed backfill scan should not take down
// the primary receive loop.
func (in *Ingester) reconcileGaps(ctx context.Context) error {
	if in.gaps == nil {
		return nil
	}

	tip, err := in.store.TipHeight(ctx)
	if err != nil {
		return err
	}
	if tip == 0 {
		return nil
	}

	missing, err := in.store.MissingHeights(ctx, tip, gapReconcileLimit)
	if err != nil {
		in.logger.Warn("gap scan failed, continuing without backfill", zap.Error(err))
		return nil
	}
	if len(missing) == 0 {
		return nil
	}

	in.logger.Info("backfilling missing heights", zap.Uint32s("heights", missing))
	for _, height := range missing {
		raw, fetchErr := in.gaps.FetchBlock(ctx, height)
		if fetchErr != nil {
			in.logger.Warn("gap backfill fetch failed", zap.Uint32("height", height), zap.Error(fetchErr))
			continue
		}
		if err := in.processWithRetry(ctx, raw); err != nil {
			return err
		}
	}
	return nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// processWithRetry persists one block, pausing with a bounded retry on
// StoreUnavailable/StoreBusy rather than dropping the block (§5
// backpressure). A BadBlock failure is terminal for this block only: it is
// logged and the loop moves on to the next block, per §4.2's "dropped with
// a reason logged."
func (in *Ingester) processWithRetry(ctx context.Context, raw []byte) error {
	correlationID := uuid.New().String()
	log := in.logger.With(zap.String("correlation_id", correlationID))

	for {
		started := time.Now()
		err := in.processBlock(ctx, raw)
		in.metrics.ObserveBlock(err, started)

		if err == nil {
			return nil
		}

		switch whisperr.KindOf(err) {
		case whisperr.StoreUnavailable, whisperr.StoreBusy:
			log.Warn("store unavailable, pausing before retry", zap.Error(err))
			if waitErr := in.sleep(ctx, storeRetryWait); waitErr != nil {
				return waitErr
			}
			continue
		case whisperr.BadBlock:
			log.Warn("block rejected", zap.Error(err))
			return nil
		case whisperr.StoreConflict:
			log.Error("block conflicts with stored history, dropping", zap.Error(err))
			return nil
		default:
			log.Error("unexpected ingest failure, dropping block", zap.Error(err))
			return nil
		}
	}
}

func (in *Ingester) processBlock(ctx context.Context, raw []byte) error {
	parsed, err := chainparser.ParseBlock(raw)
	if err != nil {
		parsed, err = in.parseWithFallback(ctx, raw, err)
		if err != nil {
			return err
		}
	}

	block := store.IndexedBlock{Height: parsed.Height}
	block.Hash = parsed.Hash
	var headerBytes [80]byte
	copy(headerBytes[:], serializeHeader(parsed))
	block.Header = headerBytes

	var txs []store.IndexedTransaction
	var outputs []store.IndexedOutput
	for _, tx := range parsed.Transactions {
		txs = append(txs, store.IndexedTransaction{
			TxID:         tx.TxID,
			BlockHeight:  parsed.Height,
			IndexInBlock: uint32(tx.Index),
			IsCoinbase:   tx.Index == 0,
		})
		for _, out := range tx.Outputs {
			outputs = append(outputs, store.IndexedOutput{
				TxID:         tx.TxID,
				Vout:         out.Vout,
				BlockHeight:  parsed.Height,
				ScriptPubKey: out.ScriptPubKey,
				Amount:       out.Amount,
				XOnlyKey:     out.XOnlyKey,
				Fingerprint:  spcrypto.Fingerprint(out.XOnlyKey),
			})
		}
	}

	return in.store.InsertBlock(ctx, block, txs, outputs)
}

// parseWithFallback retries a ParseBlock failure through the height-fallback
// RPC (§6): it recovers the block hash from the fixed header alone (valid
// regardless of why height extraction failed) and asks the collaborator to
// resolve height by hash. Absent a fallback, or if the fallback itself
// fails, the original parse error is returned unchanged.
func (in *Ingester) parseWithFallback(ctx context.Context, raw []byte, parseErr error) (*chainparser.ParsedBlock, error) {
	if in.fallback == nil {
		return nil, parseErr
	}

	hash, hashErr := chainparser.HashHeader(raw)
	if hashErr != nil {
		return nil, parseErr
	}

	height, fallbackErr := in.fallback.BlockHeightByHash(ctx, hash)
	if fallbackErr != nil {
		return nil, whisperr.Wrap(whisperr.BadBlock, "height unavailable and fallback lookup failed", fallbackErr)
	}

	return chainparser.ParseBlockWithHeight(raw, height)
}

func serializeHeader(parsed *chainparser.ParsedBlock) []byte {
	buf := make([]byte, 0, 80)
	var tmp [4]byte
	putUint32LE := func(v uint32) {
		tmp[0] = byte(v)
		tmp[1] = byte(v >> 8)
		tmp[2] = byte(v >> 16)
		tmp[3] = byte(v >> 24)
		buf = append(buf, tmp[:]...)
	}
	putUint32LE(uint32(parsed.Header.Version))
	buf = append(buf, parsed.Header.PrevBlock[:]...)
	buf = append(buf, parsed.Header.MerkleRoot[:]...)
	putUint32LE(uint32(parsed.Header.Timestamp.Unix()))
	putUint32LE(parsed.Header.Bits)
	putUint32LE(parsed.Header.Nonce)
	return buf
}
