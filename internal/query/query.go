// Package query implements the server side of the C4 protocol: request
// validation against spec.md §4.4's bounds, and translating a validated
// request into an internal/store.Query.
package query

import (
	"context"
	"time"

	"github.com/SakshamSinghal20/Whisper/internal/spcrypto"
	"github.com/SakshamSinghal20/Whisper/internal/store"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

const (
	maxRangeSpan     = 1000
	maxFingerprints  = 1000
	scanPubkeyLength = 33
)

// ScanRequest is the server-side decoded form of a scan request.
type ScanRequest struct {
	ScanPubkey    []byte
	StartHeight   uint32
	EndHeight     uint32
	Fingerprints  []uint32
	IncludeProofs bool
}

// Candidate is one server response row.
type Candidate struct {
	TxID           [32]byte
	Vout           uint32
	Amount         uint64
	ScriptPubKey   [34]byte
	BlockHeight    uint32
	BlockHash      [32]byte
	BlockTimestamp int64
}

// ScanResponse is the full server response.
type ScanResponse struct {
	Candidates    []Candidate
	ScannedBlocks []uint32
	ServerTimeMs  int64
}

// Validate enforces spec.md §4.4's bounds, returning a BadRequest error
// naming the first violation found. The server MUST NOT return partial
// results on bad input, so this check runs before any store access.
func (r ScanRequest) Validate() error {
	if len(r.ScanPubkey) != scanPubkeyLength {
		return whisperr.New(whisperr.BadRequest, "scan_pubkey must be 33 bytes compressed")
	}
	if _, err := spcrypto.PointFromCompressed(r.ScanPubkey); err != nil {
		return whisperr.Wrap(whisperr.BadRequest, "scan_pubkey is not a well-formed point", err)
	}
	if r.EndHeight < r.StartHeight {
		return whisperr.New(whisperr.BadRequest, "end_height must be >= start_height")
	}
	if r.EndHeight-r.StartHeight > maxRangeSpan {
		return whisperr.New(whisperr.BadRequest, "height range exceeds 1000 blocks")
	}
	if len(r.Fingerprints) == 0 {
		return whisperr.New(whisperr.BadRequest, "fingerprints must not be empty")
	}
	if len(r.Fingerprints) > maxFingerprints {
		return whisperr.New(whisperr.BadRequest, "fingerprints exceeds 1000 entries")
	}
	return nil
}

// Store is the subset of store.Store the query handler depends on.
type Store interface {
	Query(ctx context.Context, q store.Query) ([]store.Candidate, []uint32, error)
}

// Handle validates req and, if valid, consults store for matching
// candidates. It performs no cryptographic filtering: the scan pubkey is
// accepted for transport symmetry only, per spec.md §4.4.
func Handle(ctx context.Context, s Store, req ScanRequest) (ScanResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return ScanResponse{}, err
	}

	results, scannedBlocks, err := s.Query(ctx, store.Query{
		Fingerprints: req.Fingerprints,
		StartHeight:  req.StartHeight,
		EndHeight:    req.EndHeight,
	})
	if err != nil {
		return ScanResponse{}, err
	}

	candidates := make([]Candidate, 0, len(results))
	for _, c := range results {
		candidates = append(candidates, Candidate{
			TxID:           c.Output.TxID,
			Vout:           c.Output.Vout,
			Amount:         c.Output.Amount,
			ScriptPubKey:   c.Output.ScriptPubKey,
			BlockHeight:    c.Output.BlockHeight,
			BlockHash:      c.BlockHash,
			BlockTimestamp: c.BlockTimestamp,
		})
	}

	return ScanResponse{
		Candidates:    candidates,
		ScannedBlocks: scannedBlocks,
		ServerTimeMs:  time.Since(start).Milliseconds(),
	}, nil
}
