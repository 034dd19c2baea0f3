package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SakshamSinghal20/Whisper/internal/spcrypto"
	"github.com/SakshamSinghal20/Whisper/internal/store"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

func validPubkey(t *testing.T) []byte {
	t.Helper()
	var b [32]byte
	b[31] = 0x02
	s, err := spcrypto.ScalarFromBytes(b)
	require.NoError(t, err)
	return spcrypto.ScalarBasePoint(s).SerializeCompressed()
}

func baseRequest(t *testing.T) ScanRequest {
	return ScanRequest{
		ScanPubkey:   validPubkey(t),
		StartHeight:  0,
		EndHeight:    10,
		Fingerprints: []uint32{0xdeadbeef},
	}
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	require.NoError(t, baseRequest(t).Validate())
}

func TestValidateRejectsBadPubkeyLength(t *testing.T) {
	req := baseRequest(t)
	req.ScanPubkey = []byte{0x02, 0x03}
	err := req.Validate()
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadRequest))
}

func TestValidateRejectsEndBeforeStart(t *testing.T) {
	req := baseRequest(t)
	req.StartHeight, req.EndHeight = 10, 5
	err := req.Validate()
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadRequest))
}

func TestValidateAcceptsExactly1000RangeSpan(t *testing.T) {
	req := baseRequest(t)
	req.StartHeight, req.EndHeight = 0, 1000
	require.NoError(t, req.Validate())
}

func TestValidateRejects1001RangeSpan(t *testing.T) {
	req := baseRequest(t)
	req.StartHeight, req.EndHeight = 0, 1001
	err := req.Validate()
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadRequest))
}

func TestValidateRejectsEmptyFingerprints(t *testing.T) {
	req := baseRequest(t)
	req.Fingerprints = nil
	err := req.Validate()
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadRequest))
}

func TestValidateAcceptsExactly1000Fingerprints(t *testing.T) {
	req := baseRequest(t)
	req.Fingerprints = make([]uint32, 1000)
	require.NoError(t, req.Validate())
}

func TestValidateRejects1001Fingerprints(t *testing.T) {
	req := baseRequest(t)
	req.Fingerprints = make([]uint32, 1001)
	err := req.Validate()
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadRequest))
}

type stubStore struct {
	results []store.Candidate
	scanned []uint32
	err     error
}

func (s stubStore) Query(ctx context.Context, q store.Query) ([]store.Candidate, []uint32, error) {
	return s.results, s.scanned, s.err
}

func TestHandleRejectsBadRequestWithoutTouchingStore(t *testing.T) {
	req := baseRequest(t)
	req.Fingerprints = nil

	called := false
	s := stubStoreFunc(func(ctx context.Context, q store.Query) ([]store.Candidate, []uint32, error) {
		called = true
		return nil, nil, nil
	})

	_, err := Handle(context.Background(), s, req)
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadRequest))
	assert.False(t, called)
}

type stubStoreFunc func(ctx context.Context, q store.Query) ([]store.Candidate, []uint32, error)

func (f stubStoreFunc) Query(ctx context.Context, q store.Query) ([]store.Candidate, []uint32, error) {
	return f(ctx, q)
}

func TestHandleReturnsScannedBlocksFromStore(t *testing.T) {
	req := baseRequest(t)
	s := stubStore{
		results: []store.Candidate{
			{Output: store.IndexedOutput{BlockHeight: 5}},
			{Output: store.IndexedOutput{BlockHeight: 7}},
		},
		scanned: []uint32{0, 5, 7},
	}

	resp, err := Handle(context.Background(), s, req)
	require.NoError(t, err)
	assert.Len(t, resp.Candidates, 2)
	assert.Equal(t, []uint32{0, 5, 7}, resp.ScannedBlocks)
}

// TestHandleReportsScannedBlocksWithNoMatches covers spec.md §6 worked
// scenario S1: a query over a range containing a present, non-orphaned
// block but zero matching outputs must still report that height as
// scanned, not an empty list.
func TestHandleReportsScannedBlocksWithNoMatches(t *testing.T) {
	req := baseRequest(t)
	s := stubStore{scanned: []uint32{0}}

	resp, err := Handle(context.Background(), s, req)
	require.NoError(t, err)
	assert.Empty(t, resp.Candidates)
	assert.Equal(t, []uint32{0}, resp.ScannedBlocks)
}

func TestHandlePropagatesStoreError(t *testing.T) {
	req := baseRequest(t)
	s := stubStore{err: whisperr.New(whisperr.StoreUnavailable, "down")}

	_, err := Handle(context.Background(), s, req)
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.StoreUnavailable))
}
