package rpcresolver

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	byHash map[chainhash.Hash]*btcjson.TxRawResult
}

func (s *stubFetcher) GetRawTransactionVerbose(hash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	tx, ok := s.byHash[*hash]
	if !ok {
		return nil, assertErr
	}
	return tx, nil
}

var assertErr = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

type noopMetrics struct{}

func (noopMetrics) Observe(string, error, time.Time) {}

func TestResolveInputsExtractsTaprootPrevout(t *testing.T) {
	_, prevPub := generateKeypair(t)
	xOnly := schnorrXOnly(t, prevPub)

	prevHash := hashOf(t, 0x11)
	candidateHash := hashOf(t, 0x22)

	fetcher := &stubFetcher{byHash: map[chainhash.Hash]*btcjson.TxRawResult{
		*candidateHash: {
			Vin: []btcjson.Vin{{Txid: prevHash.String(), Vout: 0}},
		},
		*prevHash: {
			Vout: []btcjson.Vout{{N: 0, ScriptPubKey: btcjson.ScriptPubKeyResult{
				Hex: "5120" + hex.EncodeToString(xOnly),
			}}},
		},
	}}

	r := &Resolver{rpc: fetcher, metrics: noopMetrics{}}
	var txid [32]byte
	copy(txid[:], candidateHash[:])

	inputs, err := r.ResolveInputs(context.Background(), txid)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.True(t, inputs[0].IsTaproot)
	assert.Equal(t, prevPub.SerializeCompressed()[1:], inputs[0].Pubkey.SerializeCompressed()[1:])
}

func TestResolveInputsSkipsCoinbase(t *testing.T) {
	candidateHash := hashOf(t, 0x33)
	fetcher := &stubFetcher{byHash: map[chainhash.Hash]*btcjson.TxRawResult{
		*candidateHash: {Vin: []btcjson.Vin{{Coinbase: "abcd"}}},
	}}

	r := &Resolver{rpc: fetcher, metrics: noopMetrics{}}
	var txid [32]byte
	copy(txid[:], candidateHash[:])

	inputs, err := r.ResolveInputs(context.Background(), txid)
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestResolveInputsSkipsUnrecognisedScript(t *testing.T) {
	prevHash := hashOf(t, 0x44)
	candidateHash := hashOf(t, 0x55)

	fetcher := &stubFetcher{byHash: map[chainhash.Hash]*btcjson.TxRawResult{
		*candidateHash: {Vin: []btcjson.Vin{{Txid: prevHash.String(), Vout: 0}}},
		*prevHash: {
			Vout: []btcjson.Vout{{N: 0, ScriptPubKey: btcjson.ScriptPubKeyResult{
				Hex: "76a914" + hex.EncodeToString(make([]byte, 20)) + "88ac",
			}}},
		},
	}}

	r := &Resolver{rpc: fetcher, metrics: noopMetrics{}}
	var txid [32]byte
	copy(txid[:], candidateHash[:])

	inputs, err := r.ResolveInputs(context.Background(), txid)
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func generateKeypair(t *testing.T) (*btcec.PrivateKey, *btcec.PublicKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv, priv.PubKey()
}

func schnorrXOnly(t *testing.T, pub *btcec.PublicKey) []byte {
	t.Helper()
	b := pub.SerializeCompressed()
	return b[1:]
}

func hashOf(t *testing.T, seed byte) *chainhash.Hash {
	t.Helper()
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	h, err := chainhash.NewHash(b[:])
	require.NoError(t, err)
	return h
}
