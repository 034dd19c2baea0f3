package client

import (
	"context"
	"sync"

	"github.com/SakshamSinghal20/Whisper/pkg/workerpool"
)

// InputResolver obtains the data needed to compute A_sum for a candidate
// transaction: spec.md §6 places this out of scope for the core ("any
// full-node RPC or other indexer may provide it"). client/rpcresolver
// implements this against a Bitcoin Core RPC endpoint.
type InputResolver interface {
	ResolveInputs(ctx context.Context, txid [32]byte) ([]TxInput, error)
}

// resolveWorkers bounds how many transactions ResolveAll resolves
// concurrently against the resolver's backing RPC endpoint.
const resolveWorkers = 8

// ResolveAll fetches inputs for every distinct transaction referenced by
// candidates, building the map Wallet.Verify expects, resolving up to
// resolveWorkers transactions concurrently. A resolution failure for one
// transaction does not abort the others; that transaction's candidates
// are simply left unverifiable and dropped by Verify (absent from the
// returned map), so workerpool.Process's onCancel is never invoked here.
func ResolveAll(ctx context.Context, resolver InputResolver, candidates []Candidate) (map[[32]byte][]TxInput, error) {
	var txids []([32]byte)
	seen := make(map[[32]byte]bool)
	for _, c := range candidates {
		if seen[c.TxID] {
			continue
		}
		seen[c.TxID] = true
		txids = append(txids, c.TxID)
	}

	var mu sync.Mutex
	result := make(map[[32]byte][]TxInput)

	err := workerpool.Process(ctx, resolveWorkers, txids, func(ctx context.Context, txid [32]byte) error {
		inputs, err := resolver.ResolveInputs(ctx, txid)
		if err != nil {
			return nil // unresolvable transaction, dropped rather than aborting the batch
		}
		mu.Lock()
		result[txid] = inputs
		mu.Unlock()
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}
