// Package client implements the wallet side of the C4 protocol: deriving
// the fingerprints a scan request submits, and re-deriving the expected
// output for each candidate the server returns to eliminate false
// positives before anything is trusted. It never sends b_scan or a tweak
// anywhere; those stay in the process that owns the Wallet value.
package client

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/SakshamSinghal20/Whisper/internal/spcrypto"
)

// TxInput is one eligible input of a candidate's transaction, resolved by
// an InputResolver from the previous output it spends. Pubkey is the
// point BIP-352 sums into A_sum; the smallest-outpoint tie-break is the
// resolver's responsibility to report via Outpoint.
type TxInput struct {
	Outpoint  [36]byte
	Pubkey    *btcec.PublicKey
	IsTaproot bool
}

// Candidate mirrors the server's scan response entry (internal/query.
// Candidate, internal/api's candidateBody) in the shape the client works
// with after hex-decoding the wire fields.
type Candidate struct {
	TxID           [32]byte
	Vout           uint32
	Amount         uint64
	ScriptPubKey   [34]byte
	BlockHeight    uint32
	BlockHash      [32]byte
	BlockTimestamp int64
}

// ScanResult is one output confirmed to belong to the wallet, per
// spec.md §4.4 step 4: the candidate fields plus the spend tweak and the
// label that matched.
type ScanResult struct {
	Candidate
	Label      uint32
	SpendTweak [32]byte
}

func candidatePoint(c Candidate) (spcrypto.XOnlyKey, bool) {
	if c.ScriptPubKey[0] != 0x51 || c.ScriptPubKey[1] != 0x20 {
		return spcrypto.XOnlyKey{}, false
	}
	var x spcrypto.XOnlyKey
	copy(x[:], c.ScriptPubKey[2:])
	return x, true
}
