package client

import (
	"bytes"
	"sort"

	"github.com/SakshamSinghal20/Whisper/internal/spcrypto"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// maxOutputGap is the number of consecutive unmatched output indices the
// k-loop tolerates before giving up on a transaction, matching spec.md
// §4.4's "stops k at the first gap" convention interpreted as a
// zero-tolerance gap of one (the wallet stops on the very first k with no
// match across all labels).
const maxOutputGap = 0

// Wallet holds one recipient's viewing material: the scan keypair used for
// ECDH, the spend key labelled outputs are built from, and the label cap
// M. It never exposes ScanSecret to a caller beyond construction.
type Wallet struct {
	Scan     spcrypto.ScanKeypair
	Spend    spcrypto.SpendKey
	MaxLabel uint32

	labels spcrypto.LabelTable
}

// NewWallet builds a Wallet and its labelled address table for labels
// 0..maxLabel.
func NewWallet(scan spcrypto.ScanKeypair, spend spcrypto.SpendKey, maxLabel uint32) (*Wallet, error) {
	table, err := spcrypto.BuildLabelTable(spend, scan.Secret, maxLabel)
	if err != nil {
		return nil, err
	}
	return &Wallet{Scan: scan, Spend: spend, MaxLabel: maxLabel, labels: table}, nil
}

// BuildFingerprints derives the candidate fingerprint set for one
// transaction's eligible inputs: A_sum, the scan-side ECDH point, then
// s_0 and T_{0,m} for every labelled m, per spec.md §4.4 step 1-2 run
// against k=0 only (the set a wallet submits in its scan request; the
// server-side match still needs the full k-loop once candidates return).
func (w *Wallet) BuildFingerprints(inputs []TxInput) ([]uint32, error) {
	aSum, err := computeASum(inputs)
	if err != nil {
		return nil, err
	}
	ecdhPoint, err := spcrypto.ECDHSharedPoint(w.Scan.Secret, aSum)
	if err != nil {
		return nil, err
	}

	sharedSecret, err := spcrypto.SharedSecret(ecdhPoint, 0)
	if err != nil {
		return nil, err
	}

	fingerprints := make([]uint32, 0, w.MaxLabel+1)
	for m := uint32(0); m <= w.MaxLabel; m++ {
		labelPoint, ok := w.labels.Point(m)
		if !ok {
			return nil, whisperr.New(whisperr.BadCrypto, "label out of table range")
		}
		x, err := spcrypto.DeriveOutput(labelPoint, sharedSecret)
		if err != nil {
			return nil, err
		}
		fingerprints = append(fingerprints, spcrypto.Fingerprint(x))
	}
	return fingerprints, nil
}

// Verify implements spec.md §4.4's client path steps 2-4: for the inputs
// of each transaction that produced at least one candidate, it computes
// A_sum and the ECDH point once, then walks k = 0,1,… deriving T_{k,m}
// for every labelled m and keeping only candidates whose x-only key
// equals some derived point (BIP-352's false-positive elimination, §4.4's
// "MUST discard every candidate whose re-derived T disagrees"). inputs is
// keyed by lowercase-hex txid, matching the wire encoding candidates
// arrive in.
func (w *Wallet) Verify(candidates []Candidate, inputsByTx map[[32]byte][]TxInput) ([]ScanResult, error) {
	byTx := make(map[[32]byte][]Candidate)
	for _, c := range candidates {
		byTx[c.TxID] = append(byTx[c.TxID], c)
	}

	var results []ScanResult
	for txid, txCandidates := range byTx {
		inputs, ok := inputsByTx[txid]
		if !ok || len(inputs) == 0 {
			continue
		}

		matched, err := w.verifyTransaction(inputs, txCandidates)
		if err != nil {
			return nil, err
		}
		results = append(results, matched...)
	}
	return results, nil
}

func (w *Wallet) verifyTransaction(inputs []TxInput, candidates []Candidate) ([]ScanResult, error) {
	aSum, err := computeASum(inputs)
	if err != nil {
		return nil, err
	}
	ecdhPoint, err := spcrypto.ECDHSharedPoint(w.Scan.Secret, aSum)
	if err != nil {
		return nil, err
	}

	remaining := make(map[spcrypto.XOnlyKey]Candidate, len(candidates))
	for _, c := range candidates {
		if x, ok := candidatePoint(c); ok {
			remaining[x] = c
		}
	}

	var results []ScanResult
	consecutiveGaps := 0
	for k := uint32(0); len(remaining) > 0; k++ {
		sharedSecret, err := spcrypto.SharedSecret(ecdhPoint, k)
		if err != nil {
			return nil, err
		}

		matchedThisK := false
		for m := uint32(0); m <= w.MaxLabel; m++ {
			labelPoint, ok := w.labels.Point(m)
			if !ok {
				continue
			}
			x, err := spcrypto.DeriveOutput(labelPoint, sharedSecret)
			if err != nil {
				return nil, err
			}
			candidate, found := remaining[x]
			if !found {
				continue
			}
			matchedThisK = true
			delete(remaining, x)

			labelTweak, err := spcrypto.LabelTweak(w.Scan.Secret, m)
			if err != nil {
				return nil, err
			}
			tweak := spcrypto.SpendTweak(sharedSecret, labelTweak)
			results = append(results, ScanResult{
				Candidate:  candidate,
				Label:      m,
				SpendTweak: tweak.Bytes(),
			})
		}

		if matchedThisK {
			consecutiveGaps = 0
			continue
		}
		consecutiveGaps++
		if consecutiveGaps > maxOutputGap {
			break
		}
	}

	return results, nil
}

// computeASum folds a transaction's eligible input public keys into the
// single point BIP-352 sums into A_sum: sum(pubkeys), scaled by the
// input-hash scalar tagged_hash("BIP0352/Inputs", smallest_outpoint ||
// SER_P(sum)) that binds the shared secret to this specific input set.
func computeASum(inputs []TxInput) (spcrypto.Point, error) {
	eligible := make([]TxInput, 0, len(inputs))
	for _, in := range inputs {
		if in.Pubkey != nil {
			eligible = append(eligible, in)
		}
	}
	if len(eligible) == 0 {
		return spcrypto.Point{}, whisperr.New(whisperr.BadCrypto, "no eligible inputs")
	}

	points := make([]spcrypto.Point, len(eligible))
	for i, in := range eligible {
		pk, err := spcrypto.PointFromCompressed(in.Pubkey.SerializeCompressed())
		if err != nil {
			return spcrypto.Point{}, err
		}
		points[i] = pk
	}
	sum, err := spcrypto.SumPoints(points)
	if err != nil {
		return spcrypto.Point{}, err
	}

	smallest := smallestOutpoint(eligible)
	scalar, err := spcrypto.InputHash(smallest, sum)
	if err != nil {
		return spcrypto.Point{}, err
	}

	return spcrypto.ScalarMultPoint(scalar, sum)
}

func smallestOutpoint(inputs []TxInput) [36]byte {
	sorted := make([][36]byte, len(inputs))
	for i, in := range inputs {
		sorted[i] = in.Outpoint
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	return sorted[0]
}
