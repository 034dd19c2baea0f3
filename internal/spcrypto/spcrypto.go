// Package spcrypto implements the BIP-352 Silent Payments derivation
// pipeline shared by the server (fingerprint extraction at ingest time) and
// the client (candidate derivation and verification). Every function here
// is pure and synchronous: none of them perform I/O or block, so they are
// safe to call from either a goroutine handling a request deadline or the
// single-threaded ingestion loop without ever yielding mid-call.
package spcrypto

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// Tag strings mandated by BIP-352. Case and byte-exactness matter: the
// tagged hash construction folds the SHA256 of the tag into the message
// twice, so a single mismatched byte silently produces an unrelated point.
const (
	TagInputs       = "BIP0352/Inputs"
	TagSharedSecret = "BIP0352/SharedSecret"
	TagLabel        = "BIP0352/Label"
)

// XOnlyKey is the 32-byte x-coordinate of a point with an even y (BIP-340).
type XOnlyKey [32]byte

// TaggedHash computes SHA256(SHA256(tag) || SHA256(tag) || data...).
func TaggedHash(tag string, chunks ...[]byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, c := range chunks {
		h.Write(c)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Scalar is a nonzero integer modulo the secp256k1 group order.
type Scalar struct {
	inner btcec.ModNScalar
}

// ScalarFromBytes reduces b modulo n and rejects zero or overflowing values.
func ScalarFromBytes(b [32]byte) (Scalar, error) {
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(b[:]); overflow {
		return Scalar{}, whisperr.New(whisperr.BadCrypto, "scalar out of range")
	}
	if s.IsZero() {
		return Scalar{}, whisperr.New(whisperr.BadCrypto, "scalar is zero")
	}
	return Scalar{inner: s}, nil
}

// scalarFromHash reduces a tagged-hash output, rejecting zero/overflow the
// same way ScalarFromBytes does. Overflow is cryptographically negligible
// but must still fail closed per spec.
func scalarFromHash(h [32]byte) (Scalar, error) {
	return ScalarFromBytes(h)
}

// Bytes returns the big-endian 32-byte encoding of the scalar.
func (s Scalar) Bytes() [32]byte {
	return s.inner.Bytes()
}

// IsZero reports whether the scalar is the additive identity. Used to
// detect the "no label" (m=0) sentinel returned by LabelTweak.
func (s Scalar) IsZero() bool {
	return s.inner.IsZero()
}

// Add returns s + other (mod n).
func (s Scalar) Add(other Scalar) Scalar {
	sum := s.inner
	sum.Add(&other.inner)
	return Scalar{inner: sum}
}

// Point is a non-identity point on secp256k1, always affine when observed.
type Point struct {
	pub *btcec.PublicKey
}

// PointFromCompressed parses a 33-byte SEC1 compressed point.
func PointFromCompressed(b []byte) (Point, error) {
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return Point{}, whisperr.Wrap(whisperr.BadCrypto, "invalid compressed point", err)
	}
	return Point{pub: pk}, nil
}

// PointFromXOnly lifts a 32-byte BIP-340 x-only key to a full point,
// assuming (per convention) an even y-coordinate.
func PointFromXOnly(x XOnlyKey) (Point, error) {
	pk, err := schnorr.ParsePubKey(x[:])
	if err != nil {
		return Point{}, whisperr.Wrap(whisperr.BadCrypto, "invalid x-only key", err)
	}
	return Point{pub: pk}, nil
}

// SerializeCompressed returns SER_P(point): the 33-byte compressed form.
func (p Point) SerializeCompressed() []byte {
	return p.pub.SerializeCompressed()
}

// XOnly returns the 32-byte x-only form of the point.
func (p Point) XOnly() XOnlyKey {
	var x XOnlyKey
	copy(x[:], schnorr.SerializePubKey(p.pub))
	return x
}

// ScalarBasePoint returns s*G.
func ScalarBasePoint(s Scalar) Point {
	var j btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&s.inner, &j)
	j.ToAffine()
	return Point{pub: btcec.NewPublicKey(&j.X, &j.Y)}
}

// isInfinity reports whether a Jacobian point, once normalized with
// ToAffine, is the point at infinity. btcec has no affine encoding for the
// identity: ToAffine leaves both coordinates zero in that case, which is
// otherwise not a valid curve point, so a zero/zero pair is unambiguous.
func isInfinity(j *btcec.JacobianPoint) bool {
	return j.X.IsZero() && j.Y.IsZero()
}

// AddPoints returns a + b, failing with BadCrypto if the sum is the point
// at infinity (a == -b). spec.md §4.1 requires this failure mode to be
// distinct and explicit rather than silently producing an unusable Point.
func AddPoints(a, b Point) (Point, error) {
	var aj, bj, rj btcec.JacobianPoint
	a.pub.AsJacobian(&aj)
	b.pub.AsJacobian(&bj)
	btcec.AddNonConst(&aj, &bj, &rj)
	rj.ToAffine()
	if isInfinity(&rj) {
		return Point{}, whisperr.New(whisperr.BadCrypto, "point sum is the point at infinity")
	}
	return Point{pub: btcec.NewPublicKey(&rj.X, &rj.Y)}, nil
}

// ScalarMultPoint returns s*p, failing with BadCrypto if the product is the
// point at infinity. Unreachable when s is nonzero and p has the curve's
// prime order n (k*P = O implies n | k, impossible for 0 < k < n), which
// covers every Scalar this package can construct; checked anyway so a
// future relaxation of that invariant fails closed instead of silently.
func ScalarMultPoint(s Scalar, p Point) (Point, error) {
	var pj, rj btcec.JacobianPoint
	p.pub.AsJacobian(&pj)
	btcec.ScalarMultNonConst(&s.inner, &pj, &rj)
	rj.ToAffine()
	if isInfinity(&rj) {
		return Point{}, whisperr.New(whisperr.BadCrypto, "scalar multiple is the point at infinity")
	}
	return Point{pub: btcec.NewPublicKey(&rj.X, &rj.Y)}, nil
}

// SumPoints folds AddPoints over pts, used by callers assembling A_sum from
// the public keys of a transaction's eligible inputs. It fails closed on an
// empty input set rather than returning the identity, since the identity is
// not a valid curve point in this system.
func SumPoints(pts []Point) (Point, error) {
	if len(pts) == 0 {
		return Point{}, whisperr.New(whisperr.BadCrypto, "empty point set")
	}
	sum := pts[0]
	for _, p := range pts[1:] {
		var err error
		sum, err = AddPoints(sum, p)
		if err != nil {
			return Point{}, err
		}
	}
	return sum, nil
}

// ScanKeypair is a wallet's ECDH viewing key pair. Secret never leaves the
// task that owns it.
type ScanKeypair struct {
	Secret Scalar
	Public Point
}

// NewScanKeypair derives the public half of a scan secret.
func NewScanKeypair(secret Scalar) ScanKeypair {
	return ScanKeypair{Secret: secret, Public: ScalarBasePoint(secret)}
}

// SpendKey is the public basis point for a wallet's labelled derivations.
type SpendKey struct {
	Public Point
}

// InputHash computes tagged_hash("BIP0352/Inputs", smallest_outpoint ||
// SER_P(A_sum)), the scalar BIP-352 uses to bind a transaction's shared
// point to its specific inputs before the ECDH multiplication. Both sender
// and recipient must fold this into A_sum identically before calling
// ECDHSharedPoint; this package does not do so implicitly, matching
// spec.md's choice to accept a precomputed A_sum.
func InputHash(smallestOutpoint [36]byte, aSum Point) (Scalar, error) {
	h := TaggedHash(TagInputs, smallestOutpoint[:], aSum.SerializeCompressed())
	return scalarFromHash(h)
}

// ECDHSharedPoint returns b_scan * A_sum, failing with BadCrypto if the
// product is the point at infinity per spec.md §4.1's named failure mode.
func ECDHSharedPoint(scanSecret Scalar, aSum Point) (Point, error) {
	return ScalarMultPoint(scanSecret, aSum)
}

// SharedSecret computes s_k = tagged_hash("BIP0352/SharedSecret",
// SER_P(ecdhPoint) || ser32(k)) for the k-th output of a transaction.
func SharedSecret(ecdhPoint Point, k uint32) (Scalar, error) {
	var kBytes [4]byte
	binary.BigEndian.PutUint32(kBytes[:], k)
	h := TaggedHash(TagSharedSecret, ecdhPoint.SerializeCompressed(), kBytes[:])
	return scalarFromHash(h)
}

// LabelTweak returns the scalar tagged_hash("BIP0352/Label", ser256(b_scan)
// || ser32(m)) for m>0. For m=0 ("no label") it returns the zero scalar,
// the sentinel LabelTable and SpendTweak treat as "identity, add nothing."
func LabelTweak(scanSecret Scalar, m uint32) (Scalar, error) {
	if m == 0 {
		return Scalar{}, nil
	}
	var mBytes [4]byte
	binary.BigEndian.PutUint32(mBytes[:], m)
	secretBytes := scanSecret.Bytes()
	h := TaggedHash(TagLabel, secretBytes[:], mBytes[:])
	return scalarFromHash(h)
}

// LabelTable maps label indices to their derived points B_m, with B_0
// reusing SpendKey.Public directly per spec.md's identity-label convention.
type LabelTable struct {
	points map[uint32]Point
	max    uint32
}

// BuildLabelTable constructs the table for labels 0..max inclusive.
func BuildLabelTable(spend SpendKey, scanSecret Scalar, max uint32) (LabelTable, error) {
	points := make(map[uint32]Point, max+1)
	points[0] = spend.Public

	for m := uint32(1); m <= max; m++ {
		tweak, err := LabelTweak(scanSecret, m)
		if err != nil {
			return LabelTable{}, err
		}
		points[m], err = AddPoints(spend.Public, ScalarBasePoint(tweak))
		if err != nil {
			return LabelTable{}, err
		}
	}

	return LabelTable{points: points, max: max}, nil
}

// Point returns B_m and whether m is within the table's configured range.
func (t LabelTable) Point(m uint32) (Point, bool) {
	p, ok := t.points[m]
	return p, ok
}

// Max returns the wallet-chosen label cap M.
func (t LabelTable) Max() uint32 {
	return t.max
}

// DeriveOutput computes T_{k,m} = B_m + s_k*G, returning its x-only form.
// Fails with BadCrypto if the sum is the point at infinity (labelPoint ==
// -s_k*G), per spec.md §4.1's named failure mode.
func DeriveOutput(labelPoint Point, sharedSecret Scalar) (XOnlyKey, error) {
	t, err := AddPoints(labelPoint, ScalarBasePoint(sharedSecret))
	if err != nil {
		return XOnlyKey{}, err
	}
	return t.XOnly(), nil
}

// SpendTweak returns t_{k,m} = s_k + label_tweak(m) (mod n), with the label
// addend absent (identity) when labelTweak is the m=0 zero scalar.
func SpendTweak(sharedSecret, labelTweak Scalar) Scalar {
	if labelTweak.IsZero() {
		return sharedSecret
	}
	return sharedSecret.Add(labelTweak)
}

// Fingerprint extracts the server's coarse 32-bit index key from an x-only
// key: the first 4 bytes, big-endian.
func Fingerprint(x XOnlyKey) uint32 {
	return uint32(x[0])<<24 | uint32(x[1])<<16 | uint32(x[2])<<8 | uint32(x[3])
}
