package spcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

func mustScalar(t *testing.T, seed byte) Scalar {
	t.Helper()
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	s, err := ScalarFromBytes(b)
	require.NoError(t, err)
	return s
}

func TestScalarFromBytesRejectsZero(t *testing.T) {
	var zero [32]byte
	_, err := ScalarFromBytes(zero)
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadCrypto))
}

func TestScalarFromBytesRejectsOverflow(t *testing.T) {
	// secp256k1 order n starts 0xFFFFFFFF...FFFFFFFE..., so all-0xFF
	// overflows n.
	var overflow [32]byte
	for i := range overflow {
		overflow[i] = 0xFF
	}
	_, err := ScalarFromBytes(overflow)
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadCrypto))
}

func TestFingerprint(t *testing.T) {
	x := XOnlyKey{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	assert.Equal(t, uint32(0xdeadbeef), Fingerprint(x))
}

func TestLabelTweakZeroForM0(t *testing.T) {
	scan := mustScalar(t, 0x01)
	tweak, err := LabelTweak(scan, 0)
	require.NoError(t, err)
	assert.True(t, tweak.IsZero())
}

func TestLabelTweakNonZeroForPositiveM(t *testing.T) {
	scan := mustScalar(t, 0x01)
	tweak, err := LabelTweak(scan, 1)
	require.NoError(t, err)
	assert.False(t, tweak.IsZero())
}

func TestBuildLabelTableIdentityLabelReusesSpendPoint(t *testing.T) {
	spendSecret := mustScalar(t, 0x02)
	spend := SpendKey{Public: ScalarBasePoint(spendSecret)}
	scan := mustScalar(t, 0x01)

	table, err := BuildLabelTable(spend, scan, 3)
	require.NoError(t, err)

	b0, ok := table.Point(0)
	require.True(t, ok)
	assert.Equal(t, spend.Public.SerializeCompressed(), b0.SerializeCompressed())

	_, ok = table.Point(4)
	assert.False(t, ok)
	assert.Equal(t, uint32(3), table.Max())
}

// TestDeriveVerifyRoundTrip is R1: for a valid wallet and A_sum, the point
// the sender derives equals the point the recipient re-derives, and the
// recipient's tweak recovers the same x-only key from the spend secret.
func TestDeriveVerifyRoundTrip(t *testing.T) {
	spendSecret := mustScalar(t, 0x03)
	spendPub := ScalarBasePoint(spendSecret)
	spend := SpendKey{Public: spendPub}

	scanSecret := mustScalar(t, 0x01)
	scan := NewScanKeypair(scanSecret)

	// A_sum stands in for the sender's summed input pubkeys; any nonzero
	// scalar's base point is a valid stand-in point for this test.
	aSumSecret := mustScalar(t, 0x07)
	aSum := ScalarBasePoint(aSumSecret)

	for _, m := range []uint32{0, 1, 2} {
		m := m
		t.Run("label", func(t *testing.T) {
			table, err := BuildLabelTable(spend, scanSecret, 5)
			require.NoError(t, err)
			labelPoint, ok := table.Point(m)
			require.True(t, ok)

			ecdhPoint, err := ECDHSharedPoint(scan.Secret, aSum)
			require.NoError(t, err)
			sharedSecret, err := SharedSecret(ecdhPoint, 0)
			require.NoError(t, err)

			sentOutput, err := DeriveOutput(labelPoint, sharedSecret)
			require.NoError(t, err)

			// Recipient recomputes the ECDH point the same way.
			recipientECDH, err := ECDHSharedPoint(scanSecret, aSum)
			require.NoError(t, err)
			recipientShared, err := SharedSecret(recipientECDH, 0)
			require.NoError(t, err)
			recipientLabelPoint, ok := table.Point(m)
			require.True(t, ok)
			recvOutput, err := DeriveOutput(recipientLabelPoint, recipientShared)
			require.NoError(t, err)

			assert.Equal(t, sentOutput, recvOutput)

			labelTweak, err := LabelTweak(scanSecret, m)
			require.NoError(t, err)
			tweak := SpendTweak(recipientShared, labelTweak)

			// (b_spend + tweak)*G must have the same x-only form as T.
			privKey := spendSecret.Add(tweak)
			reconstructed := ScalarBasePoint(privKey)
			assert.Equal(t, sentOutput, reconstructed.XOnly())
		})
	}
}

func TestSumPointsRejectsEmpty(t *testing.T) {
	_, err := SumPoints(nil)
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadCrypto))
}

func TestSumPointsCommutesWithTwoPoints(t *testing.T) {
	a := ScalarBasePoint(mustScalar(t, 0x01))
	b := ScalarBasePoint(mustScalar(t, 0x02))

	sum1, err := SumPoints([]Point{a, b})
	require.NoError(t, err)
	sum2, err := SumPoints([]Point{b, a})
	require.NoError(t, err)

	assert.Equal(t, sum1.SerializeCompressed(), sum2.SerializeCompressed())
}

// TestAddPointsRejectsInfinity covers spec.md §4.1's named failure mode: a
// point sum that lands on the identity must fail with BadCrypto rather than
// silently returning an unusable Point. (n-1)*p is p's additive inverse
// since p has the curve's prime order n, so p + (n-1)*p is the point at
// infinity.
func TestAddPointsRejectsInfinity(t *testing.T) {
	p := ScalarBasePoint(mustScalar(t, 0x01))

	nMinusOne := [32]byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE,
		0xBA, 0xAE, 0xDC, 0xE6, 0xAF, 0x48, 0xA0, 0x3B,
		0xBF, 0xD2, 0x5E, 0x8C, 0xD0, 0x36, 0x41, 0x40,
	}
	scalar, err := ScalarFromBytes(nMinusOne)
	require.NoError(t, err)

	negP, err := ScalarMultPoint(scalar, p)
	require.NoError(t, err)

	_, err = AddPoints(p, negP)
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadCrypto))
}

func TestPointFromXOnlyRoundTrip(t *testing.T) {
	p := ScalarBasePoint(mustScalar(t, 0x05))
	x := p.XOnly()

	lifted, err := PointFromXOnly(x)
	require.NoError(t, err)
	assert.Equal(t, x, lifted.XOnly())
}

func TestPointFromCompressedRejectsGarbage(t *testing.T) {
	_, err := PointFromCompressed([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
	assert.True(t, whisperr.Is(err, whisperr.BadCrypto))
}
