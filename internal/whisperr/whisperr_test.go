package whisperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(StoreBusy, "no connections available", cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, Is(err, StoreBusy))
	assert.False(t, Is(err, Timeout))
	assert.Equal(t, StoreBusy, KindOf(err))
}

func TestKindOfNonWhisperErr(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestErrorMessageOmitsNoSecretsByConstruction(t *testing.T) {
	err := New(BadCrypto, "cryptographic error")
	assert.Equal(t, "bad_crypto: cryptographic error", err.Error())
}

func TestWrapPropagatesThroughFmtErrorf(t *testing.T) {
	base := New(Timeout, "deadline exceeded")
	wrapped := fmt.Errorf("query: %w", base)
	assert.True(t, Is(wrapped, Timeout))
}
