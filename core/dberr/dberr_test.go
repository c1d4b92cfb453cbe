package dberr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodeStrings(t *testing.T) {
	require.Equal(t, "FILE_CORRUPTED_1", CodeFileCorrupted.String())
	require.Equal(t, "DUPLICATE_KEY_1", CodeDuplicateKey.String())
	require.Equal(t, "UNKNOWN", Code(999).String())
}

func TestErrorMessageContext(t *testing.T) {
	err := FileCorrupted(42)
	require.Contains(t, err.Error(), "page=42")

	err2 := DuplicateKey(7)
	require.Contains(t, err2.Error(), "table=7")
}

func TestErrorIsMatchesOnCode(t *testing.T) {
	a := DuplicateKey(1)
	b := DuplicateKey(99)
	require.True(t, errors.Is(a, b), "errors with the same code should match via Is")

	c := FileCorrupted(1)
	require.False(t, errors.Is(a, c))
}

func TestAsErrorRecoversTypedError(t *testing.T) {
	wrapped := Wrap(CodeErrorReadingFailed, "outer", DuplicateKey(3))
	recovered, ok := AsError(wrapped)
	require.True(t, ok)
	require.Equal(t, CodeErrorReadingFailed, recovered.Code)

	inner, ok := AsError(errors.Unwrap(wrapped))
	require.True(t, ok)
	require.Equal(t, CodeDuplicateKey, inner.Code)
}
