package blockstream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXZCompressRoundTrip(t *testing.T) {
	var c XZCompress
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)

	compressed, err := c.Compress(payload, "xz")
	require.NoError(t, err)
	require.Less(t, len(compressed), len(payload), "repetitive input should compress smaller")

	out := make([]byte, len(payload))
	n, err := c.Expand(compressed, out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
}

func TestXZCompressEmptyPayload(t *testing.T) {
	var c XZCompress
	compressed, err := c.Compress(nil, "xz")
	require.NoError(t, err)

	out := make([]byte, 0)
	n, err := c.Expand(compressed, out, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
