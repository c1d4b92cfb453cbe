package dbiface

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInt64ValueCompare(t *testing.T) {
	require.Equal(t, -1, Int64Value(1).Compare(Int64Value(2)))
	require.Equal(t, 0, Int64Value(5).Compare(Int64Value(5)))
	require.Equal(t, 1, Int64Value(9).Compare(Int64Value(2)))
}

func TestInt64ValueAsLong(t *testing.T) {
	v, ok := Int64Value(42).AsLong()
	require.True(t, ok)
	require.Equal(t, int64(42), v)
}

func TestBytesValueCompareLexicographic(t *testing.T) {
	require.True(t, BytesValue("ab").Compare(BytesValue("b")) < 0)
	require.True(t, BytesValue("ab").Compare(BytesValue("aa")) > 0)
	require.Equal(t, 0, BytesValue("same").Compare(BytesValue("same")))
	require.True(t, BytesValue("a").Compare(BytesValue("ab")) < 0)

	_, ok := BytesValue("x").AsLong()
	require.False(t, ok)
}

func TestInt64CodecRoundTrip(t *testing.T) {
	codec := Int64Codec{}
	values := []Value{Int64Value(123), BytesValue("payload")}
	encoded := codec.Encode(values)
	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, Int64Value(123), decoded[0])
	require.Equal(t, BytesValue("payload"), decoded[1])
}

func TestInt64CodecRoundTripNoTrailingBlob(t *testing.T) {
	codec := Int64Codec{}
	encoded := codec.Encode([]Value{Int64Value(-7)})
	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, Int64Value(-7), decoded[0])
}

func TestInt64CodecDecodeShortPayloadErrors(t *testing.T) {
	_, err := Int64Codec{}.Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestRowTombstoneAndMemory(t *testing.T) {
	live := NewRow(1, []Value{Int64Value(1)})
	require.False(t, live.IsTombstone())
	require.Greater(t, live.Memory(), int64(0))

	tomb := NewRow(5, nil)
	require.True(t, tomb.IsTombstone())
}
