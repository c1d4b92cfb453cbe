package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLIRSGetMissReturnsFalse(t *testing.T) {
	l := newLIRS(4, nil)
	_, ok := l.get(0)
	require.False(t, ok)
}

func TestLIRSPutThenGetHits(t *testing.T) {
	l := newLIRS(8, nil)
	l.put(0, []byte("a"))
	data, ok := l.get(0)
	require.True(t, ok)
	require.Equal(t, []byte("a"), data)
}

func TestLIRSInvalidateDropsResidency(t *testing.T) {
	l := newLIRS(8, nil)
	l.put(16, []byte("x"))
	l.invalidate(16)
	_, ok := l.get(16)
	require.False(t, ok)
}

func TestLIRSEnforcesHIRBudgetUnderPressure(t *testing.T) {
	l := newLIRS(4, nil) // hirCapacity = max(1, 4/100) = 1
	for i := int64(0); i < 20; i++ {
		l.put(i*4096, []byte{byte(i)})
	}
	require.LessOrEqual(t, l.residentHIR, l.hirCapacity)
}

func TestLIRSRepeatedAccessPromotesToLIR(t *testing.T) {
	l := newLIRS(8, nil)
	l.put(0, []byte("a"))
	// Second access while still in stack history promotes to LIR.
	_, ok := l.get(0)
	require.True(t, ok)
	se := l.stackIndex[0]
	require.NotNil(t, se)
	require.True(t, se.Value.(*node).isLIR, "a second access while in stack history must promote the block to LIR")
}

func TestLIRSClearEmptiesBothStructures(t *testing.T) {
	l := newLIRS(8, nil)
	l.put(0, []byte("a"))
	l.put(4096, []byte("b"))
	l.clear()
	require.Equal(t, 0, l.stack.Len())
	require.Equal(t, 0, l.queue.Len())
	require.Equal(t, 0, l.residentLIR)
	require.Equal(t, 0, l.residentHIR)
}
