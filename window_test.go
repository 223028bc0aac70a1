package ike

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowSequential(t *testing.T) {
	w := newWindow(1)
	require.True(t, w.accept(0))
	require.False(t, w.accept(0)) // duplicate, serve the cached response
	require.False(t, w.accept(2)) // beyond the window
	require.True(t, w.accept(1))
	require.Equal(t, uint32(2), w.nextRecv)
}

func TestWindowOutOfOrder(t *testing.T) {
	w := newWindow(3)
	require.True(t, w.accept(1))
	require.True(t, w.accept(2))
	require.False(t, w.accept(3)) // still outside: nextRecv is 0
	require.True(t, w.accept(0))
	// 0..2 drained, nextRecv now 3
	require.True(t, w.accept(3))
	require.False(t, w.accept(1)) // old duplicate
}

func TestWindowSetSizeFloor(t *testing.T) {
	w := newWindow(0)
	require.Equal(t, uint32(1), w.size)
	w.setSize(0)
	require.Equal(t, uint32(1), w.size)
	w.setSize(8)
	require.Equal(t, uint32(8), w.size)
}

func TestBackoffEnvelope(t *testing.T) {
	prev := backoff(0)
	require.GreaterOrEqual(t, prev, retransmitBase)
	for attempt := 1; attempt < retransmitMaxTries; attempt++ {
		d := backoff(attempt)
		// exponential up to the cap, plus at most 20% jitter
		require.LessOrEqual(t, d, retransmitCap+retransmitCap/5)
	}
	require.GreaterOrEqual(t, backoff(10), retransmitCap)
}
