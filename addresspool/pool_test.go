package addresspool

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestLeaseInOrder(t *testing.T) {
	p := New(mustCIDR(t, "10.99.0.0/29"))

	a, err := p.Lease("alice")
	require.NoError(t, err)
	require.Equal(t, "10.99.0.1", a.String())

	b, err := p.Lease("bob")
	require.NoError(t, err)
	require.Equal(t, "10.99.0.2", b.String())
}

func TestLeaseIsStickyPerPeer(t *testing.T) {
	p := New(mustCIDR(t, "10.99.0.0/29"))

	first, err := p.Lease("alice")
	require.NoError(t, err)
	again, err := p.Lease("alice")
	require.NoError(t, err)
	require.True(t, first.Equal(again), "reconnecting peer keeps its address")
}

func TestPoolExhaustion(t *testing.T) {
	// /29 leaves .1 through .6 usable (network and broadcast excluded)
	p := New(mustCIDR(t, "10.99.0.0/29"))
	for i := 0; i < 6; i++ {
		_, err := p.Lease(string(rune('a' + i)))
		require.NoError(t, err)
	}
	_, err := p.Lease("overflow")
	require.Error(t, err)
}

func TestReleaseReturnsAddress(t *testing.T) {
	// /30 leaves .1 and .2 usable
	p := New(mustCIDR(t, "10.99.0.0/30"))

	a, err := p.Lease("alice")
	require.NoError(t, err)
	_, err = p.Lease("bob")
	require.NoError(t, err)
	_, err = p.Lease("carol")
	require.Error(t, err)

	p.Release("alice")
	d, err := p.Lease("dave")
	require.NoError(t, err)
	require.True(t, a.Equal(d), "a released address is handed out again")
}

func TestReleaseUnknownPeerIsNoop(t *testing.T) {
	p := New(mustCIDR(t, "10.99.0.0/29"))
	p.Release("nobody")
	_, err := p.Lease("alice")
	require.NoError(t, err)
}
