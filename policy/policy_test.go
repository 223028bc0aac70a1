package policy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msgboxio/ike/protocol"
)

func selector(start, end string) *protocol.Selector {
	return &protocol.Selector{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		StartAddress: net.ParseIP(start),
		EndAddress:   net.ParseIP(end),
	}
}

func TestMatchFirstWins(t *testing.T) {
	s := Compile([]*Policy{
		{Name: "office", PeerIDPattern: "gw.example.com"},
		{Name: "wild", PeerIDPattern: "*.example.com"},
		{Name: "any", PeerIDPattern: "*"},
	})

	require.Equal(t, "office", s.Match("gw.example.com").Name)
	require.Equal(t, "wild", s.Match("road.example.com").Name)
	require.Equal(t, "any", s.Match("stranger.example.net").Name)
}

func TestMatchNoCatchAll(t *testing.T) {
	s := Compile([]*Policy{
		{Name: "only", PeerIDPattern: "gw.example.com"},
	})
	require.Nil(t, s.Match("other.example.com"))
}

func TestSkipStepsJumpRuns(t *testing.T) {
	// a run of policies with the same pattern fails together; the skip
	// table must step over the whole run after one test
	policies := []*Policy{
		{PeerIDPattern: "a"},
		{PeerIDPattern: "a"},
		{PeerIDPattern: "a"},
		{PeerIDPattern: "b"},
		{PeerIDPattern: "*"},
	}
	skip := buildSkipSteps(policies)
	require.Equal(t, []int{3, 2, 1, 1, 1}, skip)

	s := Compile(policies)
	require.Equal(t, "b", s.Match("b").PeerIDPattern)
	require.Equal(t, "*", s.Match("zzz").PeerIDPattern)
}

func TestMatchSelectors(t *testing.T) {
	s := Compile([]*Policy{
		{
			Name:          "subnet",
			PeerIDPattern: "*",
			TsI:           []*protocol.Selector{selector("10.0.0.0", "10.0.0.255")},
			TsR:           []*protocol.Selector{selector("192.168.1.0", "192.168.1.255")},
		},
	})

	offeredI := []*protocol.Selector{selector("10.0.0.7", "10.0.0.7")}
	offeredR := []*protocol.Selector{selector("192.168.1.0", "192.168.1.127")}
	require.NotNil(t, s.MatchSelectors("peer", offeredI, offeredR))

	outside := []*protocol.Selector{selector("10.0.1.1", "10.0.1.1")}
	require.Nil(t, s.MatchSelectors("peer", outside, offeredR))
}
