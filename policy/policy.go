// Package policy holds the ordered list of connection policies a
// configuration compiles down to: which proposals and traffic selectors
// apply to which peer. It has no knowledge of the wire protocol beyond
// the protocol types a proposal and selector are made of, and no
// knowledge of the running Session; config.go consults it, the state
// machine never does directly.
package policy

import (
	"net"
	"strings"

	"github.com/msgboxio/ike/protocol"
)

// Policy is one entry of the ordered policy list: which peer identity
// pattern it applies to, and the proposals/selectors offered for it.
type Policy struct {
	Name string

	// PeerIDPattern matches an IdPayload's Data as a UTF-8 string; "*"
	// matches any peer and is only valid as the last policy in the list.
	PeerIDPattern string

	ProposalIke, ProposalEsp protocol.Transforms

	TsI, TsR []*protocol.Selector

	IsTransportMode bool
}

func (p *Policy) matches(peerID string) bool {
	if p.PeerIDPattern == "" || p.PeerIDPattern == "*" {
		return true
	}
	if strings.HasPrefix(p.PeerIDPattern, "*.") {
		return strings.HasSuffix(peerID, p.PeerIDPattern[1:])
	}
	return p.PeerIDPattern == peerID
}

// Set is a compiled policy list: the original order (for first-match
// semantics, RFC 7296's "select the first acceptable") plus the
// skip-step index skipsteps.go builds to avoid a full linear scan when
// a lookup can tell early that the remaining entries can't match.
type Set struct {
	policies []*Policy
	skip     []int
}

// Compile builds a Set from an ordered policy list. The list is walked
// in order at lookup time; Compile's only job beyond storing it is to
// precompute the skip-step table so a long list with a common
// catch-all prefix doesn't cost a full scan per lookup.
func Compile(policies []*Policy) *Set {
	return &Set{
		policies: policies,
		skip:     buildSkipSteps(policies),
	}
}

// Match returns the first policy whose PeerIDPattern matches peerID, nil
// if none do.
func (s *Set) Match(peerID string) *Policy {
	i := 0
	for i < len(s.policies) {
		p := s.policies[i]
		if p.matches(peerID) {
			return p
		}
		i += s.skip[i]
	}
	return nil
}

// MatchSelectors finds the first policy among those matching peerID
// whose configured selectors contain the offered traffic selector
// ranges, used once an IKE_AUTH request's TSi/TSr are known.
func (s *Set) MatchSelectors(peerID string, tsI, tsR []*protocol.Selector) *Policy {
	for _, p := range s.policies {
		if !p.matches(peerID) {
			continue
		}
		if selectorsContain(p.TsI, tsI) && selectorsContain(p.TsR, tsR) {
			return p
		}
	}
	return nil
}

func selectorsContain(configured, offered []*protocol.Selector) bool {
	for _, o := range offered {
		if !anySelectorContains(configured, o) {
			return false
		}
	}
	return true
}

func anySelectorContains(configured []*protocol.Selector, o *protocol.Selector) bool {
	for _, c := range configured {
		if c.Type == o.Type && ipRangeContains(c.StartAddress, c.EndAddress, o.StartAddress, o.EndAddress) {
			return true
		}
	}
	return false
}

func ipRangeContains(cStart, cEnd, oStart, oEnd net.IP) bool {
	return bytesCompare(cStart, oStart) <= 0 && bytesCompare(cEnd, oEnd) >= 0
}

func bytesCompare(a, b net.IP) int {
	a4, b4 := a.To16(), b.To16()
	for i := range a4 {
		if a4[i] != b4[i] {
			if a4[i] < b4[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
