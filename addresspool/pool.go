// Package addresspool hands out virtual IP addresses to configuration-mode
// (remote access) Child SAs, sticky per peer identity so a reconnecting
// peer gets the same address back for as long as its lease holds.
package addresspool

import (
	"fmt"
	"net"
	"sync"
)

// Pool allocates addresses from a fixed CIDR block, in order, skipping the
// network and broadcast addresses and any already leased.
type Pool struct {
	mu sync.Mutex

	network *net.IPNet
	next    net.IP

	// byPeer remembers the last address handed to a peer identity so a
	// reconnect gets it back rather than the next free address.
	byPeer map[string]net.IP
	leased map[string]string // address.String() -> peer id
}

// New builds a Pool over the given CIDR block.
func New(cidr *net.IPNet) *Pool {
	start := make(net.IP, len(cidr.IP))
	copy(start, cidr.IP)
	incr(start)
	return &Pool{
		network: cidr,
		next:    start,
		byPeer:  make(map[string]net.IP),
		leased:  make(map[string]string),
	}
}

// Lease returns the address assigned to peerID: its previous lease if
// still held, or the next free address in the block otherwise.
func (p *Pool) Lease(peerID string) (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if addr, ok := p.byPeer[peerID]; ok {
		return addr, nil
	}

	// the second pass rescans from the start of the block, picking up
	// addresses returned by Release after the cursor moved past them
	for pass := 0; pass < 2; pass++ {
		for p.network.Contains(p.next) {
			candidate := make(net.IP, len(p.next))
			copy(candidate, p.next)
			incr(p.next)
			if isBroadcast(candidate, p.network) {
				continue
			}
			key := candidate.String()
			if _, taken := p.leased[key]; taken {
				continue
			}
			p.leased[key] = peerID
			p.byPeer[peerID] = candidate
			return candidate, nil
		}
		start := make(net.IP, len(p.network.IP))
		copy(start, p.network.IP)
		incr(start)
		p.next = start
	}
	return nil, fmt.Errorf("addresspool: %s is exhausted", p.network)
}

// Release returns peerID's leased address to the pool.
func (p *Pool) Release(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, ok := p.byPeer[peerID]
	if !ok {
		return
	}
	delete(p.byPeer, peerID)
	delete(p.leased, addr.String())
}

func incr(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

func isBroadcast(ip net.IP, network *net.IPNet) bool {
	bcast := make(net.IP, len(network.IP))
	for i := range network.IP {
		bcast[i] = network.IP[i] | ^network.Mask[i]
	}
	return ip.Equal(bcast)
}
