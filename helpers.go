package ike

import (
	"crypto/rand"
	"encoding/binary"
	"net"

	"github.com/msgboxio/ike/protocol"
)

// MakeSpi generates a fresh random 8-byte IKE SPI. A 4-byte ESP/AH SPI is
// just the leading half of one of these (callers slice it themselves, as
// initiator.go does for EspSpiI).
func MakeSpi() protocol.Spi {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("ike: failed to generate spi: " + err.Error())
	}
	return protocol.Spi(b)
}

// SpiToInt64 reads an 8-byte SPI as a big-endian integer, used to check a
// responder SPI is not all-zero (CheckInitResponseForSession).
func SpiToInt64(spi protocol.Spi) uint64 {
	if len(spi) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(spi)
}

// IPNetToFirstLastAddress expands a CIDR block into the first and last
// address it covers (the network and broadcast addresses included), the
// form a TrafficSelectorPayload's address range requires.
func IPNetToFirstLastAddress(n *net.IPNet) (first, last net.IP, err error) {
	ip := n.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	mask := n.Mask
	first = make(net.IP, len(ip))
	last = make(net.IP, len(ip))
	for i := range ip {
		first[i] = ip[i] & mask[i]
		last[i] = ip[i] | ^mask[i]
	}
	return first, last, nil
}
