package ike

import (
	"crypto/sha1"
	"net"

	"github.com/msgboxio/ike/protocol"
)

// natTPort is the NAT traversal port the exchange migrates to once a NAT
// is detected; ESP is UDP-encapsulated on it (RFC 3948).
const natTPort = 4500

// natTEncapPort is the UDP encapsulation port to program into a Child
// SA's kernel state: 4500 once NAT detection tripped, zero (no
// encapsulation) otherwise.
func (o *Session) natTEncapPort() int {
	if o.natDetected {
		return natTPort
	}
	return 0
}

// natHash computes the RFC 7296 2.23 NAT detection digest:
// SHA1(SPIi | SPIr | address | port). One is sent for the source
// (our own) address and one for the destination (peer's) address; a mismatch
// on either side means NAT is translating that address, and the daemon
// must float to port 4500 and UDP-encapsulate ESP.
func natHash(spiI, spiR protocol.Spi, addr net.Addr) []byte {
	h := sha1.New()
	h.Write(spiI)
	h.Write(spiR)
	ip, port := hostPort(addr)
	h.Write(ip)
	portBytes := []byte{byte(port >> 8), byte(port)}
	h.Write(portBytes)
	return h.Sum(nil)
}

func hostPort(addr net.Addr) (net.IP, int) {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.To16(), ua.Port
	}
	return net.IPv4zero.To16(), 0
}

// checkNatHash reports whether the NAT_DETECTION_* notification data the
// peer sent matches the address we'd compute for it, i.e. no NAT sits
// between us and that address.
func checkNatHash(data []byte, spiI, spiR protocol.Spi, addr net.Addr) bool {
	want := natHash(spiI, spiR, addr)
	if len(data) != len(want) {
		return false
	}
	for i := range data {
		if data[i] != want[i] {
			return false
		}
	}
	return true
}

func natDetectionNotify(nt protocol.NotificationType, spiI, spiR protocol.Spi, addr net.Addr) *protocol.NotifyPayload {
	return &protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       protocol.IKE,
		NotificationType: nt,
		Data:             natHash(spiI, spiR, addr),
	}
}
