// Package platform is the kernel coupling layer: it turns a negotiated
// Child SA into IPsec state the data path actually uses, and programs the
// virtual interface/routes a configuration-mode exchange hands out. The
// root session package dispatches to it through two small interfaces so a
// non-Linux or PF_KEYv2 implementation is a sibling file away, never a
// redesign of the state machine.
package platform

import (
	"net"
	"time"

	"github.com/msgboxio/ike/protocol"
)

// SaParams is everything a Child SA programmer needs to install or tear
// down kernel SA/policy state for one negotiated pair of directions.
type SaParams struct {
	IsInitiator bool

	LocalAddr, RemoteAddr net.IP
	// NatTPort is nonzero when the peer sits behind a NAT and ESP must be
	// UDP-encapsulated (RFC 3948) on this port rather than sent as raw ESP.
	NatTPort int

	SpiI, SpiR protocol.Spi

	EncrID protocol.EncrTransformId
	AuthID protocol.AuthTransformId
	// EspEi/EspAi key the initiator->responder direction, EspEr/EspAr the
	// responder->initiator direction. Auth keys are empty for AEAD suites.
	EspEi, EspAi []byte
	EspEr, EspAr []byte

	IsTransportMode bool
	ReqID           int
	Rdomain         uint8

	LocalNets, RemoteNets []*net.IPNet

	LifetimeSoft, LifetimeHard   time.Duration
	ByteLimitSoft, ByteLimitHard uint64
}

// SAProgrammer installs and removes kernel SA/policy state for a Child SA
// and reports the runtime liveness data the rekey and DPD logic need. One
// implementation per OS; the state machine never sees the difference.
type SAProgrammer interface {
	// AddChildSA installs both directions' SA and policy for p.
	AddChildSA(p *SaParams) error
	// UpdateChildSAAddresses re-addresses an existing SA/policy pair after
	// a MOBIKE address change, without touching its keys or SPIs.
	UpdateChildSAAddresses(p *SaParams) error
	// DeleteChildSA removes both directions' SA and policy for p.
	DeleteChildSA(p *SaParams) error
	// LastUsed reports when the inbound SA for spi last processed a
	// packet, for idle-timeout and rekey-on-demand decisions.
	LastUsed(spi protocol.Spi) (time.Time, error)
	// Couple enables or disables the whole IPsec data path, used when a
	// privilege-separated IKEv2 worker hands control to or reclaims it
	// from a Control process.
	Couple(couple bool) error
}

// RouteProgrammer manages the virtual interface address and routes a
// configuration-mode ("remote access") Child SA needs once the peer hands
// back an INTERNAL_IP4_ADDRESS/INTERNAL_IP6_ADDRESS.
type RouteProgrammer interface {
	AddAddress(addr net.IP, mask net.IPMask) error
	DelAddress(addr net.IP, mask net.IPMask) error
	// AddClonedRoute installs a host route to dst via the given gateway,
	// bypassing the tunnel, used to keep the IKE control channel itself off
	// the tunnel once the default route is replaced.
	AddClonedRoute(dst *net.IPNet, via net.IP) error
	// AddSplitDefaultRoutes installs 0.0.0.0/1 and 128.0.0.0/1 (or the
	// IPv6 equivalent) via the tunnel instead of replacing the real
	// default route, so it always outranks it without requiring removal.
	AddSplitDefaultRoutes(via net.IP) error
	// Cleanup undoes every change this programmer made, in reverse order.
	Cleanup() error
}
