package ike

import (
	"net"
	"time"

	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
)

// childKeys holds one Child SA's negotiated directional keys, split out
// of Tkm.IpsecSaCreate so addSa/removeSa can build a platform.SaParams
// without reaching into Tkm's internals.
type childKeys struct {
	ei, ai, er, ar []byte
}

// addSa builds the platform.SaParams for a freshly negotiated Child SA and
// is the value handed to the Session's onAddSaCallback, which actually
// programs it into the kernel (platform.SAProgrammer.AddChildSA).
func addSa(o *Session, keys childKeys, lifetimeSoft, lifetimeHard time.Duration) *platform.SaParams {
	suite := o.tkm.EspSuite()
	local, remote := localRemoteIP(o)
	return &platform.SaParams{
		IsInitiator:     o.isInitiator,
		LocalAddr:       local,
		RemoteAddr:      remote,
		NatTPort:        o.natTEncapPort(),
		SpiI:            o.EspSpiI,
		SpiR:            o.EspSpiR,
		EncrID:          suite.EncrID,
		AuthID:          suite.AuthID,
		EspEi:           keys.ei,
		EspAi:           keys.ai,
		EspEr:           keys.er,
		EspAr:           keys.ar,
		IsTransportMode: o.cfg.IsTransportMode,
		Rdomain:         o.cfg.Rdomain,
		LocalNets:       selectorNets(o.cfg.TsR),
		RemoteNets:      selectorNets(o.cfg.TsI),
		LifetimeSoft:    lifetimeSoft,
		LifetimeHard:    lifetimeHard,
	}
}

// removeSa builds the matching teardown SaParams: the identifying fields
// plus the transform ids the kernel programmer needs to reconstruct the
// state/policy objects it is deleting.
func removeSa(o *Session) *platform.SaParams {
	suite := o.tkm.EspSuite()
	local, remote := localRemoteIP(o)
	return &platform.SaParams{
		IsInitiator:     o.isInitiator,
		LocalAddr:       local,
		RemoteAddr:      remote,
		NatTPort:        o.natTEncapPort(),
		SpiI:            o.EspSpiI,
		SpiR:            o.EspSpiR,
		EncrID:          suite.EncrID,
		AuthID:          suite.AuthID,
		IsTransportMode: o.cfg.IsTransportMode,
		Rdomain:         o.cfg.Rdomain,
		LocalNets:       selectorNets(o.cfg.TsR),
		RemoteNets:      selectorNets(o.cfg.TsI),
	}
}

// updateSaAddresses rebuilds a Child SA's SaParams with the current
// endpoints after MOBIKE moves the peer (or us) to a new address, without
// touching the negotiated keys.
func updateSaAddresses(o *Session) *platform.SaParams {
	suite := o.tkm.EspSuite()
	local, remote := localRemoteIP(o)
	return &platform.SaParams{
		IsInitiator:     o.isInitiator,
		LocalAddr:       local,
		RemoteAddr:      remote,
		NatTPort:        o.natTEncapPort(),
		SpiI:            o.EspSpiI,
		SpiR:            o.EspSpiR,
		EncrID:          suite.EncrID,
		AuthID:          suite.AuthID,
		IsTransportMode: o.cfg.IsTransportMode,
		Rdomain:         o.cfg.Rdomain,
		LocalNets:       selectorNets(o.cfg.TsR),
		RemoteNets:      selectorNets(o.cfg.TsI),
	}
}

func localRemoteIP(o *Session) (local, remote net.IP) {
	if ua, ok := o.localAddr.(*net.UDPAddr); ok {
		local = ua.IP
	}
	if ua, ok := o.remoteAddr.(*net.UDPAddr); ok {
		remote = ua.IP
	}
	return
}

func selectorNets(sel []*protocol.Selector) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(sel))
	for _, s := range sel {
		bits := 32
		if s.Type == protocol.TS_IPV6_ADDR_RANGE {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: s.StartAddress, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}
