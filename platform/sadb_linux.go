//go:build linux

package platform

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"

	"github.com/msgboxio/ike/protocol"
)

// LinuxSADB programs Child SA state through the Linux XFRM netlink family,
// grounded on the add/delete/lifetime contract every platform backend
// implements (original_source/iked/ipsec-linux.c names the shape even
// though that reference build stubs every call out).
type LinuxSADB struct {
	// Mark, if non-nil, is applied to every policy this programmer
	// installs, letting a privilege-separated Control process steer only
	// marked traffic into the tunnel.
	Mark *netlink.XfrmMark

	mu        sync.Mutex
	installed map[string]*SaParams
	decoupled bool
}

func NewLinuxSADB() *LinuxSADB { return &LinuxSADB{installed: make(map[string]*SaParams)} }

func saKey(p *SaParams) string {
	return fmt.Sprintf("%x/%x", p.SpiI, p.SpiR)
}

func (s *LinuxSADB) AddChildSA(p *SaParams) error {
	in, out, err := buildStates(p)
	if err != nil {
		return err
	}
	if err := netlink.XfrmStateAdd(in); err != nil {
		return errors.Wrapf(err, "xfrm state add (in, spi 0x%x)", in.Spi)
	}
	if err := netlink.XfrmStateAdd(out); err != nil {
		_ = netlink.XfrmStateDel(in)
		return errors.Wrapf(err, "xfrm state add (out, spi 0x%x)", out.Spi)
	}
	s.mu.Lock()
	decoupled := s.decoupled
	s.installed[saKey(p)] = p
	s.mu.Unlock()
	if decoupled {
		// flows are withheld until Couple(true) reinstalls them
		return nil
	}
	for _, pol := range buildPolicies(p, s.Mark) {
		if err := netlink.XfrmPolicyAdd(pol); err != nil {
			_ = netlink.XfrmStateDel(in)
			_ = netlink.XfrmStateDel(out)
			s.mu.Lock()
			delete(s.installed, saKey(p))
			s.mu.Unlock()
			return errors.Wrapf(err, "xfrm policy add (dir %v)", pol.Dir)
		}
	}
	return nil
}

func (s *LinuxSADB) UpdateChildSAAddresses(p *SaParams) error {
	in, out, err := buildStates(p)
	if err != nil {
		return err
	}
	if err := netlink.XfrmStateUpdate(in); err != nil {
		return errors.Wrapf(err, "xfrm state update (in, spi 0x%x)", in.Spi)
	}
	if err := netlink.XfrmStateUpdate(out); err != nil {
		return errors.Wrapf(err, "xfrm state update (out, spi 0x%x)", out.Spi)
	}
	for _, pol := range buildPolicies(p, s.Mark) {
		if err := netlink.XfrmPolicyUpdate(pol); err != nil {
			return errors.Wrapf(err, "xfrm policy update (dir %v)", pol.Dir)
		}
	}
	return nil
}

func (s *LinuxSADB) DeleteChildSA(p *SaParams) error {
	in, out, err := buildStates(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.installed, saKey(p))
	s.mu.Unlock()
	var firstErr error
	if err := netlink.XfrmStateDel(in); err != nil {
		firstErr = errors.Wrapf(err, "xfrm state del (in, spi 0x%x)", in.Spi)
	}
	if err := netlink.XfrmStateDel(out); err != nil && firstErr == nil {
		firstErr = errors.Wrapf(err, "xfrm state del (out, spi 0x%x)", out.Spi)
	}
	for _, pol := range buildPolicies(p, s.Mark) {
		if err := netlink.XfrmPolicyDel(pol); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "xfrm policy del (dir %v)", pol.Dir)
		}
	}
	return firstErr
}

func (s *LinuxSADB) LastUsed(spi protocol.Spi) (time.Time, error) {
	id := spiToInt(spi)
	states, err := netlink.XfrmStateList(netlink.FAMILY_ALL)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "xfrm state list")
	}
	for _, st := range states {
		if st.Spi != id {
			continue
		}
		if st.Statistics.UseTime == 0 {
			return time.Time{}, nil
		}
		return time.Unix(int64(st.Statistics.UseTime), 0), nil
	}
	return time.Time{}, fmt.Errorf("platform: no xfrm state with spi 0x%x", id)
}

// Couple toggles active/passive mode: decoupling flushes every installed
// flow (policy) while leaving SA state in place, coupling reinstalls them
// from the bookkeeping kept by AddChildSA. Errors are collected rather
// than aborting the batch so one broken flow cannot wedge the rest.
func (s *LinuxSADB) Couple(couple bool) error {
	s.mu.Lock()
	s.decoupled = !couple
	params := make([]*SaParams, 0, len(s.installed))
	for _, p := range s.installed {
		params = append(params, p)
	}
	s.mu.Unlock()

	var firstErr error
	for _, p := range params {
		for _, pol := range buildPolicies(p, s.Mark) {
			var err error
			if couple {
				err = netlink.XfrmPolicyAdd(pol)
			} else {
				err = netlink.XfrmPolicyDel(pol)
			}
			if err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "xfrm policy couple=%v (dir %v)", couple, pol.Dir)
			}
		}
	}
	return firstErr
}

func buildStates(p *SaParams) (in, out *netlink.XfrmState, err error) {
	aead, crypt, auth, icvBits, err := algos(p)
	if err != nil {
		return nil, nil, err
	}
	mode := netlink.XFRM_MODE_TUNNEL
	if p.IsTransportMode {
		mode = netlink.XFRM_MODE_TRANSPORT
	}
	in = &netlink.XfrmState{
		Src:          p.RemoteAddr,
		Dst:          p.LocalAddr,
		Proto:        netlink.XFRM_PROTO_ESP,
		Mode:         mode,
		Spi:          spiToInt(inboundSpi(p)),
		Reqid:        p.ReqID,
		ReplayWindow: 32,
	}
	out = &netlink.XfrmState{
		Src:          p.LocalAddr,
		Dst:          p.RemoteAddr,
		Proto:        netlink.XFRM_PROTO_ESP,
		Mode:         mode,
		Spi:          spiToInt(outboundSpi(p)),
		Reqid:        p.ReqID,
		ReplayWindow: 32,
	}
	inKey, outKey := directionKeys(p)
	if aead {
		in.Aead = &netlink.XfrmStateAlgo{Name: crypt, Key: inKey.enc, ICVLen: icvBits}
		out.Aead = &netlink.XfrmStateAlgo{Name: crypt, Key: outKey.enc, ICVLen: icvBits}
	} else {
		in.Auth = &netlink.XfrmStateAlgo{Name: auth, Key: inKey.auth}
		out.Auth = &netlink.XfrmStateAlgo{Name: auth, Key: outKey.auth}
		in.Crypt = &netlink.XfrmStateAlgo{Name: crypt, Key: inKey.enc}
		out.Crypt = &netlink.XfrmStateAlgo{Name: crypt, Key: outKey.enc}
	}
	if p.NatTPort != 0 {
		encap := &netlink.XfrmStateEncap{
			Type:    netlink.XFRM_ENCAP_ESPINUDP,
			SrcPort: p.NatTPort,
			DstPort: p.NatTPort,
		}
		in.Encap, out.Encap = encap, encap
	}
	if p.LifetimeHard > 0 || p.ByteLimitHard > 0 {
		lim := netlink.XfrmStateLimits{
			TimeHard: uint64(p.LifetimeHard / time.Second),
			TimeSoft: uint64(p.LifetimeSoft / time.Second),
			ByteHard: p.ByteLimitHard,
			ByteSoft: p.ByteLimitSoft,
		}
		in.Limits, out.Limits = lim, lim
	}
	return in, out, nil
}

type sideKeys struct{ enc, auth []byte }

// directionKeys returns (inbound, outbound) keys from the initiator's
// point of view: the initiator's inbound traffic was encrypted by the
// responder using the Er/Ar keys, and vice versa.
func directionKeys(p *SaParams) (in, out sideKeys) {
	if p.IsInitiator {
		return sideKeys{p.EspEr, p.EspAr}, sideKeys{p.EspEi, p.EspAi}
	}
	return sideKeys{p.EspEi, p.EspAi}, sideKeys{p.EspEr, p.EspAr}
}

func inboundSpi(p *SaParams) protocol.Spi {
	if p.IsInitiator {
		return p.SpiI
	}
	return p.SpiR
}

func outboundSpi(p *SaParams) protocol.Spi {
	if p.IsInitiator {
		return p.SpiR
	}
	return p.SpiI
}

func spiToInt(spi protocol.Spi) int {
	var v uint32
	for _, b := range spi {
		v = v<<8 | uint32(b)
	}
	return int(v)
}

// algos maps the negotiated ESP transform ids onto the kernel crypto API
// names XFRM expects.
func algos(p *SaParams) (aead bool, cryptName, authName string, icvBits int, err error) {
	switch p.EncrID {
	case protocol.AEAD_AES_GCM_8, protocol.AEAD_AES_GCM_12, protocol.AEAD_AES_GCM_16:
		icv := map[protocol.EncrTransformId]int{
			protocol.AEAD_AES_GCM_8:  64,
			protocol.AEAD_AES_GCM_12: 96,
			protocol.AEAD_AES_GCM_16: 128,
		}[p.EncrID]
		return true, "rfc4106(gcm(aes))", "", icv, nil
	case protocol.AEAD_CHACHA20_POLY1305:
		return true, "rfc7539esp(chacha20,poly1305)", "", 128, nil
	case protocol.ENCR_AES_CBC:
		cryptName = "cbc(aes)"
	case protocol.ENCR_CAMELLIA_CBC:
		cryptName = "cbc(camellia)"
	case protocol.ENCR_3DES:
		cryptName = "cbc(des3_ede)"
	case protocol.ENCR_NULL:
		cryptName = "ecb(cipher_null)"
	default:
		return false, "", "", 0, fmt.Errorf("platform: unsupported ESP encr transform %d", p.EncrID)
	}
	switch p.AuthID {
	case protocol.AUTH_HMAC_SHA1_96:
		authName = "hmac(sha1)"
	case protocol.AUTH_HMAC_SHA2_256_128:
		authName = "hmac(sha256)"
	case protocol.AUTH_HMAC_SHA2_384_192:
		authName = "hmac(sha384)"
	case protocol.AUTH_HMAC_SHA2_512_256:
		authName = "hmac(sha512)"
	case protocol.AUTH_AES_XCBC_96:
		authName = "xcbc(aes)"
	case protocol.AUTH_AES_CMAC_96:
		authName = "cmac(aes)"
	default:
		return false, "", "", 0, fmt.Errorf("platform: unsupported ESP auth transform %d", p.AuthID)
	}
	return false, cryptName, authName, 0, nil
}

func buildPolicies(p *SaParams, mark *netlink.XfrmMark) []*netlink.XfrmPolicy {
	mode := netlink.XFRM_MODE_TUNNEL
	if p.IsTransportMode {
		mode = netlink.XFRM_MODE_TRANSPORT
	}
	var policies []*netlink.XfrmPolicy
	for _, local := range selectorNets(p.LocalNets, p.LocalAddr) {
		for _, remote := range selectorNets(p.RemoteNets, p.RemoteAddr) {
			out := &netlink.XfrmPolicy{
				Src:  local,
				Dst:  remote,
				Dir:  netlink.XFRM_DIR_OUT,
				Mark: mark,
				Tmpls: []netlink.XfrmPolicyTmpl{{
					Src:   p.LocalAddr,
					Dst:   p.RemoteAddr,
					Proto: netlink.XFRM_PROTO_ESP,
					Mode:  mode,
					Reqid: p.ReqID,
				}},
			}
			in := &netlink.XfrmPolicy{
				Src:  remote,
				Dst:  local,
				Dir:  netlink.XFRM_DIR_IN,
				Mark: mark,
				Tmpls: []netlink.XfrmPolicyTmpl{{
					Src:   p.RemoteAddr,
					Dst:   p.LocalAddr,
					Proto: netlink.XFRM_PROTO_ESP,
					Mode:  mode,
					Reqid: p.ReqID,
				}},
			}
			policies = append(policies, out, in)
		}
	}
	return policies
}

func selectorNets(nets []*net.IPNet, addr net.IP) []*net.IPNet {
	if len(nets) > 0 {
		return nets
	}
	bits := 32
	if addr.To4() == nil {
		bits = 128
	}
	return []*net.IPNet{{IP: addr, Mask: net.CIDRMask(bits, bits)}}
}
