package ike

import (
	"bytes"
	"net"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/protocol"
)

// initParams is the decoded content of one IKE_SA_INIT message, pulled out
// of its Payloads so the checking/handling functions below don't have to
// re-walk the payload chain.
type initParams struct {
	isInitiator bool
	spiI, spiR  protocol.Spi

	proposals protocol.Proposals
	cookie    []byte

	dhTransformId protocol.DhTransformId
	dhPublic      []byte

	nonce []byte

	ns []*protocol.NotifyPayload
}

func parseInitParams(m *Message) (*initParams, error) {
	p := &initParams{
		isInitiator: !m.IkeHeader.Flags.IsResponse(),
		spiI:        m.IkeHeader.SpiI,
		spiR:        m.IkeHeader.SpiR,
	}
	sa, ok := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return nil, errors.Wrap(protocol.ERR_INVALID_SYNTAX, "missing SA payload")
	}
	p.proposals = sa.Proposals

	ke, ok := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		return nil, errors.Wrap(protocol.ERR_INVALID_SYNTAX, "missing KE payload")
	}
	p.dhTransformId = ke.DhTransformId
	p.dhPublic = ke.KeyData

	nonce, ok := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return nil, errors.Wrap(protocol.ERR_INVALID_SYNTAX, "missing nonce payload")
	}
	p.nonce = nonce.Nonce

	for _, pl := range m.Payloads.Array {
		if n, ok := pl.(*protocol.NotifyPayload); ok {
			p.ns = append(p.ns, n)
			if n.NotificationType == protocol.COOKIE {
				p.cookie = n.Data
			}
		}
	}
	return p, nil
}

// InitFromSession builds this Session's IKE_SA_INIT message: SA, KE, nonce,
// and the NAT detection / signature hash algorithm notifications.
func InitFromSession(o *Session) *Message {
	nonce := o.tkm.Nr
	spi := o.IkeSpiR
	if o.isInitiator {
		nonce = o.tkm.Ni
		spi = o.IkeSpiI
	}

	payloads := protocol.MakePayloads()
	sa := &protocol.SaPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Proposals:     ProposalFromTransform(protocol.IKE, o.cfg.ProposalIke, spi),
	}
	payloads.Add(sa)
	payloads.Add(&protocol.KePayload{
		PayloadHeader: &protocol.PayloadHeader{},
		DhTransformId: o.tkm.suite.DhTransformId(),
		KeyData:       o.tkm.DhPublic(),
	})
	payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: nonce})
	if o.responderCookie != nil {
		payloads.Add(&protocol.NotifyPayload{
			PayloadHeader:    &protocol.PayloadHeader{},
			ProtocolId:       protocol.IKE,
			NotificationType: protocol.COOKIE,
			Data:             o.responderCookie,
		})
	}
	if o.localAddr != nil {
		payloads.Add(natDetectionNotify(protocol.NAT_DETECTION_SOURCE_IP, o.IkeSpiI, o.IkeSpiR, localAddrOr(o.localAddr, o.remoteAddr)))
		payloads.Add(natDetectionNotify(protocol.NAT_DETECTION_DESTINATION_IP, o.IkeSpiI, o.IkeSpiR, remoteAddrOr(o.localAddr, o.remoteAddr)))
	}
	payloads.Add(&protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       protocol.IKE,
		NotificationType: protocol.SIGNATURE_HASH_ALGORITHMS,
		Data:             []byte{0, byte(protocol.HASH_SHA2_256)},
	})
	if o.cfg.EnableMobike {
		payloads.Add(&protocol.NotifyPayload{
			PayloadHeader:    &protocol.PayloadHeader{},
			ProtocolId:       protocol.IKE,
			NotificationType: protocol.MOBIKE_SUPPORTED,
		})
	}

	flags := protocol.IkeFlags(0)
	if o.isInitiator {
		flags = protocol.INITIATOR
	} else {
		flags = protocol.RESPONSE
	}
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_SA_INIT,
			Flags:        flags,
		},
		Payloads: payloads,
	}
}

func localAddrOr(local, remote net.Addr) net.Addr { return local }
func remoteAddrOr(local, remote net.Addr) net.Addr { return remote }

func notificationResponse(spiI protocol.Spi, nt protocol.NotificationType, data []byte) *Message {
	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       protocol.IKE,
		NotificationType: nt,
		Data:             data,
	})
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         spiI,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_SA_INIT,
			Flags:        protocol.RESPONSE,
		},
		Payloads: payloads,
	}
}

// CheckInitRequest validates an incoming IKE_SA_INIT request before a
// responder Session is even created: cookie defense, and the configured DH
// group.
func CheckInitRequest(cfg *Config, init *initParams, remote net.Addr) error {
	if !init.isInitiator {
		return protocol.ERR_INVALID_SYNTAX
	}
	if cookie := init.cookie; cookie != nil {
		if !checkCookie(cookie, init.nonce, init.spiI, remote) {
			return errors.Wrap(MissingCookieError, "invalid cookie")
		}
	} else if cfg.ThrottleInitRequests {
		return errors.Wrap(MissingCookieError, "requesting cookie")
	}

	want := cfg.ProposalIke[protocol.TRANSFORM_TYPE_DH]
	if want != nil && protocol.DhTransformId(want.TransformId) != init.dhTransformId {
		return errors.Wrapf(protocol.ERR_INVALID_KE_PAYLOAD,
			"peer used dh transform %v, configured %v", init.dhTransformId, want.TransformId)
	}
	return cfg.CheckProposals(protocol.IKE, init.proposals)
}

// InitErrorNeedsReply returns the notification response to send back for
// an error CheckInitRequest can recover from by asking the peer to retry,
// nil for anything else (the caller should just drop the message).
func InitErrorNeedsReply(init *initParams, config *Config, remote net.Addr, err error) *Message {
	switch errors.Cause(err) {
	case protocol.ERR_INVALID_KE_PAYLOAD:
		dh := config.ProposalIke[protocol.TRANSFORM_TYPE_DH]
		buf := make([]byte, 2)
		buf[0] = byte(dh.TransformId >> 8)
		buf[1] = byte(dh.TransformId)
		return notificationResponse(init.spiI, protocol.INVALID_KE_PAYLOAD, buf)
	case MissingCookieError:
		return notificationResponse(init.spiI, protocol.COOKIE, getCookie(init.nonce, init.spiI, remote))
	}
	return nil
}

// KeMismatchError carries the DH group the responder demanded in its
// INVALID_KE_PAYLOAD notification; the initiator retries once with it.
type KeMismatchError struct {
	Group protocol.DhTransformId
}

func (e KeMismatchError) Error() string {
	return "ike: responder requires dh group " + e.Group.String()
}

// CheckInitResponseForSession validates an IKE_SA_INIT response the
// initiator received, including the retry-triggering COOKIE/INVALID_KE_PAYLOAD
// notifications.
func CheckInitResponseForSession(o *Session, init *initParams) error {
	if init.isInitiator {
		return protocol.ERR_INVALID_SYNTAX
	}
	if bytes.Equal(init.spiR, init.spiI) {
		return errors.WithStack(protocol.ERR_INVALID_SYNTAX)
	}
	for _, notif := range init.ns {
		switch notif.NotificationType {
		case protocol.COOKIE:
			return CookieError{Notification: notif}
		case protocol.INVALID_KE_PAYLOAD:
			e := KeMismatchError{}
			if len(notif.Data) >= 2 {
				e.Group = protocol.DhTransformId(uint16(notif.Data[0])<<8 | uint16(notif.Data[1]))
			}
			return e
		case protocol.NO_PROPOSAL_CHOSEN:
			return protocol.ERR_NO_PROPOSAL_CHOSEN
		}
	}
	if SpiToInt64(init.spiR) == 0 {
		return errors.WithStack(protocol.ERR_INVALID_SYNTAX)
	}
	return nil
}

// checkSignatureAlgo warns when the peer never sent
// SIGNATURE_HASH_ALGORITHMS; it always returns nil.
func checkSignatureAlgo(o *Session, isEnabled bool) error {
	if !isEnabled {
		o.log.Warningf("not using secure signatures")
	}
	return nil
}

// HandleInitForSession completes this Session's IKE_SA_INIT half-exchange
// once the peer's message has been decoded: NAT detection, DH completion,
// and recording the raw message bytes HandleIkeAuth's AUTH computation
// needs.
func HandleInitForSession(o *Session, m *Message) error {
	init, err := parseInitParams(m)
	if err != nil {
		return err
	}

	var rfc7427Signatures bool
	var peerMobike bool
	for _, ns := range init.ns {
		switch ns.NotificationType {
		case protocol.SIGNATURE_HASH_ALGORITHMS:
			rfc7427Signatures = true
		case protocol.MOBIKE_SUPPORTED:
			peerMobike = true
		case protocol.NAT_DETECTION_DESTINATION_IP:
			if !checkNatHash(ns.Data, init.spiI, init.spiR, m.LocalAddr) {
				o.log.Infof("host appears to be behind a NAT: %s", m.LocalAddr)
				o.natDetected = true
			}
		case protocol.NAT_DETECTION_SOURCE_IP:
			if !checkNatHash(ns.Data, init.spiI, init.spiR, m.RemoteAddr) {
				o.log.Infof("peer appears to be behind a NAT: %s", m.RemoteAddr)
				o.natDetected = true
			}
		}
	}
	if err := checkSignatureAlgo(o, rfc7427Signatures); err != nil {
		return err
	}
	o.rfc7427Signatures = rfc7427Signatures
	o.mobikeActive = o.cfg.EnableMobike && peerMobike

	if o.isInitiator {
		o.tkm.Nr = init.nonce
		o.IkeSpiR = append(protocol.Spi{}, init.spiR...)
	} else {
		o.IkeSpiI = append(protocol.Spi{}, init.spiI...)
	}

	if err := o.tkm.SetDhShared(init.dhPublic, o.IkeSpiI, o.IkeSpiR); err != nil {
		return err
	}
	o.log.Info("ike sa initialized")

	if o.isInitiator {
		o.initRb = m.Data
	} else {
		o.initIb = m.Data
	}
	return nil
}
