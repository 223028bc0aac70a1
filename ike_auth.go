package ike

import (
	"net"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// authParams is the decoded content of one IKE_AUTH message.
type authParams struct {
	id    *protocol.IdPayload
	certs [][]byte
	auth  *protocol.AuthPayload

	espProposals protocol.Proposals
	tsi, tsr     []*protocol.Selector

	cp *protocol.ConfigurationPayload
}

// parseAuthParams pulls the IKE_AUTH payloads apart without judging
// completeness: an EAP exchange legitimately omits AUTH (initiator's first
// message) or ID (initiator's final message), so presence checks belong to
// the callers that know which message of the exchange they hold.
func parseAuthParams(m *Message) (*authParams, error) {
	p := &authParams{}
	if id, ok := m.Payloads.Get(protocol.PayloadTypeIDi).(*protocol.IdPayload); ok {
		p.id = id
	} else if id, ok := m.Payloads.Get(protocol.PayloadTypeIDr).(*protocol.IdPayload); ok {
		p.id = id
	}
	if cert, ok := m.Payloads.Get(protocol.PayloadTypeCERT).(*protocol.CertPayload); ok {
		p.certs = [][]byte{cert.Data}
	}
	if auth, ok := m.Payloads.Get(protocol.PayloadTypeAUTH).(*protocol.AuthPayload); ok {
		p.auth = auth
	}
	if sa, ok := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload); ok {
		p.espProposals = sa.Proposals
	}
	if tsi, ok := m.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload); ok {
		p.tsi = tsi.Selectors
	}
	if tsr, ok := m.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload); ok {
		p.tsr = tsr.Selectors
	}
	if cp, ok := m.Payloads.Get(protocol.PayloadTypeCP).(*protocol.ConfigurationPayload); ok {
		p.cp = cp
	}
	return p, nil
}

// ourAuthValue computes the AUTH payload value this Session owes the peer,
// dispatching to the CA process for any method beyond PSK/NULL.
func ourAuthValue(o *Session) ([]byte, protocol.AuthMethod, error) {
	if o.eap != nil && o.eap.completed {
		key := o.tkm.EapAuthKey(o.eap.msk(), o.isInitiator)
		return o.tkm.PskAuth(key, signedOctetsForUs(o)), protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE, nil
	}
	switch o.cfg.AuthMethod {
	case protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE:
		signed := signedOctetsForUs(o)
		return o.tkm.PskAuth(o.cfg.PSK, signed), protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE, nil
	case protocol.NULL_AUTH:
		return nil, protocol.NULL_AUTH, nil
	default:
		if o.cfg.CADispatch == nil {
			return nil, 0, errors.New("ike: certificate auth method configured without a CA dispatcher")
		}
		signed := signedOctetsForUs(o)
		method := o.cfg.AuthMethod
		if o.rfc7427Signatures && method == protocol.RSA_DIGITAL_SIGNATURE {
			method = protocol.DIGITAL_SIGNATURE
		}
		sig, err := o.cfg.CADispatch.Sign(method, signed)
		if err != nil {
			return nil, 0, errors.Wrap(err, "ike: sign auth payload")
		}
		return sig, method, nil
	}
}

// signedOctetsForUs builds the octets this Session signs/MACs: its own
// first message, the peer's nonce, and its own ID payload (RFC 7296 2.15).
func signedOctetsForUs(o *Session) []byte {
	firstMsg := o.initIb
	peerNonce := o.tkm.Nr
	if !o.isInitiator {
		firstMsg = o.initRb
		peerNonce = o.tkm.Ni
	}
	return o.tkm.SignedOctets(firstMsg, peerNonce, o.cfg.LocalID, o.isInitiator)
}

// signedOctetsForPeer builds the octets a peer's AUTH payload should have
// signed/MACed, the mirror of signedOctetsForUs from our side of the wire.
func signedOctetsForPeer(o *Session, peerID *protocol.IdPayload) []byte {
	firstMsg := o.initRb
	ourNonce := o.tkm.Ni
	if !o.isInitiator {
		firstMsg = o.initIb
		ourNonce = o.tkm.Nr
	}
	return o.tkm.SignedOctets(firstMsg, ourNonce, peerID, !o.isInitiator)
}

// AuthFromSession builds this Session's IKE_AUTH message: IDi/IDr, an
// optional CERT/CERTREQ, AUTH, and the bundled Child SA's SAi2/TSi/TSr.
func AuthFromSession(o *Session) (*Message, error) {
	// an initiator requesting EAP omits AUTH from its first IKE_AUTH
	// message (RFC 7296 2.16); the MSK-derived AUTH follows once the
	// method concludes
	omitAuth := o.isInitiator && o.eapInProgress()
	var (
		authValue []byte
		method    protocol.AuthMethod
		err       error
	)
	if !omitAuth {
		authValue, method, err = ourAuthValue(o)
		if err != nil {
			return nil, err
		}
	}

	payloads := protocol.MakePayloads()
	id := o.cfg.LocalID
	if id == nil {
		return nil, errors.New("ike: no local identity configured")
	}
	idCopy := protocol.NewIdPayload(o.isInitiator, id.IdType, id.Data)
	payloads.Add(idCopy)

	if !omitAuth && method != protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE && method != protocol.NULL_AUTH && o.cfg.CADispatch != nil {
		for _, der := range o.cfg.CADispatch.LocalCertChain() {
			payloads.Add(&protocol.CertPayload{
				PayloadHeader: &protocol.PayloadHeader{},
				Encoding:      protocol.CERT_X509_SIGNATURE,
				Data:          der,
			})
		}
	}

	if !omitAuth {
		payloads.Add(&protocol.AuthPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Method:        method,
			Data:          authValue,
		})
	}

	spi := o.EspSpiR
	if o.isInitiator {
		spi = o.EspSpiI
	}
	payloads.Add(&protocol.SaPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Proposals:     ProposalFromTransform(protocol.ESP, o.cfg.ProposalEsp, spi),
	})
	payloads.Add(protocol.NewTrafficSelectorPayload(true, o.cfg.TsI...))
	payloads.Add(protocol.NewTrafficSelectorPayload(false, o.cfg.TsR...))

	if !o.isInitiator && o.assignedAddr != nil {
		payloads.Add(&protocol.ConfigurationPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			CfgType:       protocol.CFG_REPLY,
			Attributes: []*protocol.ConfigAttribute{
				{Type: protocol.INTERNAL_IP4_ADDRESS, Value: o.assignedAddr.To4()},
			},
		})
	} else if o.isInitiator && o.cfg.RequestConfig {
		payloads.Add(&protocol.ConfigurationPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			CfgType:       protocol.CFG_REQUEST,
			Attributes:    []*protocol.ConfigAttribute{{Type: protocol.INTERNAL_IP4_ADDRESS}},
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
			ExchangeType: protocol.IKE_AUTH,
			Flags:        flags,
		},
		Payloads: payloads,
	}, nil
}

// AuthResponseFromSession is the responder's reply once HandleAuthForSession
// has verified the peer and accepted the bundled Child SA.
func AuthResponseFromSession(o *Session) *Message {
	m, err := AuthFromSession(o)
	if err != nil {
		o.log.Errorf("building auth response: %v", err)
		return NotifyFromSession(o, protocol.ERR_AUTHENTICATION_FAILED)
	}
	return m
}

// verifyPeerAuth checks the peer's AUTH payload value: shared-key MAC
// (under the configured PSK, or the EAP-derived key once an EAP method
// concluded), or a CA-dispatched signature. It returns the peer's verified
// identity string for policy matching.
func verifyPeerAuth(o *Session, params *authParams) (string, error) {
	switch params.auth.Method {
	case protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE:
		key := o.cfg.PSK
		if o.eap != nil && o.eap.completed {
			key = o.tkm.EapAuthKey(o.eap.msk(), !o.isInitiator)
		}
		signed := signedOctetsForPeer(o, params.id)
		if !o.tkm.VerifyPskAuth(key, signed, params.auth.Data) {
			return "", errors.Wrap(protocol.ERR_AUTHENTICATION_FAILED, "psk auth mismatch")
		}
		return string(params.id.Data), nil
	case protocol.NULL_AUTH:
		return string(params.id.Data), nil
	default:
		if o.cfg.CADispatch == nil {
			return "", errors.Wrap(protocol.ERR_AUTHENTICATION_FAILED, "no ca dispatcher configured for certificate auth")
		}
		signed := signedOctetsForPeer(o, params.id)
		peerIdentity, err := o.cfg.CADispatch.Verify(params.auth.Method, params.certs, params.id, signed, params.auth.Data)
		if err != nil {
			return "", errors.Wrap(protocol.ERR_AUTHENTICATION_FAILED, err.Error())
		}
		return peerIdentity, nil
	}
}

// HandleAuthForSession verifies the peer's IKE_AUTH message: its AUTH
// payload (PSK or CA-dispatched signature/certificate), the bundled Child
// SA proposal, and the offered traffic selectors against policy. On success
// it installs the Child SA.
func HandleAuthForSession(o *Session, m *Message) error {
	params, err := parseAuthParams(m)
	if err != nil {
		return err
	}
	if params.id == nil {
		// the initiator's final EAP message repeats no ID payload; its
		// identity was stashed from the first one
		if o.eap == nil || o.eap.peerID == nil {
			return errors.Wrap(protocol.ERR_INVALID_SYNTAX, "missing ID payload")
		}
		params.id = o.eap.peerID
	}
	if params.auth == nil {
		return errors.Wrap(protocol.ERR_INVALID_SYNTAX, "missing AUTH payload")
	}

	peerIdentity, err := verifyPeerAuth(o, params)
	if err != nil {
		return err
	}
	o.peerID = peerIdentity
	o.log.Infof("peer %s authenticated", peerIdentity)

	if err := o.cfg.CheckFromAuth(m, peerIdentity); err != nil {
		return err
	}
	if len(params.tsi) > 0 {
		o.cfg.TsI = params.tsi
	}
	if len(params.tsr) > 0 {
		o.cfg.TsR = params.tsr
	}
	if len(params.espProposals) > 0 {
		spiI := params.espProposals[0].Spi
		o.EspSpiI = append(protocol.Spi{}, spiI...)
	}

	if params.cp != nil && params.cp.CfgType == protocol.CFG_REQUEST && o.cfg.AddressPool != nil {
		if addr, err := o.cfg.AddressPool.Lease(peerIdentity); err != nil {
			o.log.Warningf("address pool exhausted for %s: %v", peerIdentity, err)
		} else {
			o.assignedAddr = addr
		}
	}
	if params.cp != nil && params.cp.CfgType == protocol.CFG_REPLY {
		for _, attr := range params.cp.Attributes {
			if attr.Type == protocol.INTERNAL_IP4_ADDRESS && len(attr.Value) == 4 {
				o.assignedAddr = net.IP(append([]byte{}, attr.Value...))
				o.log.Infof("configuration mode address assigned: %s", o.assignedAddr)
			}
		}
	}

	if evt := o.InstallSa(); evt.Event != state.NO_EVENT {
		return errors.New("ike: installing child sa failed")
	}
	return nil
}

