package ike

import (
	"bytes"
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// rekeyRequest is the Session's record of an outstanding CREATE_CHILD_SA
// request it initiated, kept so the matching response (or the peer's own
// simultaneous rekey) can be resolved against it.
type rekeyRequest struct {
	isIkeRekey   bool
	oldChildSpiI protocol.Spi // non-nil: this is a Child SA rekey, not a fresh one
	nonce        []byte
	newSpiI      protocol.Spi

	// newIkeSpi and dhPriv are the proposed replacement IKE SA's initiator
	// SPI and our half of its fresh key exchange, held until the peer's
	// response completes the derivation (isIkeRekey only).
	newIkeSpi protocol.Spi
	dhPriv    crypto.DHPrivate
}

// RequestChildSa arms a fresh additional Child SA negotiation and posts the
// event that drives HandleCreateChildSaRequestForSession.
func (o *Session) RequestChildSa() {
	o.pendingRekey = &rekeyRequest{newSpiI: MakeSpi()[:4]}
	o.Fsm.PostEvent(state.StateEvent{Event: state.REKEY_CHILD_SA})
}

// RequestChildSaRekey arms a Child SA rekey for the given inbound SPI.
func (o *Session) RequestChildSaRekey(oldSpiI protocol.Spi) {
	o.pendingRekey = &rekeyRequest{oldChildSpiI: oldSpiI, newSpiI: MakeSpi()[:4]}
	o.Fsm.PostEvent(state.StateEvent{Event: state.REKEY_CHILD_SA})
}

// RequestIkeSaRekey arms an IKE SA rekey, which establishes a fresh IKE SA
// (new SPIs, fresh DH) over the existing one before the old one is deleted.
func (o *Session) RequestIkeSaRekey() {
	o.pendingRekey = &rekeyRequest{isIkeRekey: true}
	o.Fsm.PostEvent(state.StateEvent{Event: state.REKEY_IKE_SA})
}

// HandleCreateChildSaRequestForSession builds and sends the
// CREATE_CHILD_SA request for whichever rekey/additional-SA operation
// RequestChildSa/RequestChildSaRekey/RequestIkeSaRekey armed.
func (o *Session) HandleCreateChildSaRequestForSession() (s state.StateEvent) {
	req := o.pendingRekey
	if req == nil {
		return state.StateEvent{Event: state.FAIL, Data: errors.New("ike: no pending rekey request")}
	}

	payloads := protocol.MakePayloads()
	nonce := o.freshRekeyNonce()
	req.nonce = nonce
	payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: nonce})

	if req.isIkeRekey {
		if !o.tkm.suite.HasDH() {
			return state.StateEvent{Event: state.FAIL, Data: errors.New("ike: ike sa rekey requires a dh group")}
		}
		priv, err := o.tkm.suite.GenerateDH(true)
		if err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		req.dhPriv = priv
		req.newIkeSpi = MakeSpi()
		payloads.Add(&protocol.SaPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Proposals:     ProposalFromTransform(protocol.IKE, o.cfg.ProposalIke, req.newIkeSpi),
		})
		payloads.Add(&protocol.KePayload{
			PayloadHeader: &protocol.PayloadHeader{},
			DhTransformId: o.tkm.suite.DhTransformId(),
			KeyData:       priv.Public(),
		})
	} else {
		payloads.Add(&protocol.SaPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Proposals:     ProposalFromTransform(protocol.ESP, o.cfg.ProposalEsp, req.newSpiI),
		})
		if req.oldChildSpiI != nil {
			payloads.Add(&protocol.NotifyPayload{
				PayloadHeader:    &protocol.PayloadHeader{},
				ProtocolId:       protocol.ESP,
				NotificationType: protocol.REKEY_SA,
				Spi:              req.oldChildSpiI,
			})
		}
		payloads.Add(protocol.NewTrafficSelectorPayload(true, o.cfg.TsI...))
		payloads.Add(protocol.NewTrafficSelectorPayload(false, o.cfg.TsR...))
	}

	m := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.CREATE_CHILD_SA,
			Flags:        initiatorFlags(o),
		},
		Payloads: payloads,
	}
	m.IkeHeader.MsgId = o.msgIdInc(false)
	encoded, err := m.Encode(o.tkm)
	return o.sendMsg(encoded, err)
}

// HandleCreateChildSaForSession processes an incoming CREATE_CHILD_SA
// request or response: an additional Child SA, a Child SA rekey (the old
// SPI is logged once the new SA installs; the old SA's kernel state is not
// removed here), or the completion half of an IKE SA rekey.
func HandleCreateChildSaForSession(o *Session, m *Message) state.StateEvent {
	if m.Payloads == nil {
		return state.StateEvent{}
	}
	sa, ok := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return state.StateEvent{Event: state.FAIL, Data: protocol.ERR_INVALID_SYNTAX}
	}

	// simultaneous rekey: the side holding the smaller nonce keeps its
	// new SA, the other abandons its own attempt and accepts the peer's
	if evt, resolved := o.resolveSimultaneousRekey(m); resolved {
		return evt
	}

	if sa.Proposals[0].ProtocolId == protocol.IKE {
		return handleIkeSaRekey(o, m, sa)
	}

	if err := o.cfg.CheckProposals(protocol.ESP, sa.Proposals); err != nil {
		o.Notify(protocol.ERR_NO_PROPOSAL_CHOSEN)
		return state.StateEvent{}
	}

	var oldSpi []byte
	for _, pl := range m.Payloads.Array {
		if n, ok := pl.(*protocol.NotifyPayload); ok && n.NotificationType == protocol.REKEY_SA {
			oldSpi = n.Spi
		}
	}

	if !m.IkeHeader.Flags.IsResponse() {
		reply := createChildSaResponse(o, sa)
		reply.IkeHeader.MsgId = o.msgIdInc(true)
		encoded, err := reply.Encode(o.tkm)
		if evt := o.sendMsg(encoded, err); evt.Event == state.FAIL {
			return evt
		}
	}

	o.EspSpiI = append(protocol.Spi{}, sa.Proposals[0].Spi...)
	evt := o.InstallSa()
	if evt.Event != state.NO_EVENT {
		return evt
	}
	if oldSpi != nil {
		o.log.Infof("child sa rekey complete, retiring spi %x", oldSpi)
	}
	o.pendingRekey = nil
	return state.StateEvent{}
}

// handleIkeSaRekey completes a CREATE_CHILD_SA exchange that rekeys the
// IKE SA itself (RFC 7296 2.18): a fresh DH exchange and nonces seed
// SKEYSEED' = prf(SK_d (old), g^ir (new) | Ni | Nr), expanded under the
// replacement SA's SPIs. Once the replacement is established the Session
// adopts it and the existing Child SAs are re-parented onto it; their
// kernel state is untouched.
func handleIkeSaRekey(o *Session, m *Message, sa *protocol.SaPayload) state.StateEvent {
	nonce, ok := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return state.StateEvent{Event: state.FAIL, Data: protocol.ERR_INVALID_SYNTAX}
	}
	ke, ok := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		return state.StateEvent{Event: state.FAIL, Data: protocol.ERR_INVALID_SYNTAX}
	}
	if err := o.cfg.CheckProposals(protocol.IKE, sa.Proposals); err != nil {
		o.log.Error(err)
		o.Notify(protocol.ERR_NO_PROPOSAL_CHOSEN)
		return state.StateEvent{}
	}
	peerSpi := append(protocol.Spi{}, sa.Proposals[0].Spi...)

	if m.IkeHeader.Flags.IsResponse() {
		req := o.pendingRekey
		if req == nil || !req.isIkeRekey || req.dhPriv == nil {
			o.log.Warning("unsolicited ike sa rekey response")
			return state.StateEvent{}
		}
		shared, err := req.dhPriv.SharedKey(ke.KeyData)
		if err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		newTkm, err := o.tkm.RekeyIkeSa(req.nonce, nonce.Nonce, shared, req.newIkeSpi, peerSpi, true)
		if err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		o.pendingRekey = nil
		o.adoptRekeyedIkeSa(newTkm, req.newIkeSpi, peerSpi)
		return state.StateEvent{}
	}

	// responder side: complete the exchange with our own SPI, nonce, and
	// KE share, reply under the old SA's keys, then switch over
	priv, err := o.tkm.suite.GenerateDH(false)
	if err != nil {
		return state.StateEvent{Event: state.FAIL, Data: err}
	}
	shared, err := priv.SharedKey(ke.KeyData)
	if err != nil {
		return state.StateEvent{Event: state.FAIL, Data: err}
	}
	ourSpi := MakeSpi()
	ourNonce := o.freshRekeyNonce()
	newTkm, err := o.tkm.RekeyIkeSa(nonce.Nonce, ourNonce, shared, peerSpi, ourSpi, false)
	if err != nil {
		return state.StateEvent{Event: state.FAIL, Data: err}
	}

	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: ourNonce})
	payloads.Add(&protocol.SaPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Proposals:     ProposalFromTransform(protocol.IKE, o.cfg.ProposalIke, ourSpi),
	})
	payloads.Add(&protocol.KePayload{
		PayloadHeader: &protocol.PayloadHeader{},
		DhTransformId: o.tkm.suite.DhTransformId(),
		KeyData:       priv.Public(),
	})
	flags := protocol.RESPONSE
	if o.isInitiator {
		flags |= protocol.INITIATOR
	}
	reply := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.CREATE_CHILD_SA,
			Flags:        flags,
		},
		Payloads: payloads,
	}
	reply.IkeHeader.MsgId = o.msgIdInc(true)
	encoded, err := reply.Encode(o.tkm)
	if evt := o.sendMsg(encoded, err); evt.Event == state.FAIL {
		return evt
	}
	o.adoptRekeyedIkeSa(newTkm, peerSpi, ourSpi)
	return state.StateEvent{}
}

// resolveSimultaneousRekey applies the rekey-collision rule to an incoming
// CREATE_CHILD_SA request that crossed one of ours on the wire: the side
// holding the numerically smaller nonce keeps its new SA. If our nonce is
// the smaller one the peer's request is refused with TEMPORARY_FAILURE and
// our own exchange sees itself through; otherwise we abandon our attempt
// and process the peer's request normally.
func (o *Session) resolveSimultaneousRekey(m *Message) (state.StateEvent, bool) {
	if m.IkeHeader.Flags.IsResponse() || o.pendingRekey == nil {
		return state.StateEvent{}, false
	}
	peerNonce, ok := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return state.StateEvent{Event: state.FAIL, Data: protocol.ERR_INVALID_SYNTAX}, true
	}
	if bytes.Compare(o.lastRekeyNonce, peerNonce.Nonce) < 0 {
		o.log.Info("simultaneous rekey: our nonce is lower, keeping our attempt")
		o.Notify(protocol.ERR_TEMPORARY_FAILURE)
		return state.StateEvent{}, true
	}
	o.log.Info("simultaneous rekey: peer holds the lower nonce, abandoning our attempt")
	o.pendingRekey = nil
	return state.StateEvent{}, false
}

func createChildSaResponse(o *Session, reqSa *protocol.SaPayload) *Message {
	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: o.freshRekeyNonce()})
	spi := MakeSpi()[:4]
	payloads.Add(&protocol.SaPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Proposals:     ProposalFromTransform(protocol.ESP, o.cfg.ProposalEsp, spi),
	})
	payloads.Add(protocol.NewTrafficSelectorPayload(true, o.cfg.TsI...))
	payloads.Add(protocol.NewTrafficSelectorPayload(false, o.cfg.TsR...))
	o.EspSpiR = spi
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.CREATE_CHILD_SA,
			Flags:        protocol.RESPONSE,
		},
		Payloads: payloads,
	}
}

func initiatorFlags(o *Session) protocol.IkeFlags {
	if o.isInitiator {
		return protocol.INITIATOR
	}
	return 0
}

func (o *Session) freshRekeyNonce() []byte {
	n := make([]byte, nonceLen)
	if _, err := rand.Read(n); err != nil {
		panic("ike: failed to generate rekey nonce: " + err.Error())
	}
	o.lastRekeyNonce = n
	return n
}
