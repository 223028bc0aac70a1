package ike

import (
	"net"

	"github.com/msgboxio/ike/protocol"
)

// handleMobikeUpdate implements RFC 4555 §3.8: a peer that moved to a new
// address tells us so with an UPDATE_SA_ADDRESSES notification inside an
// INFORMATIONAL exchange. The Session adopts msg's source address as the
// peer's new endpoint and reprograms the Child SA's kernel state to match,
// without any rekey.
func handleMobikeUpdate(o *Session, msg *Message) {
	if !o.mobikeActive {
		o.log.Warning("received UPDATE_SA_ADDRESSES but mobike was not negotiated")
		return
	}
	if msg.RemoteAddr == nil {
		return
	}
	o.remoteAddr = msg.RemoteAddr
	o.log.Infof("mobike: peer moved to %s", o.remoteAddr)

	sa := updateSaAddresses(o)
	if o.onUpdateSaCallback != nil {
		if err := o.onUpdateSaCallback(sa); err != nil {
			o.log.Errorf("mobike: kernel sa re-addressing failed: %v", err)
		}
	}
}

// InitiateMobikeUpdate is called by the process that owns the UDP socket
// when it notices this Session's local address changed (an interface came
// up/down, a NAT rebinding, a Wi-Fi to cellular handoff); it tells the peer
// the new address via an UPDATE_SA_ADDRESSES INFORMATIONAL request.
func (o *Session) InitiateMobikeUpdate(newLocal, newRemote net.Addr) {
	if !o.mobikeActive {
		return
	}
	o.localAddr = newLocal
	if newRemote != nil {
		o.remoteAddr = newRemote
	}

	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       protocol.IKE,
		NotificationType: protocol.UPDATE_SA_ADDRESSES,
	})
	if o.localAddr != nil {
		payloads.Add(natDetectionNotify(protocol.NAT_DETECTION_SOURCE_IP, o.IkeSpiI, o.IkeSpiR, localAddrOr(o.localAddr, o.remoteAddr)))
		payloads.Add(natDetectionNotify(protocol.NAT_DETECTION_DESTINATION_IP, o.IkeSpiI, o.IkeSpiR, remoteAddrOr(o.localAddr, o.remoteAddr)))
	}
	m := informationalMessage(o, payloads, false)
	m.IkeHeader.MsgId = o.msgIdInc(false)
	encoded, err := m.Encode(o.tkm)
	o.sendMsg(encoded, err)

	sa := updateSaAddresses(o)
	if o.onUpdateSaCallback != nil {
		if err := o.onUpdateSaCallback(sa); err != nil {
			o.log.Errorf("mobike: kernel sa re-addressing failed: %v", err)
		}
	}
}
