package ike

import (
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// DeleteFromSession builds the INFORMATIONAL request that tears down this
// IKE SA (and, implicitly, every Child SA riding on it); RFC 7296 1.4.1
// says a Delete for the IKE SA protocol carries no SPI list.
func DeleteFromSession(o *Session) *Message {
	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.DeletePayload{
		PayloadHeader: &protocol.PayloadHeader{},
		ProtocolId:    protocol.IKE,
	})
	return informationalMessage(o, payloads, false)
}

// EmptyFromSession builds the liveness-check/ack INFORMATIONAL exchange
// (RFC 7296 1.4, DPD probe or a bare acknowledgement of a peer's delete).
func EmptyFromSession(o *Session, isResponse bool) *Message {
	return informationalMessage(o, protocol.MakePayloads(), isResponse)
}

// NotifyFromSession builds an INFORMATIONAL request carrying a single error
// notification, used when a handler needs to tell the peer why it rejected
// something outside the request/response it was answering.
func NotifyFromSession(o *Session, ie protocol.IkeErrorCode) *Message {
	payloads := protocol.MakePayloads()
	nt := ie.NotificationType()
	payloads.Add(&protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       protocol.IKE,
		NotificationType: nt,
	})
	return informationalMessage(o, payloads, false)
}

func informationalMessage(o *Session, payloads *protocol.Payloads, isResponse bool) *Message {
	flags := protocol.IkeFlags(0)
	if o.isInitiator {
		flags |= protocol.INITIATOR
	}
	if isResponse {
		flags |= protocol.RESPONSE
	}
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.INFORMATIONAL,
			Flags:        flags,
		},
		Payloads: payloads,
	}
}

// HandleInformationalForSession dispatches an incoming INFORMATIONAL
// message to the right FSM edge: an IKE SA delete closes the whole
// Session, a Child SA delete removes just that Child SA, address-update
// notifications drive MOBIKE, and anything else (including an empty
// liveness probe) is acknowledged and dropped.
func HandleInformationalForSession(o *Session, msg *Message) *state.StateEvent {
	if msg.Payloads == nil {
		return nil
	}
	for _, pl := range msg.Payloads.Array {
		del, ok := pl.(*protocol.DeletePayload)
		if !ok {
			continue
		}
		if del.ProtocolId == protocol.IKE {
			return &state.StateEvent{Event: state.MSG_INFORMATIONAL, Data: msg}
		}
		handleChildSaDelete(o, del)
	}
	for _, pl := range msg.Payloads.Array {
		if n, ok := pl.(*protocol.NotifyPayload); ok && n.NotificationType == protocol.UPDATE_SA_ADDRESSES {
			handleMobikeUpdate(o, msg)
		}
	}
	if !msg.IkeHeader.Flags.IsResponse() {
		o.SendEmptyInformational(true)
	} else {
		o.dpdMissed = 0
	}
	return nil
}

// handleChildSaDelete removes the kernel state for a peer-initiated Child
// SA delete, acknowledging with the matching SPI list (RFC 7296 1.4.1: the
// responder's SPIs, not the initiator's, go in the reply).
func handleChildSaDelete(o *Session, del *protocol.DeletePayload) {
	o.log.Infof("peer deleted %d child sa(s) of protocol %v", len(del.Spis), del.ProtocolId)
	o.RemoveSa()
	reply := protocol.MakePayloads()
	reply.Add(&protocol.DeletePayload{
		PayloadHeader: &protocol.PayloadHeader{},
		ProtocolId:    del.ProtocolId,
		Spis:          del.Spis,
	})
	m := informationalMessage(o, reply, true)
	m.IkeHeader.MsgId = o.msgIdInc(true)
	encoded, err := m.Encode(o.tkm)
	o.sendMsg(encoded, err)
}
