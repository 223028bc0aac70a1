package ike

import (
	"context"
	"net"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// NewResponder creates a Session that answers an IKE_SA_INIT request
// CheckInitRequest has already validated (cookie defense and proposal
// acceptability both happen before a Session (and its Tkm) exists at
// all, so a load-shedding responder never pays for DH key generation on a
// request it will reject).
func NewResponder(parent context.Context, cfg *Config, initReq *Message) (*Session, error) {
	init, err := parseInitParams(initReq)
	if err != nil {
		return nil, err
	}

	suite, err := crypto.NewCipherSuite(cfg.ProposalIke)
	if err != nil {
		return nil, err
	}
	espSuite, err := crypto.NewCipherSuite(cfg.ProposalEsp)
	if err != nil {
		return nil, err
	}
	tkm, err := NewTkmResponder(suite, espSuite, init.nonce)
	if err != nil {
		return nil, err
	}

	o := newSession(parent, cfg)
	o.isInitiator = false
	o.tkm = tkm
	o.IkeSpiI = append(protocol.Spi{}, init.spiI...)
	o.IkeSpiR = MakeSpi()
	o.EspSpiR = MakeSpi()[:4]
	o.localAddr = initReq.LocalAddr
	o.remoteAddr = initReq.RemoteAddr
	o.log = ikelog.With("spi", o.Tag(), "role", "responder")
	o.wireAfterTkm()

	o.Fsm = state.NewFsm(state.STATE_IDLE, state.ResponderTransitions(o))
	o.PostMessage(initReq)
	return o, nil
}

// AdmitInitRequest runs the stateless admission checks on a fresh
// IKE_SA_INIT request (cookie defense, proposal acceptability) before any
// Session state is allocated. A non-nil reply is a message to send back
// without creating state (cookie challenge or error notify); nil reply
// and nil error admit the request, and the caller builds a responder
// Session from it.
func AdmitInitRequest(cfg *Config, m *Message) (*Message, error) {
	init, err := parseInitParams(m)
	if err != nil {
		return nil, err
	}
	if err := CheckInitRequest(cfg, init, m.RemoteAddr); err != nil {
		return InitErrorNeedsReply(init, cfg, m.RemoteAddr, err), err
	}
	return nil, nil
}

// LocalRemoteAddr exposes the Session's negotiated endpoints for the caller
// that owns the UDP socket (the parent listener dispatches subsequent
// datagrams for this SPI pair to the returned Session).
func (o *Session) LocalRemoteAddr() (net.Addr, net.Addr) {
	return o.localAddr, o.remoteAddr
}
