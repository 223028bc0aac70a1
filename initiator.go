package ike

import (
	"context"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/state"
)

// NewInitiator creates a Session that begins a fresh IKE_SA_INIT exchange
// against cfg's configured peer.
func NewInitiator(parent context.Context, cfg *Config) (*Session, error) {
	suite, err := crypto.NewCipherSuite(cfg.ProposalIke)
	if err != nil {
		return nil, err
	}
	espSuite, err := crypto.NewCipherSuite(cfg.ProposalEsp)
	if err != nil {
		return nil, err
	}
	tkm, err := NewTkmInitiator(suite, espSuite)
	if err != nil {
		return nil, err
	}

	o := newSession(parent, cfg)
	o.isInitiator = true
	o.tkm = tkm
	o.IkeSpiI = MakeSpi()
	o.EspSpiI = MakeSpi()[:4]
	o.log = ikelog.With("spi", o.Tag(), "role", "initiator")
	o.wireAfterTkm()

	o.Fsm = state.NewFsm(state.STATE_IDLE, state.InitiatorTransitions(o))
	o.Fsm.PostEvent(state.StateEvent{Event: state.SUCCESS})
	return o, nil
}
