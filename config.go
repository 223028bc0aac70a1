package ike

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/addresspool"
	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/policy"
	"github.com/msgboxio/ike/protocol"
)

// Config is one Session's negotiation and policy configuration: the
// proposals it offers, the identity and auth method it
// authenticates with, and the daemon-wide behavior toggles a configuration
// file or control-socket command would set.
type Config struct {
	ProposalIke, ProposalEsp protocol.Transforms

	TsI, TsR []*protocol.Selector

	IsTransportMode bool

	// LocalID/RemoteID identify the two ends of the SA in the AUTH
	// exchange's IDi/IDr payloads.
	LocalID, RemoteID *protocol.IdPayload

	AuthMethod protocol.AuthMethod

	// PSK is the pre-shared key used when AuthMethod is
	// SHARED_KEY_MESSAGE_INTEGRITY_CODE.
	PSK []byte

	// CertFile/KeyFile/CADir/CRLDir/PubKeyDir locate the certificate
	// material the CA process loads (ca.LoadStore et al.); held here only
	// as the configuration surface, never read directly by the session.
	CertFile, KeyFile, CADir, CRLDir, PubKeyDir string

	// ThrottleInitRequests enables the cookie challenge (RFC 7296 2.6) on
	// every IKE_SA_INIT request that arrives without a cookie. When false no
	// cookie is ever demanded; a cookie a peer sends anyway is still checked.
	ThrottleInitRequests bool

	// ListenAddrs are the local UDP endpoints to bind, normally one pair
	// per interface: ":500" and ":4500".
	ListenAddrs []string

	EnableFragmentation bool
	EnableMobike        bool

	// SingleIkeSA is carried as configuration only: no code path reads it,
	// so parallel IKE SAs to one peer identity are neither rejected nor
	// replaced.
	SingleIkeSA bool

	// StickyAddressPool hands a reconnecting peer back the same
	// configuration-mode address it had before, via addresspool.Pool.
	StickyAddressPool bool

	// AddressPool, when set, makes this daemon answer a CFG_REQUEST in
	// IKE_AUTH with a leased INTERNAL_IP4_ADDRESS (configuration mode /
	// remote access).
	AddressPool *addresspool.Pool

	// RequestConfig makes an initiator Session ask for a configuration-mode
	// address in IKE_AUTH instead of using its static TsI selector.
	RequestConfig bool

	// EapEnabled selects EAP for peer authentication (RFC 7296 2.16): the
	// responder drives EapServer's conversation, an initiator answers via
	// EapClient and omits AUTH from its first IKE_AUTH message.
	EapEnabled bool
	EapServer  EapServer
	EapClient  EapClient

	DpdInterval          time.Duration
	NatKeepaliveInterval time.Duration

	OCSPResponder string
	OCSPTolerate  time.Duration
	OCSPMaxAge    time.Duration

	// Rdomain is the Linux routing table / FreeBSD rtable id to program
	// kernel SA and policy state into.
	Rdomain uint8

	// Policies is the ordered policy list; when
	// set, CheckFromAuth consults it instead of the flat TsI/TsR/proposal
	// fields above.
	Policies []*policy.Policy

	// CADispatch is the Session's sole path to a private key or trust
	// store, modeling the IPC call to the privilege-separated CA process.
	// Nil unless AuthMethod needs a certificate or signature; PSK and NULL
	// auth never call it.
	CADispatch AuthDispatcher
}

// AuthDispatcher is everything ike_auth.go needs from the CA process: local
// signing and peer certificate/signature verification. Package ca provides
// the concrete implementation; package ike never imports crypto/x509 or
// holds a private key itself.
type AuthDispatcher interface {
	// LocalCertChain returns this daemon's DER-encoded certificate chain,
	// leaf first, for the CERT payload; nil for PSK/NULL auth.
	LocalCertChain() [][]byte
	// Sign produces the AUTH payload value for method over signedOctets.
	Sign(method protocol.AuthMethod, signedOctets []byte) ([]byte, error)
	// Verify checks a peer's certificate chain against the trust store and
	// its AUTH payload signature against signedOctets, returning the
	// peer's verified identity string for policy matching.
	Verify(method protocol.AuthMethod, certs [][]byte, peerID *protocol.IdPayload, signedOctets, sig []byte) (string, error)
}

// DefaultConfig returns a Config offering this daemon's preferred modern
// suite: ChaCha20-Poly1305 over Curve25519 for the IKE SA, ChaCha20-Poly1305
// ESP for Child SAs.
func DefaultConfig() *Config {
	return &Config{
		ProposalIke:          protocol.IKE_CHACHA20_POLY1305_DH_CURVE25519,
		ProposalEsp:          protocol.ESP_CHACHA20_POLY1305,
		NatKeepaliveInterval: 20 * time.Second,
		DpdInterval:          30 * time.Second,
	}
}

func (cfg *Config) policySet() *policy.Set {
	if len(cfg.Policies) == 0 {
		return nil
	}
	return policy.Compile(cfg.Policies)
}

// CheckProposals checks if incoming proposals include our configuration.
func (cfg *Config) CheckProposals(prot protocol.ProtocolId, proposals protocol.Proposals) error {
	for _, prop := range proposals {
		if prop.ProtocolId != prot {
			continue
		}
		// select first acceptable one from the list
		switch prot {
		case protocol.IKE:
			if cfg.ProposalIke.Within(prop.Transforms) {
				return nil
			}
		case protocol.ESP:
			if cfg.ProposalEsp.Within(prop.Transforms) {
				return nil
			}
		}
	}
	return errors.New("ike: acceptable proposals are missing")
}

// AddSelector builds traffic selectors from an initiator/responder address
// pair, used for host-based (non-subnet) selectors.
func (cfg *Config) AddSelector(initiator, responder *net.IPNet) error {
	first, last, err := IPNetToFirstLastAddress(initiator)
	if err != nil {
		return err
	}
	cfg.TsI = []*protocol.Selector{{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		IpProtocolId: 0,
		StartPort:    0,
		EndPort:      65535,
		StartAddress: first,
		EndAddress:   last,
	}}
	first, last, err = IPNetToFirstLastAddress(responder)
	if err != nil {
		return err
	}
	cfg.TsR = []*protocol.Selector{{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		IpProtocolId: 0,
		StartPort:    0,
		EndPort:      65535,
		StartAddress: first,
		EndAddress:   last,
	}}
	return nil
}

// CheckFromInit takes an IKE_SA_INIT message and checks whether an
// acceptable IKE proposal is on offer.
func (cfg *Config) CheckFromInit(initI *Message) error {
	ikeSa, ok := initI.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return errors.Wrap(protocol.ERR_INVALID_SYNTAX, "missing SA payload")
	}
	return cfg.CheckProposals(protocol.IKE, ikeSa.Proposals)
}

// CheckFromAuth checks an IKE_AUTH request's ESP proposal and traffic
// selectors against this Config (or, when one is configured, the compiled
// policy list matching the peer identity already authenticated).
func (cfg *Config) CheckFromAuth(authI *Message, peerID string) error {
	espSa, ok := authI.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return errors.Wrap(protocol.ERR_INVALID_SYNTAX, "missing SA payload")
	}
	tsiPl, _ := authI.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload)
	tsrPl, _ := authI.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload)
	if tsiPl == nil || tsrPl == nil || len(tsiPl.Selectors) == 0 || len(tsrPl.Selectors) == 0 {
		return errors.Wrap(protocol.ERR_TS_UNACCEPTABLE, "acceptable traffic selectors are missing")
	}

	if set := cfg.policySet(); set != nil {
		p := set.MatchSelectors(peerID, tsiPl.Selectors, tsrPl.Selectors)
		if p == nil {
			return errors.Wrap(protocol.ERR_TS_UNACCEPTABLE, "no policy matches offered selectors")
		}
		if !p.ProposalEsp.Within(espSa.Proposals[0].Transforms) {
			return errors.Wrap(protocol.ERR_NO_PROPOSAL_CHOSEN, "acceptable proposals are missing")
		}
		return nil
	}

	if err := cfg.CheckProposals(protocol.ESP, espSa.Proposals); err != nil {
		return err
	}
	ikelog.Infof("Configured selectors: [INI]%s<=>%s[RES]", cfg.TsI, cfg.TsR)
	ikelog.Infof("Offered selectors: [INI]%s<=>%s[RES]", tsiPl.Selectors, tsrPl.Selectors)
	return nil
}

// ProposalFromTransform wraps a transform set into the single-proposal
// SaPayload.Proposals this daemon always offers (it never sends more than
// one alternative proposal per protocol).
func ProposalFromTransform(prot protocol.ProtocolId, trs protocol.Transforms, spi []byte) []*protocol.SaProposal {
	return []*protocol.SaProposal{
		{
			IsLast:     true,
			Number:     1,
			ProtocolId: prot,
			Spi:        append([]byte{}, spi...),
			Transforms: trs.AsList(),
		},
	}
}
