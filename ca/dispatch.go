package ca

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/protocol"
)

// Dispatcher is the concrete CA-process endpoint for every operation that,
// in the privilege-separated daemon, crosses the process boundary to the
// process holding the private key and trust store, so a compromised IKEv2
// worker can never exfiltrate key material.
//
// cmd/ikevd runs it in the ca worker and the ikev2 worker reaches it over
// ipc; it also satisfies Config.CADispatch directly for in-process use.
type Dispatcher struct {
	Store    *Store
	Identity *Identity
	signer   *Signer
}

func NewDispatcher(store *Store, identity *Identity) *Dispatcher {
	return &Dispatcher{Store: store, Identity: identity, signer: &Signer{Identity: identity}}
}

func toCAMethod(m protocol.AuthMethod) AuthMethod { return AuthMethod(m) }

// LocalCertChain returns this daemon's configured certificate chain, leaf
// first, DER-encoded, for a CERT payload.
func (d *Dispatcher) LocalCertChain() [][]byte {
	if d.Identity == nil {
		return nil
	}
	out := make([][]byte, 0, len(d.Identity.Certs))
	for _, c := range d.Identity.Certs {
		out = append(out, c.Raw)
	}
	return out
}

// Sign produces the AUTH payload value for the given method, using the
// locally configured private key; PSK and NULL auth never reach here (the
// Session handles those directly).
func (d *Dispatcher) Sign(method protocol.AuthMethod, signedOctets []byte) ([]byte, error) {
	return d.signer.Sign(toCAMethod(method), signedOctets)
}

// Verify validates a peer's presented certificate chain against the trust
// store (and OCSP responder, if configured) and checks signedOctets against
// sig using the leaf's public key, returning the peer's verified identity
// string (its leaf Subject CommonName) for policy matching.
func (d *Dispatcher) Verify(method protocol.AuthMethod, certs [][]byte, peerID *protocol.IdPayload, signedOctets, sig []byte) (string, error) {
	if d.Store == nil {
		return "", errors.New("ca: no trust store configured")
	}
	leaf, err := d.Store.Verify(certs, time.Now())
	if err != nil {
		return "", err
	}
	if d.Store.OCSPResponder != "" {
		// OCSP needs the issuing certificate; the leaf's verified chain
		// carries it as the next entry in certs when present.
		if len(certs) > 1 {
			issuer, err := parseCert(certs[1])
			if err == nil {
				if err := d.Store.CheckOCSP(context.Background(), leaf, issuer); err != nil {
					return "", err
				}
			}
		}
	}
	if err := verifySignature(leaf, toCAMethod(method), signedOctets, sig); err != nil {
		return "", err
	}
	return leaf.Subject.CommonName, nil
}
