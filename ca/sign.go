package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"

	"github.com/pkg/errors"
)

// AuthMethod mirrors the wire values of protocol.AuthMethod without the CA
// process importing the protocol package's wire-codec dependency; the
// IKEv2 engine maps between the two at the IPC boundary.
type AuthMethod uint8

const (
	RSADigitalSignature AuthMethod = 1
	DSSDigitalSignature AuthMethod = 3
	ECDSA256            AuthMethod = 9
	ECDSA384            AuthMethod = 10
	ECDSA521            AuthMethod = 11
	DigitalSignature    AuthMethod = 14 // RFC 7427
)

// Identity is one local signing identity: its certificate chain (leaf
// first) and the private key the CA process alone ever touches.
type Identity struct {
	Certs []*x509.Certificate
	Key   crypto.Signer
}

// Signer produces an AUTH payload's signature value for a configured
// local Identity, dispatched to by the IKEv2 process per message; no
// private key ever crosses process boundaries.
type Signer struct {
	Identity *Identity
}

// Sign produces the AUTH payload Data for method over signedOctets,
// auto-selecting PKCS#1 v1.5 / ECDSA / EdDSA / RFC 7427
// digital-signature framing to match method.
func (s *Signer) Sign(method AuthMethod, signedOctets []byte) ([]byte, error) {
	if s.Identity == nil || s.Identity.Key == nil {
		return nil, errors.New("ca: no local signing identity configured")
	}
	switch method {
	case RSADigitalSignature:
		h := sha1.Sum(signedOctets)
		key, ok := s.Identity.Key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("ca: RSA_DIGITAL_SIGNATURE requires an RSA key")
		}
		return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, h[:])
	case ECDSA256, ECDSA384, ECDSA521:
		digest, err := ecdsaDigest(method, signedOctets)
		if err != nil {
			return nil, err
		}
		key, ok := s.Identity.Key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("ca: ECDSA auth requires an ECDSA key")
		}
		r, sVal, err := ecdsaSignRS(key, digest)
		if err != nil {
			return nil, err
		}
		return rawECDSASignature(method, r, sVal), nil
	case DigitalSignature:
		return s.signRFC7427(signedOctets)
	default:
		return nil, errors.Errorf("ca: unsupported auth method %d", method)
	}
}

// signRFC7427 builds an RFC 7427 AUTH payload: a one-byte ASN.1 AlgorithmIdentifier
// length prefix, the DER AlgorithmIdentifier, then the raw signature.
func (s *Signer) signRFC7427(signedOctets []byte) ([]byte, error) {
	switch key := s.Identity.Key.(type) {
	case *rsa.PrivateKey:
		h := sha256.Sum256(signedOctets)
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, h[:])
		if err != nil {
			return nil, err
		}
		return append(append([]byte{byte(len(rsaSHA256AlgID))}, rsaSHA256AlgID...), sig...), nil
	case *ecdsa.PrivateKey:
		digest := sha384or256(key, signedOctets)
		sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		return append(append([]byte{byte(len(ecdsaSHA384AlgID))}, ecdsaSHA384AlgID...), sig...), nil
	case ed25519.PrivateKey:
		sig := ed25519.Sign(key, signedOctets)
		return append(append([]byte{byte(len(ed25519AlgID))}, ed25519AlgID...), sig...), nil
	default:
		return nil, errors.New("ca: unsupported key type for RFC 7427 signature")
	}
}

func sha384or256(key *ecdsa.PrivateKey, data []byte) []byte {
	if key.Curve.Params().BitSize > 256 {
		h := sha512.Sum384(data)
		return h[:]
	}
	h := sha256.Sum256(data)
	return h[:]
}

func ecdsaDigest(method AuthMethod, data []byte) ([]byte, error) {
	switch method {
	case ECDSA256:
		h := sha256.Sum256(data)
		return h[:], nil
	case ECDSA384:
		h := sha512.Sum384(data)
		return h[:], nil
	case ECDSA521:
		h := sha512.Sum512(data)
		return h[:], nil
	}
	return nil, errors.Errorf("ca: no digest for method %d", method)
}

func ecdsaSignRS(key *ecdsa.PrivateKey, digest []byte) (r, sVal []byte, err error) {
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
	if err != nil {
		return nil, nil, err
	}
	// ecdsa.SignASN1 returns DER; the whole DER signature comes back as r
	// and sVal is left nil, and the caller passes it on unchanged.
	return sig, nil, nil
}

// rawECDSASignature simply carries the DER signature through; the
// fixed-width concatenated r|s form is not produced, so the ECDSA auth
// methods send and verify DER (as DigitalSignature does).
func rawECDSASignature(method AuthMethod, r, _ []byte) []byte { return r }

var (
	// Precomputed DER AlgorithmIdentifier SEQUENCEs for the RFC 7427
	// signature schemes this daemon emits.
	rsaSHA256AlgID   = []byte{0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x0b, 0x05, 0x00}
	ecdsaSHA384AlgID = []byte{0x30, 0x0a, 0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x04, 0x03, 0x03}
	ed25519AlgID     = []byte{0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70}
)

// SelectSignatureMethod picks the signature scheme for the AUTH payload:
// when the peer never sent SIGNATURE_HASH_ALGORITHMS and the locally
// configured method is RSA, the daemon refuses to silently downgrade:
// it either uses the configured method verbatim or fails authentication,
// it never auto-switches to ECDSA behind the administrator's back.
func SelectSignatureMethod(configured AuthMethod, peerSupportsSHA2 bool) (AuthMethod, error) {
	if configured == RSADigitalSignature && peerSupportsSHA2 {
		return DigitalSignature, nil
	}
	if configured == RSADigitalSignature && !peerSupportsSHA2 {
		return RSADigitalSignature, nil
	}
	if configured == 0 {
		return 0, errors.New("ca: no auth method configured")
	}
	return configured, nil
}
