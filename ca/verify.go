package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"

	"github.com/pkg/errors"
)

func parseCert(der []byte) (*x509.Certificate, error) { return x509.ParseCertificate(der) }

// verifySignature checks sig against signedOctets using leaf's public key,
// mirroring the digest/framing choices Signer.Sign makes for each method so
// a peer's AUTH payload verifies against exactly what this daemon would
// have produced in its place.
func verifySignature(leaf *x509.Certificate, method AuthMethod, signedOctets, sig []byte) error {
	switch method {
	case RSADigitalSignature:
		pub, ok := leaf.PublicKey.(*rsa.PublicKey)
		if !ok {
			return errors.New("ca: certificate key is not RSA")
		}
		h := sha1.Sum(signedOctets)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA1, h[:], sig)
	case ECDSA256, ECDSA384, ECDSA521:
		pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("ca: certificate key is not ECDSA")
		}
		digest, err := ecdsaDigest(method, signedOctets)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(pub, digest, sig) {
			return errors.New("ca: ecdsa signature verification failed")
		}
		return nil
	case DigitalSignature:
		return verifyRFC7427(leaf, signedOctets, sig)
	default:
		return errors.Errorf("ca: unsupported auth method %d", method)
	}
}

func verifyRFC7427(leaf *x509.Certificate, signedOctets, sig []byte) error {
	if len(sig) < 1 {
		return errors.New("ca: empty rfc7427 signature")
	}
	algLen := int(sig[0])
	if len(sig) < 1+algLen {
		return errors.New("ca: truncated rfc7427 algorithm identifier")
	}
	raw := sig[1+algLen:]
	switch pub := leaf.PublicKey.(type) {
	case *rsa.PublicKey:
		h := sha256.Sum256(signedOctets)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], raw)
	case *ecdsa.PublicKey:
		digest := sha384or256Pub(pub, signedOctets)
		if !ecdsa.VerifyASN1(pub, digest, raw) {
			return errors.New("ca: ecdsa rfc7427 signature verification failed")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, signedOctets, raw) {
			return errors.New("ca: ed25519 signature verification failed")
		}
		return nil
	default:
		return errors.New("ca: unsupported certificate key type")
	}
}

func sha384or256Pub(pub *ecdsa.PublicKey, data []byte) []byte {
	if pub.Curve.Params().BitSize > 256 {
		h := sha512.Sum384(data)
		return h[:]
	}
	h := sha256.Sum256(data)
	return h[:]
}
