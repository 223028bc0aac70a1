// Package ca is the certificate and signature engine that runs in
// the privilege-separated CA process: a trust-anchor store, chain and OCSP
// validation, and a Signer abstraction so the IKEv2 engine (package ike)
// only ever holds signed bytes, never a private key.
package ca

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Store is the trust material the CA process reloads from disk, grounded
// on original_source/iked/ca.c's ca_reload: a pool of trusted CA
// certificates plus their revocation lists.
type Store struct {
	Roots *x509.CertPool
	roots []*x509.Certificate
	CRLs  map[string]*x509.RevocationList // keyed by raw issuer DN

	OCSPResponder string
	OCSPTolerate  time.Duration
	OCSPMaxAge    time.Duration
}

// LoadStore scans caDir for PEM-encoded CA certificates and crlDir for
// PEM or DER CRLs.
func LoadStore(caDir, crlDir string) (*Store, error) {
	s := &Store{Roots: x509.NewCertPool(), CRLs: make(map[string]*x509.RevocationList)}
	if caDir != "" {
		entries, err := os.ReadDir(caDir)
		if err != nil {
			return nil, errors.Wrap(err, "ca: read ca directory")
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			certs, err := loadCertsFile(filepath.Join(caDir, e.Name()))
			if err != nil {
				return nil, err
			}
			for _, c := range certs {
				s.Roots.AddCert(c)
				s.roots = append(s.roots, c)
			}
		}
	}
	if crlDir != "" {
		entries, err := os.ReadDir(crlDir)
		if err != nil {
			return nil, errors.Wrap(err, "ca: read crl directory")
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(crlDir, e.Name()))
			if err != nil {
				return nil, errors.Wrap(err, "ca: read crl")
			}
			crl, err := x509.ParseRevocationList(pemOrDER(raw))
			if err != nil {
				return nil, errors.Wrapf(err, "ca: parse crl %s", e.Name())
			}
			s.CRLs[string(crl.RawIssuer)] = crl
		}
	}
	return s, nil
}

func loadCertsFile(path string) ([]*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "ca: read cert file")
	}
	var certs []*x509.Certificate
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrapf(err, "ca: parse certificate in %s", path)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		c, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "ca: %s is neither PEM nor DER", path)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

func pemOrDER(raw []byte) []byte {
	if block, _ := pem.Decode(raw); block != nil {
		return block.Bytes
	}
	return raw
}

// TrustAnchorHints returns the SHA-1 SubjectPublicKeyInfo digest of every
// trust anchor (ca_getreq's CERTREQ hint list).
func (s *Store) TrustAnchorHints() [][]byte {
	hints := make([][]byte, 0, len(s.roots))
	for _, c := range s.roots {
		sum := sha1.Sum(c.RawSubjectPublicKeyInfo)
		hints = append(hints, sum[:])
	}
	return hints
}
