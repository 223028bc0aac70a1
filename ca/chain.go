package ca

import (
	"bytes"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"
)

// Verify validates a peer-presented certificate chain (leaf first) against
// the trust store: path validation to one of the loaded roots, then a CRL
// revocation check against any list the store holds for the issuer.
// It returns the leaf certificate once every check passes.
func (s *Store) Verify(certs [][]byte, now time.Time) (*x509.Certificate, error) {
	if len(certs) == 0 {
		return nil, errors.New("ca: no certificate presented")
	}
	parsed := make([]*x509.Certificate, 0, len(certs))
	for i, der := range certs {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errors.Wrapf(err, "ca: parse certificate %d", i)
		}
		parsed = append(parsed, c)
	}
	leaf := parsed[0]

	intermediates := x509.NewCertPool()
	for _, c := range parsed[1:] {
		intermediates.AddCert(c)
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         s.Roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageIPSECEndSystem, x509.ExtKeyUsageIPSECUser, x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, errors.Wrap(err, "ca: certificate chain verification failed")
	}
	if err := s.checkRevocation(chains[0]); err != nil {
		return nil, err
	}
	return leaf, nil
}

// checkRevocation walks a verified chain leaf-to-root and rejects it if any
// issuer's CRL lists the certificate it signed as revoked.
func (s *Store) checkRevocation(chain []*x509.Certificate) error {
	for i := 0; i+1 < len(chain); i++ {
		cert, issuer := chain[i], chain[i+1]
		crl, ok := s.CRLs[string(issuer.RawSubject)]
		if !ok {
			continue
		}
		if crl.NextUpdate.Before(time.Now()) {
			continue // stale CRL: OCSP (if configured) is authoritative, don't hard-fail here
		}
		for _, rc := range crl.RevokedCertificateEntries {
			if rc.SerialNumber != nil && bytes.Equal(rc.SerialNumber.Bytes(), cert.SerialNumber.Bytes()) {
				return errors.Errorf("ca: certificate %s is revoked", cert.Subject)
			}
		}
	}
	return nil
}
