package ca

import (
	"bytes"
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ocsp"
)

// CheckOCSP queries the store's configured responder for leaf's revocation
// status, tolerating clock skew between responder and local time by
// OCSPTolerate and treating a response older than OCSPMaxAge as unusable
// OCSPTolerate and treating a response older than OCSPMaxAge as unusable.
// A store with no OCSPResponder
// configured always succeeds: CRL-only deployments are legitimate.
func (s *Store) CheckOCSP(ctx context.Context, leaf, issuer *x509.Certificate) error {
	if s.OCSPResponder == "" {
		return nil
	}
	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return errors.Wrap(err, "ca: build ocsp request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.OCSPResponder, bytes.NewReader(req))
	if err != nil {
		return errors.Wrap(err, "ca: build ocsp http request")
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "ca: ocsp request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "ca: read ocsp response")
	}

	parsed, err := ocsp.ParseResponseForCert(body, leaf, issuer)
	if err != nil {
		return errors.Wrap(err, "ca: parse ocsp response")
	}

	now := time.Now()
	if parsed.ThisUpdate.After(now.Add(s.OCSPTolerate)) {
		return errors.New("ca: ocsp response not yet valid")
	}
	if maxAge := s.OCSPMaxAge; maxAge > 0 && now.Sub(parsed.ThisUpdate) > maxAge {
		return errors.New("ca: ocsp response too old")
	}
	if !parsed.NextUpdate.IsZero() && now.After(parsed.NextUpdate.Add(s.OCSPTolerate)) {
		return errors.New("ca: ocsp response expired")
	}

	switch parsed.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return errors.Errorf("ca: certificate revoked at %s", parsed.RevokedAt)
	default:
		return errors.New("ca: ocsp responder returned unknown status")
	}
}
