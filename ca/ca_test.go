package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPKI struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	store    *Store
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	rootKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	store := &Store{Roots: x509.NewCertPool(), CRLs: make(map[string]*x509.RevocationList)}
	store.Roots.AddCert(rootCert)
	store.roots = append(store.roots, rootCert)
	return &testPKI{rootCert: rootCert, rootKey: rootKey, store: store}
}

// issue signs a leaf for the given public key under the test root.
func (p *testPKI) issue(t *testing.T, cn string, pub interface{}, serial int64) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, p.rootCert, pub, p.rootKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestChainVerify(t *testing.T) {
	pki := newTestPKI(t)
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leaf := pki.issue(t, "peer.example.com", &leafKey.PublicKey, 2)

	got, err := pki.store.Verify([][]byte{leaf.Raw}, time.Now())
	require.NoError(t, err)
	require.Equal(t, "peer.example.com", got.Subject.CommonName)
}

func TestChainVerifyRejectsUnknownRoot(t *testing.T) {
	pki := newTestPKI(t)
	other := newTestPKI(t)
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leaf := other.issue(t, "impostor", &leafKey.PublicKey, 2)

	_, err = pki.store.Verify([][]byte{leaf.Raw}, time.Now())
	require.Error(t, err)
}

func TestChainVerifyRejectsRevoked(t *testing.T) {
	pki := newTestPKI(t)
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leaf := pki.issue(t, "revoked.example.com", &leafKey.PublicKey, 7)

	crlTmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Minute),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: big.NewInt(7), RevocationTime: time.Now()},
		},
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, pki.rootCert, pki.rootKey)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(crlDER)
	require.NoError(t, err)
	pki.store.CRLs[string(pki.rootCert.RawSubject)] = crl

	_, err = pki.store.Verify([][]byte{leaf.Raw}, time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "revoked")
}

func TestSignVerifyRoundTrips(t *testing.T) {
	pki := newTestPKI(t)
	octets := []byte("RealMessage1 | NonceRData | MACedIDForI")

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cases := []struct {
		name   string
		method AuthMethod
		key    crypto.Signer
		pub    interface{}
	}{
		{"rsa-sha1", RSADigitalSignature, rsaKey, &rsaKey.PublicKey},
		{"ecdsa256", ECDSA256, ecKey, &ecKey.PublicKey},
		{"rfc7427-rsa", DigitalSignature, rsaKey, &rsaKey.PublicKey},
		{"rfc7427-ecdsa", DigitalSignature, ecKey, &ecKey.PublicKey},
		{"rfc7427-ed25519", DigitalSignature, edKey, edPub},
	}
	for i, tc := range cases {
		tc, i := tc, i
		t.Run(tc.name, func(t *testing.T) {
			leaf := pki.issue(t, "signer", tc.pub, int64(10+i))
			signer := &Signer{Identity: &Identity{Certs: []*x509.Certificate{leaf}, Key: tc.key}}

			sig, err := signer.Sign(tc.method, octets)
			require.NoError(t, err)
			require.NoError(t, verifySignature(leaf, tc.method, octets, sig))
			require.Error(t, verifySignature(leaf, tc.method, append(octets, 'x'), sig))
		})
	}
}

func TestSignRefusesMismatchedKey(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signer := &Signer{Identity: &Identity{Key: ecKey}}
	_, err = signer.Sign(RSADigitalSignature, []byte("octets"))
	require.Error(t, err)
}

func TestDispatcherVerifyReturnsIdentity(t *testing.T) {
	pki := newTestPKI(t)
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leaf := pki.issue(t, "gw.example.com", &leafKey.PublicKey, 3)

	signer := &Signer{Identity: &Identity{Certs: []*x509.Certificate{leaf}, Key: leafKey}}
	octets := []byte("signed octets")
	sig, err := signer.Sign(RSADigitalSignature, octets)
	require.NoError(t, err)

	d := NewDispatcher(pki.store, nil)
	id, err := d.Verify(1 /* RSA_DIGITAL_SIGNATURE */, [][]byte{leaf.Raw}, nil, octets, sig)
	require.NoError(t, err)
	require.Equal(t, "gw.example.com", id)
}

func TestSelectSignatureMethod(t *testing.T) {
	m, err := SelectSignatureMethod(RSADigitalSignature, true)
	require.NoError(t, err)
	require.Equal(t, DigitalSignature, m, "auto-upgrade to RFC 7427 when both sides signal SHA-2")

	m, err = SelectSignatureMethod(RSADigitalSignature, false)
	require.NoError(t, err)
	require.Equal(t, RSADigitalSignature, m, "no silent method switch without SHA-2 support")

	_, err = SelectSignatureMethod(0, false)
	require.Error(t, err)
}
