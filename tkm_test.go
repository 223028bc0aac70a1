package ike

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
)

// pairTkms builds an initiator/responder Tkm pair and completes their DH
// exchange, the way IKE_SA_INIT would.
func pairTkms(t *testing.T, ikeTr, espTr protocol.Transforms) (ti, tr *Tkm, spiI, spiR protocol.Spi) {
	t.Helper()
	suiteI, err := crypto.NewCipherSuite(ikeTr)
	require.NoError(t, err)
	espI, err := crypto.NewCipherSuite(espTr)
	require.NoError(t, err)
	suiteR, err := crypto.NewCipherSuite(ikeTr)
	require.NoError(t, err)
	espR, err := crypto.NewCipherSuite(espTr)
	require.NoError(t, err)

	ti, err = NewTkmInitiator(suiteI, espI)
	require.NoError(t, err)
	tr, err = NewTkmResponder(suiteR, espR, ti.Ni)
	require.NoError(t, err)
	ti.Nr = append([]byte{}, tr.Nr...)

	spiI, spiR = MakeSpi(), MakeSpi()
	require.NoError(t, ti.SetDhShared(tr.DhPublic(), spiI, spiR))
	require.NoError(t, tr.SetDhShared(ti.DhPublic(), spiI, spiR))
	return ti, tr, spiI, spiR
}

func TestKeyScheduleSymmetry(t *testing.T) {
	suites := map[string]struct {
		ike, esp protocol.Transforms
	}{
		"aes-cbc-sha1-modp1024":  {protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96},
		"aes-gcm-modp2048":       {protocol.IKE_AES_GCM_16_DH_2048, protocol.ESP_AES_GCM_16},
		"chacha20poly1305-x25519": {protocol.IKE_CHACHA20_POLY1305_DH_CURVE25519, protocol.ESP_CHACHA20_POLY1305},
		"aes-gcm-ecp256":         {protocol.IKE_AES_GCM_16_DH_ECP_256, protocol.ESP_AES_GCM_16_256},
	}
	for name, tc := range suites {
		t.Run(name, func(t *testing.T) {
			ti, tr, _, _ := pairTkms(t, tc.ike, tc.esp)

			require.True(t, ti.Established())
			require.True(t, tr.Established())
			require.Equal(t, ti.skD, tr.skD)
			require.Equal(t, ti.skAi, tr.skAi)
			require.Equal(t, ti.skAr, tr.skAr)
			require.Equal(t, ti.skEi, tr.skEi)
			require.Equal(t, ti.skEr, tr.skEr)
			require.Equal(t, ti.skPi, tr.skPi)
			require.Equal(t, ti.skPr, tr.skPr)

			prfLen := ti.suite.Prf.Length()
			require.Len(t, ti.skD, prfLen)
			require.Len(t, ti.skPi, prfLen)
			require.Len(t, ti.skPr, prfLen)
			require.Len(t, ti.skEi, ti.suite.KeyLen)
			require.Len(t, ti.skEr, ti.suite.KeyLen)
			require.Len(t, ti.skAi, ti.suite.MacKeyLen)
			require.Len(t, ti.skAr, ti.suite.MacKeyLen)
		})
	}
}

func TestSealOpenBothDirections(t *testing.T) {
	for name, tr := range map[string]protocol.Transforms{
		"encrypt-then-mac": protocol.IKE_AES_CBC_SHA1_96_DH_1024,
		"aead":             protocol.IKE_AES_GCM_16_DH_2048,
	} {
		t.Run(name, func(t *testing.T) {
			ti, trr, _, _ := pairTkms(t, tr, protocol.ESP_AES_CBC_SHA1_96)

			associated := []byte("ike header and sk header bytes")
			cleartext := []byte("the inner payload chain, padded by the cipher")

			sealed, err := ti.Seal(associated, cleartext)
			require.NoError(t, err)
			require.Len(t, sealed, len(cleartext)+ti.Overhead(len(cleartext)))
			opened, err := trr.Open(associated, sealed)
			require.NoError(t, err)
			require.Equal(t, cleartext, opened)

			// and the responder->initiator direction uses the other keys
			sealed, err = trr.Seal(associated, cleartext)
			require.NoError(t, err)
			opened, err = ti.Open(associated, sealed)
			require.NoError(t, err)
			require.Equal(t, cleartext, opened)
		})
	}
}

func TestOpenRejectsTamper(t *testing.T) {
	ti, tr, _, _ := pairTkms(t, protocol.IKE_AES_GCM_16_DH_2048, protocol.ESP_AES_GCM_16)
	associated := []byte("header")
	sealed, err := ti.Seal(associated, []byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = tr.Open(associated, sealed)
	require.Error(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = tr.Open([]byte("headeR"), sealed)
	require.Error(t, err)
}

func TestPskAuth(t *testing.T) {
	ti, tr, _, _ := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)
	psk := []byte("a shared secret")
	signed := []byte("first message | nonce | prf(id)")

	auth := ti.PskAuth(psk, signed)
	require.True(t, tr.VerifyPskAuth(psk, signed, auth))
	require.False(t, tr.VerifyPskAuth([]byte("wrong"), signed, auth))
	require.False(t, tr.VerifyPskAuth(psk, append(signed, 'x'), auth))
}

func TestIpsecSaCreateSymmetry(t *testing.T) {
	ti, tr, _, _ := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)

	ei1, ai1, er1, ar1, err := ti.IpsecSaCreate(ti.Ni, ti.Nr, nil)
	require.NoError(t, err)
	ei2, ai2, er2, ar2, err := tr.IpsecSaCreate(tr.Ni, tr.Nr, nil)
	require.NoError(t, err)

	require.Equal(t, ei1, ei2)
	require.Equal(t, ai1, ai2)
	require.Equal(t, er1, er2)
	require.Equal(t, ar1, ar2)
	require.Len(t, ei1, ti.espSuite.KeyLen)
	require.Len(t, ai1, ti.espSuite.MacKeyLen)
	require.NotEqual(t, ei1, er1)
}

func TestRekeyIkeSaSymmetry(t *testing.T) {
	ti, tr, _, _ := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)

	// fresh exchange for the replacement SA
	privI, err := ti.suite.GenerateDH(true)
	require.NoError(t, err)
	privR, err := tr.suite.GenerateDH(false)
	require.NoError(t, err)
	sharedR, err := privR.SharedKey(privI.Public())
	require.NoError(t, err)
	sharedI, err := privI.SharedKey(privR.Public())
	require.NoError(t, err)

	ni := []byte("fresh rekey initiator nonce 1234")
	nr := []byte("fresh rekey responder nonce 5678")
	spiI, spiR := MakeSpi(), MakeSpi()

	newI, err := ti.RekeyIkeSa(ni, nr, sharedI, spiI, spiR, true)
	require.NoError(t, err)
	newR, err := tr.RekeyIkeSa(ni, nr, sharedR, spiI, spiR, false)
	require.NoError(t, err)

	require.True(t, newI.Established())
	require.Equal(t, newI.skD, newR.skD)
	require.Equal(t, newI.skEi, newR.skEi)
	require.Equal(t, newI.skEr, newR.skEr)
	require.Equal(t, newI.skAi, newR.skAi)
	require.Equal(t, newI.skAr, newR.skAr)
	require.NotEqual(t, ti.skD, newI.skD, "replacement SA must not reuse the old keys")

	// the replacement pair protects traffic end to end
	associated := []byte("header")
	sealed, err := newI.Seal(associated, []byte("post-rekey payload"))
	require.NoError(t, err)
	opened, err := newR.Open(associated, sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("post-rekey payload"), opened)

	// the old SA's keys cannot open the replacement's traffic
	_, err = tr.Open(associated, sealed)
	require.Error(t, err)
}

func TestRekeyIkeSaRequiresEstablishedParent(t *testing.T) {
	suite, err := crypto.NewCipherSuite(protocol.IKE_AES_CBC_SHA1_96_DH_1024)
	require.NoError(t, err)
	esp, err := crypto.NewCipherSuite(protocol.ESP_AES_CBC_SHA1_96)
	require.NoError(t, err)
	tkm, err := NewTkmInitiator(suite, esp)
	require.NoError(t, err)

	_, err = tkm.RekeyIkeSa([]byte("ni"), []byte("nr"), []byte("shared"), MakeSpi(), MakeSpi(), true)
	require.Error(t, err, "rekey before the first key derivation must fail")

	ti, _, _, _ := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)
	_, err = ti.RekeyIkeSa([]byte("ni"), []byte("nr"), nil, MakeSpi(), MakeSpi(), true)
	require.Error(t, err, "rekey without a fresh dh exchange must fail")
}

func TestEapAuthKey(t *testing.T) {
	ti, _, _, _ := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)
	msk := []byte("method session key")
	require.Equal(t, msk, ti.EapAuthKey(msk, true))
	require.Equal(t, ti.skPi, ti.EapAuthKey(nil, true))
	require.Equal(t, ti.skPr, ti.EapAuthKey(nil, false))
}
