package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msgboxio/ike/protocol"
)

func randKey(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestSuiteSealOpenRoundTrip(t *testing.T) {
	for name, trs := range map[string]protocol.Transforms{
		"aes128-cbc-sha1":       protocol.IKE_AES_CBC_SHA1_96_DH_1024,
		"aes-gcm-16":            protocol.IKE_AES_GCM_16_DH_2048,
		"chacha20poly1305":      protocol.IKE_CHACHA20_POLY1305_DH_CURVE25519,
		"aes-gcm-ecp256":        protocol.IKE_AES_GCM_16_DH_ECP_256,
		"aes-gcm-mlkem768":      protocol.IKE_AES_GCM_16_DH_MLKEM768_X25519,
	} {
		trs := trs
		t.Run(name, func(t *testing.T) {
			cs, err := NewCipherSuite(trs)
			require.NoError(t, err)

			skE := randKey(t, cs.KeyLen)
			skA := randKey(t, cs.MacKeyLen)
			associated := []byte("associated header bytes")
			payload := []byte("payload chain to protect")

			sealed, err := cs.Seal(skE, skA, associated, payload)
			require.NoError(t, err)
			require.Equal(t, len(payload)+cs.Overhead(len(payload)), len(sealed))

			opened, err := cs.Open(skE, skA, associated, sealed)
			require.NoError(t, err)
			require.Equal(t, payload, opened)

			// two seals of the same payload must differ (fresh IV/nonce)
			sealed2, err := cs.Seal(skE, skA, associated, payload)
			require.NoError(t, err)
			require.False(t, bytes.Equal(sealed, sealed2))
		})
	}
}

func TestSuiteOpenRejectsBitFlips(t *testing.T) {
	for name, trs := range map[string]protocol.Transforms{
		"encrypt-then-mac": protocol.IKE_AES_CBC_SHA1_96_DH_1024,
		"aead":             protocol.IKE_AES_GCM_16_DH_2048,
	} {
		trs := trs
		t.Run(name, func(t *testing.T) {
			cs, err := NewCipherSuite(trs)
			require.NoError(t, err)
			skE := randKey(t, cs.KeyLen)
			skA := randKey(t, cs.MacKeyLen)
			sealed, err := cs.Seal(skE, skA, []byte("ad"), []byte("payload"))
			require.NoError(t, err)

			for _, idx := range []int{0, len(sealed) / 2, len(sealed) - 1} {
				mut := append([]byte{}, sealed...)
				mut[idx] ^= 0x80
				_, err := cs.Open(skE, skA, []byte("ad"), mut)
				require.Error(t, err, "flipping byte %d must fail integrity", idx)
			}
		})
	}
}

func TestSuiteRejectsWrongKeyLength(t *testing.T) {
	cs, err := NewCipherSuite(protocol.IKE_AES_GCM_16_DH_2048)
	require.NoError(t, err)
	_, err = cs.Seal(make([]byte, 7), nil, []byte("ad"), []byte("p"))
	require.Error(t, err)
}

func TestSuiteRejectsUnknownTransform(t *testing.T) {
	bad := protocol.Transforms{
		{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ENCR, TransformId: 9999}},
	}
	_, err := NewCipherSuite(bad)
	require.Error(t, err)
}

func TestPrfPlusExpansion(t *testing.T) {
	prf, err := prfTranform(uint16(protocol.PRF_HMAC_SHA2_256))
	require.NoError(t, err)

	key := randKey(t, prf.Length())
	seed := []byte("Ni | Nr | SPIi | SPIr")

	out := prf.PrfPlus(key, seed, 100)
	require.Len(t, out, 100)

	// deterministic, and a prefix of a longer expansion
	longer := prf.PrfPlus(key, seed, 200)
	require.Equal(t, out, longer[:100])

	// key separation
	other := prf.PrfPlus(randKey(t, prf.Length()), seed, 100)
	require.NotEqual(t, out, other)
}

func TestConstantTimeCompare(t *testing.T) {
	require.True(t, ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2, 3}))
	require.False(t, ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2, 4}))
	require.False(t, ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2}))
	require.True(t, ConstantTimeCompare(nil, nil))
}

func TestAesXCBCPrfKeyLengths(t *testing.T) {
	prf, err := prfTranform(uint16(protocol.PRF_AES128_XCBC))
	require.NoError(t, err)

	key := randKey(t, 16)
	msg := []byte("any length input is permitted for the PRF variant")
	out := prf.Apply(key, msg)
	require.Len(t, out, 16)
	require.Equal(t, out, prf.Apply(key, msg))

	// RFC 4434: keys shorter than 16 bytes are zero-padded and longer ones
	// are first processed through the MAC; both must work
	require.Len(t, prf.Apply(key[:10], msg), 16)
	require.Len(t, prf.Apply(append(key, key...), msg), 16)
}
