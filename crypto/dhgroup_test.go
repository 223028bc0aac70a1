package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msgboxio/ike/protocol"
)

// every registered group must complete an exchange with both sides
// deriving the same, non-empty shared secret; for the hybrid KEM group
// the responder completes SharedKey before emitting its own public value,
// matching the IKE_SA_INIT message order.
func TestAllGroupsSharedSecretSymmetry(t *testing.T) {
	for id, group := range kexAlgoMap {
		id, group := id, group
		t.Run(id.String(), func(t *testing.T) {
			t.Parallel()
			init, err := group.GeneratePrivate(rand.Reader, true)
			require.NoError(t, err)
			resp, err := group.GeneratePrivate(rand.Reader, false)
			require.NoError(t, err)

			respSecret, err := resp.SharedKey(init.Public())
			require.NoError(t, err)
			initSecret, err := init.SharedKey(resp.Public())
			require.NoError(t, err)

			require.NotEmpty(t, initSecret)
			require.Equal(t, respSecret, initSecret)

			allZero := true
			for _, b := range initSecret {
				if b != 0 {
					allZero = false
					break
				}
			}
			require.False(t, allZero, "shared secret must not be zero")
		})
	}
}

func TestModpRejectsOutOfRangeShares(t *testing.T) {
	group := kexAlgoMap[protocol.MODP_1024]
	s, err := group.GeneratePrivate(rand.Reader, true)
	require.NoError(t, err)

	_, err = s.SharedKey([]byte{0})
	require.Error(t, err, "zero share must be rejected")

	tooBig := make([]byte, 1024/8+1)
	tooBig[0] = 0xff
	_, err = s.SharedKey(tooBig)
	require.Error(t, err, "share larger than the prime must be rejected")
}

func TestCurve25519RejectsLowOrderShare(t *testing.T) {
	group := kexAlgoMap[protocol.CURVE25519]
	s, err := group.GeneratePrivate(rand.Reader, true)
	require.NoError(t, err)

	// the all-zero point is in the low-order subgroup; x/crypto refuses it
	_, err = s.SharedKey(make([]byte, 32))
	require.Error(t, err)
}

func TestModpPublicIsPadded(t *testing.T) {
	group := kexAlgoMap[protocol.MODP_2048]
	s, err := group.GeneratePrivate(rand.Reader, true)
	require.NoError(t, err)
	require.Len(t, s.Public(), 2048/8)
}

func TestHybridPayloadShapes(t *testing.T) {
	group := kexAlgoMap[protocol.MLKEM768_X25519]
	init, err := group.GeneratePrivate(rand.Reader, true)
	require.NoError(t, err)
	resp, err := group.GeneratePrivate(rand.Reader, false)
	require.NoError(t, err)

	initPub := init.Public()
	require.Greater(t, len(initPub), 32, "initiator payload carries the KEM public key")

	_, err = resp.SharedKey(initPub)
	require.NoError(t, err)
	respPub := resp.Public()
	require.Greater(t, len(respPub), 32, "responder payload carries the KEM ciphertext")

	// truncated payloads are rejected, never sliced out of range
	_, err = init.SharedKey(respPub[:31])
	require.Error(t, err)
	_, err = init.SharedKey(respPub[:40])
	require.Error(t, err)
}
