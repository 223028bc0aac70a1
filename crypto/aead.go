package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/msgboxio/ike/protocol"
)

// aeadCipher implements Cipher for the combined-mode suites (RFC 7296 3.3.4
// / RFC 5282 / RFC 7634): the explicit 8-byte IV is the variable part of a
// 12-byte nonce, the rest is a fixed salt carried alongside the key (the
// extra bytes beyond the cipher's raw key size come out of the same KEYMAT
// slice, per RFC 5282 "the salt is part of AEAD key material").
type aeadCipher struct {
	icvLen      int // ICV/tag length on the wire: 12 or 16 bytes
	saltLen     int
	explicitLen int // length of the explicit (sender-chosen) part of the nonce
	newAEAD     func(key []byte) (cipher.AEAD, error)

	protocol.EncrTransformId
}

func (cs *aeadCipher) String() string { return cs.EncrTransformId.String() }

func (cs *aeadCipher) Overhead(clearLen int) int {
	return cs.explicitLen + cs.icvLen
}

// Seal and Open split skE into (rawKey, salt): rawKey is what the AEAD
// constructor wants, salt is the fixed nonce prefix. skA is unused; AEAD
// suites fold integrity into the cipher itself (no separate INTEG
// transform is negotiated alongside one, per RFC 7296 3.3.2).
func (cs *aeadCipher) split(skE []byte) (key, salt []byte, err error) {
	if len(skE) <= cs.saltLen {
		return nil, nil, fmt.Errorf("crypto: aead key material too short")
	}
	return skE[:len(skE)-cs.saltLen], skE[len(skE)-cs.saltLen:], nil
}

func (cs *aeadCipher) Seal(skE, _, associated, payload []byte) ([]byte, error) {
	key, salt, err := cs.split(skE)
	if err != nil {
		return nil, err
	}
	aead, err := cs.newAEAD(key)
	if err != nil {
		return nil, err
	}
	explicit := make([]byte, cs.explicitLen)
	if _, err := io.ReadFull(rand.Reader, explicit); err != nil {
		return nil, err
	}
	nonce := append(append([]byte{}, salt...), explicit...)
	sealed := aead.Seal(nil, nonce, payload, associated)
	return append(explicit, sealed...), nil
}

func (cs *aeadCipher) Open(skE, _, associated, sealed []byte) ([]byte, error) {
	key, salt, err := cs.split(skE)
	if err != nil {
		return nil, err
	}
	if len(sealed) < cs.explicitLen+cs.icvLen {
		return nil, fmt.Errorf("crypto: aead ciphertext too short")
	}
	aead, err := cs.newAEAD(key)
	if err != nil {
		return nil, err
	}
	explicit := sealed[:cs.explicitLen]
	nonce := append(append([]byte{}, salt...), explicit...)
	clear, err := aead.Open(nil, nonce, sealed[cs.explicitLen:], associated)
	if err != nil {
		return nil, ErrIntegrityCheckFailed
	}
	return clear, nil
}

// aeadTransform recognizes an AEAD ENCR_* id, returning the aeadCipher and
// the raw symmetric key length KEYMAT derivation must produce (the salt is
// additional length folded in separately by the caller via SaltLen).
func aeadTransform(id uint16, keyLen int, existing *aeadCipher) (*aeadCipher, int, bool) {
	switch protocol.EncrTransformId(id) {
	// GCM_8 is absent: crypto/cipher only accepts 12..16 byte GCM tags,
	// and nothing still negotiates an 8-byte ICV
	case protocol.AEAD_AES_GCM_12, protocol.AEAD_AES_GCM_16:
		icv := map[protocol.EncrTransformId]int{
			protocol.AEAD_AES_GCM_12: 12,
			protocol.AEAD_AES_GCM_16: 16,
		}[protocol.EncrTransformId(id)]
		cs := existing
		if cs == nil {
			cs = &aeadCipher{}
		}
		cs.icvLen = icv
		cs.saltLen = 4
		cs.explicitLen = 8
		cs.EncrTransformId = protocol.EncrTransformId(id)
		cs.newAEAD = func(key []byte) (cipher.AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCMWithTagSize(block, icv)
		}
		return cs, keyLen, true
	case protocol.AEAD_CHACHA20_POLY1305:
		cs := existing
		if cs == nil {
			cs = &aeadCipher{}
		}
		cs.icvLen = chacha20poly1305.Overhead
		cs.saltLen = 4
		cs.explicitLen = 8
		cs.EncrTransformId = protocol.EncrTransformId(id)
		cs.newAEAD = chacha20poly1305.New
		return cs, 32, true
	}
	return nil, 0, false
}

// SaltLen reports how many extra bytes this AEAD suite needs beyond its
// raw symmetric key (used by the KEYMAT length computation in tkm.go).
func (cs *aeadCipher) SaltLen() int { return cs.saltLen }
