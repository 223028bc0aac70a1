package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"fmt"
	"io"

	camellia "github.com/dgryski/go-camellia"

	"github.com/msgboxio/ike/protocol"
)

// cipherFunc builds a cipher.BlockMode for the given key/iv, or nil for the
// NULL transform.
type cipherFunc func(key, iv []byte, isRead bool) cipher.BlockMode

// simpleCipher implements Cipher for the classical encrypt-then-MAC
// suites: a block cipher in CBC mode plus a separate integrity
// transform whose MAC is appended after the ciphertext.
type simpleCipher struct {
	keyLen, ivLen, blockLen int
	cipherFn                cipherFunc

	macFn     macFunc
	macKeyLen int
	macLen    int // truncated MAC length on the wire

	protocol.EncrTransformId
	protocol.AuthTransformId
}

func (cs *simpleCipher) String() string {
	return cs.EncrTransformId.String() + "+" + cs.AuthTransformId.String()
}

// Overhead returns how many bytes a clear payload chain of length clearLen
// grows by once padded, IV-prefixed, and MAC-appended.
func (cs *simpleCipher) Overhead(clearLen int) int {
	pad := cs.blockLen - (clearLen+1)%cs.blockLen
	return cs.ivLen + pad + 1 + cs.macLen
}

// Seal pads and CBC-encrypts payload, returning IV‖ciphertext‖MAC where the
// MAC covers associated (the IKE header and SK payload header) followed by
// IV | ciphertext; RFC 7296's integrity-protected SK framing is encrypt-then-MAC on
// the wire: integrity always spans header through ciphertext (RFC 7296
// 3.14).
func (cs *simpleCipher) Seal(skE, skA, associated, payload []byte) ([]byte, error) {
	padlen := cs.blockLen - (len(payload)+1)%cs.blockLen
	clear := make([]byte, len(payload)+padlen+1)
	copy(clear, payload)
	clear[len(clear)-1] = byte(padlen)

	iv := make([]byte, cs.ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	if cs.cipherFn != nil {
		mode := cs.cipherFn(skE, iv, false)
		mode.CryptBlocks(clear, clear)
	}
	ciphertext := append(append([]byte{}, iv...), clear...)

	mac := cs.macFn(skA, append(append([]byte{}, associated...), ciphertext...))
	return append(ciphertext, mac[:cs.macLen]...), nil
}

// Open verifies the MAC (constant time) then CBC-decrypts.
func (cs *simpleCipher) Open(skE, skA, associated, sealed []byte) ([]byte, error) {
	if len(sealed) < cs.macLen+cs.ivLen+cs.blockLen {
		return nil, fmt.Errorf("crypto: sealed message too short")
	}
	macStart := len(sealed) - cs.macLen
	ciphertext, mac := sealed[:macStart], sealed[macStart:]
	expected := cs.macFn(skA, append(append([]byte{}, associated...), ciphertext...))
	if !ConstantTimeCompare(mac, expected[:cs.macLen]) {
		return nil, ErrIntegrityCheckFailed
	}
	iv := ciphertext[:cs.ivLen]
	body := append([]byte{}, ciphertext[cs.ivLen:]...)
	if len(body)%cs.blockLen != 0 || len(body) == 0 {
		return nil, fmt.Errorf("crypto: ciphertext is not a multiple of the block size")
	}
	if cs.cipherFn != nil {
		mode := cs.cipherFn(skE, iv, true)
		mode.CryptBlocks(body, body)
	}
	padlen := int(body[len(body)-1]) + 1
	if padlen > len(body) {
		return nil, fmt.Errorf("crypto: pad length larger than ciphertext")
	}
	return body[:len(body)-padlen], nil
}

// cipherTransform recognizes an ENCR_* transform id as a block cipher;
// existing lets the DH/PRF/INTEG loop in NewCipherSuite accumulate state
// across multiple SA transform substructures of the same proposal.
func cipherTransform(id uint16, keyLen int, existing *simpleCipher) (*simpleCipher, bool) {
	blockSize, fn, ok := classicCipherByID(protocol.EncrTransformId(id))
	if !ok {
		return nil, false
	}
	cs := existing
	if cs == nil {
		cs = &simpleCipher{}
	}
	cs.keyLen = keyLen
	cs.blockLen = blockSize
	cs.ivLen = blockSize
	cs.cipherFn = fn
	cs.EncrTransformId = protocol.EncrTransformId(id)
	return cs, true
}

func classicCipherByID(id protocol.EncrTransformId) (blockSize int, fn cipherFunc, ok bool) {
	switch id {
	case protocol.ENCR_AES_CBC:
		return aes.BlockSize, cbcMode(func(key []byte) (cipher.Block, error) { return aes.NewCipher(key) }), true
	case protocol.ENCR_CAMELLIA_CBC:
		return camellia.BlockSize, cbcMode(func(key []byte) (cipher.Block, error) { return camellia.New(key) }), true
	case protocol.ENCR_3DES:
		return des.BlockSize, cbcMode(func(key []byte) (cipher.Block, error) { return des.NewTripleDESCipher(key) }), true
	case protocol.ENCR_NULL:
		return 1, nil, true
	}
	return 0, nil, false
}

func cbcMode(newBlock func(key []byte) (cipher.Block, error)) cipherFunc {
	return func(key, iv []byte, isRead bool) cipher.BlockMode {
		block, err := newBlock(key)
		if err != nil {
			panic(err) // key length already validated by the SA transform walk
		}
		if isRead {
			return cipher.NewCBCDecrypter(block, iv)
		}
		return cipher.NewCBCEncrypter(block, iv)
	}
}
