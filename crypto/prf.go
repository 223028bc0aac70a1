package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/msgboxio/ike/protocol"
)

// Prf is the capability object for a negotiated pseudo-random function: the
// SKEYSEED/SK_* derivation (tkm.go) and PRF+ length expansion only ever go
// through this type, never a raw hash.Hash.
type Prf struct {
	id      protocol.PrfTransformId
	hashLen int
	apply   func(key, data []byte) []byte
}

func (p *Prf) TransformId() protocol.PrfTransformId { return p.id }

// Length is the output size of one application of the PRF, and also the
// preferred size of SK_d, SK_pi, and SK_pr (RFC 7296 2.14).
func (p *Prf) Length() int { return p.hashLen }

func (p *Prf) Apply(key, data []byte) []byte { return p.apply(key, data) }

// PrfPlus is the PRF+ construction (RFC 7296 2.13): T1 = prf(K, S | 0x01),
// T2 = prf(K, T1 | S | 0x02), ... concatenated and truncated to n bytes.
func (p *Prf) PrfPlus(key, seed []byte, n int) []byte {
	var out, prev []byte
	for round := byte(1); len(out) < n; round++ {
		block := append(append([]byte{}, prev...), seed...)
		block = append(block, round)
		prev = p.apply(key, block)
		out = append(out, prev...)
	}
	return out[:n]
}

func prfTranform(id uint16) (*Prf, error) {
	pid := protocol.PrfTransformId(id)
	var hashLen int
	var apply func(key, data []byte) []byte
	switch pid {
	case protocol.PRF_HMAC_SHA1:
		hashLen, apply = 20, hmacApply(sha1.New)
	case protocol.PRF_HMAC_SHA2_256:
		hashLen, apply = 32, hmacApply(sha256.New)
	case protocol.PRF_HMAC_SHA2_384:
		hashLen, apply = 48, hmacApply(sha512.New384)
	case protocol.PRF_HMAC_SHA2_512:
		hashLen, apply = 64, hmacApply(sha512.New)
	case protocol.PRF_AES128_XCBC:
		hashLen, apply = 16, aesXCBCMac
	case protocol.PRF_AES128_CMAC:
		hashLen, apply = 16, aesCMAC
	default:
		return nil, errUnsupported("prf transform", id)
	}
	return &Prf{id: pid, hashLen: hashLen, apply: apply}, nil
}

func hmacApply(newHash func() hash.Hash) func(key, data []byte) []byte {
	return func(key, data []byte) []byte {
		m := hmac.New(newHash, key)
		m.Write(data)
		return m.Sum(nil)
	}
}

// --- AES-XCBC-MAC-96/PRF (RFC 3566 / RFC 4434), hand-rolled: no pack
// example imports a dedicated XCBC/CMAC library and the construction is a
// few dozen lines atop stdlib crypto/aes. ---

var xcbcConstK1, xcbcConstK2, xcbcConstK3 = []byte{0x01}, []byte{0x02}, []byte{0x03}

func aesXCBCDeriveKeys(key []byte) (k1, k2, k3 []byte) {
	block, err := aes.NewCipher(expandXCBCKey(key))
	if err != nil {
		panic(err)
	}
	enc := func(b byte) []byte {
		in := make([]byte, aes.BlockSize)
		for i := range in {
			in[i] = b
		}
		out := make([]byte, aes.BlockSize)
		block.Encrypt(out, in)
		return out
	}
	return enc(0x01), enc(0x02), enc(0x03)
}

// expandXCBCKey fits the input key to the 16 bytes AES-XCBC is defined for
// (RFC 4434): a shorter key is zero-padded, a longer one is replaced by its
// AES-XCBC-MAC under an all-zero key.
func expandXCBCKey(key []byte) []byte {
	if len(key) > 16 {
		return aesXCBCMac(make([]byte, 16), key)
	}
	out := make([]byte, 16)
	copy(out, key)
	return out
}

func aesXCBCMac(key, data []byte) []byte {
	k1, k2, k3 := aesXCBCDeriveKeys(key)
	block, err := aes.NewCipher(k1)
	if err != nil {
		panic(err)
	}
	e := make([]byte, aes.BlockSize)
	n := len(data)
	if n == 0 {
		last := xorBlocks(padBlock(nil), k3)
		block.Encrypt(e, last)
		return e
	}
	full := n / aes.BlockSize
	if n%aes.BlockSize == 0 {
		full--
	}
	off := 0
	for i := 0; i < full; i++ {
		blk := xorBlocks(e, data[off:off+aes.BlockSize])
		block.Encrypt(e, blk)
		off += aes.BlockSize
	}
	rest := data[off:]
	var last []byte
	if len(rest) == aes.BlockSize {
		last = xorBlocks(xorBlocks(e, rest), k2)
	} else {
		last = xorBlocks(xorBlocks(e, padBlock(rest)), k3)
	}
	block.Encrypt(e, last)
	return e
}

func padBlock(b []byte) []byte {
	out := make([]byte, aes.BlockSize)
	copy(out, b)
	if len(b) < aes.BlockSize {
		out[len(b)] = 0x80
	}
	return out
}

func xorBlocks(a, b []byte) []byte {
	out := make([]byte, aes.BlockSize)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// --- AES-CMAC-96/PRF (RFC 4493/4494), hand-rolled atop stdlib crypto/aes.

func aesCMAC(key, data []byte) []byte {
	block, err := aes.NewCipher(expandXCBCKey(key))
	if err != nil {
		panic(err)
	}
	k1, k2 := cmacSubkeys(block)
	n := len(data)
	var lastBlock []byte
	complete := n != 0 && n%aes.BlockSize == 0
	if complete {
		lastBlock = xorBlocks(data[n-aes.BlockSize:], k1)
	} else {
		lastBlock = xorBlocks(padBlock(data[(n/aes.BlockSize)*aes.BlockSize:]), k2)
	}
	x := make([]byte, aes.BlockSize)
	full := n / aes.BlockSize
	if !complete {
		// full already excludes the padded partial block
	} else {
		full--
	}
	for i := 0; i < full; i++ {
		blk := xorBlocks(x, data[i*aes.BlockSize:(i+1)*aes.BlockSize])
		block.Encrypt(x, blk)
	}
	y := xorBlocks(x, lastBlock)
	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, y)
	return out
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	zero := make([]byte, aes.BlockSize)
	l := make([]byte, aes.BlockSize)
	block.Encrypt(l, zero)
	k1 = shiftLeftXorRb(l, rb)
	k2 = shiftLeftXorRb(k1, rb)
	return
}

func shiftLeftXorRb(in []byte, rb byte) []byte {
	out := make([]byte, len(in))
	msb := in[0]&0x80 != 0
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		nextCarry := in[i] >> 7
		out[i] = in[i]<<1 | carry
		carry = nextCarry
	}
	if msb {
		out[len(out)-1] ^= rb
	}
	return out
}

func errUnsupported(kind string, id uint16) error {
	return &unsupportedTransformError{kind: kind, id: id}
}

type unsupportedTransformError struct {
	kind string
	id   uint16
}

func (e *unsupportedTransformError) Error() string {
	return "crypto: unsupported " + e.kind + " id"
}
