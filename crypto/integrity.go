package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/msgboxio/ike/protocol"
)

// macFunc computes a MAC over data under key; callers truncate to the
// negotiated macLen themselves.
type macFunc func(key, data []byte) []byte

func hmacWith(newHash func() hash.Hash) macFunc {
	return func(key, data []byte) []byte {
		m := hmac.New(newHash, key)
		m.Write(data)
		return m.Sum(nil)
	}
}

type integrityDef struct {
	macLen, macKeyLen int
	mac               macFunc
}

func integrityByID(id protocol.AuthTransformId) (integrityDef, bool) {
	switch id {
	case protocol.AUTH_HMAC_SHA1_96:
		return integrityDef{macLen: 12, macKeyLen: 20, mac: hmacWith(sha1.New)}, true
	case protocol.AUTH_HMAC_SHA2_256_128:
		return integrityDef{macLen: 16, macKeyLen: 32, mac: hmacWith(sha256.New)}, true
	case protocol.AUTH_HMAC_SHA2_384_192:
		return integrityDef{macLen: 24, macKeyLen: 48, mac: hmacWith(sha512.New384)}, true
	case protocol.AUTH_HMAC_SHA2_512_256:
		return integrityDef{macLen: 32, macKeyLen: 64, mac: hmacWith(sha512.New)}, true
	case protocol.AUTH_AES_XCBC_96:
		return integrityDef{macLen: 12, macKeyLen: 16, mac: aesXCBCMac}, true
	case protocol.AUTH_AES_CMAC_96:
		return integrityDef{macLen: 12, macKeyLen: 16, mac: aesCMAC}, true
	}
	return integrityDef{}, false
}

// integrityTransform recognizes an AUTH_* (integrity) transform id and
// folds it into the accumulating simpleCipher.
func integrityTransform(id uint16, existing *simpleCipher) (*simpleCipher, bool) {
	def, ok := integrityByID(protocol.AuthTransformId(id))
	if !ok {
		return nil, false
	}
	cs := existing
	if cs == nil {
		cs = &simpleCipher{}
	}
	cs.macFn = def.mac
	cs.macLen = def.macLen
	cs.macKeyLen = def.macKeyLen
	cs.AuthTransformId = protocol.AuthTransformId(id)
	return cs, true
}
