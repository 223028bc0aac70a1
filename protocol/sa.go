package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type TransformType uint8

const (
	TRANSFORM_TYPE_ENCR  TransformType = 1
	TRANSFORM_TYPE_PRF   TransformType = 2
	TRANSFORM_TYPE_INTEG TransformType = 3
	TRANSFORM_TYPE_DH    TransformType = 4
	TRANSFORM_TYPE_ESN   TransformType = 5
)

type EncrTransformId uint16

const (
	ENCR_DES_IV64 EncrTransformId = 1
	ENCR_DES      EncrTransformId = 2
	ENCR_3DES     EncrTransformId = 3
	ENCR_RC5      EncrTransformId = 4
	ENCR_IDEA     EncrTransformId = 5
	ENCR_CAST     EncrTransformId = 6
	ENCR_BLOWFISH EncrTransformId = 7
	ENCR_3IDEA    EncrTransformId = 8
	ENCR_DES_IV32 EncrTransformId = 9

	ENCR_NULL      EncrTransformId = 11
	ENCR_AES_CBC   EncrTransformId = 12
	ENCR_AES_CTR   EncrTransformId = 13
	ENCR_AES_CCM_8 EncrTransformId = 14

	AEAD_AES_GCM_8  EncrTransformId = 18
	AEAD_AES_GCM_12 EncrTransformId = 19
	AEAD_AES_GCM_16 EncrTransformId = 20

	ENCR_NULL_AUTH_AES_GMAC EncrTransformId = 21

	ENCR_CAMELLIA_CBC        EncrTransformId = 23
	ENCR_CAMELLIA_CTR        EncrTransformId = 24
	ENCR_CAMELLIA_CCM_8_ICV  EncrTransformId = 25
	ENCR_CAMELLIA_CCM_12_ICV EncrTransformId = 26
	ENCR_CAMELLIA_CCM_16_ICV EncrTransformId = 27

	// the IANA IKEv2 encryption id for ChaCha20-Poly1305 (RFC 7634).
	AEAD_CHACHA20_POLY1305 EncrTransformId = 28
)

type PrfTransformId uint16

const (
	PRF_HMAC_MD5      PrfTransformId = 1
	PRF_HMAC_SHA1     PrfTransformId = 2
	PRF_HMAC_TIGER    PrfTransformId = 3
	PRF_AES128_XCBC   PrfTransformId = 4
	PRF_HMAC_SHA2_256 PrfTransformId = 5
	PRF_HMAC_SHA2_384 PrfTransformId = 6
	PRF_HMAC_SHA2_512 PrfTransformId = 7
	PRF_AES128_CMAC   PrfTransformId = 8
)

type AuthTransformId uint16

const (
	AUTH_NONE              AuthTransformId = 0
	AUTH_HMAC_MD5_96       AuthTransformId = 1
	AUTH_HMAC_SHA1_96      AuthTransformId = 2
	AUTH_DES_MAC           AuthTransformId = 3
	AUTH_KPDK_MD5          AuthTransformId = 4
	AUTH_AES_XCBC_96       AuthTransformId = 5
	AUTH_HMAC_MD5_128      AuthTransformId = 6
	AUTH_HMAC_SHA1_160     AuthTransformId = 7
	AUTH_AES_CMAC_96       AuthTransformId = 8
	AUTH_AES_128_GMAC      AuthTransformId = 9
	AUTH_AES_192_GMAC      AuthTransformId = 10
	AUTH_AES_256_GMAC      AuthTransformId = 11
	AUTH_HMAC_SHA2_256_128 AuthTransformId = 12
	AUTH_HMAC_SHA2_384_192 AuthTransformId = 13
	AUTH_HMAC_SHA2_512_256 AuthTransformId = 14
)

type DhTransformId uint16

const (
	MODP_NONE DhTransformId = 0
	MODP_768  DhTransformId = 1
	MODP_1024 DhTransformId = 2

	MODP_1536 DhTransformId = 5

	MODP_2048           DhTransformId = 14
	MODP_3072           DhTransformId = 15
	MODP_4096           DhTransformId = 16
	MODP_6144           DhTransformId = 17
	MODP_8192           DhTransformId = 18
	ECP_256             DhTransformId = 19
	ECP_384             DhTransformId = 20
	ECP_521             DhTransformId = 21
	MODP_1024_PRIME_160 DhTransformId = 22
	MODP_2048_PRIME_224 DhTransformId = 23
	MODP_2048_PRIME_256 DhTransformId = 24
	ECP_192             DhTransformId = 25
	ECP_224             DhTransformId = 26
	BRAINPOOLP224R1     DhTransformId = 27
	BRAINPOOLP256R1     DhTransformId = 28
	BRAINPOOLP384R1     DhTransformId = 29
	BRAINPOOLP512R1     DhTransformId = 30

	// RFC 7296 assigns no codepoint for X25519 (it postdates the RFC);
	// this daemon follows the de-facto value later registered by IANA.
	CURVE25519 DhTransformId = 31
	CURVE448   DhTransformId = 32

	// Private-use range (RFC 7296 1024-65535) for the ML-KEM-768 x X25519
	// hybrid post-quantum group this daemon negotiates between two
	// instances of itself; not expected to interoperate with other
	// implementations.
	MLKEM768_X25519 DhTransformId = 1024
)

type EsnTransformid uint16

const (
	ESN_NONE EsnTransformid = 0
	ESN      EsnTransformid = 1
)

// Transform identifies a single (type, id) pair, independent of any
// negotiated attributes (e.g. key length); the map key used to recognize
// "the same algorithm" across proposals.
type Transform struct {
	Type        TransformType
	TransformId uint16
}

type AttributeType uint16

const ATTRIBUTE_TYPE_KEY_LENGTH AttributeType = 14

type TransformAttribute struct {
	Type  AttributeType
	Value uint16
}

const minLenAttribute = 4

func decodeAttribute(b []byte) (*TransformAttribute, int, error) {
	if len(b) < minLenAttribute {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "truncated transform attribute")
	}
	at := binary.BigEndian.Uint16(b[0:2])
	if AttributeType(at&0x7fff) != ATTRIBUTE_TYPE_KEY_LENGTH {
		return nil, 0, errors.Wrapf(ERR_INVALID_SYNTAX, "unsupported attribute type 0x%x", at)
	}
	return &TransformAttribute{
		Type:  ATTRIBUTE_TYPE_KEY_LENGTH,
		Value: binary.BigEndian.Uint16(b[2:4]),
	}, minLenAttribute, nil
}

// SaTransform is one transform substructure within a proposal.
type SaTransform struct {
	Transform
	KeyLength uint16
	IsLast    bool
}

const minLenTransform = 8

func decodeTransform(b []byte) (*SaTransform, int, error) {
	if len(b) < minLenTransform {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "truncated transform")
	}
	trans := &SaTransform{}
	trans.IsLast = b[0] == 0
	trLength := binary.BigEndian.Uint16(b[2:4])
	if int(trLength) < minLenTransform || len(b) < int(trLength) {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "bad transform length")
	}
	trans.Type = TransformType(b[4])
	trans.TransformId = binary.BigEndian.Uint16(b[6:8])

	rest := b[minLenTransform:trLength]
	attrs := make(map[AttributeType]*TransformAttribute)
	for len(rest) > 0 {
		attr, used, err := decodeAttribute(rest)
		if err != nil {
			return nil, 0, err
		}
		rest = rest[used:]
		attrs[attr.Type] = attr
	}
	if at, ok := attrs[ATTRIBUTE_TYPE_KEY_LENGTH]; ok {
		trans.KeyLength = at.Value
	}
	return trans, int(trLength), nil
}

func encodeTransform(trans *SaTransform, isLast bool) []byte {
	b := make([]byte, minLenTransform)
	if !isLast {
		b[0] = 3
	}
	b[4] = uint8(trans.Type)
	binary.BigEndian.PutUint16(b[6:8], trans.TransformId)
	if trans.KeyLength != 0 {
		attr := make([]byte, 4)
		binary.BigEndian.PutUint16(attr[0:2], 0x8000|uint16(ATTRIBUTE_TYPE_KEY_LENGTH))
		binary.BigEndian.PutUint16(attr[2:4], trans.KeyLength)
		b = append(b, attr...)
	}
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	return b
}

// SaProposal is one proposal substructure: a protocol, an SPI, and the set
// of transforms the proposer is willing to use for it.
type SaProposal struct {
	IsLast     bool
	Number     uint8
	ProtocolId ProtocolId
	Spi        []byte
	Transforms []*SaTransform
}

const minLenProposal = 8

func decodeProposal(b []byte) (*SaProposal, int, error) {
	if len(b) < minLenProposal {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "truncated proposal")
	}
	prop := &SaProposal{}
	prop.IsLast = b[0] == 0
	propLength := binary.BigEndian.Uint16(b[2:4])
	if int(propLength) < minLenProposal || len(b) < int(propLength) {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "bad proposal length")
	}
	prop.Number = b[4]
	prop.ProtocolId = ProtocolId(b[5])
	spiSize := int(b[6])
	numTransforms := int(b[7])
	if len(b) < minLenProposal+spiSize {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "proposal SPI runs past buffer")
	}
	used := minLenProposal + spiSize
	prop.Spi = append([]byte{}, b[minLenProposal:used]...)

	rest := b[used:propLength]
	for len(rest) > 0 {
		trans, usedT, err := decodeTransform(rest)
		if err != nil {
			return nil, 0, err
		}
		prop.Transforms = append(prop.Transforms, trans)
		rest = rest[usedT:]
		if trans.IsLast {
			if len(rest) > 0 {
				return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "bytes after last transform")
			}
			break
		}
	}
	if len(prop.Transforms) != numTransforms {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "transform count mismatch")
	}
	return prop, int(propLength), nil
}

func encodeProposal(prop *SaProposal, number int, isLast bool) []byte {
	b := make([]byte, minLenProposal)
	if !isLast {
		b[0] = 2
	}
	b[4] = prop.Number
	b[5] = uint8(prop.ProtocolId)
	b[6] = uint8(len(prop.Spi))
	b[7] = uint8(len(prop.Transforms))
	b = append(b, prop.Spi...)
	for idx, tr := range prop.Transforms {
		b = append(b, encodeTransform(tr, idx == len(prop.Transforms)-1)...)
	}
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	return b
}

// Proposals is the list form used wherever a caller needs to pass proposals
// around without a wrapping SaPayload (config checks, CREATE_CHILD_SA).
type Proposals = []*SaProposal

// SaPayload carries one or more alternative proposals (RFC 7296 3.3); the
// responder picks exactly one and echoes it back as a single proposal.
type SaPayload struct {
	*PayloadHeader
	Proposals []*SaProposal
}

func (s *SaPayload) Type() PayloadType { return PayloadTypeSA }

func (s *SaPayload) Encode() []byte {
	var b []byte
	for idx, prop := range s.Proposals {
		b = append(b, encodeProposal(prop, idx+1, idx == len(s.Proposals)-1)...)
	}
	return b
}

func (s *SaPayload) Decode(b []byte) error {
	for len(b) > 0 {
		prop, used, err := decodeProposal(b)
		if err != nil {
			return err
		}
		s.Proposals = append(s.Proposals, prop)
		b = b[used:]
		if prop.IsLast {
			if len(b) > 0 {
				return errors.Wrap(ERR_INVALID_SYNTAX, "bytes after last proposal")
			}
			break
		}
	}
	return nil
}
