// Package protocol implements the IKEv2 (RFC 7296) wire format: the fixed
// 28-byte header and the singly-linked chain of typed payloads that follows
// it. Every decode path bound-checks lengths against the enclosing slice
// before dereferencing data; unknown critical payloads are a hard error,
// unknown non-critical payloads are skipped.
package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	IKEV2_MAJOR_VERSION = 2
	IKEV2_MINOR_VERSION = 0

	IKE_PORT      = 500
	IKE_NATT_PORT = 4500
)

// Spi is a security parameter index. IKE SPIs are 8 bytes; ESP/AH SPIs are
// stored as the leading 4 bytes of the same type.
type Spi []byte

func (s Spi) String() string {
	return hexString([]byte(s))
}

const hexdigits = "0123456789abcdef"

func hexString(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

type IkeExchangeType uint8

const (
	IKE_SA_INIT        IkeExchangeType = 34
	IKE_AUTH           IkeExchangeType = 35
	CREATE_CHILD_SA    IkeExchangeType = 36
	INFORMATIONAL      IkeExchangeType = 37
	IKE_SESSION_RESUME IkeExchangeType = 38
)

type PayloadType uint8

const (
	PayloadTypeNone    PayloadType = 0
	PayloadTypeSA      PayloadType = 33
	PayloadTypeKE      PayloadType = 34
	PayloadTypeIDi     PayloadType = 35
	PayloadTypeIDr     PayloadType = 36
	PayloadTypeCERT    PayloadType = 37
	PayloadTypeCERTREQ PayloadType = 38
	PayloadTypeAUTH    PayloadType = 39
	PayloadTypeNonce   PayloadType = 40
	PayloadTypeN       PayloadType = 41
	PayloadTypeD       PayloadType = 42
	PayloadTypeV       PayloadType = 43
	PayloadTypeTSi     PayloadType = 44
	PayloadTypeTSr     PayloadType = 45
	PayloadTypeSK      PayloadType = 46
	PayloadTypeCP      PayloadType = 47
	PayloadTypeEAP     PayloadType = 48
	PayloadTypeSKF     PayloadType = 53
)

// knownToDaemon reports whether this daemon implements the payload type.
// Whether an unrecognized payload is fatal or skipped quietly is decided at
// decode time from the payload header's own critical bit (RFC 7296 3.2),
// not here.
func (p PayloadType) knownToDaemon() bool {
	switch p {
	case PayloadTypeSA, PayloadTypeKE, PayloadTypeIDi, PayloadTypeIDr,
		PayloadTypeCERT, PayloadTypeCERTREQ, PayloadTypeAUTH, PayloadTypeNonce,
		PayloadTypeN, PayloadTypeD, PayloadTypeV, PayloadTypeTSi, PayloadTypeTSr,
		PayloadTypeSK, PayloadTypeCP, PayloadTypeEAP, PayloadTypeSKF:
		return true
	}
	return false
}

type IkeFlags uint8

const (
	RESPONSE  IkeFlags = 1 << 5
	VERSION   IkeFlags = 1 << 4
	INITIATOR IkeFlags = 1 << 3
)

func (f IkeFlags) IsResponse() bool  { return f&RESPONSE != 0 }
func (f IkeFlags) IsInitiator() bool { return f&INITIATOR != 0 }

type ProtocolId uint8

const (
	IKE ProtocolId = 1
	AH  ProtocolId = 2
	ESP ProtocolId = 3
)

const IKE_HEADER_LEN = 28

// IkeHeader is the fixed 28-byte header that precedes every IKE message.
//
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                       IKE SA Initiator's SPI                 |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                       IKE SA Responder's SPI                 |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Next Payload  | MjVer | MnVer | Exchange Type |     Flags     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          Message ID                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                            Length                            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type IkeHeader struct {
	SpiI, SpiR                 Spi
	NextPayload                PayloadType
	MajorVersion, MinorVersion uint8
	ExchangeType               IkeExchangeType
	Flags                      IkeFlags
	MsgId                      uint32
	MsgLength                  uint32
}

func DecodeIkeHeader(b []byte) (*IkeHeader, error) {
	if len(b) < IKE_HEADER_LEN {
		return nil, errors.Wrapf(ERR_INVALID_SYNTAX, "header too short: %d", len(b))
	}
	h := &IkeHeader{
		SpiI:         append(Spi{}, b[0:8]...),
		SpiR:         append(Spi{}, b[8:16]...),
		NextPayload:  PayloadType(b[16]),
		ExchangeType: IkeExchangeType(b[18]),
		Flags:        IkeFlags(b[19]),
		MsgId:        binary.BigEndian.Uint32(b[20:24]),
		MsgLength:    binary.BigEndian.Uint32(b[24:28]),
	}
	h.MajorVersion = b[17] >> 4
	h.MinorVersion = b[17] & 0x0f
	if h.MsgLength < IKE_HEADER_LEN {
		return nil, errors.Wrap(ERR_INVALID_SYNTAX, "message length shorter than header")
	}
	return h, nil
}

func (h *IkeHeader) Encode() []byte {
	b := make([]byte, IKE_HEADER_LEN)
	copy(b[0:8], h.SpiI)
	copy(b[8:16], h.SpiR)
	b[16] = uint8(h.NextPayload)
	b[17] = h.MajorVersion<<4 | h.MinorVersion
	b[18] = uint8(h.ExchangeType)
	b[19] = uint8(h.Flags)
	binary.BigEndian.PutUint32(b[20:24], h.MsgId)
	binary.BigEndian.PutUint32(b[24:28], h.MsgLength)
	return b
}

const PAYLOAD_HEADER_LENGTH = 4

// PayloadHeader is the 4-byte generic payload header prefixed to every
// payload in the chain.
type PayloadHeader struct {
	NextPayload   PayloadType
	IsCritical    bool
	PayloadLength uint16
}

func (h *PayloadHeader) NextPayloadType() PayloadType { return h.NextPayload }

func (h *PayloadHeader) SetNextPayloadType(t PayloadType) { h.NextPayload = t }

func decodePayloadHeader(b []byte) (*PayloadHeader, error) {
	if len(b) < PAYLOAD_HEADER_LENGTH {
		return nil, errors.Wrap(ERR_INVALID_SYNTAX, "payload header too short")
	}
	h := &PayloadHeader{
		NextPayload:   PayloadType(b[0]),
		IsCritical:    b[1]&0x80 != 0,
		PayloadLength: binary.BigEndian.Uint16(b[2:4]),
	}
	if int(h.PayloadLength) < PAYLOAD_HEADER_LENGTH {
		return nil, errors.Wrap(ERR_INVALID_SYNTAX, "payload length smaller than its own header")
	}
	return h, nil
}

func encodePayloadHeader(next PayloadType, bodyLen int) []byte {
	b := make([]byte, PAYLOAD_HEADER_LENGTH)
	b[0] = uint8(next)
	binary.BigEndian.PutUint16(b[2:4], uint16(bodyLen+PAYLOAD_HEADER_LENGTH))
	return b
}

// EncodeGenericHeader exposes encodePayloadHeader to callers outside the
// package that build the SK (encrypted) payload's own generic header by
// hand; the message engine needs it to frame a ciphertext whose length
// isn't known until after encryption.
func EncodeGenericHeader(next PayloadType, bodyLen int) []byte {
	return encodePayloadHeader(next, bodyLen)
}

// DecodeGenericHeader is the decode counterpart of EncodeGenericHeader, used
// by the message engine to read the SK payload's header before handing the
// rest of the datagram to the cipher.
func DecodeGenericHeader(b []byte) (*PayloadHeader, error) {
	return decodePayloadHeader(b)
}

// Payload is implemented by every concrete payload type.
type Payload interface {
	Type() PayloadType
	Decode([]byte) error
	Encode() []byte
	NextPayloadType() PayloadType
	SetNextPayloadType(PayloadType)
}

// Payloads is an ordered, also-indexed collection of the payloads in one
// message. Order matters for encoding (it determines the next-payload
// chain); the map gives O(1) lookup by type for the many call sites that
// only care "is the SA payload present."
type Payloads struct {
	Map   map[PayloadType]int
	Array []Payload
}

func MakePayloads() *Payloads {
	return &Payloads{Map: make(map[PayloadType]int)}
}

func (p *Payloads) Get(t PayloadType) Payload {
	if idx, ok := p.Map[t]; ok {
		return p.Array[idx]
	}
	return nil
}

// Add appends pl to the message; Get keeps returning the first payload of
// each type, while Array holds every one in order.
func (p *Payloads) Add(pl Payload) {
	p.Array = append(p.Array, pl)
	if _, ok := p.Map[pl.Type()]; !ok {
		p.Map[pl.Type()] = len(p.Array) - 1
	}
}

// maxChainIterations bounds the number of payloads decoded from a single
// message so a corrupt or malicious next-payload chain cannot loop (or walk
// arbitrarily far) inside a 64KiB datagram; each payload is at least 4
// bytes so this is generous relative to the largest message this daemon
// will ever receive.
const maxChainIterations = 4096

// DecodePayloadChain decodes a sequence of payloads whose first type is
// given explicitly (the enclosing IkeHeader.NextPayload, or the
// encrypted-payload header's NextPayload once decrypted). b must be exactly
// the bytes of the chain, no trailer.
func DecodePayloadChain(b []byte, first PayloadType) (*Payloads, error) {
	payloads := MakePayloads()
	next := first
	iterations := 0
	for next != PayloadTypeNone {
		iterations++
		if iterations > maxChainIterations {
			return nil, errors.Wrap(ERR_INVALID_SYNTAX, "payload chain too long")
		}
		if len(b) < PAYLOAD_HEADER_LENGTH {
			return nil, errors.Wrap(ERR_INVALID_SYNTAX, "truncated payload header")
		}
		ph, err := decodePayloadHeader(b)
		if err != nil {
			return nil, err
		}
		if len(b) < int(ph.PayloadLength) {
			return nil, errors.Wrap(ERR_INVALID_SYNTAX, "payload length exceeds remaining buffer")
		}
		body := b[PAYLOAD_HEADER_LENGTH:ph.PayloadLength]
		pl, err := newPayload(next, ph)
		if err != nil {
			if ph.IsCritical {
				return nil, err
			}
			// unknown, non-critical: skip it but keep walking the chain
			b = b[ph.PayloadLength:]
			next = ph.NextPayload
			continue
		}
		if err := pl.Decode(body); err != nil {
			return nil, err
		}
		payloads.Add(pl)
		b = b[ph.PayloadLength:]
		next = ph.NextPayload
	}
	if len(b) != 0 {
		return nil, errors.Wrap(ERR_INVALID_SYNTAX, "trailing bytes after payload chain")
	}
	return payloads, nil
}

func newPayload(t PayloadType, h *PayloadHeader) (Payload, error) {
	switch t {
	case PayloadTypeSA:
		return &SaPayload{PayloadHeader: h}, nil
	case PayloadTypeKE:
		return &KePayload{PayloadHeader: h}, nil
	case PayloadTypeIDi:
		return &IdPayload{PayloadHeader: h, idPayloadType: PayloadTypeIDi}, nil
	case PayloadTypeIDr:
		return &IdPayload{PayloadHeader: h, idPayloadType: PayloadTypeIDr}, nil
	case PayloadTypeCERT:
		return &CertPayload{PayloadHeader: h}, nil
	case PayloadTypeCERTREQ:
		return &CertRequestPayload{PayloadHeader: h}, nil
	case PayloadTypeAUTH:
		return &AuthPayload{PayloadHeader: h}, nil
	case PayloadTypeNonce:
		return &NoncePayload{PayloadHeader: h}, nil
	case PayloadTypeN:
		return &NotifyPayload{PayloadHeader: h}, nil
	case PayloadTypeD:
		return &DeletePayload{PayloadHeader: h}, nil
	case PayloadTypeV:
		return &VendorIdPayload{PayloadHeader: h}, nil
	case PayloadTypeTSi:
		return &TrafficSelectorPayload{PayloadHeader: h, tsType: PayloadTypeTSi}, nil
	case PayloadTypeTSr:
		return &TrafficSelectorPayload{PayloadHeader: h, tsType: PayloadTypeTSr}, nil
	case PayloadTypeCP:
		return &ConfigurationPayload{PayloadHeader: h}, nil
	case PayloadTypeEAP:
		return &EapPayload{PayloadHeader: h}, nil
	case PayloadTypeSKF:
		return &FragmentPayload{PayloadHeader: h}, nil
	default:
		return nil, errors.Wrapf(ERR_UNSUPPORTED_CRITICAL_PAYLOAD, "payload type %d", t)
	}
}

// EncodePayloadChain serializes payloads in order, threading the
// next-payload chain through their headers.
func EncodePayloadChain(payloads *Payloads) []byte {
	var out []byte
	for i, pl := range payloads.Array {
		next := PayloadTypeNone
		if i+1 < len(payloads.Array) {
			next = payloads.Array[i+1].Type()
		}
		pl.SetNextPayloadType(next)
		body := pl.Encode()
		out = append(out, encodePayloadHeader(next, len(body))...)
		out = append(out, body...)
	}
	return out
}
