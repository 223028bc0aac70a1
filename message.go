package ike

import (
	"net"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/protocol"
)

// Message is one IKE datagram: the fixed header plus its payload chain.
// For an SK-protected exchange, Payloads stays nil until DecryptPayloads
// (or, for a fragmented message, fragment.go's reassembly path) has
// verified and decrypted the ciphertext; Data keeps the raw datagram bytes
// needed to do that once the owning Session's Tkm is known.
type Message struct {
	IkeHeader *protocol.IkeHeader
	Payloads  *protocol.Payloads

	Data []byte

	LocalAddr, RemoteAddr net.Addr
}

// DecodeMessage decodes a raw UDP datagram's fixed header and, for any
// exchange that isn't SK/SKF-led, its payload chain too. Encrypted or
// fragmented messages decode only the header here.
func DecodeMessage(b []byte) (*Message, error) {
	header, err := protocol.DecodeIkeHeader(b)
	if err != nil {
		return nil, err
	}
	if uint32(len(b)) < header.MsgLength {
		return nil, errors.Wrap(protocol.ERR_INVALID_SYNTAX, "datagram shorter than declared message length")
	}
	m := &Message{IkeHeader: header, Data: append([]byte{}, b[:header.MsgLength]...)}
	if header.NextPayload == protocol.PayloadTypeSK || header.NextPayload == protocol.PayloadTypeSKF {
		return m, nil
	}
	payloads, err := protocol.DecodePayloadChain(m.Data[protocol.IKE_HEADER_LEN:header.MsgLength], header.NextPayload)
	if err != nil {
		return nil, err
	}
	m.Payloads = payloads
	return m, nil
}

// IsEncrypted reports whether this message's first payload is the SK
// (single-fragment) encrypted payload.
func (m *Message) IsEncrypted() bool {
	return m.IkeHeader.NextPayload == protocol.PayloadTypeSK
}

// IsFragmented reports whether this message's first payload is an SKF
// fragment, requiring reassembly (fragment.go) before DecryptPayloads.
func (m *Message) IsFragmented() bool {
	return m.IkeHeader.NextPayload == protocol.PayloadTypeSKF
}

// DecryptPayloads completes the decode of an SK-protected, non-fragmented
// message once its Tkm is known: verifies the integrity/AEAD tag, then
// decrypts and decodes the inner payload chain.
func (m *Message) DecryptPayloads(tkm *Tkm) error {
	body := m.Data[protocol.IKE_HEADER_LEN:]
	skHeader, err := protocol.DecodeGenericHeader(body)
	if err != nil {
		return err
	}
	if int(skHeader.PayloadLength) > len(body) {
		return errors.Wrap(protocol.ERR_INVALID_SYNTAX, "sk payload length exceeds message")
	}
	sealed := body[protocol.PAYLOAD_HEADER_LENGTH:skHeader.PayloadLength]
	associated := m.Data[:protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH]
	cleartext, err := tkm.Open(associated, sealed)
	if err != nil {
		return err
	}
	payloads, err := protocol.DecodePayloadChain(cleartext, skHeader.NextPayload)
	if err != nil {
		return err
	}
	m.Payloads = payloads
	return nil
}

// Encode serializes m, encrypting the payload chain under tkm whenever
// m.IkeHeader.NextPayload is SK. tkm may be nil only for the unprotected
// IKE_SA_INIT exchange.
func (m *Message) Encode(tkm *Tkm) ([]byte, error) {
	if tkm == nil {
		firstOuter := protocol.PayloadTypeNone
		if len(m.Payloads.Array) > 0 {
			firstOuter = m.Payloads.Array[0].Type()
		}
		m.IkeHeader.NextPayload = firstOuter
		body := protocol.EncodePayloadChain(m.Payloads)
		m.IkeHeader.MsgLength = uint32(protocol.IKE_HEADER_LEN + len(body))
		return append(m.IkeHeader.Encode(), body...), nil
	}
	cleartext := protocol.EncodePayloadChain(m.Payloads)
	firstInner := protocol.PayloadTypeNone
	if len(m.Payloads.Array) > 0 {
		firstInner = m.Payloads.Array[0].Type()
	}

	m.IkeHeader.NextPayload = protocol.PayloadTypeSK
	sealedLen := len(cleartext) + tkm.Overhead(len(cleartext))
	m.IkeHeader.MsgLength = uint32(protocol.IKE_HEADER_LEN + protocol.PAYLOAD_HEADER_LENGTH + sealedLen)
	headerBytes := m.IkeHeader.Encode()
	skHeaderBytes := protocol.EncodeGenericHeader(firstInner, sealedLen)

	associated := append(append([]byte{}, headerBytes...), skHeaderBytes...)
	sealed, err := tkm.Seal(associated, cleartext)
	if err != nil {
		return nil, err
	}
	if len(sealed) != sealedLen {
		return nil, errors.Errorf("ike: cipher overhead mismatch: expected %d, got %d", sealedLen, len(sealed))
	}
	out := append([]byte{}, headerBytes...)
	out = append(out, skHeaderBytes...)
	out = append(out, sealed...)
	return out, nil
}

// FirstPayload returns the type of the outermost payload this message will
// (or does) carry: SK/SKF for a protected message, otherwise the first
// cleartext payload's own type.
func (m *Message) FirstPayload() protocol.PayloadType {
	return m.IkeHeader.NextPayload
}
