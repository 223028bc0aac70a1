// Package ipc carries the typed messages the four daemon processes
// (parent, ca, ikev2, control) exchange over pre-established socket
// pairs: a fixed header, a variable payload, and optionally one file
// descriptor passed as ancillary data.
package ipc

import (
	"encoding/binary"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ProcID names one of the four daemon processes.
type ProcID uint8

const (
	ProcParent ProcID = iota
	ProcControl
	ProcCA
	ProcIKEv2
)

func (p ProcID) String() string {
	switch p {
	case ProcParent:
		return "parent"
	case ProcControl:
		return "control"
	case ProcCA:
		return "ca"
	case ProcIKEv2:
		return "ikev2"
	}
	return "unknown"
}

// MsgType discriminates the payload of one inter-process message.
type MsgType uint32

const (
	MsgNone MsgType = iota

	// control socket commands, relayed by the parent to whichever process
	// owns the state being queried or changed
	MsgCtlReload
	MsgCtlReset
	MsgCtlCouple
	MsgCtlDecouple
	MsgCtlShowSA
	MsgCtlShowPolicies
	MsgCtlShowFlows
	MsgCtlVerbose
	MsgCtlOK
	MsgCtlFail
	// MsgCtlEnd terminates a multi-part reply.
	MsgCtlEnd

	// certificate engine dispatch (ikev2 <-> ca)
	MsgCertReq
	MsgCert
	MsgCertValid
	MsgCertInvalid
	MsgAuthSignReq
	MsgAuthSignResp
	MsgOcspFd

	// privileged fd handoff (parent -> children)
	MsgUdpFd
	MsgPfkeyFd
)

// ResetScope is the payload of a MsgCtlReset command.
type ResetScope uint8

const (
	ResetAll ResetScope = iota
	ResetPolicies
	ResetSAs
	ResetUsers
	ResetCA
)

const (
	headerLen  = 26
	flagHasFd  = 0x01
	maxMsgSize = 64 * 1024
)

// Message is one typed inter-process message. ID correlates a reply with
// the request that caused it, so the ikev2 engine can park an SA waiting
// on the ca process and resume the right one when the answer lands.
type Message struct {
	Type MsgType
	Peer ProcID
	ID   uuid.UUID
	Data []byte

	// File is a descriptor passed alongside the message (UDP socket,
	// PF_KEY/XFRM socket, OCSP connection); nil for most messages.
	File *os.File
}

// NewMessage builds a correlatable message; replies reuse the request's ID
// via Reply rather than minting a new one.
func NewMessage(t MsgType, peer ProcID, data []byte) *Message {
	return &Message{Type: t, Peer: peer, ID: uuid.New(), Data: data}
}

// Reply builds a response carrying the request's correlation ID.
func (m *Message) Reply(t MsgType, data []byte) *Message {
	return &Message{Type: t, Peer: m.Peer, ID: m.ID, Data: data}
}

// Marshal exposes the wire encoding for transports other than a Channel:
// the admin control socket frames the same typed messages over its own
// datagram socket. Descriptors cannot cross that path; File is ignored.
func Marshal(m *Message) ([]byte, error) { return m.encode() }

// Unmarshal is the inverse of Marshal.
func Unmarshal(b []byte) (*Message, error) {
	m, _, err := decodeMessage(b)
	return m, err
}

func (m *Message) encode() ([]byte, error) {
	if len(m.Data) > maxMsgSize-headerLen {
		return nil, errors.Errorf("ipc: message of %d bytes exceeds cap", len(m.Data))
	}
	b := make([]byte, headerLen+len(m.Data))
	binary.BigEndian.PutUint32(b[0:4], uint32(m.Type))
	b[4] = uint8(m.Peer)
	if m.File != nil {
		b[5] |= flagHasFd
	}
	binary.BigEndian.PutUint32(b[6:10], uint32(len(m.Data)))
	copy(b[10:26], m.ID[:])
	copy(b[headerLen:], m.Data)
	return b, nil
}

func decodeMessage(b []byte) (*Message, bool, error) {
	if len(b) < headerLen {
		return nil, false, errors.Errorf("ipc: short message of %d bytes", len(b))
	}
	m := &Message{
		Type: MsgType(binary.BigEndian.Uint32(b[0:4])),
		Peer: ProcID(b[4]),
	}
	hasFd := b[5]&flagHasFd != 0
	length := binary.BigEndian.Uint32(b[6:10])
	copy(m.ID[:], b[10:26])
	if int(length) != len(b)-headerLen {
		return nil, false, errors.Errorf("ipc: declared length %d does not match %d received", length, len(b)-headerLen)
	}
	if length > 0 {
		m.Data = append([]byte{}, b[headerLen:headerLen+int(length)]...)
	}
	return m, hasFd, nil
}
