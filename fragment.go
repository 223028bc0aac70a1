package ike

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/protocol"
)

// errSkipDispatch is returned by handleEncryptedMessage (never by anything
// outside it) to say "reassembly is still in progress, nothing to log",
// distinct from a real decode/decrypt error.
var errSkipDispatch = errors.New("ike: fragment reassembly incomplete")

const (
	// maxConcurrentFragmented bounds how many distinct in-flight
	// fragmented messages one SA will track at once.
	maxConcurrentFragmented = 4
	// maxFragmentBytes bounds the total ciphertext bytes this SA will
	// buffer across all in-flight fragmented messages.
	maxFragmentBytes = 256 * 1024
	fragmentTimeout  = 30 * time.Second
)

type fragmentSet struct {
	firstNext protocol.PayloadType
	total     uint16
	parts     map[uint16][]byte
	bytes     int
	started   time.Time
}

// fragmentReassembly owns one Session's RFC 7383 reassembly state: each
// inbound SKF-led message decrypts individually (each fragment carries its
// own IV/ICV), and once every fragment of a given message id has arrived
// their plaintexts concatenate into the original payload chain.
type fragmentReassembly struct {
	tkm *Tkm
	byMsgID map[uint32]*fragmentSet
}

func newFragmentReassembly(tkm *Tkm) *fragmentReassembly {
	return &fragmentReassembly{tkm: tkm, byMsgID: make(map[uint32]*fragmentSet)}
}

// add decrypts and records one SKF fragment. It returns (reassembled,
// true, nil) once every fragment of m's message id has arrived, (nil,
// false, nil) while reassembly is still pending, and an error if the
// fragment itself, or the accumulated state, violates the reassembly caps.
func (f *fragmentReassembly) add(m *Message) (*Message, bool, error) {
	f.expireStale()

	body := m.Data[protocol.IKE_HEADER_LEN:]
	hdr, err := protocol.DecodeGenericHeader(body)
	if err != nil {
		return nil, false, err
	}
	skf := &protocol.FragmentPayload{PayloadHeader: hdr}
	if int(hdr.PayloadLength) > len(body) {
		return nil, false, errors.Wrap(protocol.ERR_INVALID_SYNTAX, "skf payload length exceeds message")
	}
	if err := skf.Decode(body[protocol.PAYLOAD_HEADER_LENGTH:hdr.PayloadLength]); err != nil {
		return nil, false, err
	}

	associated := m.Data[:protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH]
	plain, err := f.tkm.Open(associated, skf.Data)
	if err != nil {
		return nil, false, err
	}

	id := m.IkeHeader.MsgId
	set, ok := f.byMsgID[id]
	if !ok {
		if len(f.byMsgID) >= maxConcurrentFragmented {
			return nil, false, errors.New("ike: too many concurrent fragmented messages")
		}
		set = &fragmentSet{total: skf.TotalFragments, parts: make(map[uint16][]byte), started: time.Now()}
		if skf.FragmentNumber == 1 {
			set.firstNext = hdr.NextPayload
		}
		f.byMsgID[id] = set
	}
	if skf.FragmentNumber == 1 {
		set.firstNext = hdr.NextPayload
	}
	if skf.TotalFragments != set.total {
		return nil, false, errors.Wrap(protocol.ERR_INVALID_SYNTAX, "inconsistent fragment count")
	}
	if _, dup := set.parts[skf.FragmentNumber]; !dup {
		set.bytes += len(plain)
		if set.bytes > maxFragmentBytes {
			delete(f.byMsgID, id)
			return nil, false, errors.New("ike: fragmented message exceeds byte cap")
		}
		set.parts[skf.FragmentNumber] = plain
	}

	if uint16(len(set.parts)) < set.total {
		return nil, false, nil
	}
	delete(f.byMsgID, id)

	order := make([]uint16, 0, set.total)
	for k := range set.parts {
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var full []byte
	for _, k := range order {
		full = append(full, set.parts[k]...)
	}
	payloads, err := protocol.DecodePayloadChain(full, set.firstNext)
	if err != nil {
		return nil, false, err
	}
	m.Payloads = payloads
	return m, true, nil
}

func (f *fragmentReassembly) expireStale() {
	cutoff := time.Now().Add(-fragmentTimeout)
	for id, set := range f.byMsgID {
		if set.started.Before(cutoff) {
			delete(f.byMsgID, id)
		}
	}
}

// fragmentThreshold is the on-wire size above which an outbound encrypted
// payload chain is split into SKF fragments rather than sent as a single
// SK payload; the threshold is derived from a conservative path MTU.
const fragmentThreshold = 1280

// encodeFragments seals m as a sequence of SKF-led datagrams (RFC 7383),
// one per splitForFragmentation chunk. A message that fits in a single
// chunk comes back as one ordinary SK-led datagram via Message.Encode, so
// callers can use this unconditionally once fragmentation is negotiated.
func encodeFragments(tkm *Tkm, m *Message) ([][]byte, error) {
	cleartext := protocol.EncodePayloadChain(m.Payloads)
	chunks := splitForFragmentation(cleartext)
	if len(chunks) == 1 {
		single, err := m.Encode(tkm)
		if err != nil {
			return nil, err
		}
		return [][]byte{single}, nil
	}
	firstInner := protocol.PayloadTypeNone
	if len(m.Payloads.Array) > 0 {
		firstInner = m.Payloads.Array[0].Type()
	}

	total := uint16(len(chunks))
	out := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		sealedLen := len(chunk) + tkm.Overhead(len(chunk))
		skfBodyLen := 4 + sealedLen

		hdr := *m.IkeHeader
		hdr.NextPayload = protocol.PayloadTypeSKF
		hdr.MsgLength = uint32(protocol.IKE_HEADER_LEN + protocol.PAYLOAD_HEADER_LENGTH + skfBodyLen)

		next := firstInner
		if i != 0 {
			next = protocol.PayloadTypeNone
		}
		headerBytes := hdr.Encode()
		skfHeader := protocol.EncodeGenericHeader(next, skfBodyLen)
		associated := append(append([]byte{}, headerBytes...), skfHeader...)

		sealed, err := tkm.Seal(associated, chunk)
		if err != nil {
			return nil, err
		}
		num := uint16(i + 1)
		data := append([]byte{}, associated...)
		data = append(data, byte(num>>8), byte(num), byte(total>>8), byte(total))
		data = append(data, sealed...)
		out = append(out, data)
	}
	return out, nil
}

// splitForFragmentation divides an encoded cleartext payload chain into
// chunks no larger than fragmentThreshold, each to be sealed and sent as
// its own SKF-led datagram by the caller.
func splitForFragmentation(cleartext []byte) [][]byte {
	if len(cleartext) <= fragmentThreshold {
		return [][]byte{cleartext}
	}
	var chunks [][]byte
	for len(cleartext) > 0 {
		n := fragmentThreshold
		if n > len(cleartext) {
			n = len(cleartext)
		}
		chunks = append(chunks, cleartext[:n])
		cleartext = cleartext[n:]
	}
	return chunks
}
