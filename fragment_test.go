package ike

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msgboxio/ike/protocol"
)

// buildFragment seals one chunk of a cleartext payload chain into an
// SKF-led datagram the way the sending side would.
func buildFragment(t *testing.T, tkm *Tkm, spiI, spiR protocol.Spi, msgId uint32, first protocol.PayloadType, num, total uint16, chunk []byte) *Message {
	t.Helper()
	sealedLen := len(chunk) + tkm.Overhead(len(chunk))
	skfBodyLen := 4 + sealedLen

	hdr := &protocol.IkeHeader{
		SpiI:         spiI,
		SpiR:         spiR,
		NextPayload:  protocol.PayloadTypeSKF,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_AUTH,
		Flags:        protocol.INITIATOR,
		MsgId:        msgId,
		MsgLength:    uint32(protocol.IKE_HEADER_LEN + protocol.PAYLOAD_HEADER_LENGTH + skfBodyLen),
	}
	next := first
	if num != 1 {
		next = protocol.PayloadTypeNone
	}
	headerBytes := hdr.Encode()
	skfHeader := protocol.EncodeGenericHeader(next, skfBodyLen)
	associated := append(append([]byte{}, headerBytes...), skfHeader...)

	sealed, err := tkm.Seal(associated, chunk)
	require.NoError(t, err)

	data := append([]byte{}, associated...)
	data = append(data, byte(num>>8), byte(num))
	data = append(data, byte(total>>8), byte(total))
	data = append(data, sealed...)

	return &Message{IkeHeader: hdr, Data: data}
}

func TestFragmentReassembly(t *testing.T) {
	ti, tr, spiI, spiR := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)

	nonce := make([]byte, 600)
	for i := range nonce {
		nonce[i] = byte(i)
	}
	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.VendorIdPayload{PayloadHeader: &protocol.PayloadHeader{}, Vid: nonce})
	cleartext := protocol.EncodePayloadChain(payloads)

	third := len(cleartext) / 3
	chunks := [][]byte{cleartext[:third], cleartext[third : 2*third], cleartext[2*third:]}
	first := protocol.PayloadTypeV

	reasm := newFragmentReassembly(tr)

	// fragments 1 and 3 arrive, 2 is lost
	m1 := buildFragment(t, ti, spiI, spiR, 2, first, 1, 3, chunks[0])
	full, ready, err := reasm.add(m1)
	require.NoError(t, err)
	require.False(t, ready)
	require.Nil(t, full)

	m3 := buildFragment(t, ti, spiI, spiR, 2, first, 3, 3, chunks[2])
	_, ready, err = reasm.add(m3)
	require.NoError(t, err)
	require.False(t, ready)

	// the retransmit timer resends all three; duplicates must not distort
	// the byte accounting
	_, ready, err = reasm.add(buildFragment(t, ti, spiI, spiR, 2, first, 1, 3, chunks[0]))
	require.NoError(t, err)
	require.False(t, ready)

	m2 := buildFragment(t, ti, spiI, spiR, 2, first, 2, 3, chunks[1])
	full, ready, err = reasm.add(m2)
	require.NoError(t, err)
	require.True(t, ready)
	require.NotNil(t, full.Payloads)

	got, ok := full.Payloads.Get(protocol.PayloadTypeV).(*protocol.VendorIdPayload)
	require.True(t, ok)
	require.Equal(t, nonce, got.Vid)
}

func TestFragmentInconsistentTotalRejected(t *testing.T) {
	ti, tr, spiI, spiR := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)
	reasm := newFragmentReassembly(tr)

	_, _, err := reasm.add(buildFragment(t, ti, spiI, spiR, 2, protocol.PayloadTypeNonce, 1, 3, []byte("abc")))
	require.NoError(t, err)
	_, _, err = reasm.add(buildFragment(t, ti, spiI, spiR, 2, protocol.PayloadTypeNonce, 2, 5, []byte("def")))
	require.Error(t, err)
}

func TestFragmentConcurrentCap(t *testing.T) {
	ti, tr, spiI, spiR := pairTkms(t, protocol.IKE_AES_CBC_SHA1_96_DH_1024, protocol.ESP_AES_CBC_SHA1_96)
	reasm := newFragmentReassembly(tr)

	for id := uint32(1); id <= maxConcurrentFragmented; id++ {
		_, _, err := reasm.add(buildFragment(t, ti, spiI, spiR, id, protocol.PayloadTypeNonce, 1, 2, []byte("x")))
		require.NoError(t, err)
	}
	_, _, err := reasm.add(buildFragment(t, ti, spiI, spiR, 99, protocol.PayloadTypeNonce, 1, 2, []byte("x")))
	require.Error(t, err)
}

func TestEncodeFragmentsReassembleRoundTrip(t *testing.T) {
	ti, tr, spiI, spiR := pairTkms(t, protocol.IKE_AES_GCM_16_DH_2048, protocol.ESP_AES_GCM_16)

	nonce := make([]byte, fragmentThreshold*2)
	for i := range nonce {
		nonce[i] = byte(i * 7)
	}
	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.VendorIdPayload{PayloadHeader: &protocol.PayloadHeader{}, Vid: nonce})
	m := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         spiI,
			SpiR:         spiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_AUTH,
			Flags:        protocol.INITIATOR,
			MsgId:        1,
		},
		Payloads: payloads,
	}

	bufs, err := encodeFragments(ti, m)
	require.NoError(t, err)
	require.Greater(t, len(bufs), 1)

	reasm := newFragmentReassembly(tr)
	var full *Message
	for i, buf := range bufs {
		decoded, err := DecodeMessage(buf)
		require.NoError(t, err)
		require.True(t, decoded.IsFragmented())
		got, ready, err := reasm.add(decoded)
		require.NoError(t, err)
		require.Equal(t, i == len(bufs)-1, ready)
		if ready {
			full = got
		}
	}
	require.NotNil(t, full)
	got, ok := full.Payloads.Get(protocol.PayloadTypeV).(*protocol.VendorIdPayload)
	require.True(t, ok)
	require.Equal(t, nonce, got.Vid)
}

func TestSplitForFragmentation(t *testing.T) {
	small := make([]byte, 100)
	require.Len(t, splitForFragmentation(small), 1)

	big := make([]byte, fragmentThreshold*2+1)
	chunks := splitForFragmentation(big)
	require.Len(t, chunks, 3)
	total := 0
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), fragmentThreshold)
		total += len(c)
	}
	require.Equal(t, len(big), total)
}
