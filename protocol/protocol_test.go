package protocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIkeHeaderRoundTrip(t *testing.T) {
	h := &IkeHeader{
		SpiI:         Spi{1, 2, 3, 4, 5, 6, 7, 8},
		SpiR:         Spi{8, 7, 6, 5, 4, 3, 2, 1},
		NextPayload:  PayloadTypeSA,
		MajorVersion: IKEV2_MAJOR_VERSION,
		MinorVersion: IKEV2_MINOR_VERSION,
		ExchangeType: IKE_SA_INIT,
		Flags:        INITIATOR,
		MsgId:        0,
		MsgLength:    IKE_HEADER_LEN,
	}
	b := h.Encode()
	require.Len(t, b, IKE_HEADER_LEN)

	got, err := DecodeIkeHeader(b)
	require.NoError(t, err)
	require.Equal(t, h.SpiI, got.SpiI)
	require.Equal(t, h.SpiR, got.SpiR)
	require.Equal(t, h.NextPayload, got.NextPayload)
	require.Equal(t, h.MajorVersion, got.MajorVersion)
	require.Equal(t, h.MinorVersion, got.MinorVersion)
	require.Equal(t, h.ExchangeType, got.ExchangeType)
	require.Equal(t, h.Flags, got.Flags)
	require.True(t, got.Flags.IsInitiator())
	require.False(t, got.Flags.IsResponse())
}

func TestDecodeIkeHeaderTooShort(t *testing.T) {
	_, err := DecodeIkeHeader(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeIkeHeaderBadLength(t *testing.T) {
	h := &IkeHeader{MsgLength: 4}
	b := h.Encode()
	_, err := DecodeIkeHeader(b)
	require.Error(t, err)
}

func samplePayloads() *Payloads {
	p := MakePayloads()
	p.Add(&SaPayload{
		PayloadHeader: &PayloadHeader{},
		Proposals: []*SaProposal{
			{
				Number:     1,
				ProtocolId: IKE,
				Spi:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
				Transforms: []*SaTransform{
					{Transform: _ENCR_AES_CBC, KeyLength: 256},
					{Transform: _PRF_HMAC_SHA2_256},
					{Transform: _AUTH_HMAC_SHA2_256_128},
					{Transform: _MODP_2048, IsLast: true},
				},
			},
		},
	})
	p.Add(&KePayload{
		PayloadHeader: &PayloadHeader{},
		DhTransformId: MODP_2048,
		KeyData:       []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	})
	p.Add(NewIdPayload(true, ID_FQDN, []byte("initiator.example.com")))
	p.Add(&NoncePayload{PayloadHeader: &PayloadHeader{}, Nonce: make([]byte, 32)})
	return p
}

func TestPayloadChainRoundTrip(t *testing.T) {
	p := samplePayloads()
	b := EncodePayloadChain(p)

	decoded, err := DecodePayloadChain(b, PayloadTypeSA)
	require.NoError(t, err)

	sa, ok := decoded.Get(PayloadTypeSA).(*SaPayload)
	require.True(t, ok)
	require.Len(t, sa.Proposals, 1)
	require.Equal(t, IKE, sa.Proposals[0].ProtocolId)
	require.Len(t, sa.Proposals[0].Transforms, 4)
	require.Equal(t, uint16(256), sa.Proposals[0].Transforms[0].KeyLength)

	ke, ok := decoded.Get(PayloadTypeKE).(*KePayload)
	require.True(t, ok)
	require.Equal(t, MODP_2048, ke.DhTransformId)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, ke.KeyData)

	id, ok := decoded.Get(PayloadTypeIDi).(*IdPayload)
	require.True(t, ok)
	require.Equal(t, ID_FQDN, id.IdType)
	require.Equal(t, "initiator.example.com", string(id.Data))

	nonce, ok := decoded.Get(PayloadTypeNonce).(*NoncePayload)
	require.True(t, ok)
	require.Len(t, nonce.Nonce, 32)
}

func TestNonceLengthBounds(t *testing.T) {
	n := &NoncePayload{}
	require.Error(t, n.Decode(make([]byte, 4)))
	require.Error(t, n.Decode(make([]byte, 300)))
	require.NoError(t, n.Decode(make([]byte, 32)))
}

func TestDecodePayloadChainUnknownCriticalPayloadFails(t *testing.T) {
	// Next-payload type 200 is in the private-use range and unknown to
	// this daemon; a critical payload we can't parse must fail closed.
	body := []byte{0xAA, 0xBB}
	header := encodePayloadHeader(PayloadTypeNone, len(body))
	header[1] = 0x80 // set critical bit
	chain := append([]byte{}, header...)
	chain = append(chain, body...)
	_, err := DecodePayloadChain(chain, PayloadType(200))
	require.Error(t, err)
}

func TestDecodePayloadChainTruncated(t *testing.T) {
	_, err := DecodePayloadChain([]byte{0, 0, 0}, PayloadTypeSA)
	require.Error(t, err)
}

func TestNotifyPayloadRoundTrip(t *testing.T) {
	n := &NotifyPayload{
		PayloadHeader:    &PayloadHeader{},
		ProtocolId:       IKE,
		NotificationType: NAT_DETECTION_SOURCE_IP,
		Data:             []byte("0123456789012345678"),
	}
	b := n.Encode()
	got := &NotifyPayload{}
	require.NoError(t, got.Decode(b))
	require.Equal(t, n.NotificationType, got.NotificationType)
	require.Equal(t, n.Data, got.Data)
}

func TestDeletePayloadRoundTrip(t *testing.T) {
	d := &DeletePayload{
		PayloadHeader: &PayloadHeader{},
		ProtocolId:    ESP,
		Spis:          [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}},
	}
	b := d.Encode()
	got := &DeletePayload{}
	require.NoError(t, got.Decode(b))
	require.Equal(t, d.Spis, got.Spis)
}

func TestTrafficSelectorRoundTrip(t *testing.T) {
	ts := NewTrafficSelectorPayload(true, &Selector{
		Type:         TS_IPV4_ADDR_RANGE,
		IpProtocolId: 0,
		StartPort:    0,
		EndPort:      65535,
		StartAddress: net.ParseIP("10.0.0.0").To4(),
		EndAddress:   net.ParseIP("10.0.0.255").To4(),
	})
	b := ts.Encode()
	got := &TrafficSelectorPayload{tsType: PayloadTypeTSi}
	require.NoError(t, got.Decode(b))
	require.Len(t, got.Selectors, 1)
	require.True(t, got.Selectors[0].StartAddress.Equal(net.ParseIP("10.0.0.0")))
	require.True(t, got.Selectors[0].EndAddress.Equal(net.ParseIP("10.0.0.255")))
}

func TestConfigurationPayloadRoundTrip(t *testing.T) {
	cp := &ConfigurationPayload{
		PayloadHeader: &PayloadHeader{},
		CfgType:       CFG_REPLY,
		Attributes: []*ConfigAttribute{
			{Type: INTERNAL_IP4_ADDRESS, Value: net.ParseIP("192.0.2.5").To4()},
			{Type: INTERNAL_IP4_DNS, Value: net.ParseIP("192.0.2.1").To4()},
		},
	}
	b := cp.Encode()
	got := &ConfigurationPayload{}
	require.NoError(t, got.Decode(b))
	require.Equal(t, CFG_REPLY, got.CfgType)
	require.Len(t, got.Attributes, 2)
	require.Equal(t, INTERNAL_IP4_ADDRESS, got.Attributes[0].Type)
}

func TestEapPayloadRoundTrip(t *testing.T) {
	e := &EapPayload{
		PayloadHeader: &PayloadHeader{},
		Code:          EapCodeRequest,
		Identifier:    7,
		EapType:       EapTypeIdentity,
		Data:          []byte("bob"),
	}
	b := e.Encode()
	got := &EapPayload{}
	require.NoError(t, got.Decode(b))
	require.Equal(t, e.Code, got.Code)
	require.Equal(t, e.EapType, got.EapType)
	require.Equal(t, e.Data, got.Data)
}

func TestFragmentPayloadRoundTrip(t *testing.T) {
	f := &FragmentPayload{
		PayloadHeader:  &PayloadHeader{},
		FragmentNumber: 2,
		TotalFragments: 3,
		Data:           []byte("ciphertext-blob"),
	}
	b := f.Encode()
	got := &FragmentPayload{}
	require.NoError(t, got.Decode(b))
	require.Equal(t, f.FragmentNumber, got.FragmentNumber)
	require.Equal(t, f.TotalFragments, got.TotalFragments)
	require.Equal(t, f.Data, got.Data)

	bad := &FragmentPayload{}
	require.Error(t, bad.Decode([]byte{0, 0, 0, 1}))
}

func TestTransformsWithin(t *testing.T) {
	proposed := []*SaTransform{
		{Transform: _ENCR_AES_CBC, KeyLength: 128},
		{Transform: _PRF_HMAC_SHA1},
		{Transform: _AUTH_HMAC_SHA1_96},
		{Transform: _MODP_1024, IsLast: true},
	}
	require.True(t, IKE_AES_CBC_SHA1_96_DH_1024.Within(proposed))
	require.False(t, IKE_AES_GCM_16_DH_2048.Within(proposed))
}

func TestCertRequestSha1DigestRoundTrip(t *testing.T) {
	cr := &CertRequestPayload{
		PayloadHeader: &PayloadHeader{},
		Encoding:      CERT_X509_SIGNATURE,
		CAs:           [][]byte{make([]byte, sha1DigestLen), make([]byte, sha1DigestLen)},
	}
	b := cr.Encode()
	got := &CertRequestPayload{}
	require.NoError(t, got.Decode(b))
	require.Len(t, got.CAs, 2)
}
