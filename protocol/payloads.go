package protocol

import (
	"encoding/binary"
	"math/big"
	"net"

	"github.com/pkg/errors"
)

// start ke payload

type KePayload struct {
	*PayloadHeader
	DhTransformId DhTransformId
	KeyData       []byte
}

func (s *KePayload) Type() PayloadType { return PayloadTypeKE }

func (s *KePayload) Encode() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], uint16(s.DhTransformId))
	return append(b, s.KeyData...)
}

func (s *KePayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "ke payload too short")
	}
	s.DhTransformId = DhTransformId(binary.BigEndian.Uint16(b[0:2]))
	s.KeyData = append([]byte{}, b[4:]...)
	return nil
}

// keDataAsInt is a convenience accessor for the classical MODP groups,
// which carry their public value as a big-endian integer rather than a
// fixed-width encoded point.
func (s *KePayload) keDataAsInt() *big.Int {
	return new(big.Int).SetBytes(s.KeyData)
}

// start id payload

type IdType uint8

const (
	ID_IPV4_ADDR   IdType = 1
	ID_FQDN        IdType = 2
	ID_RFC822_ADDR IdType = 3
	ID_IPV6_ADDR   IdType = 5
	ID_DER_ASN1_DN IdType = 9
	ID_DER_ASN1_GN IdType = 10
	ID_KEY_ID      IdType = 11
)

type IdPayload struct {
	*PayloadHeader
	idPayloadType PayloadType
	IdType        IdType
	Data          []byte
}

func NewIdPayload(initiator bool, idType IdType, data []byte) *IdPayload {
	t := PayloadTypeIDr
	if initiator {
		t = PayloadTypeIDi
	}
	return &IdPayload{PayloadHeader: &PayloadHeader{}, idPayloadType: t, IdType: idType, Data: data}
}

func (s *IdPayload) Type() PayloadType { return s.idPayloadType }

func (s *IdPayload) Encode() []byte {
	b := []byte{uint8(s.IdType), 0, 0, 0}
	return append(b, s.Data...)
}

func (s *IdPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "id payload too short")
	}
	s.IdType = IdType(b[0])
	s.Data = append([]byte{}, b[4:]...)
	return nil
}

// start cert / certreq payloads

type CertEncoding uint8

const (
	CERT_PKCS7_WRAPPED_X509 CertEncoding = 1
	CERT_PGP                CertEncoding = 2
	CERT_DNS_SIGNED_KEY     CertEncoding = 3
	CERT_X509_SIGNATURE     CertEncoding = 4
	CERT_KERBEROS_TOKEN     CertEncoding = 6
	CERT_CRL                CertEncoding = 7
	CERT_ARL                CertEncoding = 8
	CERT_SPKI               CertEncoding = 9
	CERT_X509_ATTRIBUTE     CertEncoding = 10
	CERT_RAW_RSA_KEY        CertEncoding = 11
	CERT_HASH_URL_X509      CertEncoding = 12
	CERT_HASH_URL_BUNDLE    CertEncoding = 13
	CERT_OCSP_CONTENT       CertEncoding = 14
	CERT_RAW_PUBLIC_KEY     CertEncoding = 15
)

type CertPayload struct {
	*PayloadHeader
	Encoding CertEncoding
	Data     []byte
}

func (s *CertPayload) Type() PayloadType { return PayloadTypeCERT }

func (s *CertPayload) Encode() []byte {
	return append([]byte{uint8(s.Encoding)}, s.Data...)
}

func (s *CertPayload) Decode(b []byte) error {
	if len(b) < 1 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "cert payload too short")
	}
	s.Encoding = CertEncoding(b[0])
	s.Data = append([]byte{}, b[1:]...)
	return nil
}

// CertRequestPayload carries either a CERT encoding plus the DER-encoded
// concatenation of acceptable CA subject names, or (in the X.509 case, per
// common practice and the only case this daemon emits) a concatenation of
// 20-byte SHA-1 digests of each trusted CA's SubjectPublicKeyInfo.
type CertRequestPayload struct {
	*PayloadHeader
	Encoding CertEncoding
	// CAs holds one entry per trust anchor hint; for CERT_X509_SIGNATURE
	// each entry is a 20-byte SHA-1 SPKI digest.
	CAs [][]byte
}

const sha1DigestLen = 20

func (s *CertRequestPayload) Type() PayloadType { return PayloadTypeCERTREQ }

func (s *CertRequestPayload) Encode() []byte {
	b := []byte{uint8(s.Encoding)}
	for _, ca := range s.CAs {
		b = append(b, ca...)
	}
	return b
}

func (s *CertRequestPayload) Decode(b []byte) error {
	if len(b) < 1 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "certreq payload too short")
	}
	s.Encoding = CertEncoding(b[0])
	rest := b[1:]
	if s.Encoding == CERT_X509_SIGNATURE && len(rest)%sha1DigestLen == 0 {
		for len(rest) > 0 {
			s.CAs = append(s.CAs, append([]byte{}, rest[:sha1DigestLen]...))
			rest = rest[sha1DigestLen:]
		}
		return nil
	}
	if len(rest) > 0 {
		s.CAs = [][]byte{append([]byte{}, rest...)}
	}
	return nil
}

// start auth payload

type AuthMethod uint8

const (
	RSA_DIGITAL_SIGNATURE             AuthMethod = 1
	SHARED_KEY_MESSAGE_INTEGRITY_CODE AuthMethod = 2
	DSS_DIGITAL_SIGNATURE             AuthMethod = 3
	ECDSA_256                         AuthMethod = 9
	ECDSA_384                         AuthMethod = 10
	ECDSA_521                         AuthMethod = 11
	NULL_AUTH                         AuthMethod = 13 // RFC 7619
	DIGITAL_SIGNATURE                 AuthMethod = 14 // RFC 7427
)

type AuthPayload struct {
	*PayloadHeader
	Method AuthMethod
	Data   []byte
}

func (s *AuthPayload) Type() PayloadType { return PayloadTypeAUTH }

func (s *AuthPayload) Encode() []byte {
	b := []byte{uint8(s.Method), 0, 0, 0}
	return append(b, s.Data...)
}

func (s *AuthPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "auth payload too short")
	}
	s.Method = AuthMethod(b[0])
	s.Data = append([]byte{}, b[4:]...)
	return nil
}

// start nonce payload

type NoncePayload struct {
	*PayloadHeader
	Nonce []byte
}

func (s *NoncePayload) Type() PayloadType { return PayloadTypeNonce }

func (s *NoncePayload) Encode() []byte { return s.Nonce }

func (s *NoncePayload) Decode(b []byte) error {
	if len(b) < 16 || len(b) > 256 {
		return errors.Wrapf(ERR_INVALID_SYNTAX, "nonce length %d out of [16,256]", len(b))
	}
	s.Nonce = append([]byte{}, b...)
	return nil
}

// start notify payload

type NotificationType uint16

// Error notifications (RFC 7296 3.10.1); these double as the wire
// encoding of the IkeErrorCode values in error.go.
const (
	UNSUPPORTED_CRITICAL_PAYLOAD NotificationType = 1
	INVALID_IKE_SPI              NotificationType = 4
	INVALID_MAJOR_VERSION        NotificationType = 5
	INVALID_SYNTAX               NotificationType = 7
	INVALID_MESSAGE_ID           NotificationType = 9
	INVALID_SPI                  NotificationType = 11
	NO_PROPOSAL_CHOSEN           NotificationType = 14
	INVALID_KE_PAYLOAD           NotificationType = 17
	AUTHENTICATION_FAILED        NotificationType = 24
	SINGLE_PAIR_REQUIRED         NotificationType = 34
	NO_ADDITIONAL_SAS            NotificationType = 35
	INTERNAL_ADDRESS_FAILURE     NotificationType = 36
	FAILED_CP_REQUIRED           NotificationType = 37
	TS_UNACCEPTABLE              NotificationType = 38
	INVALID_SELECTORS            NotificationType = 39
	TEMPORARY_FAILURE            NotificationType = 43
	CHILD_SA_NOT_FOUND           NotificationType = 44
)

// Status notifications (RFC 7296 3.10.1 and extension RFCs).
const (
	INITIAL_CONTACT               NotificationType = 16384
	SET_WINDOW_SIZE               NotificationType = 16385
	ADDITIONAL_TS_POSSIBLE        NotificationType = 16386
	IPCOMP_SUPPORTED              NotificationType = 16387
	NAT_DETECTION_SOURCE_IP       NotificationType = 16388
	NAT_DETECTION_DESTINATION_IP  NotificationType = 16389
	COOKIE                        NotificationType = 16390
	USE_TRANSPORT_MODE            NotificationType = 16391
	HTTP_CERT_LOOKUP_SUPPORTED    NotificationType = 16392
	REKEY_SA                      NotificationType = 16393
	ESP_TFC_PADDING_NOT_SUPPORTED NotificationType = 16394
	NON_FIRST_FRAGMENTS_ALSO      NotificationType = 16395
	MOBIKE_SUPPORTED              NotificationType = 16396
	ADDITIONAL_IP4_ADDRESS        NotificationType = 16397
	ADDITIONAL_IP6_ADDRESS        NotificationType = 16398
	NO_ADDITIONAL_ADDRESSES       NotificationType = 16399
	UPDATE_SA_ADDRESSES           NotificationType = 16400
	COOKIE2                       NotificationType = 16401
	NO_NATS_ALLOWED               NotificationType = 16402
	REDIRECT_SUPPORTED            NotificationType = 16406
	REDIRECT                      NotificationType = 16407
	REDIRECTED_FROM               NotificationType = 16408
	SIGNATURE_HASH_ALGORITHMS     NotificationType = 16431
)

// HashAlgorithmId names the wire value carried in SIGNATURE_HASH_ALGORITHMS
// (RFC 7427 3) to the named HashAlgorithmId type.
type HashAlgorithmId uint16

const (
	HASH_RESERVED   HashAlgorithmId = 0
	HASH_SHA1       HashAlgorithmId = 1
	HASH_SHA2_256   HashAlgorithmId = 2
	HASH_SHA2_384   HashAlgorithmId = 3
	HASH_SHA2_512   HashAlgorithmId = 4
)

type NotifyPayload struct {
	*PayloadHeader
	ProtocolId       ProtocolId
	NotificationType NotificationType
	Spi              []byte
	Data             []byte
}

func (s *NotifyPayload) Type() PayloadType { return PayloadTypeN }

func (s *NotifyPayload) Encode() []byte {
	b := []byte{uint8(s.ProtocolId), uint8(len(s.Spi)), 0, 0}
	binary.BigEndian.PutUint16(b[2:4], uint16(s.NotificationType))
	b = append(b, s.Spi...)
	b = append(b, s.Data...)
	return b
}

func (s *NotifyPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "notify payload too short")
	}
	s.ProtocolId = ProtocolId(b[0])
	spiLen := int(b[1])
	if len(b) < 4+spiLen {
		return errors.Wrap(ERR_INVALID_SYNTAX, "notify SPI runs past buffer")
	}
	s.NotificationType = NotificationType(binary.BigEndian.Uint16(b[2:4]))
	s.Spi = append([]byte{}, b[4:4+spiLen]...)
	s.Data = append([]byte{}, b[4+spiLen:]...)
	return nil
}

// start delete payload

type DeletePayload struct {
	*PayloadHeader
	ProtocolId ProtocolId
	Spis       [][]byte
}

func (s *DeletePayload) Type() PayloadType { return PayloadTypeD }

func (s *DeletePayload) Encode() []byte {
	spiSize := 0
	if len(s.Spis) > 0 {
		spiSize = len(s.Spis[0])
	}
	b := []byte{uint8(s.ProtocolId), uint8(spiSize), 0, 0}
	binary.BigEndian.PutUint16(b[2:4], uint16(len(s.Spis)))
	for _, spi := range s.Spis {
		b = append(b, spi...)
	}
	return b
}

func (s *DeletePayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "delete payload too short")
	}
	s.ProtocolId = ProtocolId(b[0])
	spiSize := int(b[1])
	numSpis := int(binary.BigEndian.Uint16(b[2:4]))
	rest := b[4:]
	if spiSize > 0 && len(rest) != spiSize*numSpis {
		return errors.Wrap(ERR_INVALID_SYNTAX, "delete payload SPI count mismatch")
	}
	for i := 0; i < numSpis; i++ {
		s.Spis = append(s.Spis, append([]byte{}, rest[i*spiSize:(i+1)*spiSize]...))
	}
	return nil
}

// start vendor id payload

type VendorIdPayload struct {
	*PayloadHeader
	Vid []byte
}

func (s *VendorIdPayload) Type() PayloadType { return PayloadTypeV }

func (s *VendorIdPayload) Encode() []byte { return s.Vid }

func (s *VendorIdPayload) Decode(b []byte) error {
	s.Vid = append([]byte{}, b...)
	return nil
}

// start of traffic selector

type SelectorType uint8

const (
	TS_IPV4_ADDR_RANGE SelectorType = 7
	TS_IPV6_ADDR_RANGE SelectorType = 8
)

const minLenSelector = 8

type Selector struct {
	Type                     SelectorType
	IpProtocolId             uint8
	StartPort, EndPort       uint16
	StartAddress, EndAddress net.IP
}

func decodeSelector(b []byte) (*Selector, int, error) {
	if len(b) < minLenSelector {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "truncated selector")
	}
	stype := SelectorType(b[0])
	id := b[1]
	slen := int(binary.BigEndian.Uint16(b[2:4]))
	if len(b) < slen {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "selector length exceeds buffer")
	}
	sport := binary.BigEndian.Uint16(b[4:6])
	eport := binary.BigEndian.Uint16(b[6:8])
	iplen := net.IPv4len
	if stype == TS_IPV6_ADDR_RANGE {
		iplen = net.IPv6len
	}
	if len(b) < minLenSelector+2*iplen {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "selector address runs past buffer")
	}
	sel := &Selector{
		Type:         stype,
		IpProtocolId: id,
		StartPort:    sport,
		EndPort:      eport,
		StartAddress: append(net.IP{}, b[8:8+iplen]...),
		EndAddress:   append(net.IP{}, b[8+iplen:8+2*iplen]...),
	}
	return sel, minLenSelector + 2*iplen, nil
}

func encodeSelector(sel *Selector) []byte {
	b := make([]byte, minLenSelector)
	b[0] = uint8(sel.Type)
	b[1] = sel.IpProtocolId
	binary.BigEndian.PutUint16(b[4:6], sel.StartPort)
	binary.BigEndian.PutUint16(b[6:8], sel.EndPort)
	b = append(b, sel.StartAddress...)
	b = append(b, sel.EndAddress...)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	return b
}

const minLenTrafficSelector = 4

type TrafficSelectorPayload struct {
	*PayloadHeader
	tsType    PayloadType
	Selectors []*Selector
}

func NewTrafficSelectorPayload(initiator bool, selectors ...*Selector) *TrafficSelectorPayload {
	t := PayloadTypeTSr
	if initiator {
		t = PayloadTypeTSi
	}
	return &TrafficSelectorPayload{PayloadHeader: &PayloadHeader{}, tsType: t, Selectors: selectors}
}

func (s *TrafficSelectorPayload) Type() PayloadType { return s.tsType }

func (s *TrafficSelectorPayload) Encode() []byte {
	b := []byte{uint8(len(s.Selectors)), 0, 0, 0}
	for _, sel := range s.Selectors {
		b = append(b, encodeSelector(sel)...)
	}
	return b
}

func (s *TrafficSelectorPayload) Decode(b []byte) error {
	if len(b) < minLenTrafficSelector {
		return errors.Wrap(ERR_INVALID_SYNTAX, "truncated traffic selector payload")
	}
	numSel := int(b[0])
	rest := b[4:]
	for len(rest) > 0 {
		sel, used, err := decodeSelector(rest)
		if err != nil {
			return err
		}
		s.Selectors = append(s.Selectors, sel)
		rest = rest[used:]
	}
	if len(s.Selectors) != numSel {
		return errors.Wrap(ERR_INVALID_SYNTAX, "traffic selector count mismatch")
	}
	return nil
}

// start configuration payload

type ConfigurationType uint8

const (
	CFG_REQUEST ConfigurationType = 1
	CFG_REPLY   ConfigurationType = 2
	CFG_SET     ConfigurationType = 3
	CFG_ACK     ConfigurationType = 4
)

type ConfigAttributeType uint16

const (
	INTERNAL_IP4_ADDRESS ConfigAttributeType = 1
	INTERNAL_IP4_NETMASK ConfigAttributeType = 2
	INTERNAL_IP4_DNS     ConfigAttributeType = 3
	INTERNAL_IP4_DHCP    ConfigAttributeType = 6
	APPLICATION_VERSION  ConfigAttributeType = 7
	INTERNAL_IP6_ADDRESS ConfigAttributeType = 8
	INTERNAL_IP6_DNS     ConfigAttributeType = 10
	INTERNAL_IP6_DHCP    ConfigAttributeType = 12
	INTERNAL_IP4_SUBNET  ConfigAttributeType = 13
	SUPPORTED_ATTRIBUTES ConfigAttributeType = 14
	INTERNAL_IP6_SUBNET  ConfigAttributeType = 15
)

type ConfigAttribute struct {
	Type  ConfigAttributeType
	Value []byte
}

const minLenConfigAttribute = 4

func decodeConfigAttribute(b []byte) (*ConfigAttribute, int, error) {
	if len(b) < minLenConfigAttribute {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "truncated config attribute")
	}
	at := binary.BigEndian.Uint16(b[0:2]) &^ 0x8000
	alen := int(binary.BigEndian.Uint16(b[2:4]))
	if len(b) < minLenConfigAttribute+alen {
		return nil, 0, errors.Wrap(ERR_INVALID_SYNTAX, "config attribute value runs past buffer")
	}
	return &ConfigAttribute{
		Type:  ConfigAttributeType(at),
		Value: append([]byte{}, b[minLenConfigAttribute:minLenConfigAttribute+alen]...),
	}, minLenConfigAttribute + alen, nil
}

func encodeConfigAttribute(attr *ConfigAttribute) []byte {
	b := make([]byte, minLenConfigAttribute)
	binary.BigEndian.PutUint16(b[0:2], uint16(attr.Type))
	binary.BigEndian.PutUint16(b[2:4], uint16(len(attr.Value)))
	return append(b, attr.Value...)
}

type ConfigurationPayload struct {
	*PayloadHeader
	CfgType    ConfigurationType
	Attributes []*ConfigAttribute
}

func (s *ConfigurationPayload) Type() PayloadType { return PayloadTypeCP }

func (s *ConfigurationPayload) Encode() []byte {
	b := []byte{uint8(s.CfgType), 0, 0, 0}
	for _, attr := range s.Attributes {
		b = append(b, encodeConfigAttribute(attr)...)
	}
	return b
}

func (s *ConfigurationPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "cp payload too short")
	}
	s.CfgType = ConfigurationType(b[0])
	rest := b[4:]
	for len(rest) > 0 {
		attr, used, err := decodeConfigAttribute(rest)
		if err != nil {
			return err
		}
		s.Attributes = append(s.Attributes, attr)
		rest = rest[used:]
	}
	return nil
}

// start EAP payload (RFC 3748 framing carried verbatim inside an IKEv2
// EAP payload per RFC 7296 3.16)

type EapCode uint8

const (
	EapCodeRequest  EapCode = 1
	EapCodeResponse EapCode = 2
	EapCodeSuccess  EapCode = 3
	EapCodeFailure  EapCode = 4
)

type EapType uint8

const (
	EapTypeIdentity EapType = 1
	EapTypeNotify   EapType = 2
	EapTypeNak      EapType = 3
	EapTypeMD5      EapType = 4
	EapTypeMSCHAPv2 EapType = 26
)

type EapPayload struct {
	*PayloadHeader
	Code       EapCode
	Identifier uint8
	EapType    EapType
	Data       []byte
}

func (s *EapPayload) Type() PayloadType { return PayloadTypeEAP }

func (s *EapPayload) Encode() []byte {
	hasType := s.Code == EapCodeRequest || s.Code == EapCodeResponse
	length := 4
	if hasType {
		length++
	}
	length += len(s.Data)
	b := make([]byte, 4, length)
	b[0] = uint8(s.Code)
	b[1] = s.Identifier
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	if hasType {
		b = append(b, uint8(s.EapType))
	}
	return append(b, s.Data...)
}

func (s *EapPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "eap payload too short")
	}
	s.Code = EapCode(b[0])
	s.Identifier = b[1]
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length > len(b) {
		return errors.Wrap(ERR_INVALID_SYNTAX, "eap length exceeds payload")
	}
	rest := b[4:length]
	if s.Code == EapCodeRequest || s.Code == EapCodeResponse {
		if len(rest) < 1 {
			return errors.Wrap(ERR_INVALID_SYNTAX, "eap request/response missing type")
		}
		s.EapType = EapType(rest[0])
		rest = rest[1:]
	}
	s.Data = append([]byte{}, rest...)
	return nil
}

// start fragment payload (RFC 7383 SKF)

type FragmentPayload struct {
	*PayloadHeader
	FragmentNumber uint16
	TotalFragments uint16
	// Data is the IV + ciphertext + ICV of this fragment, opaque at the
	// protocol layer; reassembly and decryption happen one layer up.
	Data []byte
}

func (s *FragmentPayload) Type() PayloadType { return PayloadTypeSKF }

func (s *FragmentPayload) Encode() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], s.FragmentNumber)
	binary.BigEndian.PutUint16(b[2:4], s.TotalFragments)
	return append(b, s.Data...)
}

func (s *FragmentPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return errors.Wrap(ERR_INVALID_SYNTAX, "fragment payload too short")
	}
	s.FragmentNumber = binary.BigEndian.Uint16(b[0:2])
	s.TotalFragments = binary.BigEndian.Uint16(b[2:4])
	if s.FragmentNumber == 0 || s.FragmentNumber > s.TotalFragments {
		return errors.Wrap(ERR_INVALID_SYNTAX, "invalid fragment number")
	}
	s.Data = append([]byte{}, b[4:]...)
	return nil
}
