package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/msgboxio/ike/protocol"
)

// Cipher is the capability object for a negotiated combination of
// encryption and integrity protection: either a classical cipher with a
// separate MAC (simpleCipher) or a combined AEAD transform (aeadCipher).
// The state machine never branches on which: it always calls Seal/Open.
type Cipher interface {
	Overhead(clearLen int) int
	Seal(skE, skA, associated, payload []byte) ([]byte, error)
	Open(skE, skA, associated, sealed []byte) ([]byte, error)
}

// DHPrivate is the ephemeral private state of one Diffie-Hellman (or
// hybrid KEM) exchange.
type DHPrivate interface {
	// Public is the wire encoding carried in this side's KE payload.
	Public() []byte
	// SharedKey derives the shared secret from the peer's KE payload data.
	SharedKey(peer []byte) ([]byte, error)
}

// CipherSuite is the fully negotiated set of algorithms for one SA
// (IKE or Child): cipher, PRF, DH group, and the key lengths KEYMAT
// derivation needs. Built once at negotiation time by NewCipherSuite and
// then held immutably on the SA, so hot paths never type-switch on the
// negotiated algorithms.
type CipherSuite struct {
	Cipher
	Prf *Prf

	dhGroupID protocol.DhTransformId
	dhGroup   dhGroup

	// KeyLen/MacKeyLen are the raw symmetric key and MAC key lengths, in
	// bytes, KEYMAT derivation must produce. For AEAD suites KeyLen already
	// includes the salt bytes (see aeadCipher.SaltLen).
	KeyLen, MacKeyLen int

	// EncrID/AuthID are the negotiated transform ids, kept alongside the
	// built Cipher so a Child SA's platform.SaParams can be filled in
	// without re-walking the original proposal.
	EncrID protocol.EncrTransformId
	AuthID protocol.AuthTransformId
}

// NewCipherSuite builds a CipherSuite from one accepted SA proposal's
// transform list.
func NewCipherSuite(trs protocol.Transforms) (*CipherSuite, error) {
	cs := &CipherSuite{}
	var aead *aeadCipher
	var simple *simpleCipher

	for _, tr := range trs {
		t := tr.Transform
		switch t.Type {
		case protocol.TRANSFORM_TYPE_DH:
			dh, ok := kexAlgoMap[protocol.DhTransformId(t.TransformId)]
			if !ok {
				return nil, fmt.Errorf("crypto: unsupported dh transform %d", t.TransformId)
			}
			cs.dhGroup = dh
			cs.dhGroupID = protocol.DhTransformId(t.TransformId)
		case protocol.TRANSFORM_TYPE_PRF:
			prf, err := prfTranform(t.TransformId)
			if err != nil {
				return nil, err
			}
			cs.Prf = prf
		case protocol.TRANSFORM_TYPE_ENCR:
			keyLen := int(tr.KeyLength) / 8
			cs.EncrID = protocol.EncrTransformId(t.TransformId)
			var ok bool
			if simple, ok = cipherTransform(t.TransformId, keyLen, simple); ok {
				cs.KeyLen = keyLen
				continue
			}
			var aeadKeyLen int
			if aead, aeadKeyLen, ok = aeadTransform(t.TransformId, keyLen, aead); !ok {
				return nil, fmt.Errorf("crypto: unsupported encr transform %d", t.TransformId)
			}
			cs.KeyLen = aeadKeyLen + aead.SaltLen()
		case protocol.TRANSFORM_TYPE_INTEG:
			cs.AuthID = protocol.AuthTransformId(t.TransformId)
			var ok bool
			if simple, ok = integrityTransform(t.TransformId, simple); !ok {
				return nil, fmt.Errorf("crypto: unsupported integrity transform %d", t.TransformId)
			}
			cs.MacKeyLen = simple.macKeyLen
		case protocol.TRANSFORM_TYPE_ESN:
			// carried through on the SA payload only; no keying material
		default:
			return nil, fmt.Errorf("crypto: unsupported transform type %d", t.Type)
		}
	}
	if simple == nil && aead == nil {
		return nil, fmt.Errorf("crypto: no cipher transform negotiated")
	}
	if simple != nil && aead != nil {
		return nil, fmt.Errorf("crypto: invalid cipher transform combination")
	}
	if simple != nil {
		cs.Cipher = simple
	} else {
		cs.Cipher = aead
	}
	return cs, nil
}

// DhTransformId reports the negotiated DH group id, for the KE payload and
// for comparing against a configured policy's required group.
func (cs *CipherSuite) DhTransformId() protocol.DhTransformId { return cs.dhGroupID }

// HasDH reports whether this suite negotiated a DH group at all (an ESP
// CipherSuite built for a non-PFS Child SA has none).
func (cs *CipherSuite) HasDH() bool { return cs.dhGroup != nil }

// GenerateDH creates a fresh ephemeral key pair in the negotiated DH group.
func (cs *CipherSuite) GenerateDH(isInitiator bool) (DHPrivate, error) {
	if cs.dhGroup == nil {
		return nil, fmt.Errorf("crypto: no dh group negotiated")
	}
	return cs.dhGroup.GeneratePrivate(rand.Reader, isInitiator)
}

func (cs *CipherSuite) CheckIkeTransforms(logger log.Logger) error {
	if cs.dhGroup == nil || cs.Prf == nil || cs.Cipher == nil {
		return fmt.Errorf("crypto: invalid IKE cipher transform combination")
	}
	level.Debug(logger).Log("msg", "ike cipher suite", "dh", cs.dhGroupID, "prf", cs.Prf.id)
	return nil
}

func (cs *CipherSuite) CheckEspTransforms(logger log.Logger) error {
	if cs.Cipher == nil {
		return fmt.Errorf("crypto: invalid ESP cipher transform combination")
	}
	level.Debug(logger).Log("msg", "esp cipher suite")
	return nil
}
