package ike

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
)

// nonceLen is the size of the nonces this daemon generates; RFC 7296 2.10
// only requires 16-256 bytes, 32 matches the preferred strength of every
// suite this daemon offers.
const nonceLen = 32

const keyPadIKEv2 = "Key Pad for IKEv2"

// Tkm ("tamperproof key module") owns one IKE
// SA's key schedule: the DH exchange and nonces that go into SKEYSEED, the
// seven SK_* traffic keys derived from it (RFC 7296 2.14), and the
// encryption envelope built on top of the negotiated crypto.CipherSuite.
// It also derives keying material for the Child SA carried along in the
// IKE_AUTH exchange or negotiated later via CREATE_CHILD_SA.
type Tkm struct {
	suite    *crypto.CipherSuite // IKE SA cipher suite
	espSuite *crypto.CipherSuite // Child SA cipher suite being keyed

	isInitiator bool

	dhPrivate crypto.DHPrivate
	dhPublic  []byte

	Ni, Nr []byte

	skD, skAi, skAr, skEi, skEr, skPi, skPr []byte
}

// NewTkmInitiator starts a fresh key schedule on the initiating side: picks
// a nonce and generates this side's ephemeral DH key pair.
func NewTkmInitiator(suite, espSuite *crypto.CipherSuite) (*Tkm, error) {
	t := &Tkm{suite: suite, espSuite: espSuite, isInitiator: true}
	if err := t.freshNonce(&t.Ni); err != nil {
		return nil, err
	}
	if err := t.generateDH(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewTkmResponder starts the key schedule on the responding side, given the
// initiator's nonce already read off the wire.
func NewTkmResponder(suite, espSuite *crypto.CipherSuite, ni []byte) (*Tkm, error) {
	t := &Tkm{suite: suite, espSuite: espSuite, isInitiator: false, Ni: append([]byte{}, ni...)}
	if err := t.freshNonce(&t.Nr); err != nil {
		return nil, err
	}
	if err := t.generateDH(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tkm) freshNonce(dst *[]byte) error {
	n := make([]byte, nonceLen)
	if _, err := rand.Read(n); err != nil {
		return errors.Wrap(err, "tkm: nonce")
	}
	*dst = n
	return nil
}

func (t *Tkm) generateDH() error {
	if !t.suite.HasDH() {
		return nil // e.g. a no-PFS rekey suite; DhPublic/SetDhShared are never called
	}
	priv, err := t.suite.GenerateDH(t.isInitiator)
	if err != nil {
		return errors.Wrap(err, "tkm: dh keygen")
	}
	t.dhPrivate = priv
	t.dhPublic = priv.Public()
	return nil
}

// DhPublic is this side's KE payload data.
func (t *Tkm) DhPublic() []byte { return t.dhPublic }

// SetDhShared completes the exchange against the peer's KE payload data and
// derives SKEYSEED and the SK_* keys (RFC 7296 2.14).
func (t *Tkm) SetDhShared(peerPublic []byte, spiI, spiR protocol.Spi) error {
	shared, err := t.dhPrivate.SharedKey(peerPublic)
	if err != nil {
		return errors.Wrap(err, "tkm: dh shared secret")
	}
	return t.deriveKeys(shared, spiI, spiR)
}

// deriveKeys implements RFC 7296 2.14:
//
//	SKEYSEED = prf(Ni | Nr, g^ir)
//	{SK_d | SK_ai | SK_ar | SK_ei | SK_er | SK_pi | SK_pr}
//	    = prf+ (SKEYSEED, Ni | Nr | SPIi | SPIr)
func (t *Tkm) deriveKeys(sharedSecret []byte, spiI, spiR protocol.Spi) error {
	prf := t.suite.Prf
	nonces := append(append([]byte{}, t.Ni...), t.Nr...)
	t.expandKeys(prf.Apply(nonces, sharedSecret), spiI, spiR)
	return nil
}

// expandKeys runs the SK_* expansion from an already-computed SKEYSEED,
// shared between the initial derivation and an IKE SA rekey (which seeds
// it differently, RFC 7296 2.18).
func (t *Tkm) expandKeys(skeyseed []byte, spiI, spiR protocol.Spi) {
	prf := t.suite.Prf
	seed := append(append([]byte{}, t.Ni...), t.Nr...)
	seed = append(seed, spiI...)
	seed = append(seed, spiR...)

	prfLen := prf.Length()
	need := 3*prfLen + 2*t.suite.MacKeyLen + 2*t.suite.KeyLen
	keymat := prf.PrfPlus(skeyseed, seed, need)

	off := 0
	take := func(n int) []byte {
		b := keymat[off : off+n]
		off += n
		return b
	}
	t.skD = take(prfLen)
	t.skAi = take(t.suite.MacKeyLen)
	t.skAr = take(t.suite.MacKeyLen)
	t.skEi = take(t.suite.KeyLen)
	t.skEr = take(t.suite.KeyLen)
	t.skPi = take(prfLen)
	t.skPr = take(prfLen)
}

// RekeyIkeSa derives the key schedule of the IKE SA replacing this one
// (RFC 7296 2.18): SKEYSEED = prf(SK_d (old), g^ir (new) | Ni | Nr),
// expanded under the replacement SA's SPIs. isInitiator names this side's
// role in the CREATE_CHILD_SA exchange that negotiated the replacement,
// which becomes its role on the new SA.
func (t *Tkm) RekeyIkeSa(ni, nr, dhShared []byte, spiI, spiR protocol.Spi, isInitiator bool) (*Tkm, error) {
	if t.skD == nil {
		return nil, errors.New("tkm: cannot rekey an unestablished sa")
	}
	if len(dhShared) == 0 {
		return nil, errors.New("tkm: ike sa rekey requires a fresh dh exchange")
	}
	nt := &Tkm{
		suite:       t.suite,
		espSuite:    t.espSuite,
		isInitiator: isInitiator,
		Ni:          append([]byte{}, ni...),
		Nr:          append([]byte{}, nr...),
	}
	seed := append(append(append([]byte{}, dhShared...), ni...), nr...)
	nt.expandKeys(t.suite.Prf.Apply(t.skD, seed), spiI, spiR)
	return nt, nil
}

// EspSuite exposes the negotiated Child SA cipher suite, for building the
// platform.SaParams a Child SA installation needs (transform ids, key/MAC
// lengths) without duplicating that bookkeeping on Tkm itself.
func (t *Tkm) EspSuite() *crypto.CipherSuite { return t.espSuite }

// Established reports whether the SK_* keys have been derived yet.
func (t *Tkm) Established() bool { return t.skD != nil }

// Overhead is the number of extra bytes the IKE SA's cipher adds to a
// cleartext payload chain of the given length, used to fix up the message
// header's length field before the ciphertext exists.
func (t *Tkm) Overhead(clearLen int) int { return t.suite.Cipher.Overhead(clearLen) }

// encryptKeys picks the (SK_e, SK_a) pair for a message in the given
// direction: SK_ei/SK_ai protect initiator->responder traffic, SK_er/SK_ar
// protect the reverse direction (RFC 7296 2.14).
func (t *Tkm) encryptKeys(sending bool) (skE, skA []byte) {
	if t.isInitiator == sending {
		return t.skEi, t.skAi
	}
	return t.skEr, t.skAr
}

// Seal encrypts and authenticates an outbound payload chain. associated is
// the final bytes of the IKE header and the SK payload's generic header,
// exactly as they will appear on the wire.
func (t *Tkm) Seal(associated, cleartext []byte) ([]byte, error) {
	skE, skA := t.encryptKeys(true)
	return t.suite.Cipher.Seal(skE, skA, associated, cleartext)
}

// Open verifies and decrypts an inbound SK payload body.
func (t *Tkm) Open(associated, sealed []byte) ([]byte, error) {
	skE, skA := t.encryptKeys(false)
	return t.suite.Cipher.Open(skE, skA, associated, sealed)
}

// SignedOctets builds the data an AUTH payload signs or MACs (RFC 7296
// 2.15): the signer's own first-message bytes, the other side's nonce, and
// a PRF-MAC of the signer's ID payload body under SK_pi (forInitiator) or
// SK_pr (otherwise).
func (t *Tkm) SignedOctets(firstMsg, nonce []byte, id *protocol.IdPayload, forInitiator bool) []byte {
	skP := t.skPr
	if forInitiator {
		skP = t.skPi
	}
	idBody := append([]byte{uint8(id.IdType), 0, 0, 0}, id.Data...)
	macedID := t.suite.Prf.Apply(skP, idBody)
	out := append([]byte{}, firstMsg...)
	out = append(out, nonce...)
	out = append(out, macedID...)
	return out
}

// PskAuth computes a shared-key AUTH payload value (RFC 7296 2.15):
// prf(prf(sharedSecret, "Key Pad for IKEv2"), signedOctets).
func (t *Tkm) PskAuth(sharedSecret, signedOctets []byte) []byte {
	prf := t.suite.Prf
	padKey := prf.Apply(sharedSecret, []byte(keyPadIKEv2))
	return prf.Apply(padKey, signedOctets)
}

// VerifyPskAuth recomputes the expected AUTH value and compares it in
// constant time against the value the peer sent.
func (t *Tkm) VerifyPskAuth(sharedSecret, signedOctets, theirAuth []byte) bool {
	want := t.PskAuth(sharedSecret, signedOctets)
	return crypto.ConstantTimeCompare(want, theirAuth)
}

// EapAuthKey picks the key the final AUTH payloads use after an EAP
// method concludes (RFC 7296 2.16): the method's MSK if it derived one,
// otherwise SK_pi (for the initiator's AUTH) or SK_pr (the responder's).
func (t *Tkm) EapAuthKey(msk []byte, forInitiator bool) []byte {
	if len(msk) > 0 {
		return msk
	}
	if forInitiator {
		return t.skPi
	}
	return t.skPr
}

// IpsecSaCreate derives a Child SA's keying material (RFC 7296 2.17):
//
//	KEYMAT = prf+(SK_d, [g^ir (new) |] Ni | Nr)
//
// dhShared is nil when the Child SA was negotiated without PFS (the common
// case for the SA bundled into IKE_AUTH).
func (t *Tkm) IpsecSaCreate(ni, nr, dhShared []byte) (ei, ai, er, ar []byte, err error) {
	if t.espSuite == nil {
		return nil, nil, nil, nil, errors.New("tkm: no esp cipher suite configured")
	}
	seed := append([]byte{}, dhShared...)
	seed = append(seed, ni...)
	seed = append(seed, nr...)
	need := 2*t.espSuite.KeyLen + 2*t.espSuite.MacKeyLen
	keymat := t.suite.Prf.PrfPlus(t.skD, seed, need)

	off := 0
	take := func(n int) []byte {
		b := keymat[off : off+n]
		off += n
		return b
	}
	ei = take(t.espSuite.KeyLen)
	ai = take(t.espSuite.MacKeyLen)
	er = take(t.espSuite.KeyLen)
	ar = take(t.espSuite.MacKeyLen)
	return ei, ai, er, ar, nil
}
