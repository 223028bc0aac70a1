package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/curve25519"

	"github.com/msgboxio/ike/protocol"
)

// dhGroup is the capability object for one Diffie-Hellman (or hybrid
// key-encapsulation) group named in a KE payload. isInitiator tells a
// hybrid group which half of an asymmetric KEM exchange this side plays;
// classical groups ignore it.
type dhGroup interface {
	GeneratePrivate(rnd io.Reader, isInitiator bool) (groupSecret, error)
}

// groupSecret is the ephemeral private state for one exchange.
type groupSecret interface {
	// Public is the wire encoding carried in our own KE payload.
	Public() []byte
	// SharedKey derives the shared secret from the peer's KE payload data.
	SharedKey(peer []byte) ([]byte, error)
}

var kexAlgoMap = map[protocol.DhTransformId]dhGroup{
	protocol.MODP_1024:        modpGroup{p: modp1024, g: big.NewInt(2)},
	protocol.MODP_1536:        modpGroup{p: modp1536, g: big.NewInt(2)},
	protocol.MODP_2048:        modpGroup{p: modp2048, g: big.NewInt(2)},
	protocol.MODP_3072:        modpGroup{p: modp3072, g: big.NewInt(2)},
	protocol.MODP_4096:        modpGroup{p: modp4096, g: big.NewInt(2)},
	protocol.MODP_6144:        modpGroup{p: modp6144, g: big.NewInt(2)},
	protocol.MODP_8192:        modpGroup{p: modp8192, g: big.NewInt(2)},
	protocol.ECP_256:          ecpGroup{curve: ecdh.P256()},
	protocol.ECP_384:          ecpGroup{curve: ecdh.P384()},
	protocol.ECP_521:          ecpGroup{curve: ecdh.P521()},
	protocol.CURVE25519:       curve25519Group{},
	protocol.MLKEM768_X25519:  hybridPQGroup{},
}

// --- classical MODP (RFC 3526) ---

func mustPrime(hex string) *big.Int {
	p, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic("crypto: malformed MODP prime constant")
	}
	return p
}

// RFC 2409 Oakley Group 2 (768 is skipped, daemon never offers it) and
// RFC 3526 Groups 5/14/15/16/17/18: the groups this daemon is willing to
// negotiate.
var (
	modp1536 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA237327FFFFFFFFFFFFFFFF")

	modp1024 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381" +
		"FFFFFFFFFFFFFFFF")

	modp2048 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE" +
		"39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE" +
		"2BCBF6955817183995497CEA956AE515D2261898FA051015" +
		"728E5A8AACAA68FFFFFFFFFFFFFFFF")

	modp3072 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
		"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
		"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
		"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
		"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
		"43DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF")

	modp4096 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
		"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
		"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
		"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
		"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
		"43DB5BFCE0FD108E4B82D120A92108011A723C12A787E6D7" +
		"88719A10BDBA5B2699C327186AF4E23C1A946834B6150BDA" +
		"2583E9CA2AD44CE8DBBBC2DB04DE8EF92E8EFC141FBECAA6" +
		"287C59474E6BC05D99B2964FA090C3A2233BA186515BE7ED" +
		"1F612970CEE2D7AFB81BDD762170481CD0069127D5B05AA9" +
		"93B4EA988D8FDDC186FFB7DC90A6C08F4DF435C934063199" +
		"FFFFFFFFFFFFFFFF")

	modp6144 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
		"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
		"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
		"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
		"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
		"43DB5BFCE0FD108E4B82D120A92108011A723C12A787E6D7" +
		"88719A10BDBA5B2699C327186AF4E23C1A946834B6150BDA" +
		"2583E9CA2AD44CE8DBBBC2DB04DE8EF92E8EFC141FBECAA6" +
		"287C59474E6BC05D99B2964FA090C3A2233BA186515BE7ED" +
		"1F612970CEE2D7AFB81BDD762170481CD0069127D5B05AA9" +
		"93B4EA988D8FDDC186FFB7DC90A6C08F4DF435C934028492" +
		"36C3FAB4D27C7026C1D4DCB2602646DEC9751E763DBA37BD" +
		"F8FF9406AD9E530EE5DB382F413001AEB06A53ED9027D831" +
		"179727B0865A8918DA3EDBEBCF9B14ED44CE6CBACED4BB1B" +
		"DB7F1447E6CC254B332051512BD7AF426FB8F401378CD2BF" +
		"5983CA01C64B92ECF032EA15D1721D03F482D7CE6E74FEF6" +
		"D55E702F46980C82B5A84031900B1C9E59E7C97FBEC7E8F3" +
		"23A97A7E36CC88BE0F1D45B7FF585AC54BD407B22B4154AA" +
		"CC8F6D7EBF48E1D814CC5ED20F8037E0A79715EEF29BE328" +
		"06A1D58BB7C5DA76F550AA3D8A1FBFF0EB19CCB1A313D55C" +
		"DA56C9EC2EF29632387FE8D76E3C0468043E8F663F4860EE" +
		"12BF2D5B0B7474D6E694F91E6DCC4024FFFFFFFFFFFFFFFF")

	modp8192 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
		"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
		"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
		"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
		"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
		"43DB5BFCE0FD108E4B82D120A92108011A723C12A787E6D7" +
		"88719A10BDBA5B2699C327186AF4E23C1A946834B6150BDA" +
		"2583E9CA2AD44CE8DBBBC2DB04DE8EF92E8EFC141FBECAA6" +
		"287C59474E6BC05D99B2964FA090C3A2233BA186515BE7ED" +
		"1F612970CEE2D7AFB81BDD762170481CD0069127D5B05AA9" +
		"93B4EA988D8FDDC186FFB7DC90A6C08F4DF435C934028492" +
		"36C3FAB4D27C7026C1D4DCB2602646DEC9751E763DBA37BD" +
		"F8FF9406AD9E530EE5DB382F413001AEB06A53ED9027D831" +
		"179727B0865A8918DA3EDBEBCF9B14ED44CE6CBACED4BB1B" +
		"DB7F1447E6CC254B332051512BD7AF426FB8F401378CD2BF" +
		"5983CA01C64B92ECF032EA15D1721D03F482D7CE6E74FEF6" +
		"D55E702F46980C82B5A84031900B1C9E59E7C97FBEC7E8F3" +
		"23A97A7E36CC88BE0F1D45B7FF585AC54BD407B22B4154AA" +
		"CC8F6D7EBF48E1D814CC5ED20F8037E0A79715EEF29BE328" +
		"06A1D58BB7C5DA76F550AA3D8A1FBFF0EB19CCB1A313D55C" +
		"DA56C9EC2EF29632387FE8D76E3C0468043E8F663F4860EE" +
		"12BF2D5B0B7474D6E694F91E6DBE115974A3926F12FEE5E4" +
		"38777CB6A932DF8CD8BEC4D073B931BA3BC832B68D9DD300" +
		"741FA7BF8AFC47ED2576F6936BA424663AAB639C5AE4F568" +
		"3423B4742BF1C978238F16CBE39D652DE3FDB8BEFC848AD9" +
		"22222E04A4037C0713EB57A81A23F0C73473FC646CEA306B" +
		"4BCBC8862F8385DDFA9D4B7FA2C087E879683303ED5BDD3A" +
		"062B3CF5B3A278A66D2A13F83F44F82DDF310EE074AB6A36" +
		"4597E899A0255DC164F31CC50846851DF9AB48195DED7EA1" +
		"B1D510BD7EE74D73FAF36BC31ECFA268359046F4EB879F92" +
		"4009438B481C6CD7889A002ED5EE382BC9190DA6FC026E47" +
		"9558E4475677E9AA9E3050E2765694DFC81F56E880B96E71" +
		"60C980DD98EDD3DFFFFFFFFFFFFFFFFF")
)

type modpSecret struct {
	group *modpGroup
	x     *big.Int // private exponent
}

type modpGroup struct {
	p, g *big.Int
}

func (m modpGroup) GeneratePrivate(rnd io.Reader, _ bool) (groupSecret, error) {
	// private exponent in [2, p-2]; 256 bits of randomness is ample for
	// every group this daemon offers and keeps generation fast.
	x, err := rand.Int(rnd, new(big.Int).Lsh(big.NewInt(1), 256))
	if err != nil {
		return nil, err
	}
	x.Add(x, big.NewInt(2))
	grp := m
	return &modpSecret{group: &grp, x: x}, nil
}

func (s *modpSecret) Public() []byte {
	y := new(big.Int).Exp(s.group.g, s.x, s.group.p)
	return leftPad(y.Bytes(), (s.group.p.BitLen()+7)/8)
}

func (s *modpSecret) SharedKey(peer []byte) ([]byte, error) {
	y := new(big.Int).SetBytes(peer)
	if y.Sign() <= 0 || y.Cmp(s.group.p) >= 0 {
		return nil, fmt.Errorf("crypto: peer MODP public value out of range")
	}
	shared := new(big.Int).Exp(y, s.x, s.group.p)
	return leftPad(shared.Bytes(), (s.group.p.BitLen()+7)/8), nil
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// --- NIST curves via stdlib crypto/ecdh ---

type ecpGroup struct {
	curve ecdh.Curve
}

type ecpSecret struct {
	curve ecdh.Curve
	priv  *ecdh.PrivateKey
}

func (e ecpGroup) GeneratePrivate(rnd io.Reader, _ bool) (groupSecret, error) {
	priv, err := e.curve.GenerateKey(rnd)
	if err != nil {
		return nil, err
	}
	return &ecpSecret{curve: e.curve, priv: priv}, nil
}

func (s *ecpSecret) Public() []byte {
	return s.priv.PublicKey().Bytes()
}

func (s *ecpSecret) SharedKey(peer []byte) ([]byte, error) {
	pub, err := s.curve.NewPublicKey(peer)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid EC point: %w", err)
	}
	return s.priv.ECDH(pub)
}

// --- Curve25519 (RFC 7748 / draft X25519 IKEv2 group) ---

type curve25519Group struct{}

type curve25519Secret struct {
	priv [32]byte
}

func (curve25519Group) GeneratePrivate(rnd io.Reader, _ bool) (groupSecret, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rnd, priv[:]); err != nil {
		return nil, err
	}
	return &curve25519Secret{priv: priv}, nil
}

func (s *curve25519Secret) Public() []byte {
	pub, err := curve25519.X25519(s.priv[:], curve25519.Basepoint)
	if err != nil {
		panic(err) // basepoint scalarmult cannot fail
	}
	return pub
}

func (s *curve25519Secret) SharedKey(peer []byte) ([]byte, error) {
	if len(peer) != 32 {
		return nil, fmt.Errorf("crypto: curve25519 public value must be 32 bytes")
	}
	return curve25519.X25519(s.priv[:], peer)
}

// --- ML-KEM-768 x X25519 hybrid ---
//
// The initiator generates both an X25519 keypair and an ML-KEM-768
// encapsulation keypair and sends both public values; the responder
// completes the X25519 exchange as usual and, playing the KEM
// encapsulator, derives a second shared value against the initiator's
// ML-KEM public key and sends back the ciphertext alongside its own
// X25519 public value. Both sides concatenate the ECDH and KEM shared
// values (ECDH first) as the combined group secret, following the same
// combiner ordering used by the TLS X25519Kyber768 hybrid group.
// hybridPQGroup layers an ML-KEM-768 encapsulation over a classical
// X25519 exchange. The exchange is asymmetric: the initiator's KE payload
// carries its X25519 public value followed by its ML-KEM public key, the
// responder's carries its X25519 public value followed by the KEM
// ciphertext. A responder must therefore complete SharedKey against the
// initiator's payload before emitting its own Public.
type hybridPQGroup struct{}

type hybridPQSecret struct {
	isInitiator   bool
	x25519        [32]byte
	kemPriv       kem.PrivateKey // only set when isInitiator
	kemCiphertext []byte         // only set once a responder has encapsulated
}

func (hybridPQGroup) GeneratePrivate(rnd io.Reader, isInitiator bool) (groupSecret, error) {
	var x [32]byte
	if _, err := io.ReadFull(rnd, x[:]); err != nil {
		return nil, err
	}
	s := &hybridPQSecret{isInitiator: isInitiator, x25519: x}
	if isInitiator {
		_, priv, err := mlkem768.Scheme().GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		s.kemPriv = priv
	}
	return s, nil
}

func (s *hybridPQSecret) Public() []byte {
	x25519Pub, err := curve25519.X25519(s.x25519[:], curve25519.Basepoint)
	if err != nil {
		panic(err)
	}
	if !s.isInitiator {
		return append(x25519Pub, s.kemCiphertext...)
	}
	packed, err := s.kemPriv.Public().MarshalBinary()
	if err != nil {
		panic(err)
	}
	return append(x25519Pub, packed...)
}

func (s *hybridPQSecret) SharedKey(peer []byte) ([]byte, error) {
	scheme := mlkem768.Scheme()
	if len(peer) < 32 {
		return nil, fmt.Errorf("crypto: hybrid KE payload too short")
	}
	ecdhSS, err := curve25519.X25519(s.x25519[:], peer[:32])
	if err != nil {
		return nil, err
	}
	if s.isInitiator {
		// peer[32:] is the KEM ciphertext encapsulated against our public key
		ct := peer[32:]
		if len(ct) != scheme.CiphertextSize() {
			return nil, fmt.Errorf("crypto: bad ML-KEM ciphertext size %d", len(ct))
		}
		kemSS, err := scheme.Decapsulate(s.kemPriv, ct)
		if err != nil {
			return nil, err
		}
		return append(ecdhSS, kemSS...), nil
	}
	// we are the responder/encapsulator: peer carries the initiator's
	// ML-KEM public key appended after its X25519 public value.
	if len(peer) != 32+scheme.PublicKeySize() {
		return nil, fmt.Errorf("crypto: bad hybrid KE payload size %d", len(peer))
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(peer[32:])
	if err != nil {
		return nil, err
	}
	ct, kemSS, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, err
	}
	s.kemCiphertext = ct
	return append(ecdhSS, kemSS...), nil
}
