package braceratchet

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/ecc/goldilocks"
	"golang.org/x/crypto/sha3"
)

const dhPrivateKeySize = 80

// dhModulus is the 3072-bit MODP group from RFC 3526, section 4.
const dhModulus = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
	"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
	"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
	"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
	"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
	"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D04507A33" +
	"A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
	"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6BF12FFA06D98A0864" +
	"D87602733EC86A64521F2B18177B200CBBE117577A615D6C770988C0BAD946E2" +
	"08E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

var (
	dhP, _       = new(big.Int).SetString(dhModulus, 16)
	dhG          = big.NewInt(2)
	dhQ          = new(big.Int).Rsh(dhP, 1)
	dhPMinusTwo  = new(big.Int).Sub(dhP, big.NewInt(2))
	bigTwo       = big.NewInt(2)
	goldilocksEC goldilocks.Curve
)

// DefaultCrypto implements Crypto with Ed448-Goldilocks and the 3072-bit
// MODP group.
type DefaultCrypto struct {
	// Rand is the entropy source. If nil, crypto/rand.Reader is used.
	Rand io.Reader
}

func (c DefaultCrypto) rand() io.Reader {
	if c.Rand == nil {
		return rand.Reader
	}
	return c.Rand
}

func (c DefaultCrypto) GenerateECDH() (*ECDHKeypair, error) {
	var sym [ECScalarSize]byte
	defer Wipe(sym[:])
	if _, err := io.ReadFull(c.rand(), sym[:]); err != nil {
		return nil, fmt.Errorf("couldn't generate ecdh secret: %w", err)
	}
	return ecdhKeypairFromSecret(sym[:])
}

// ecdhKeypairFromSecret derives the keypair the way Ed448 derives a signing
// key: hash, prune, reduce.
func ecdhKeypairFromSecret(sym []byte) (*ECDHKeypair, error) {
	var h [2 * ECScalarSize]byte
	defer Wipe(h[:])
	sha3.ShakeSum256(h[:], sym)
	h[0] &= 0xfc
	h[ECScalarSize-1] = 0
	h[ECScalarSize-2] |= 0x80

	var k goldilocks.Scalar
	defer Wipe(k[:])
	k.FromBytes(h[:ECScalarSize])

	kp := &ECDHKeypair{}
	copy(kp.Private[:], k[:])
	if err := goldilocksEC.ScalarBaseMult(&k).ToBytes(kp.Public[:]); err != nil {
		kp.DestroyPrivate()
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return kp, nil
}

func (c DefaultCrypto) ECDH(our *ECDHKeypair, their ECPoint) ([]byte, error) {
	if !our.HasPrivate() {
		return nil, fmt.Errorf("%w: ecdh private key destroyed", ErrInvalidKeyMaterial)
	}
	P, err := goldilocks.FromBytes(their[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	var k goldilocks.Scalar
	defer Wipe(k[:])
	copy(k[:], our.Private[:])

	S := goldilocksEC.ScalarMult(&k, P)
	if S.IsIdentity() {
		return nil, fmt.Errorf("%w: ecdh result is the identity", ErrInvalidKeyMaterial)
	}
	out := make([]byte, ECPointSize)
	if err := S.ToBytes(out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return out, nil
}

func (c DefaultCrypto) ValidPoint(p ECPoint) bool {
	P, err := goldilocks.FromBytes(p[:])
	if err != nil {
		return false
	}
	if P.IsIdentity() {
		return false
	}
	return inPrimeOrderSubgroup(P)
}

// inPrimeOrderSubgroup checks q*P == O with a plain double-and-add over the
// group order. Only public points go through here.
func inPrimeOrderSubgroup(P *goldilocks.Point) bool {
	q := goldilocksEC.Order()
	R := goldilocksEC.Identity()
	for i := len(q)*8 - 1; i >= 0; i-- {
		R.Double()
		if (q[i/8]>>(uint(i)%8))&1 == 1 {
			R.Add(P)
		}
	}
	return R.IsIdentity()
}

func (c DefaultCrypto) GenerateDH() (*DHKeypair, error) {
	var sym [dhPrivateKeySize]byte
	defer Wipe(sym[:])
	if _, err := io.ReadFull(c.rand(), sym[:]); err != nil {
		return nil, fmt.Errorf("couldn't generate dh secret: %w", err)
	}
	priv := new(big.Int).SetBytes(sym[:])
	if priv.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero dh secret", ErrDerivationFailure)
	}
	return &DHKeypair{
		Private: priv,
		Public:  new(big.Int).Exp(dhG, priv, dhP),
	}, nil
}

func (c DefaultCrypto) DH(our *DHKeypair, their *big.Int) ([]byte, error) {
	if !our.HasPrivate() {
		return nil, fmt.Errorf("%w: dh private key destroyed", ErrInvalidKeyMaterial)
	}
	if !c.ValidDH(their) {
		return nil, fmt.Errorf("%w: dh public value out of range", ErrInvalidKeyMaterial)
	}
	s := new(big.Int).Exp(their, our.Private, dhP)
	defer wipeInt(s)
	out := make([]byte, DHModulusSize)
	s.FillBytes(out)
	return out, nil
}

func (c DefaultCrypto) ValidDH(y *big.Int) bool {
	if y == nil || y.Cmp(bigTwo) < 0 || y.Cmp(dhPMinusTwo) > 0 {
		return false
	}
	return new(big.Int).Exp(y, dhQ, dhP).Cmp(big.NewInt(1)) == 0
}
