package braceratchet

import "math/big"

const (
	// ECPointSize is the size of an Ed448 point in the EdDSA wire encoding.
	ECPointSize = 57
	// ECScalarSize is the size of an Ed448 scalar.
	ECScalarSize = 57
	// DHModulusSize is the size of the 3072-bit finite-field modulus.
	DHModulusSize = 384
)

// ECPoint is an encoded Ed448 point.
type ECPoint [ECPointSize]byte

// IsZero reports whether no point was ever stored in p.
func (p ECPoint) IsZero() bool { return p == ECPoint{} }

// ECDHKeypair is an ephemeral elliptic-curve Diffie-Hellman keypair.
type ECDHKeypair struct {
	Private [ECScalarSize]byte
	Public  ECPoint
}

// DestroyPrivate wipes the secret scalar, keeping the public point.
func (k *ECDHKeypair) DestroyPrivate() {
	if k == nil {
		return
	}
	Wipe(k.Private[:])
}

// HasPrivate reports whether the secret scalar is still present.
func (k *ECDHKeypair) HasPrivate() bool {
	return k != nil && k.Private != [ECScalarSize]byte{}
}

func (k *ECDHKeypair) clone() *ECDHKeypair {
	if k == nil {
		return nil
	}
	c := *k
	return &c
}

// DHKeypair is an ephemeral 3072-bit finite-field Diffie-Hellman keypair.
type DHKeypair struct {
	Private *big.Int
	Public  *big.Int
}

// DestroyPrivate wipes the secret exponent, keeping the public value.
func (k *DHKeypair) DestroyPrivate() {
	if k == nil {
		return
	}
	wipeInt(k.Private)
	k.Private = nil
}

// HasPrivate reports whether the secret exponent is still present.
func (k *DHKeypair) HasPrivate() bool {
	return k != nil && k.Private != nil && k.Private.Sign() != 0
}

func (k *DHKeypair) destroy() {
	if k == nil {
		return
	}
	k.DestroyPrivate()
	k.Public = nil
}

func (k *DHKeypair) clone() *DHKeypair {
	if k == nil {
		return nil
	}
	return &DHKeypair{Private: copyInt(k.Private), Public: copyInt(k.Public)}
}

// Crypto is the primitive provider the key manager is built on.
type Crypto interface {
	// GenerateECDH returns a new Ed448 Diffie-Hellman keypair.
	GenerateECDH() (*ECDHKeypair, error)

	// ECDH returns the encoded point our.Private * their.
	ECDH(our *ECDHKeypair, their ECPoint) ([]byte, error)

	// ValidPoint reports whether p decodes to a non-identity point of the
	// prime-order subgroup.
	ValidPoint(p ECPoint) bool

	// GenerateDH returns a new finite-field Diffie-Hellman keypair.
	GenerateDH() (*DHKeypair, error)

	// DH returns the big-endian, modulus-sized value their^our.Private mod p.
	DH(our *DHKeypair, their *big.Int) ([]byte, error)

	// ValidDH reports whether y is a member of the prime-order subgroup.
	ValidDH(y *big.Int) bool
}

func copyInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
