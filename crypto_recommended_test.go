package braceratchet

import (
	"errors"
	"math/big"
	"testing"

	"github.com/cloudflare/circl/ecc/goldilocks"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

// orderTwoPoint returns the encoding of (0, -1), the point of order two.
func orderTwoPoint() ECPoint {
	var p ECPoint
	for i := 0; i < 56; i++ {
		p[i] = 0xff
	}
	p[0] = 0xfe
	p[28] = 0xfe
	return p
}

// withTorsion returns p + (0, -1): on the curve, but outside the prime-order
// subgroup.
func withTorsion(t *testing.T, p ECPoint) ECPoint {
	P, err := goldilocks.FromBytes(p[:])
	require.Nil(t, err)
	t2 := orderTwoPoint()
	T, err := goldilocks.FromBytes(t2[:])
	require.Nil(t, err)
	P.Add(T)

	var out ECPoint
	require.Nil(t, P.ToBytes(out[:]))
	return out
}

func TestDefaultCrypto_GenerateECDH(t *testing.T) {
	// Arrange.
	c := DefaultCrypto{}

	// Act.
	pair, err := c.GenerateECDH()

	// Assert.
	require.Nil(t, err)
	require.True(t, pair.HasPrivate())
	require.False(t, pair.Public.IsZero())
	require.True(t, c.ValidPoint(pair.Public))
}

func TestDefaultCrypto_GenerateECDH_DifferentKeysEveryTime(t *testing.T) {
	// Arrange.
	var (
		c    = DefaultCrypto{}
		keys = make(map[ECPoint]bool)
	)

	for i := 0; i < 10; i++ {
		t.Run("", func(t *testing.T) {
			// Act.
			pair, err := c.GenerateECDH()

			// Assert.
			require.Nil(t, err)
			require.False(t, keys[pair.Public])

			// Preserve.
			keys[pair.Public] = true
		})
	}
}

func TestDefaultCrypto_GenerateECDH_NoEntropy(t *testing.T) {
	// Arrange.
	c := DefaultCrypto{Rand: failingReader{}}

	// Act.
	_, err := c.GenerateECDH()

	// Assert.
	require.NotNil(t, err)
}

func TestDefaultCrypto_ECDH(t *testing.T) {
	// Arrange.
	c := DefaultCrypto{}

	// Act.
	var (
		alicePair, err1 = c.GenerateECDH()
		bobPair, err2   = c.GenerateECDH()
	)
	require.Nil(t, err1)
	require.Nil(t, err2)
	aliceSK, err1 := c.ECDH(alicePair, bobPair.Public)
	bobSK, err2 := c.ECDH(bobPair, alicePair.Public)

	// Assert.
	require.Nil(t, err1)
	require.Nil(t, err2)
	require.Len(t, aliceSK, ECPointSize)
	require.NotEqual(t, make([]byte, ECPointSize), aliceSK)
	require.Equal(t, aliceSK, bobSK)
}

func TestDefaultCrypto_ECDH_DestroyedPrivate(t *testing.T) {
	// Arrange.
	var (
		c        = DefaultCrypto{}
		alice, _ = c.GenerateECDH()
		bob, _   = c.GenerateECDH()
	)
	alice.DestroyPrivate()

	// Act.
	_, err := c.ECDH(alice, bob.Public)

	// Assert.
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)
	require.Equal(t, [ECScalarSize]byte{}, alice.Private)
}

func TestDefaultCrypto_ValidPoint(t *testing.T) {
	// Arrange.
	var (
		c        = DefaultCrypto{}
		identity ECPoint
		zero     ECPoint
		garbage  ECPoint
	)
	identity[0] = 1
	for i := range garbage {
		garbage[i] = 0xff
	}

	// Act and assert.
	require.False(t, c.ValidPoint(identity))
	require.False(t, c.ValidPoint(zero))
	require.False(t, c.ValidPoint(garbage))
}

func TestDefaultCrypto_ValidPoint_Subgroup(t *testing.T) {
	// Arrange.
	var (
		c       = DefaultCrypto{}
		pair, _ = c.GenerateECDH()
		t2      = orderTwoPoint()
	)
	_, err := goldilocks.FromBytes(t2[:])
	require.Nil(t, err, "(0, -1) is on the curve")

	// Act and assert.
	require.True(t, c.ValidPoint(pair.Public))
	require.False(t, c.ValidPoint(t2))
	require.False(t, c.ValidPoint(withTorsion(t, pair.Public)))
}

func TestDefaultCrypto_GenerateDH(t *testing.T) {
	// Arrange.
	c := DefaultCrypto{}

	// Act.
	pair, err := c.GenerateDH()

	// Assert.
	require.Nil(t, err)
	require.True(t, pair.HasPrivate())
	require.LessOrEqual(t, pair.Private.BitLen(), dhPrivateKeySize*8)
	require.True(t, c.ValidDH(pair.Public))
}

func TestDefaultCrypto_DH(t *testing.T) {
	// Arrange.
	c := DefaultCrypto{}

	// Act.
	var (
		alicePair, err1 = c.GenerateDH()
		bobPair, err2   = c.GenerateDH()
	)
	require.Nil(t, err1)
	require.Nil(t, err2)
	aliceSK, err1 := c.DH(alicePair, bobPair.Public)
	bobSK, err2 := c.DH(bobPair, alicePair.Public)

	// Assert.
	require.Nil(t, err1)
	require.Nil(t, err2)
	require.Len(t, aliceSK, DHModulusSize)
	require.Equal(t, aliceSK, bobSK)
}

func TestDefaultCrypto_DH_InvalidPublic(t *testing.T) {
	// Arrange.
	var (
		c       = DefaultCrypto{}
		pair, _ = c.GenerateDH()
	)

	// Act.
	_, err := c.DH(pair, big.NewInt(1))

	// Assert.
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestDefaultCrypto_ValidDH(t *testing.T) {
	// Arrange.
	var (
		c         = DefaultCrypto{}
		pMinusOne = new(big.Int).Sub(dhP, big.NewInt(1))
		generator = big.NewInt(2)
	)

	for name, tc := range map[string]struct {
		y     *big.Int
		valid bool
	}{
		"nil":       {nil, false},
		"zero":      {big.NewInt(0), false},
		"one":       {big.NewInt(1), false},
		"p-1":       {pMinusOne, false},
		"p":         {dhP, false},
		"generator": {generator, true},
		"p-2":       {new(big.Int).Sub(dhP, big.NewInt(2)), false},
		"5":         {big.NewInt(5), false},
	} {
		t.Run(name, func(t *testing.T) {
			// Act and assert.
			require.Equal(t, tc.valid, c.ValidDH(tc.y))
		})
	}
}

func TestDHKeypair_DestroyPrivate(t *testing.T) {
	// Arrange.
	var (
		c       = DefaultCrypto{}
		pair, _ = c.GenerateDH()
		priv    = pair.Private
	)

	// Act.
	pair.DestroyPrivate()

	// Assert.
	require.False(t, pair.HasPrivate())
	require.Nil(t, pair.Private)
	require.Equal(t, 0, priv.Sign())
	require.NotNil(t, pair.Public)
}

func TestKDF_DomainSeparation(t *testing.T) {
	// Arrange.
	var (
		secret = []byte("shared secret")
		a, b   [32]byte
		k, h   [64]byte
	)

	// Act.
	kdf(a[:], usageChainKeyA, secret)
	kdf(b[:], usageChainKeyB, secret)
	kkdf(k[:], []byte("key"), secret)
	hashWithDomain(h[:], []byte("key"), secret)

	// Assert.
	require.NotEqual(t, a, b)
	require.Equal(t, k, h)
}

func TestWipe(t *testing.T) {
	// Arrange.
	b := []byte{1, 2, 3, 4}

	// Act.
	Wipe(b)

	// Assert.
	require.Equal(t, []byte{0, 0, 0, 0}, b)
}
