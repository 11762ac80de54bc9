package braceratchet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var chainSeed = []byte{0xeb, 0x8, 0x10, 0x7c, 0x33, 0x54, 0x0, 0x20, 0xe9, 0x4f, 0x6c, 0x84, 0xe4, 0x39, 0x50, 0x5a, 0x2f, 0x60, 0xbe, 0x81, 0xa, 0x78, 0x8b, 0xeb, 0x1e, 0x2c, 0x9, 0x8d, 0x4b, 0x4d, 0xc1, 0x40}

func TestChain_Advance(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)

	// Act.
	next := c.advance()

	// Assert.
	var expected [ChainKeySize]byte
	hashSum(expected[:], chainSeed)
	require.EqualValues(t, 1, next.ID)
	require.Equal(t, expected, next.Key)
	require.Same(t, c.last(), next)
}

func TestChain_Consumed(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)
	c.advance()

	// Act and assert.
	require.True(t, c.consumed(0))
	require.False(t, c.consumed(1))
	require.False(t, c.consumed(2))
}

func TestChain_AdvanceTo(t *testing.T) {
	// Arrange.
	var (
		c        = newChain(chainSeed)
		expected [ChainKeySize]byte
	)
	copy(expected[:], chainSeed)
	for i := 0; i < 3; i++ {
		hashSum(expected[:], expected[:])
	}

	// Act.
	link, err := c.advanceTo(3, 10)

	// Assert.
	require.Nil(t, err)
	require.EqualValues(t, 3, link.ID)
	require.Equal(t, expected, link.Key)
	require.EqualValues(t, 0, c.First)
}

func TestChain_AdvanceTo_Frontier(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)
	first, err := c.advanceTo(2, 10)
	require.Nil(t, err)
	key := first.Key

	// Act.
	again, err := c.advanceTo(2, 10)

	// Assert.
	require.Nil(t, err)
	require.Equal(t, key, again.Key)
	require.EqualValues(t, 2, c.last().ID)
}

func TestChain_AdvanceTo_Backwards(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)
	_, err := c.advanceTo(2, 10)
	require.Nil(t, err)

	// Act.
	_, err = c.advanceTo(1, 10)

	// Assert.
	require.ErrorIs(t, err, ErrOutOfOrderUnrecoverable)
}

func TestChain_AdvanceTo_TooFar(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)

	// Act.
	_, err := c.advanceTo(3, 2)

	// Assert.
	require.ErrorIs(t, err, ErrMessageExceedsReorderingLimit)
	require.EqualValues(t, 0, c.last().ID)
	require.Equal(t, chainSeed, c.last().Key[:])
}

func TestChain_AdvanceTo_Long(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)

	// Act.
	link, err := c.advanceTo(100000, 100000)

	// Assert.
	require.Nil(t, err)
	require.EqualValues(t, 100000, link.ID)
	require.True(t, c.consumed(99999))
}

func TestChain_Copy(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)

	// Act.
	cc := c
	cc.advance()

	// Assert.
	require.EqualValues(t, 0, c.last().ID)
	require.Equal(t, chainSeed, c.last().Key[:])
}

func TestChain_Wipe(t *testing.T) {
	// Arrange.
	c := newChain(chainSeed)
	link := c.last()

	// Act.
	c.wipe()

	// Assert.
	require.Equal(t, [ChainKeySize]byte{}, link.Key)
}
