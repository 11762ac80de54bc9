package braceratchet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	aliceTag uint32 = 0x00000101
	bobTag   uint32 = 0x00000202
)

func newConversations(t *testing.T, opts ...Option) (alice, bob *Conversation) {
	a, b := newKeyManagers(t, opts...)

	alice, err := NewConversation(a, aliceTag, bobTag)
	require.Nil(t, err)
	bob, err = NewConversation(b, bobTag, aliceTag)
	require.Nil(t, err)
	return alice, bob
}

func TestNewConversation_InvalidTags(t *testing.T) {
	// Arrange.
	m, _ := New()

	// Act.
	_, err1 := NewConversation(m, 0x10, bobTag)
	_, err2 := NewConversation(m, aliceTag, 0)

	// Assert.
	require.ErrorIs(t, err1, ErrInvalidInstanceTag)
	require.ErrorIs(t, err2, ErrInvalidInstanceTag)
}

func TestConversation_AliceSends(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)

	for i := 0; i < 10; i++ {
		pt := fmt.Sprintf("msg%d", i)
		t.Run(pt, func(t *testing.T) {
			h := ConversationTestHelper{t, alice, bob}
			h.AliceToBob(pt)
		})
	}
}

func TestConversation_BobSends(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)

	for i := 0; i < 10; i++ {
		pt := fmt.Sprintf("msg%d", i)
		t.Run(pt, func(t *testing.T) {
			h := ConversationTestHelper{t, alice, bob}
			h.BobToAlice(pt)
		})
	}

	i, _ := alice.KeyManager().Counters()
	require.EqualValues(t, 1, i)
}

func TestConversation_PingPong(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)

	for i := 0; i < 10; i++ {
		pt := fmt.Sprintf("msg%d", i)
		t.Run(pt, func(t *testing.T) {
			h := ConversationTestHelper{t, alice, bob}

			h.AliceToBob(pt + "alice")
			h.BobToAlice(pt + "bob")
		})
	}

	// Every reply starts a new ratchet.
	i, _ := alice.KeyManager().Counters()
	require.EqualValues(t, 19, i)
	require.Equal(t, alice.KeyManager().SSID(), bob.KeyManager().SSID())
}

func TestConversation_Receive_Tampered(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)
	frame, err := alice.Send([]byte("hi"), 0)
	require.Nil(t, err)
	before, err := bob.KeyManager().MarshalBinary()
	require.Nil(t, err)

	// Act.
	frame[len(frame)-MACTagSize-1] ^= 10
	_, err = bob.Receive(frame)

	// Assert.
	require.ErrorIs(t, err, ErrAuthenticationFailure)
	after, err := bob.KeyManager().MarshalBinary()
	require.Nil(t, err)
	require.Equal(t, before, after)

	frame[len(frame)-MACTagSize-1] ^= 10
	d, err := bob.Receive(frame)
	require.Nil(t, err)
	require.Equal(t, []byte("hi"), d.Message)
}

func TestConversation_Receive_NewRatchetTampered(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)
	frame, err := bob.Send([]byte("new ratchet"), 0)
	require.Nil(t, err)

	// Act.
	frame[len(frame)-1] ^= 1
	_, err = alice.Receive(frame)

	// Assert.
	require.ErrorIs(t, err, ErrAuthenticationFailure)
	i, j := alice.KeyManager().Counters()
	require.EqualValues(t, 0, i)
	require.EqualValues(t, 1, j)
	require.True(t, alice.KeyManager().ourECDH.HasPrivate())
}

func TestConversation_Receive_OutOfOrder(t *testing.T) {
	// Arrange.
	var (
		alice, bob = newConversations(t)
		m1, _      = alice.Send([]byte("one"), 0)
		m2, _      = alice.Send([]byte("two"), 0)
		m3, _      = alice.Send([]byte("three"), 0)
	)

	// Act and assert.
	d, err := bob.Receive(m2)
	require.Nil(t, err)
	require.Equal(t, []byte("two"), d.Message)

	_, err = bob.Receive(m1) // Key already gone.
	require.ErrorIs(t, err, ErrOutOfOrderUnrecoverable)

	d, err = bob.Receive(m3)
	require.Nil(t, err)
	require.Equal(t, []byte("three"), d.Message)
}

func TestConversation_Receive_TooFarAhead(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t, WithMaxSkip(1))
	var frames [][]byte
	for i := 0; i < 3; i++ {
		frame, err := alice.Send([]byte("skip"), 0)
		require.Nil(t, err)
		frames = append(frames, frame)
	}

	// Act.
	_, err := bob.Receive(frames[2])

	// Assert.
	require.ErrorIs(t, err, ErrMessageExceedsReorderingLimit)
	for _, frame := range frames {
		d, err := bob.Receive(frame)
		require.Nil(t, err)
		require.Equal(t, []byte("skip"), d.Message)
	}
}

func TestConversation_Receive_WrongInstanceTag(t *testing.T) {
	// Arrange.
	var (
		alice, _ = newConversations(t)
		eve, _   = newConversations(t)
	)
	frame, err := alice.Send([]byte("hi"), 0)
	require.Nil(t, err)
	eve.theirTag = 0x00000303

	// Act.
	_, err = eve.Receive(frame)

	// Assert.
	require.ErrorIs(t, err, ErrInvalidInstanceTag)
}

func TestConversation_Send_NonceFailure(t *testing.T) {
	// Arrange.
	alice, _ := newConversations(t)
	require.Nil(t, WithNonceSource(failingReader{})(alice))

	// Act.
	_, err := alice.Send([]byte("hi"), 0)

	// Assert.
	require.NotNil(t, err)
	_, j := alice.KeyManager().Counters()
	require.EqualValues(t, 1, j)
	require.EqualValues(t, 0, alice.KeyManager().oldMACKeys.Count())
}

func TestConversation_Send_CarriesDHOnBraceRatchets(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)
	h := ConversationTestHelper{t, alice, bob}
	h.BobToAlice("1")
	h.AliceToBob("2")

	// Act.
	frame, err := bob.Send([]byte("3"), 0)
	require.Nil(t, err)
	dm, err := DecodeDataMessage(frame)
	require.Nil(t, err)

	// Assert.
	require.NotNil(t, dm.DH)
	require.Zero(t, dm.DH.Cmp(bob.KeyManager().OurDH()))
	d, err := alice.Receive(frame)
	require.Nil(t, err)
	require.Equal(t, []byte("3"), d.Message)
}

func TestConversation_Resume(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)
	h := ConversationTestHelper{t, alice, bob}
	h.AliceToBob("before")
	old := bob.KeyManager()
	blob, err := old.MarshalBinary()
	require.Nil(t, err)
	km, err := Restore(blob)
	require.Nil(t, err)

	// Act.
	err = bob.Resume(km)

	// Assert.
	require.Nil(t, err)
	require.Nil(t, old.current)
	h.BobToAlice("after")
	h.AliceToBob("and again")
}

func TestConversation_Receive_ForgedECDH(t *testing.T) {
	for name, bit := range map[string]int{
		"low bit":  0,
		"sign bit": 8*ECPointSize - 1,
	} {
		t.Run(name, func(t *testing.T) {
			// Arrange.
			alice, bob := newConversations(t)
			frame, err := alice.Send([]byte("hi"), 0)
			require.Nil(t, err)
			before, err := bob.KeyManager().MarshalBinary()
			require.Nil(t, err)

			// Act.
			frame[16+bit/8] ^= 1 << (bit % 8)
			_, err = bob.Receive(frame)

			// Assert.
			require.True(t, errors.Is(err, ErrInvalidKeyMaterial) || errors.Is(err, ErrAuthenticationFailure), "%v", err)
			after, err := bob.KeyManager().MarshalBinary()
			require.Nil(t, err)
			require.Equal(t, before, after)
		})
	}
}

func TestConversation_TLVs(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)
	smp := TLV{Type: TLVSMPMessage1, Data: []byte("opaque smp")}

	// Act.
	frame, err := alice.Send([]byte("hello"), 0, smp)
	require.Nil(t, err)
	d, err := bob.Receive(frame)

	// Assert.
	require.Nil(t, err)
	require.Equal(t, []byte("hello"), d.Message)
	require.Equal(t, []TLV{smp}, d.TLVs)
}

func TestConversation_ExtraSymmetricKey(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)
	h := ConversationTestHelper{t, alice, bob}
	h.AliceToBob("warm up")
	tlv, err := NewExtraSymmetricKeyTLV(1, []byte("file.txt"))
	require.Nil(t, err)

	// Act.
	frame, err := bob.Send(nil, 0, tlv)
	require.Nil(t, err)
	sent := bob.KeyManager().ExtraKey()
	d, err := alice.Receive(frame)
	require.Nil(t, err)

	// Assert.
	got, ok := d.Find(TLVExtraSymmetricKey)
	require.True(t, ok)
	use, context, err := got.ExtraSymmetricKeyUse()
	require.Nil(t, err)
	require.EqualValues(t, 1, use)
	require.Equal(t, []byte("file.txt"), context)
	require.NotEqual(t, [ExtraKeySize]byte{}, sent)
	require.Equal(t, sent, alice.KeyManager().ExtraKey())
}

func TestConversation_Padding(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)
	require.Nil(t, WithPadding()(alice))

	for _, n := range []int{0, 10, 300} {
		msg := make([]byte, n)
		for i := range msg {
			msg[i] = 'x'
		}

		// Act.
		frame, err := alice.Send(msg, 0)
		require.Nil(t, err)
		dm, err := DecodeDataMessage(frame)
		require.Nil(t, err)
		d, err := bob.Receive(frame)

		// Assert.
		require.Nil(t, err)
		require.Zero(t, len(dm.Payload)%paddingGranularity)
		require.Equal(t, msg, d.Message)
		_, ok := d.Find(TLVPadding)
		require.True(t, ok)
	}
}

func TestConversation_Disconnect(t *testing.T) {
	// Arrange.
	alice, bob := newConversations(t)

	// Act.
	frame, err := alice.Disconnect()
	require.Nil(t, err)
	dm, err := DecodeDataMessage(frame)
	require.Nil(t, err)
	d, err := bob.Receive(frame)

	// Assert.
	require.Nil(t, err)
	require.Equal(t, FlagIgnoreUnreadable, dm.Flags)
	require.Empty(t, d.Message)
	_, ok := d.Find(TLVDisconnected)
	require.True(t, ok)
}

func TestConversation_Send_MessageWithNUL(t *testing.T) {
	// Arrange.
	alice, _ := newConversations(t)

	// Act.
	_, err := alice.Send([]byte("a\x00b"), 0)

	// Assert.
	require.ErrorIs(t, err, ErrInvalidWireFormat)
	_, j := alice.KeyManager().Counters()
	require.EqualValues(t, 1, j)
}

// countingMACKeysStorage records how the key manager uses its store.
type countingMACKeysStorage struct {
	MACKeysStorageInMemory
	puts, alls, wipes int
}

func (s *countingMACKeysStorage) Put(mk [MACKeySize]byte) {
	s.puts++
	s.MACKeysStorageInMemory.Put(mk)
}

func (s *countingMACKeysStorage) All() [][MACKeySize]byte {
	s.alls++
	return s.MACKeysStorageInMemory.All()
}

func (s *countingMACKeysStorage) Wipe() {
	s.wipes++
	s.MACKeysStorageInMemory.Wipe()
}

func TestConversation_MACKeysStorage_AppendOnly(t *testing.T) {
	// Arrange.
	var (
		alice, bob = newConversations(t)
		store      = &countingMACKeysStorage{}
		h          = ConversationTestHelper{t, alice, bob}
	)
	require.Nil(t, WithMACKeysStorage(store)(alice.KeyManager()))

	// Act.
	for i := 0; i < 50; i++ {
		h.AliceToBob("counted")
	}
	h.BobToAlice("reply")
	h.AliceToBob("new ratchet")

	// Assert.
	require.Equal(t, 51, store.puts)
	require.Zero(t, store.alls)
	require.Zero(t, store.wipes)
	require.Same(t, store, alice.KeyManager().oldMACKeys)
	require.Len(t, alice.KeyManager().SerializeOldMACKeys(), 51*MACKeySize)
}

func TestConversation_Send_CostDoesNotGrow(t *testing.T) {
	// Arrange.
	var (
		alice, _ = newConversations(t)
		msg      = []byte("again")
		err      error
	)
	send := func() { _, err = alice.Send(msg, 0) }
	for i := 0; i < 300; i++ {
		send()
	}
	require.Nil(t, err)

	// Act.
	early := testing.AllocsPerRun(100, send)
	for i := 0; i < 3000; i++ {
		send()
	}
	late := testing.AllocsPerRun(100, send)

	// Assert.
	require.Nil(t, err)
	require.LessOrEqual(t, late, early+2)
	require.GreaterOrEqual(t, alice.KeyManager().oldMACKeys.Count(), uint(3400))
	km := alice.KeyManager()
	mc, err := decideBetweenChainKeys(km.current, km.ourECDH.Public, km.theirECDH)
	require.Nil(t, err)
	_, j := km.Counters()
	require.Equal(t, mc.sending.last().ID+1, j)
}

type ConversationTestHelper struct {
	t *testing.T

	alice *Conversation
	bob   *Conversation
}

func (h ConversationTestHelper) AliceToBob(msg string) {
	var (
		msgByte    = []byte(msg)
		frame, err = h.alice.Send(msgByte, 0)
	)
	require.Nil(h.t, err)
	d, err := h.bob.Receive(frame)
	require.Nil(h.t, err)
	require.EqualValues(h.t, msgByte, d.Message)
}

func (h ConversationTestHelper) BobToAlice(msg string) {
	var (
		msgByte    = []byte(msg)
		frame, err = h.bob.Send(msgByte, 0)
	)
	require.Nil(h.t, err)
	d, err := h.alice.Receive(frame)
	require.Nil(h.t, err)
	require.EqualValues(h.t, msgByte, d.Message)
}
