package braceratchet

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

const snapshotVersion = 1

type snapshotChain struct {
	First uint32
	ID    uint32
	Key   []byte
}

// snapshot is the serialized form of a KeyManager. Every field is a plain
// byte slice so that lengths are checked on import rather than trusted.
type snapshot struct {
	Version uint8

	OurECDHPrivate []byte
	OurECDHPublic  []byte
	OurDHPrivate   []byte
	OurDHPublic    []byte
	TheirECDH      []byte
	TheirDH        []byte

	I uint32
	J uint32

	HasRatchet bool
	RootKey    []byte
	ChainA     snapshotChain
	ChainB     snapshotChain

	BraceKey  []byte
	SSID      []byte
	SSIDHalf  uint8
	ExtraKey  []byte
	TmpKey    []byte
	HasTmpKey bool

	OldMACKeys [][]byte

	MaxSkip        uint32
	PendingRatchet bool
	Initialized    bool
}

func (s *snapshot) wipe() {
	for _, b := range [][]byte{s.OurECDHPrivate, s.OurDHPrivate, s.RootKey, s.BraceKey, s.ExtraKey, s.TmpKey} {
		Wipe(b)
	}
	Wipe(s.ChainA.Key)
	Wipe(s.ChainB.Key)
	for _, k := range s.OldMACKeys {
		Wipe(k)
	}
}

func exportChain(c *chain) snapshotChain {
	return snapshotChain{First: c.First, ID: c.Head.ID, Key: append([]byte(nil), c.Head.Key[:]...)}
}

func importChain(sc snapshotChain) (chain, error) {
	if len(sc.Key) != ChainKeySize || sc.ID < sc.First {
		return chain{}, fmt.Errorf("%w: malformed chain", ErrInvalidWireFormat)
	}
	c := chain{First: sc.First, Head: chainLink{ID: sc.ID}}
	copy(c.Head.Key[:], sc.Key)
	return c, nil
}

func intBytes(x *big.Int) []byte {
	if x == nil {
		return nil
	}
	return x.Bytes()
}

func bytesInt(b []byte) *big.Int {
	if len(b) == 0 {
		return nil
	}
	return new(big.Int).SetBytes(b)
}

// MarshalBinary serializes the full ratchet state, secrets included. The
// caller must Wipe the result once it is stored.
func (m *KeyManager) MarshalBinary() ([]byte, error) {
	s := &snapshot{
		Version:        snapshotVersion,
		TheirECDH:      append([]byte(nil), m.theirECDH[:]...),
		TheirDH:        intBytes(m.theirDH),
		I:              m.i,
		J:              m.j,
		BraceKey:       append([]byte(nil), m.braceKey[:]...),
		SSID:           append([]byte(nil), m.ssid[:]...),
		SSIDHalf:       uint8(m.ssidHalf),
		ExtraKey:       append([]byte(nil), m.extraKey[:]...),
		HasTmpKey:      m.hasTmpKey,
		MaxSkip:        m.maxSkip,
		PendingRatchet: m.pendingRatchet,
		Initialized:    m.initialized,
	}
	defer s.wipe()

	if m.ourECDH != nil {
		s.OurECDHPrivate = append([]byte(nil), m.ourECDH.Private[:]...)
		s.OurECDHPublic = append([]byte(nil), m.ourECDH.Public[:]...)
	}
	if m.ourDH != nil {
		s.OurDHPrivate = intBytes(m.ourDH.Private)
		s.OurDHPublic = intBytes(m.ourDH.Public)
	}
	if m.current != nil {
		s.HasRatchet = true
		s.RootKey = append([]byte(nil), m.current.RootKey[:]...)
		s.ChainA = exportChain(&m.current.ChainA)
		s.ChainB = exportChain(&m.current.ChainB)
	}
	if m.hasTmpKey {
		s.TmpKey = append([]byte(nil), m.tmpKey[:]...)
	}
	for _, k := range m.oldMACKeys.All() {
		s.OldMACKeys = append(s.OldMACKeys, append([]byte(nil), k[:]...))
	}

	return cbor.Marshal(s)
}

// UnmarshalBinary replaces the state of m with a snapshot produced by
// MarshalBinary. The primitive provider, logger and MAC keys store of m are
// kept; the store is refilled with the snapshot's keys. data is not
// modified; the caller wipes it.
func (m *KeyManager) UnmarshalBinary(data []byte) error {
	s := new(snapshot)
	if err := cbor.Unmarshal(data, s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWireFormat, err)
	}
	defer s.wipe()

	if m.crypto == nil {
		m.crypto = DefaultCrypto{}
	}
	if m.log == nil {
		m.log = discardLogger()
	}
	if m.oldMACKeys == nil {
		m.oldMACKeys = &MACKeysStorageInMemory{}
	}

	if err := m.checkSnapshot(s); err != nil {
		return err
	}

	var current *ratchet
	if s.HasRatchet {
		a, err := importChain(s.ChainA)
		if err != nil {
			return err
		}
		b, err := importChain(s.ChainB)
		if err != nil {
			a.wipe()
			return err
		}
		current = &ratchet{ChainA: a, ChainB: b}
		copy(current.RootKey[:], s.RootKey)

		var ourECDH, theirECDH ECPoint
		copy(ourECDH[:], s.OurECDHPublic)
		copy(theirECDH[:], s.TheirECDH)
		mc, err := decideBetweenChainKeys(current, ourECDH, theirECDH)
		if err != nil {
			current.destroy()
			return fmt.Errorf("%w: %v", ErrInvalidWireFormat, err)
		}
		// j is zero before a new ratchet and otherwise sits on the sending
		// frontier or right after it.
		if head := mc.sending.Head.ID; s.J != 0 && s.J != head && s.J != head+1 {
			current.destroy()
			return fmt.Errorf("%w: sending position %d off chain at %d", ErrInvalidWireFormat, s.J, head)
		}
	}

	storage := m.oldMACKeys
	m.oldMACKeys = nil
	m.Destroy()
	m.oldMACKeys = storage

	m.ourECDH = &ECDHKeypair{}
	copy(m.ourECDH.Private[:], s.OurECDHPrivate)
	copy(m.ourECDH.Public[:], s.OurECDHPublic)
	m.ourDH = &DHKeypair{Private: bytesInt(s.OurDHPrivate), Public: bytesInt(s.OurDHPublic)}
	copy(m.theirECDH[:], s.TheirECDH)
	m.theirDH = bytesInt(s.TheirDH)
	m.i, m.j = s.I, s.J
	m.current = current
	copy(m.braceKey[:], s.BraceKey)
	copy(m.ssid[:], s.SSID)
	m.ssidHalf = SSIDHalf(s.SSIDHalf)
	copy(m.extraKey[:], s.ExtraKey)
	m.hasTmpKey = s.HasTmpKey
	copy(m.tmpKey[:], s.TmpKey)
	for _, k := range s.OldMACKeys {
		var mk [MACKeySize]byte
		copy(mk[:], k)
		m.oldMACKeys.Put(mk)
		Wipe(mk[:])
	}
	m.maxSkip = s.MaxSkip
	m.pendingRatchet = s.PendingRatchet
	m.initialized = s.Initialized
	return nil
}

// checkSnapshot validates s the way the handshake and SetTheirKeys validate
// live input, so that a restored manager never holds state the operations
// can't work on.
func (m *KeyManager) checkSnapshot(s *snapshot) error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("%w: snapshot version %d", ErrInvalidWireFormat, s.Version)
	}
	if len(s.OurECDHPrivate) != ECScalarSize || len(s.OurECDHPublic) != ECPointSize ||
		len(s.TheirECDH) != ECPointSize || len(s.BraceKey) != BraceKeySize ||
		len(s.SSID) != SSIDSize || len(s.ExtraKey) != ExtraKeySize ||
		len(s.OurDHPublic) == 0 {
		return fmt.Errorf("%w: malformed snapshot", ErrInvalidWireFormat)
	}
	if s.HasTmpKey && len(s.TmpKey) != TemporaryKeySize {
		return fmt.Errorf("%w: malformed temporary key", ErrInvalidWireFormat)
	}
	for _, k := range s.OldMACKeys {
		if len(k) != MACKeySize {
			return fmt.Errorf("%w: malformed mac key", ErrInvalidWireFormat)
		}
	}

	var ourECDH, theirECDH ECPoint
	copy(ourECDH[:], s.OurECDHPublic)
	copy(theirECDH[:], s.TheirECDH)
	if !m.crypto.ValidPoint(ourECDH) || !m.crypto.ValidDH(bytesInt(s.OurDHPublic)) {
		return fmt.Errorf("%w: invalid local public key", ErrInvalidWireFormat)
	}
	if !theirECDH.IsZero() && !m.crypto.ValidPoint(theirECDH) {
		return fmt.Errorf("%w: invalid peer ecdh key", ErrInvalidWireFormat)
	}
	if len(s.TheirDH) != 0 && !m.crypto.ValidDH(bytesInt(s.TheirDH)) {
		return fmt.Errorf("%w: invalid peer dh key", ErrInvalidWireFormat)
	}

	if s.Initialized != s.HasRatchet {
		return fmt.Errorf("%w: initialized without a ratchet", ErrInvalidWireFormat)
	}
	if !s.Initialized {
		if s.SSIDHalf != 0 {
			return fmt.Errorf("%w: ssid half before init", ErrInvalidWireFormat)
		}
		return nil
	}
	if len(s.RootKey) != RootKeySize {
		return fmt.Errorf("%w: malformed root key", ErrInvalidWireFormat)
	}
	if theirECDH.IsZero() || len(s.TheirDH) == 0 {
		return fmt.Errorf("%w: peer keys missing", ErrInvalidWireFormat)
	}
	if half := SSIDHalf(s.SSIDHalf); half != SSIDFirstHalfBold && half != SSIDSecondHalfBold {
		return fmt.Errorf("%w: ssid half %d", ErrInvalidWireFormat, s.SSIDHalf)
	}
	return nil
}

// Restore builds a key manager from a MarshalBinary snapshot. opts select
// the primitive provider and logger; the ratchet state, maxSkip included,
// comes from data.
func Restore(data []byte, opts ...Option) (*KeyManager, error) {
	m := &KeyManager{
		crypto:     DefaultCrypto{},
		log:        discardLogger(),
		oldMACKeys: &MACKeysStorageInMemory{},
	}
	for i := range opts {
		if err := opts[i](m); err != nil {
			m.Destroy()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if err := m.UnmarshalBinary(data); err != nil {
		m.Destroy()
		return nil, err
	}
	return m, nil
}
