package braceratchet

import (
	"fmt"
	"math/big"

	"gopkg.in/op/go-logging.v1"
)

const (
	SSIDSize         = 8
	BraceKeySize     = 32
	EncKeySize       = 32
	MACKeySize       = 64
	ExtraKeySize     = 64
	TemporaryKeySize = 64

	// braceRotation is the ratchet cadence at which the finite-field keys
	// and the brace key are refreshed.
	braceRotation = 3

	defaultMaxSkip = 1000
)

// SSIDHalf tells which half of the session id is ours to display in bold.
type SSIDHalf uint8

const (
	SSIDFirstHalfBold SSIDHalf = iota + 1
	SSIDSecondHalfBold
)

// MessageKeys are the keys protecting a single data message. The caller owns
// them and must Wipe them once the message is processed.
type MessageKeys struct {
	ID  uint32
	Enc [EncKeySize]byte
	MAC [MACKeySize]byte
}

// Wipe erases the keys.
func (k *MessageKeys) Wipe() {
	Wipe(k.Enc[:])
	Wipe(k.MAC[:])
}

// KeyManager owns the ratchet state of one conversation.
//
// Operations on this object are NOT THREAD-SAFE, make sure they're done in sequence.
type KeyManager struct {
	crypto  Crypto
	log     *logging.Logger
	maxSkip uint32

	ourECDH   *ECDHKeypair
	ourDH     *DHKeypair
	theirECDH ECPoint
	theirDH   *big.Int

	// i counts ratchets, j is the next sending position in the current one.
	i, j uint32

	current  *ratchet
	braceKey [BraceKeySize]byte
	ssid     [SSIDSize]byte
	ssidHalf SSIDHalf
	extraKey [ExtraKeySize]byte

	tmpKey    [TemporaryKeySize]byte
	hasTmpKey bool

	oldMACKeys MACKeysStorage

	// pendingRatchet is set when the peer announced a new ECDH key that
	// EnsureOnRatchet has not yet consumed.
	pendingRatchet bool
	initialized    bool
}

// New creates a key manager holding fresh ephemeral keypairs, or the ones
// given with WithEphemeralKeys.
func New(opts ...Option) (*KeyManager, error) {
	m := &KeyManager{
		crypto:     DefaultCrypto{},
		log:        discardLogger(),
		maxSkip:    defaultMaxSkip,
		oldMACKeys: &MACKeysStorageInMemory{},
	}

	for i := range opts {
		if err := opts[i](m); err != nil {
			m.Destroy()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if m.ourECDH == nil {
		ecdh, err := m.crypto.GenerateECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to generate ecdh pair: %v", ErrDerivationFailure, err)
		}
		dh, err := m.crypto.GenerateDH()
		if err != nil {
			ecdh.DestroyPrivate()
			return nil, fmt.Errorf("%w: failed to generate dh pair: %v", ErrDerivationFailure, err)
		}
		m.ourECDH, m.ourDH = ecdh, dh
	}
	return m, nil
}

// OurECDH returns our current ECDH public key.
func (m *KeyManager) OurECDH() ECPoint { return m.ourECDH.Public }

// OurDH returns a copy of our current DH public key.
func (m *KeyManager) OurDH() *big.Int { return copyInt(m.ourDH.Public) }

// TheirECDH returns the peer's latest ECDH public key.
func (m *KeyManager) TheirECDH() ECPoint { return m.theirECDH }

// SSID returns the session id.
func (m *KeyManager) SSID() [SSIDSize]byte { return m.ssid }

// SSIDHalf returns which half of the session id is ours.
func (m *KeyManager) SSIDHalf() SSIDHalf { return m.ssidHalf }

// ExtraKey returns the extra symmetric key derived with the last message keys.
func (m *KeyManager) ExtraKey() [ExtraKeySize]byte { return m.extraKey }

// Counters returns the ratchet counter i and the sending position j.
func (m *KeyManager) Counters() (i, j uint32) { return m.i, m.j }

// BraceRefresh reports whether the current ratchet refreshed the brace key
// from a new finite-field exchange.
func (m *KeyManager) BraceRefresh() bool { return m.i%braceRotation == 0 }

// SetTemporaryKey stores the key the non-interactive handshake agreed on.
func (m *KeyManager) SetTemporaryKey(k []byte) error {
	if len(k) != TemporaryKeySize {
		return fmt.Errorf("%w: temporary key must be %d bytes", ErrInvalidKeyMaterial, TemporaryKeySize)
	}
	copy(m.tmpKey[:], k)
	m.hasTmpKey = true
	return nil
}

// SetTheirKeys records the peer's ephemeral public keys. A nil dh keeps the
// previous finite-field key.
func (m *KeyManager) SetTheirKeys(ecdh ECPoint, dh *big.Int) error {
	if !m.crypto.ValidPoint(ecdh) {
		return fmt.Errorf("%w: invalid ecdh public key", ErrInvalidKeyMaterial)
	}
	if dh != nil && !m.crypto.ValidDH(dh) {
		return fmt.Errorf("%w: invalid dh public key", ErrInvalidKeyMaterial)
	}
	if m.initialized && ecdh != m.theirECDH {
		m.pendingRatchet = true
	}
	m.theirECDH = ecdh
	if dh != nil {
		m.theirDH = copyInt(dh)
	}
	return nil
}

// Init derives the session id and the first ratchet from the handshake
// keys. position is the first sending position: 0 makes the first send start
// a new ratchet, 1 sends on the initial one.
func (m *KeyManager) Init(position uint32, interactive bool) error {
	if position > 1 {
		return fmt.Errorf("%w: starting position %d", ErrInconsistentState, position)
	}
	if m.theirECDH.IsZero() || m.theirDH == nil {
		return fmt.Errorf("%w: peer keys are not set", ErrInvalidKeyMaterial)
	}
	if !interactive && !m.hasTmpKey {
		return fmt.Errorf("%w: temporary key is not set", ErrInvalidKeyMaterial)
	}

	kECDH, err := m.crypto.ECDH(m.ourECDH, m.theirECDH)
	if err != nil {
		return fmt.Errorf("can't compute ecdh: %w", err)
	}
	defer Wipe(kECDH)

	brace, err := m.nextBraceKey(0, m.ourDH)
	if err != nil {
		return err
	}
	defer Wipe(brace[:])

	shared := make([]byte, SharedSecretSize)
	defer Wipe(shared)
	if interactive {
		hashWithDomain(shared, kECDH, brace[:])
	} else {
		hashWithDomain(shared, m.tmpKey[:])
	}

	r := deriveRatchet(nil, shared)
	if _, err := decideBetweenChainKeys(r, m.ourECDH.Public, m.theirECDH); err != nil {
		r.destroy()
		return err
	}

	var ssid [32]byte
	kdf(ssid[:], usageSSID, shared)
	copy(m.ssid[:], ssid[:SSIDSize])
	Wipe(ssid[:])
	if m.ourDH.Public.Cmp(m.theirDH) > 0 {
		m.ssidHalf = SSIDSecondHalfBold
	} else {
		m.ssidHalf = SSIDFirstHalfBold
	}

	m.commitRatchet(0, r, brace)
	Wipe(m.tmpKey[:])
	m.hasTmpKey = false
	m.j = position
	m.pendingRatchet = false
	m.initialized = true
	m.log.Debugf("initialized ratchet 0 (interactive: %v, position: %d)", interactive, position)
	return nil
}

// PrepareToRatchet makes the next send start a new ratchet.
func (m *KeyManager) PrepareToRatchet() {
	m.j = 0
}

// PrepareNextSendingKey starts a new ratchet when j is zero and otherwise
// advances the sending chain by one position.
func (m *KeyManager) PrepareNextSendingKey() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.j == 0 {
		return m.rotateKeys()
	}
	mc, err := decideBetweenChainKeys(m.current, m.ourECDH.Public, m.theirECDH)
	if err != nil {
		return err
	}
	mc.sending.advance()
	return nil
}

// RetrieveSendingKeys returns the keys for the sending chain frontier and
// consumes sending position j.
func (m *KeyManager) RetrieveSendingKeys() (MessageKeys, error) {
	if !m.initialized {
		return MessageKeys{}, ErrNotInitialized
	}
	mc, err := decideBetweenChainKeys(m.current, m.ourECDH.Public, m.theirECDH)
	if err != nil {
		return MessageKeys{}, err
	}
	link := mc.sending.last()

	if link.ID != m.j {
		return MessageKeys{}, fmt.Errorf("%w: sending chain at %d, expected %d", ErrInconsistentState, link.ID, m.j)
	}

	keys := MessageKeys{ID: link.ID}
	m.deriveMessageKeys(&keys, link.Key[:])

	m.oldMACKeys.Put(keys.MAC)
	m.j++
	return keys, nil
}

// RetrieveReceivingKeys returns the keys for message id of the receiving
// chain, advancing the chain up to it. The frontier position may be
// requested again until the chain moves past it; earlier positions are gone.
func (m *KeyManager) RetrieveReceivingKeys(id uint32) (MessageKeys, error) {
	if !m.initialized {
		return MessageKeys{}, ErrNotInitialized
	}
	mc, err := decideBetweenChainKeys(m.current, m.ourECDH.Public, m.theirECDH)
	if err != nil {
		return MessageKeys{}, err
	}
	link, err := mc.receiving.advanceTo(id, m.maxSkip)
	if err != nil {
		return MessageKeys{}, fmt.Errorf("can't advance receiving chain to %d: %w", id, err)
	}

	keys := MessageKeys{ID: id}
	m.deriveMessageKeys(&keys, link.Key[:])
	return keys, nil
}

// EnsureOnRatchet completes the ratchet the peer started by announcing a
// new ECDH key. It does nothing when no such key is pending.
func (m *KeyManager) EnsureOnRatchet() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if !m.pendingRatchet {
		return nil
	}

	next := m.i + 1
	r, brace, err := m.enterNewRatchet(next, m.ourECDH, m.ourDH)
	if err != nil {
		return err
	}
	m.commitRatchet(next, r, brace)
	Wipe(brace[:])
	m.pendingRatchet = false
	m.j = 0

	// Our ECDH key takes part in no further ratchet. The DH key is only
	// spent on brace refresh steps.
	m.ourECDH.DestroyPrivate()
	if next%braceRotation == 0 {
		m.ourDH.DestroyPrivate()
	}
	return nil
}

// SerializeOldMACKeys returns the spent MAC keys, oldest first, and forgets them.
func (m *KeyManager) SerializeOldMACKeys() []byte {
	return m.oldMACKeys.Flush()
}

// Destroy wipes all secret state.
func (m *KeyManager) Destroy() {
	m.ourECDH.DestroyPrivate()
	m.ourDH.destroy()
	m.theirDH = nil
	m.current.destroy()
	m.current = nil
	Wipe(m.braceKey[:])
	Wipe(m.ssid[:])
	m.ssidHalf = 0
	Wipe(m.extraKey[:])
	Wipe(m.tmpKey[:])
	m.hasTmpKey = false
	if m.oldMACKeys != nil {
		m.oldMACKeys.Wipe()
	}
	m.initialized = false
}

// Clone returns a deep copy of the manager. The copy owns its own secrets,
// spent MAC keys included.
func (m *KeyManager) Clone() *KeyManager {
	c := m.fork()
	for _, k := range m.oldMACKeys.All() {
		c.oldMACKeys.Put(k)
	}
	return c
}

// fork returns a copy of the manager whose MAC keys store starts empty and
// only collects the keys spent on the copy. Committing it with commit
// appends them to the store of m.
func (m *KeyManager) fork() *KeyManager {
	c := *m
	c.ourECDH = m.ourECDH.clone()
	c.ourDH = m.ourDH.clone()
	c.theirDH = copyInt(m.theirDH)
	c.current = m.current.clone()
	c.oldMACKeys = &MACKeysStorageInMemory{}
	return &c
}

// commit replaces the state of m with next, which must be a fork of m that
// was advanced. The MAC keys store of m is kept and receives the keys spent
// on next.
func (m *KeyManager) commit(next *KeyManager) {
	storage := m.oldMACKeys
	for _, k := range next.oldMACKeys.All() {
		storage.Put(k)
	}
	next.oldMACKeys.Wipe()

	m.oldMACKeys = nil
	m.Destroy()
	*m = *next
	m.oldMACKeys = storage
}

// rotateKeys starts a ratchet with fresh local keys. Nothing is committed
// unless every derivation succeeds.
func (m *KeyManager) rotateKeys() error {
	next := m.i + 1

	ecdh, err := m.crypto.GenerateECDH()
	if err != nil {
		return fmt.Errorf("%w: failed to generate ecdh pair: %v", ErrDerivationFailure, err)
	}
	dh := m.ourDH
	var freshDH *DHKeypair
	if next%braceRotation == 0 {
		if freshDH, err = m.crypto.GenerateDH(); err != nil {
			ecdh.DestroyPrivate()
			return fmt.Errorf("%w: failed to generate dh pair: %v", ErrDerivationFailure, err)
		}
		dh = freshDH
	}

	r, brace, err := m.enterNewRatchet(next, ecdh, dh)
	if err != nil {
		ecdh.DestroyPrivate()
		freshDH.destroy()
		return err
	}
	if _, err := decideBetweenChainKeys(r, ecdh.Public, m.theirECDH); err != nil {
		r.destroy()
		Wipe(brace[:])
		ecdh.DestroyPrivate()
		freshDH.destroy()
		return err
	}

	m.ourECDH.DestroyPrivate()
	m.ourECDH = ecdh
	if freshDH != nil {
		m.ourDH.destroy()
		m.ourDH = freshDH
	}
	m.commitRatchet(next, r, brace)
	Wipe(brace[:])
	m.j = 0
	return nil
}

// enterNewRatchet derives ratchet i from our keys and the peer's.
func (m *KeyManager) enterNewRatchet(i uint32, ecdh *ECDHKeypair, dh *DHKeypair) (*ratchet, [BraceKeySize]byte, error) {
	var brace [BraceKeySize]byte

	kECDH, err := m.crypto.ECDH(ecdh, m.theirECDH)
	if err != nil {
		return nil, brace, fmt.Errorf("can't compute ecdh: %w", err)
	}
	defer Wipe(kECDH)

	if brace, err = m.nextBraceKey(i, dh); err != nil {
		return nil, brace, err
	}

	shared := make([]byte, SharedSecretSize)
	defer Wipe(shared)
	hashWithDomain(shared, kECDH, brace[:])

	var prevRoot []byte
	if i != 0 {
		prevRoot = m.current.RootKey[:]
	}
	m.log.Debugf("entering ratchet %d (brace refresh: %v)", i, i%braceRotation == 0)
	return deriveRatchet(prevRoot, shared), brace, nil
}

// nextBraceKey returns the brace key for ratchet i: a hash of a fresh DH
// value on refresh steps, a rehash of the current brace key otherwise.
func (m *KeyManager) nextBraceKey(i uint32, dh *DHKeypair) ([BraceKeySize]byte, error) {
	var brace [BraceKeySize]byte
	if i%braceRotation != 0 {
		hashSum(brace[:], m.braceKey[:])
		return brace, nil
	}
	kDH, err := m.crypto.DH(dh, m.theirDH)
	if err != nil {
		return brace, fmt.Errorf("can't compute dh: %w", err)
	}
	defer Wipe(kDH)
	hashSum(brace[:], kDH)
	return brace, nil
}

func (m *KeyManager) commitRatchet(i uint32, r *ratchet, brace [BraceKeySize]byte) {
	m.current.destroy()
	m.current = r
	m.braceKey = brace
	m.i = i
}

func (m *KeyManager) deriveMessageKeys(keys *MessageKeys, chainKey []byte) {
	kdf(keys.Enc[:], usageEncKey, chainKey)
	kdf(keys.MAC[:], usageMACKey, keys.Enc[:])
	kdf(m.extraKey[:], usageExtraKey, chainKey)
}
