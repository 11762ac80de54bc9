package braceratchet

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/salsa20"
	"gopkg.in/op/go-logging.v1"
)

// Conversation encrypts and decrypts data messages between two client
// instances on top of an initialized KeyManager.
//
// Operations on this object are NOT THREAD-SAFE, make sure they're done in sequence.
type Conversation struct {
	km       *KeyManager
	ourTag   uint32
	theirTag uint32

	log     *logging.Logger
	nonces  io.Reader
	padding bool
}

// ConversationOption is a Conversation constructor option.
type ConversationOption func(*Conversation) error

// WithConversationLogger sets the logger send and receive failures are
// reported to.
func WithConversationLogger(l *logging.Logger) ConversationOption {
	return func(c *Conversation) error {
		if l == nil {
			return fmt.Errorf("logger must not be nil")
		}
		c.log = l
		return nil
	}
}

// WithPadding makes every sent payload carry a padding TLV that rounds its
// length up to a multiple of 256 bytes.
func WithPadding() ConversationOption {
	return func(c *Conversation) error {
		c.padding = true
		return nil
	}
}

// WithNonceSource sets the reader message nonces and padding are drawn from.
func WithNonceSource(r io.Reader) ConversationOption {
	return func(c *Conversation) error {
		if r == nil {
			return fmt.Errorf("nonce source must not be nil")
		}
		c.nonces = r
		return nil
	}
}

// NewConversation binds km to the pair of instance tags.
func NewConversation(km *KeyManager, ourTag, theirTag uint32, opts ...ConversationOption) (*Conversation, error) {
	if km == nil {
		return nil, fmt.Errorf("key manager must not be nil")
	}
	if !ValidInstanceTag(ourTag) || !ValidInstanceTag(theirTag) {
		return nil, ErrInvalidInstanceTag
	}
	c := &Conversation{
		km:       km,
		ourTag:   ourTag,
		theirTag: theirTag,
		log:      km.log,
		nonces:   rand.Reader,
	}
	for i := range opts {
		if err := opts[i](c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return c, nil
}

// KeyManager returns the key manager the conversation advances.
func (c *Conversation) KeyManager() *KeyManager { return c.km }

// Send encrypts message, followed by tlvs, into a data message frame. The
// key manager only advances when the whole frame was built.
func (c *Conversation) Send(message []byte, flags uint8, tlvs ...TLV) ([]byte, error) {
	payload := &Payload{Message: message, TLVs: append([]TLV(nil), tlvs...)}
	if c.padding {
		if err := payload.pad(c.nonces); err != nil {
			return nil, err
		}
	}
	plaintext, err := payload.Encode()
	if err != nil {
		return nil, err
	}
	defer Wipe(plaintext)

	sc := c.km.fork()

	if err := sc.PrepareNextSendingKey(); err != nil {
		sc.Destroy()
		return nil, fmt.Errorf("can't prepare sending key: %w", err)
	}
	keys, err := sc.RetrieveSendingKeys()
	if err != nil {
		sc.Destroy()
		return nil, fmt.Errorf("can't retrieve sending keys: %w", err)
	}
	defer keys.Wipe()

	dm := &DataMessage{
		SenderTag:   c.ourTag,
		ReceiverTag: c.theirTag,
		Flags:       flags,
		MessageID:   keys.ID,
		ECDH:        sc.OurECDH(),
		Payload:     make([]byte, len(plaintext)),
	}
	defer dm.Destroy()
	if sc.BraceRefresh() {
		dm.DH = sc.OurDH()
	}
	if _, err := io.ReadFull(c.nonces, dm.Nonce[:]); err != nil {
		sc.Destroy()
		return nil, fmt.Errorf("couldn't generate nonce: %w", err)
	}
	salsa20.XORKeyStream(dm.Payload, plaintext, dm.Nonce[:], &keys.Enc)

	if err := dm.Authenticate(keys.MAC); err != nil {
		sc.Destroy()
		return nil, err
	}
	frame, err := dm.Encode()
	if err != nil {
		sc.Destroy()
		return nil, err
	}

	c.km.commit(sc)
	i, _ := c.km.Counters()
	c.log.Debugf("sent message %d of ratchet %d", keys.ID, i)
	return frame, nil
}

// Disconnect returns a frame telling the peer the conversation is over. It
// carries no message text, only a disconnected TLV.
func (c *Conversation) Disconnect() ([]byte, error) {
	return c.Send(nil, FlagIgnoreUnreadable, TLV{Type: TLVDisconnected})
}

// Receive authenticates and decrypts a data message frame. The key manager
// is left untouched unless the message is accepted. When the payload carries
// an extra symmetric key TLV, the key for it is KeyManager().ExtraKey().
func (c *Conversation) Receive(frame []byte) (*Payload, error) {
	dm, err := DecodeDataMessage(frame)
	if err != nil {
		c.log.Warningf("dropping malformed message: %v", err)
		return nil, err
	}
	defer dm.Destroy()

	if err := checkInstanceTags(dm.SenderTag, dm.ReceiverTag, c.theirTag, c.ourTag); err != nil {
		c.log.Warningf("dropping message: %v", err)
		return nil, err
	}

	// All changes must be applied on a different key manager object, so
	// that this one won't be modified nor left in a dirty state.
	sc := c.km.fork()

	payload, err := c.open(sc, dm)
	if err != nil {
		sc.Destroy()
		c.log.Warningf("dropping message %d: %v", dm.MessageID, err)
		return nil, err
	}

	c.km.commit(sc)
	if _, ok := payload.Find(TLVDisconnected); ok {
		c.log.Debugf("peer disconnected")
	}
	return payload, nil
}

func (c *Conversation) open(sc *KeyManager, dm *DataMessage) (*Payload, error) {
	if dm.ECDH != sc.TheirECDH() || dm.DH != nil {
		if err := sc.SetTheirKeys(dm.ECDH, dm.DH); err != nil {
			return nil, fmt.Errorf("can't accept sender keys: %w", err)
		}
	}
	if err := sc.EnsureOnRatchet(); err != nil {
		return nil, fmt.Errorf("can't perform ratchet step: %w", err)
	}

	keys, err := sc.RetrieveReceivingKeys(dm.MessageID)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()

	if err := dm.IsValid(keys.MAC, sc.crypto); err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(dm.Payload))
	defer Wipe(plaintext)
	salsa20.XORKeyStream(plaintext, dm.Payload, dm.Nonce[:], &keys.Enc)
	return DecodePayload(plaintext), nil
}

// Resume makes the conversation continue on km, typically a key manager
// loaded from a SessionStorage. The previous key manager is destroyed.
func (c *Conversation) Resume(km *KeyManager) error {
	if km == nil {
		return fmt.Errorf("key manager must not be nil")
	}
	if km == c.km {
		return nil
	}
	if c.km.oldMACKeys == km.oldMACKeys {
		// Both were given the same store; it now belongs to km.
		c.km.oldMACKeys = nil
	}
	c.km.Destroy()
	c.km = km
	return nil
}
