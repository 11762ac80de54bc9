package braceratchet

import (
	"fmt"
	"io"

	"gopkg.in/op/go-logging.v1"
)

// Option is a KeyManager constructor option.
type Option func(*KeyManager) error

// WithMaxSkip specifies the maximum number of positions a receiving chain
// may jump forward for a single message.
func WithMaxSkip(n int) Option {
	return func(m *KeyManager) error {
		if n < 0 {
			return fmt.Errorf("n must be non-negative")
		}
		m.maxSkip = uint32(n)
		return nil
	}
}

// WithCrypto replaces the primitive provider.
func WithCrypto(c Crypto) Option {
	return func(m *KeyManager) error {
		if c == nil {
			return fmt.Errorf("crypto must not be nil")
		}
		m.crypto = c
		return nil
	}
}

// WithLogger sets the logger ratchet transitions are reported to.
func WithLogger(l *logging.Logger) Option {
	return func(m *KeyManager) error {
		if l == nil {
			return fmt.Errorf("logger must not be nil")
		}
		m.log = l
		return nil
	}
}

// WithEphemeralKeys makes the manager start from keypairs produced by the
// handshake instead of generating its own. Ownership passes to the manager.
func WithEphemeralKeys(ecdh *ECDHKeypair, dh *DHKeypair) Option {
	return func(m *KeyManager) error {
		if ecdh == nil || dh == nil {
			return fmt.Errorf("ephemeral keypairs must not be nil")
		}
		if !ecdh.HasPrivate() || !dh.HasPrivate() {
			return fmt.Errorf("ephemeral keypairs must carry private keys")
		}
		m.ourECDH = ecdh
		m.ourDH = dh
		return nil
	}
}

// WithMACKeysStorage replaces the store spent MAC keys are kept in. The
// manager only ever appends to s: each spent key is Put once, and the store
// is kept across Conversation commits and snapshot restores.
func WithMACKeysStorage(s MACKeysStorage) Option {
	return func(m *KeyManager) error {
		if s == nil {
			return fmt.Errorf("storage must not be nil")
		}
		m.oldMACKeys = s
		return nil
	}
}

// WithRand makes the default primitive provider draw entropy from r.
func WithRand(r io.Reader) Option {
	return func(m *KeyManager) error {
		if r == nil {
			return fmt.Errorf("rand must not be nil")
		}
		m.crypto = DefaultCrypto{Rand: r}
		return nil
	}
}
