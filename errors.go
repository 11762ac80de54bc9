package braceratchet

import "errors"

var (
	ErrInvalidWireFormat             = errors.New("braceratchet: invalid wire format")
	ErrInvalidKeyMaterial            = errors.New("braceratchet: invalid key material")
	ErrOutOfOrderUnrecoverable       = errors.New("braceratchet: message key already consumed")
	ErrAuthenticationFailure         = errors.New("braceratchet: message authentication failed")
	ErrDerivationFailure             = errors.New("braceratchet: key derivation failed")
	ErrInconsistentState             = errors.New("braceratchet: the state is inconsistent")
	ErrMessageExceedsReorderingLimit = errors.New("braceratchet: message exceeds reordering limit")
	ErrNotInitialized                = errors.New("braceratchet: key manager is not initialized")
	ErrInvalidInstanceTag            = errors.New("braceratchet: invalid instance tag")
	ErrSessionNotFound               = errors.New("braceratchet: session not found")
)
