package braceratchet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// MinInstanceTag is the smallest instance tag a client may use. Smaller
// values are reserved; zero addresses any instance of the receiver.
const MinInstanceTag uint32 = 0x00000100

// ValidInstanceTag reports whether tag identifies a client instance.
func ValidInstanceTag(tag uint32) bool {
	return tag >= MinInstanceTag
}

// GenerateInstanceTag draws a random valid instance tag from r, or from
// crypto/rand.Reader if r is nil.
func GenerateInstanceTag(r io.Reader) (uint32, error) {
	if r == nil {
		r = rand.Reader
	}
	var b [4]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("couldn't generate instance tag: %w", err)
		}
		if tag := binary.BigEndian.Uint32(b[:]); ValidInstanceTag(tag) {
			return tag, nil
		}
	}
}

// checkInstanceTags verifies the tags of an inbound message addressed from
// their to our. A receiver tag of zero is accepted.
func checkInstanceTags(sender, receiver, their, our uint32) error {
	if !ValidInstanceTag(sender) || sender != their {
		return fmt.Errorf("%w: unexpected sender %#08x", ErrInvalidInstanceTag, sender)
	}
	if receiver != 0 && receiver != our {
		return fmt.Errorf("%w: unexpected receiver %#08x", ErrInvalidInstanceTag, receiver)
	}
	return nil
}
