package braceratchet

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"math/big"
)

const (
	ProtocolVersion uint16 = 0x0004
	DataMessageType uint8  = 0x03

	// FlagIgnoreUnreadable asks the receiver not to report a message it
	// can't decrypt.
	FlagIgnoreUnreadable uint8 = 0x01

	NonceSize  = 24
	MACTagSize = 64

	// dataMessageHeaderSize covers every fixed-size field before the DH key.
	dataMessageHeaderSize = 2 + 1 + 4 + 4 + 1 + 4 + ECPointSize
)

// DataMessage is a single encrypted message exchanged by the parties.
type DataMessage struct {
	SenderTag   uint32
	ReceiverTag uint32
	Flags       uint8
	MessageID   uint32

	// ECDH is the sender's current ratchet public key.
	ECDH ECPoint

	// DH is the sender's finite-field public key, or nil when the message
	// does not belong to a brace refresh ratchet.
	DH *big.Int

	Nonce   [NonceSize]byte
	Payload []byte
	MAC     [MACTagSize]byte
}

// Body returns the authenticated part of the message: every field but the MAC.
func (dm *DataMessage) Body() ([]byte, error) {
	var dh []byte
	if dm.DH != nil {
		if dm.DH.Sign() <= 0 || dm.DH.BitLen() > DHModulusSize*8 {
			return nil, fmt.Errorf("%w: dh public key out of range", ErrInvalidKeyMaterial)
		}
		dh = dm.DH.Bytes()
	}

	b := make([]byte, 0, dataMessageHeaderSize+4+len(dh)+NonceSize+4+len(dm.Payload)+MACTagSize)
	b = binary.BigEndian.AppendUint16(b, ProtocolVersion)
	b = append(b, DataMessageType)
	b = binary.BigEndian.AppendUint32(b, dm.SenderTag)
	b = binary.BigEndian.AppendUint32(b, dm.ReceiverTag)
	b = append(b, dm.Flags)
	b = binary.BigEndian.AppendUint32(b, dm.MessageID)
	b = append(b, dm.ECDH[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(dh)))
	b = append(b, dh...)
	b = append(b, dm.Nonce[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(dm.Payload)))
	b = append(b, dm.Payload...)
	return b, nil
}

// Encode returns the wire form of the message, MAC included.
func (dm *DataMessage) Encode() ([]byte, error) {
	b, err := dm.Body()
	if err != nil {
		return nil, err
	}
	return append(b, dm.MAC[:]...), nil
}

// Authenticate sets the MAC of the message under macKey.
func (dm *DataMessage) Authenticate(macKey [MACKeySize]byte) error {
	body, err := dm.Body()
	if err != nil {
		return err
	}
	kkdf(dm.MAC[:], macKey[:], body)
	return nil
}

// IsValid checks the MAC under macKey in constant time, then the group
// membership of the embedded keys. A forged message yields
// ErrAuthenticationFailure, an authentic one carrying bad keys yields
// ErrInvalidKeyMaterial.
func (dm *DataMessage) IsValid(macKey [MACKeySize]byte, c Crypto) error {
	body, err := dm.Body()
	if err != nil {
		return err
	}

	var expected [MACTagSize]byte
	defer Wipe(expected[:])
	kkdf(expected[:], macKey[:], body)
	if subtle.ConstantTimeCompare(expected[:], dm.MAC[:]) != 1 {
		return ErrAuthenticationFailure
	}

	if !c.ValidPoint(dm.ECDH) {
		return fmt.Errorf("%w: invalid ecdh public key", ErrInvalidKeyMaterial)
	}
	if dm.DH != nil && !c.ValidDH(dm.DH) {
		return fmt.Errorf("%w: invalid dh public key", ErrInvalidKeyMaterial)
	}
	return nil
}

// Destroy zeroes the payload and the MAC.
func (dm *DataMessage) Destroy() {
	Wipe(dm.Payload)
	dm.Payload = nil
	Wipe(dm.MAC[:])
	Wipe(dm.Nonce[:])
	dm.DH = nil
	dm.Flags = 0
}

// DecodeDataMessage parses the wire form of a data message.
func DecodeDataMessage(b []byte) (*DataMessage, error) {
	r := reader{b: b}

	version := r.u16()
	typ := r.u8()
	if r.err != nil {
		return nil, r.err
	}
	if version != ProtocolVersion {
		return nil, fmt.Errorf("%w: protocol version %#04x", ErrInvalidWireFormat, version)
	}
	if typ != DataMessageType {
		return nil, fmt.Errorf("%w: message type %#02x", ErrInvalidWireFormat, typ)
	}

	dm := &DataMessage{
		SenderTag:   r.u32(),
		ReceiverTag: r.u32(),
		Flags:       r.u8(),
		MessageID:   r.u32(),
	}
	r.copy(dm.ECDH[:])
	if dh := r.data(DHModulusSize); len(dh) > 0 {
		if dh[0] == 0 {
			return nil, fmt.Errorf("%w: non-minimal dh encoding", ErrInvalidWireFormat)
		}
		dm.DH = new(big.Int).SetBytes(dh)
	}
	r.copy(dm.Nonce[:])
	if payload := r.data(-1); payload != nil {
		dm.Payload = append([]byte{}, payload...)
	}
	r.copy(dm.MAC[:])

	if r.err != nil {
		return nil, r.err
	}
	if len(r.b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidWireFormat, len(r.b))
	}
	return dm, nil
}

// reader consumes big-endian fields, remembering the first failure.
type reader struct {
	b   []byte
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: truncated message", ErrInvalidWireFormat)
		return nil
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

func (r *reader) u8() uint8 {
	if v := r.next(1); v != nil {
		return v[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if v := r.next(2); v != nil {
		return binary.BigEndian.Uint16(v)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if v := r.next(4); v != nil {
		return binary.BigEndian.Uint32(v)
	}
	return 0
}

func (r *reader) copy(dst []byte) {
	if v := r.next(len(dst)); v != nil {
		copy(dst, v)
	}
}

// data reads a u32 length-prefixed field of at most limit bytes. A negative
// limit means unbounded.
func (r *reader) data(limit int) []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if limit >= 0 && n > uint32(limit) {
		r.err = fmt.Errorf("%w: field of %d bytes exceeds %d", ErrInvalidWireFormat, n, limit)
		return nil
	}
	if uint64(n) > uint64(len(r.b)) {
		r.err = fmt.Errorf("%w: truncated message", ErrInvalidWireFormat)
		return nil
	}
	return r.next(int(n))
}
