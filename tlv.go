package braceratchet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// TLVType identifies a TLV record carried after the message text of a
// data message payload.
type TLVType uint16

const (
	TLVPadding TLVType = iota
	TLVDisconnected
	TLVSMPMessage1
	TLVSMPMessage2
	TLVSMPMessage3
	TLVSMPMessage4
	TLVSMPAbort
	TLVExtraSymmetricKey
)

const (
	tlvHeaderSize      = 4
	maxTLVDataSize     = 0xffff
	paddingGranularity = 256
)

// TLV is a type-length-value record. Types this package does not act on,
// SMP ones included, are carried through untouched.
type TLV struct {
	Type TLVType
	Data []byte
}

// NewExtraSymmetricKeyTLV announces that the extra symmetric key of the
// message carrying it is used for use. context describes the use to the peer.
func NewExtraSymmetricKeyTLV(use uint32, context []byte) (TLV, error) {
	if len(context) > maxTLVDataSize-4 {
		return TLV{}, fmt.Errorf("%w: extra symmetric key context too long", ErrInvalidWireFormat)
	}
	data := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(context)), use)
	return TLV{Type: TLVExtraSymmetricKey, Data: append(data, context...)}, nil
}

// ExtraSymmetricKeyUse returns the use and context of an extra symmetric key TLV.
func (t TLV) ExtraSymmetricKeyUse() (use uint32, context []byte, err error) {
	if t.Type != TLVExtraSymmetricKey || len(t.Data) < 4 {
		return 0, nil, fmt.Errorf("%w: not an extra symmetric key tlv", ErrInvalidWireFormat)
	}
	return binary.BigEndian.Uint32(t.Data), t.Data[4:], nil
}

// Payload is the plaintext of a data message: the message text, then, when
// there are TLVs, a NUL byte and the records.
type Payload struct {
	Message []byte
	TLVs    []TLV
}

// Find returns the first TLV of type typ.
func (p *Payload) Find(typ TLVType) (TLV, bool) {
	for _, t := range p.TLVs {
		if t.Type == typ {
			return t, true
		}
	}
	return TLV{}, false
}

// Encode returns the plaintext form of the payload.
func (p *Payload) Encode() ([]byte, error) {
	if bytes.IndexByte(p.Message, 0) >= 0 {
		return nil, fmt.Errorf("%w: message text contains a NUL byte", ErrInvalidWireFormat)
	}
	if len(p.TLVs) == 0 {
		return append([]byte{}, p.Message...), nil
	}

	n := len(p.Message) + 1
	for _, t := range p.TLVs {
		if len(t.Data) > maxTLVDataSize {
			return nil, fmt.Errorf("%w: tlv of %d bytes", ErrInvalidWireFormat, len(t.Data))
		}
		n += tlvHeaderSize + len(t.Data)
	}

	b := make([]byte, 0, n)
	b = append(b, p.Message...)
	b = append(b, 0)
	for _, t := range p.TLVs {
		b = binary.BigEndian.AppendUint16(b, uint16(t.Type))
		b = binary.BigEndian.AppendUint16(b, uint16(len(t.Data)))
		b = append(b, t.Data...)
	}
	return b, nil
}

// Wipe zeroes the message text and every record.
func (p *Payload) Wipe() {
	Wipe(p.Message)
	for _, t := range p.TLVs {
		Wipe(t.Data)
	}
}

// DecodePayload parses a decrypted data message payload. Records are read
// up to the first one that is cut short; it and anything after it are
// dropped.
func DecodePayload(b []byte) *Payload {
	nul := bytes.IndexByte(b, 0)
	if nul < 0 {
		return &Payload{Message: append([]byte{}, b...)}
	}

	p := &Payload{Message: append([]byte{}, b[:nul]...)}
	r := reader{b: b[nul+1:]}
	for len(r.b) > 0 {
		typ := TLVType(r.u16())
		data := r.next(int(r.u16()))
		if r.err != nil {
			break
		}
		p.TLVs = append(p.TLVs, TLV{Type: typ, Data: append([]byte{}, data...)})
	}
	return p
}

// pad appends a padding TLV of random bytes read from r that brings the
// encoded payload to a multiple of the padding granularity.
func (p *Payload) pad(r io.Reader) error {
	n := len(p.Message) + 1
	for _, t := range p.TLVs {
		n += tlvHeaderSize + len(t.Data)
	}
	padding := make([]byte, paddingGranularity-(n+tlvHeaderSize)%paddingGranularity)
	if _, err := io.ReadFull(r, padding); err != nil {
		return fmt.Errorf("couldn't generate padding: %w", err)
	}
	p.TLVs = append(p.TLVs, TLV{Type: TLVPadding, Data: padding})
	return nil
}
