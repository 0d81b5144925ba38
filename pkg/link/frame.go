package link

import (
	"bytes"
	"fmt"
)

// Frame represents a TS 07.10 basic option frame
type Frame struct {
	// Header fields
	DLCI uint8     // Data link connection identifier
	CR   bool      // Command/response bit from the address field
	Type FrameType // Control field without the poll/final bit
	PF   bool      // Poll/final bit

	// Information field
	Payload []byte
}

// NewFrame creates a new frame. The poll/final bit is set for every type
// except UIH.
func NewFrame(dlci uint8, cr bool, t FrameType, payload []byte) *Frame {
	return &Frame{
		DLCI:    dlci,
		CR:      cr,
		Type:    t,
		PF:      t != FrameUIH,
		Payload: payload,
	}
}

// Address builds the address octet for a DLCI
func Address(dlci uint8, cr bool) uint8 {
	addr := AddrEA | dlci<<2
	if cr {
		addr |= AddrCR
	}
	return addr
}

// ParseAddress splits an address octet into DLCI and C/R bit
func ParseAddress(addr uint8) (dlci uint8, cr bool) {
	return addr >> 2, addr&AddrCR != 0
}

// Control returns the control octet
func (f *Frame) Control() uint8 {
	ctrl := uint8(f.Type)
	if f.PF {
		ctrl |= CtrlPF
	}
	return ctrl
}

// HeaderSize returns the header size needed for a payload length
func HeaderSize(payloadLen int) int {
	if payloadLen > ShortLengthLimit {
		return LongHeaderSize
	}
	return ShortHeaderSize
}

// EncodedSize returns the size on the wire, flags included
func EncodedSize(payloadLen int) int {
	return HeaderSize(payloadLen) + payloadLen + FrameOverhead
}

// Append appends the wire form of the frame to dst. When dst has enough
// spare capacity no allocation takes place.
func (f *Frame) Append(dst []byte) ([]byte, error) {
	return AppendFrame(dst, f.DLCI, f.CR, f.Control(), f.Payload)
}

// Serialize converts frame to wire format
func (f *Frame) Serialize() ([]byte, error) {
	return f.Append(make([]byte, 0, EncodedSize(len(f.Payload))))
}

// AppendFrame writes flag, header, payload, FCS and closing flag after dst
func AppendFrame(dst []byte, dlci uint8, cr bool, ctrl uint8, payload []byte) ([]byte, error) {
	if dlci > MaxDLCI {
		return dst, ErrInvalidDLCI
	}
	n := len(payload)
	if n > MaxMTU {
		return dst, ErrPayloadTooLong
	}

	dst = append(dst, Flag)
	hdrStart := len(dst)
	dst = append(dst, Address(dlci, cr), ctrl)
	if n > ShortLengthLimit {
		dst = append(dst, byte(n<<1)&0xFE, byte(n>>7))
	} else {
		dst = append(dst, byte(n<<1)|LengthEA)
	}
	fcs := CalculateFCS(dst[hdrStart:])
	dst = append(dst, payload...)
	dst = append(dst, fcs, Flag)
	return dst, nil
}

// ExpectedLength returns the total wire length of the frame whose opening
// flag is hdr[0]. ok is false when more header bytes are needed.
func ExpectedLength(hdr []byte) (total int, ok bool) {
	if len(hdr) < 4 {
		return 0, false
	}
	if hdr[3]&LengthEA != 0 {
		n := int(hdr[3] >> 1)
		return ShortHeaderSize + n + FrameOverhead, true
	}
	if len(hdr) < 5 {
		return 0, false
	}
	n := int(hdr[3]>>1) | int(hdr[4])<<7
	return LongHeaderSize + n + FrameOverhead, true
}

// Parse parses one complete frame. data must begin with the opening flag.
// Returns the frame and the number of bytes it occupied.
func Parse(data []byte) (*Frame, int, error) {
	if len(data) < MinFrameSize {
		return nil, 0, ErrFrameTooShort
	}
	if data[0] != Flag {
		return nil, 0, ErrMissingStartFlag
	}

	total, ok := ExpectedLength(data)
	if !ok {
		return nil, 0, ErrFrameTooShort
	}
	if total > MaxTotalFrameSize {
		return nil, 0, ErrInvalidLength
	}
	if len(data) < total {
		return nil, 0, ErrFrameTooShort
	}
	if data[total-1] != Flag {
		return nil, 0, ErrDesync
	}

	hdrLen := ShortHeaderSize
	if data[3]&LengthEA == 0 {
		hdrLen = LongHeaderSize
	}
	header := data[1 : 1+hdrLen]
	if !VerifyFCS(header, data[total-2]) {
		return nil, 0, ErrCRCMismatch
	}

	ctrl := data[2]
	t := FrameType(ctrl &^ CtrlPF)
	switch t {
	case FrameSABM, FrameUA, FrameDM, FrameDISC, FrameUIH:
	default:
		return nil, 0, ErrInvalidControl
	}

	dlci, cr := ParseAddress(data[1])
	frame := &Frame{
		DLCI: dlci,
		CR:   cr,
		Type: t,
		PF:   ctrl&CtrlPF != 0,
	}
	payload := data[1+hdrLen : total-2]
	if len(payload) > 0 {
		frame.Payload = make([]byte, len(payload))
		copy(frame.Payload, payload)
	}

	return frame, total, nil
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Frame{%s, DLCI=%d, ", f.Type, f.DLCI))
	buf.WriteString(fmt.Sprintf("CR=%t, PF=%t, ", f.CR, f.PF))
	buf.WriteString(fmt.Sprintf("Len=%d}", len(f.Payload)))
	return buf.String()
}

// Clone creates a deep copy of the frame
func (f *Frame) Clone() *Frame {
	var payload []byte
	if f.Payload != nil {
		payload = make([]byte, len(f.Payload))
		copy(payload, f.Payload)
	}

	return &Frame{
		DLCI:    f.DLCI,
		CR:      f.CR,
		Type:    f.Type,
		PF:      f.PF,
		Payload: payload,
	}
}
