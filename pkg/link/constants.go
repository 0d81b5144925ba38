package link

import "errors"

// TS 07.10 basic option framing constants

// Flag delimits every frame on the wire
const Flag uint8 = 0xF9

// Frame sizes
const (
	DefaultMTU        = 1024 // Default payload size per DLCI
	MaxMTU            = 4096 // Largest payload the codec accepts
	ShortLengthLimit  = 127  // Largest payload encodable in a one-byte length field
	ShortHeaderSize   = 3    // Address + control + one length byte
	LongHeaderSize    = 4    // Address + control + two length bytes
	FrameOverhead     = 3    // Opening flag + FCS + closing flag
	MinFrameSize      = ShortHeaderSize + FrameOverhead
	MaxTotalFrameSize = MaxMTU + LongHeaderSize + FrameOverhead
	MaxDLCI           = 63
)

// FrameType is the control field with the poll/final bit cleared
type FrameType uint8

const (
	FrameSABM FrameType = 0x2F // Set asynchronous balanced mode
	FrameUA   FrameType = 0x63 // Unnumbered acknowledgement
	FrameDM   FrameType = 0x0F // Disconnected mode
	FrameDISC FrameType = 0x43 // Disconnect
	FrameUIH  FrameType = 0xEF // Unnumbered information with header check
)

// String returns string representation of FrameType
func (t FrameType) String() string {
	switch t {
	case FrameSABM:
		return "SABM"
	case FrameUA:
		return "UA"
	case FrameDM:
		return "DM"
	case FrameDISC:
		return "DISC"
	case FrameUIH:
		return "UIH"
	default:
		return "Unknown"
	}
}

// Address and control field bits
const (
	AddrEA     uint8 = 0x01 // Extension bit, always set in basic mode
	AddrCR     uint8 = 0x02 // Command/response bit
	CtrlPF     uint8 = 0x10 // Poll/final bit
	LengthEA   uint8 = 0x01 // Set when the length fits in one byte
	FCSResidue uint8 = 0xCF // CRC over header plus FCS of a valid frame
)

// Errors
var (
	ErrInvalidLength    = errors.New("invalid frame length")
	ErrCRCMismatch      = errors.New("FCS mismatch")
	ErrDesync           = errors.New("frame not terminated by flag")
	ErrFrameTooShort    = errors.New("frame too short")
	ErrInvalidControl   = errors.New("invalid control field")
	ErrInvalidDLCI      = errors.New("invalid DLCI")
	ErrPayloadTooLong   = errors.New("payload too long")
	ErrBufferTooSmall   = errors.New("destination buffer too small")
	ErrInvalidMCC       = errors.New("invalid multiplexer control command")
	ErrMissingStartFlag = errors.New("missing start flag")
)
