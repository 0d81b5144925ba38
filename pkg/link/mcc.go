package link

import (
	"encoding/binary"
	"fmt"
)

// CommandType is the six-bit multiplexer control command type
type CommandType uint8

const (
	CmdNSC   CommandType = 0x04 // Non supported command response
	CmdTEST  CommandType = 0x08 // Test command
	CmdPSC   CommandType = 0x10 // Power saving control
	CmdRLS   CommandType = 0x14 // Remote line status
	CmdFCOFF CommandType = 0x18 // Flow control off
	CmdPN    CommandType = 0x20 // Parameter negotiation
	CmdRPN   CommandType = 0x24 // Remote port negotiation
	CmdFCON  CommandType = 0x28 // Flow control on
	CmdCLD   CommandType = 0x30 // Multiplexer close down
	CmdSNC   CommandType = 0x34 // Service negotiation
	CmdMSC   CommandType = 0x38 // Modem status command
)

// String returns string representation of CommandType
func (c CommandType) String() string {
	switch c {
	case CmdNSC:
		return "NSC"
	case CmdTEST:
		return "TEST"
	case CmdPSC:
		return "PSC"
	case CmdRLS:
		return "RLS"
	case CmdFCOFF:
		return "FCOFF"
	case CmdPN:
		return "PN"
	case CmdRPN:
		return "RPN"
	case CmdFCON:
		return "FCON"
	case CmdCLD:
		return "CLD"
	case CmdSNC:
		return "SNC"
	case CmdMSC:
		return "MSC"
	default:
		return fmt.Sprintf("CMD(0x%02X)", uint8(c))
	}
}

// V.24 signal bits carried in MSC
const (
	SignalEA  uint8 = 0x01
	SignalFC  uint8 = 0x02 // Flow control, set = unable to accept frames
	SignalRTC uint8 = 0x04 // Ready to communicate
	SignalRTR uint8 = 0x08 // Ready to receive
	SignalIC  uint8 = 0x40 // Incoming call
	SignalDV  uint8 = 0x80 // Data valid
)

// Sizes of fixed MCC values
const (
	pnValueSize  = 8
	mscValueSize = 2
)

// MCC is one multiplexer control command carried in a UIH frame on DLCI 0
type MCC struct {
	Type    CommandType
	Command bool // C/R bit: true for a command, false for a response
	Value   []byte
}

// TypeOctet returns the encoded type octet
func (m *MCC) TypeOctet() uint8 {
	t := uint8(m.Type)<<2 | AddrEA
	if m.Command {
		t |= AddrCR
	}
	return t
}

// Append appends the encoded command to dst
func (m *MCC) Append(dst []byte) []byte {
	dst = append(dst, m.TypeOctet())
	n := len(m.Value)
	if n > ShortLengthLimit {
		dst = append(dst, byte(n<<1)&0xFE, byte(n>>7)<<1|LengthEA)
	} else {
		dst = append(dst, byte(n<<1)|LengthEA)
	}
	return append(dst, m.Value...)
}

// Bytes returns the encoded command
func (m *MCC) Bytes() []byte {
	return m.Append(make([]byte, 0, len(m.Value)+3))
}

// ParseMCC parses every control command in a DLCI 0 information field
func ParseMCC(data []byte) ([]MCC, error) {
	var cmds []MCC
	pos := 0
	for pos < len(data) {
		if len(data)-pos < 2 {
			return cmds, ErrInvalidMCC
		}
		typ := data[pos]
		pos++

		// EA-encoded length, at most two octets in practice
		n := 0
		shift := 0
		for {
			if pos >= len(data) {
				return cmds, ErrInvalidMCC
			}
			b := data[pos]
			pos++
			n |= int(b>>1) << shift
			shift += 7
			if b&LengthEA != 0 {
				break
			}
			if shift > 14 {
				return cmds, ErrInvalidMCC
			}
		}
		if pos+n > len(data) {
			return cmds, ErrInvalidMCC
		}

		value := make([]byte, n)
		copy(value, data[pos:pos+n])
		pos += n

		cmds = append(cmds, MCC{
			Type:    CommandType(typ >> 2),
			Command: typ&AddrCR != 0,
			Value:   value,
		})
	}
	return cmds, nil
}

// PNParams are the parameter negotiation values
type PNParams struct {
	DLCI       uint8
	FrameType  uint8 // 0 = UIH
	CreditFlow uint8
	Priority   uint8
	AckTimer   uint8 // Hundredths of a second
	FrameSize  uint16
	MaxRetrans uint8
	Window     uint8
}

// DefaultPNParams returns the parameters sent when opening a DLCI
func DefaultPNParams(dlci uint8, frameSize uint16) PNParams {
	return PNParams{
		DLCI:       dlci,
		Priority:   dlci & 0x3F,
		AckTimer:   10,
		FrameSize:  frameSize,
		MaxRetrans: 3,
		Window:     2,
	}
}

// Encode returns the eight-octet PN value
func (p PNParams) Encode() []byte {
	v := make([]byte, pnValueSize)
	v[0] = p.DLCI & 0x3F
	v[1] = p.FrameType&0x0F | p.CreditFlow<<4
	v[2] = p.Priority & 0x3F
	v[3] = p.AckTimer
	binary.LittleEndian.PutUint16(v[4:6], p.FrameSize)
	v[6] = p.MaxRetrans
	v[7] = p.Window
	return v
}

// DecodePN parses a PN value
func DecodePN(v []byte) (PNParams, error) {
	if len(v) < pnValueSize {
		return PNParams{}, fmt.Errorf("PN value of %d bytes: %w", len(v), ErrInvalidMCC)
	}
	return PNParams{
		DLCI:       v[0] & 0x3F,
		FrameType:  v[1] & 0x0F,
		CreditFlow: v[1] >> 4,
		Priority:   v[2] & 0x3F,
		AckTimer:   v[3],
		FrameSize:  binary.LittleEndian.Uint16(v[4:6]),
		MaxRetrans: v[6],
		Window:     v[7],
	}, nil
}

// MSCParams are the modem status values
type MSCParams struct {
	DLCI    uint8
	Signals uint8
}

// Encode returns the MSC value
func (p MSCParams) Encode() []byte {
	return []byte{p.DLCI<<2 | AddrCR | AddrEA, p.Signals | SignalEA}
}

// FlowStopped reports whether the FC signal is set
func (p MSCParams) FlowStopped() bool {
	return p.Signals&SignalFC != 0
}

// DecodeMSC parses an MSC value. A trailing break octet is ignored.
func DecodeMSC(v []byte) (MSCParams, error) {
	if len(v) < mscValueSize {
		return MSCParams{}, fmt.Errorf("MSC value of %d bytes: %w", len(v), ErrInvalidMCC)
	}
	return MSCParams{
		DLCI:    v[0] >> 2,
		Signals: v[1],
	}, nil
}
