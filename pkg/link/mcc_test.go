package link

import (
	"bytes"
	"errors"
	"testing"
)

// TestMCC_TypeOctet checks the well-known command octets
func TestMCC_TypeOctet(t *testing.T) {
	tests := []struct {
		typ      CommandType
		command  bool
		expected uint8
	}{
		{CmdPN, true, 0x83},
		{CmdPN, false, 0x81},
		{CmdMSC, true, 0xE3},
		{CmdFCON, true, 0xA3},
		{CmdFCOFF, true, 0x63},
		{CmdTEST, true, 0x23},
		{CmdNSC, false, 0x11},
		{CmdCLD, true, 0xC3},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			m := MCC{Type: tt.typ, Command: tt.command}
			if got := m.TypeOctet(); got != tt.expected {
				t.Errorf("TypeOctet() = 0x%02X, want 0x%02X", got, tt.expected)
			}
		})
	}
}

// TestParseMCC_RoundTrip encodes several commands into one information field
func TestParseMCC_RoundTrip(t *testing.T) {
	cmds := []MCC{
		{Type: CmdFCON, Command: true},
		{Type: CmdTEST, Command: true, Value: []byte("TEST PATTERN")},
		{Type: CmdPN, Command: false, Value: DefaultPNParams(3, 512).Encode()},
		{Type: CmdTEST, Command: false, Value: bytes.Repeat([]byte{0x55}, 200)},
	}

	var data []byte
	for i := range cmds {
		data = cmds[i].Append(data)
	}

	parsed, err := ParseMCC(data)
	if err != nil {
		t.Fatalf("ParseMCC failed: %v", err)
	}
	if len(parsed) != len(cmds) {
		t.Fatalf("parsed %d commands, want %d", len(parsed), len(cmds))
	}
	for i := range cmds {
		if parsed[i].Type != cmds[i].Type || parsed[i].Command != cmds[i].Command {
			t.Errorf("cmd %d = %s/%v, want %s/%v", i, parsed[i].Type, parsed[i].Command, cmds[i].Type, cmds[i].Command)
		}
		if !bytes.Equal(parsed[i].Value, cmds[i].Value) && len(cmds[i].Value) > 0 {
			t.Errorf("cmd %d value mismatch", i)
		}
	}
}

// TestParseMCC_Truncated tests malformed command lists
func TestParseMCC_Truncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"Type only", []byte{0x83}},
		{"Length exceeds data", []byte{0x83, 0x11, 0x01}},
		{"Unterminated length", []byte{0x83, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMCC(tt.data); !errors.Is(err, ErrInvalidMCC) {
				t.Errorf("ParseMCC(% X) error = %v, want ErrInvalidMCC", tt.data, err)
			}
		})
	}
}

// TestPNParams_Encode checks PN value layout
func TestPNParams_Encode(t *testing.T) {
	p := PNParams{
		DLCI:       5,
		FrameType:  0,
		CreditFlow: 0,
		Priority:   7,
		AckTimer:   10,
		FrameSize:  2048,
		MaxRetrans: 3,
		Window:     2,
	}
	expected := []byte{0x05, 0x00, 0x07, 0x0A, 0x00, 0x08, 0x03, 0x02}

	v := p.Encode()
	if !bytes.Equal(v, expected) {
		t.Errorf("Encode() = % X, want % X", v, expected)
	}

	decoded, err := DecodePN(v)
	if err != nil {
		t.Fatalf("DecodePN failed: %v", err)
	}
	if decoded != p {
		t.Errorf("DecodePN() = %+v, want %+v", decoded, p)
	}

	if _, err := DecodePN(v[:5]); !errors.Is(err, ErrInvalidMCC) {
		t.Errorf("DecodePN(short) error = %v, want ErrInvalidMCC", err)
	}
}

// TestMSCParams tests modem status encoding
func TestMSCParams(t *testing.T) {
	p := MSCParams{DLCI: 2, Signals: SignalRTC | SignalRTR | SignalDV}
	v := p.Encode()

	if v[0] != 0x0B {
		t.Errorf("DLCI octet = 0x%02X, want 0x0B", v[0])
	}
	if v[1] != 0x8D {
		t.Errorf("signal octet = 0x%02X, want 0x8D", v[1])
	}

	decoded, err := DecodeMSC(append(v, 0x01))
	if err != nil {
		t.Fatalf("DecodeMSC failed: %v", err)
	}
	if decoded.DLCI != 2 || decoded.FlowStopped() {
		t.Errorf("DecodeMSC() = %+v", decoded)
	}

	stopped := MSCParams{DLCI: 2, Signals: SignalFC}
	decoded, _ = DecodeMSC(stopped.Encode())
	if !decoded.FlowStopped() {
		t.Errorf("FC signal not decoded")
	}
}
