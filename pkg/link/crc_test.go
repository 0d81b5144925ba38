package link

import (
	"testing"
)

// TestCalculateFCS_KnownVectors checks FCS values seen on real CMUX links
func TestCalculateFCS_KnownVectors(t *testing.T) {
	tests := []struct {
		name     string
		header   []byte
		expected uint8
	}{
		{
			name:     "SABM on DLCI 0 from initiator",
			header:   []byte{0x03, 0x3F, 0x01},
			expected: 0x1C,
		},
		{
			name:     "UA on DLCI 0",
			header:   []byte{0x03, 0x73, 0x01},
			expected: 0xD7,
		},
		{
			name:     "SABM on DLCI 1",
			header:   []byte{0x07, 0x3F, 0x01},
			expected: 0xDE,
		},
		{
			name:     "UIH on DLCI 0 with 4 byte payload",
			header:   []byte{0x03, 0xEF, 0x09},
			expected: 0xFB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateFCS(tt.header)
			if result != tt.expected {
				t.Errorf("CalculateFCS() = 0x%02X, expected 0x%02X\nHeader: % X", result, tt.expected, tt.header)
			}
		})
	}
}

// TestCRCTable checks the first entries of the reflected table
func TestCRCTable(t *testing.T) {
	expected := []uint8{0x00, 0x91, 0xE3, 0x72}
	for i, want := range expected {
		if crcTable[i] != want {
			t.Errorf("crcTable[%d] = 0x%02X, want 0x%02X", i, crcTable[i], want)
		}
	}
	if crcTable[0xFF] != FCSResidue {
		t.Errorf("crcTable[0xFF] = 0x%02X, want residue 0x%02X", crcTable[0xFF], FCSResidue)
	}
}

// TestVerifyFCS_RoundTrip checks every computed FCS verifies
func TestVerifyFCS_RoundTrip(t *testing.T) {
	for addr := 0; addr < 256; addr += 7 {
		for ctrl := 0; ctrl < 256; ctrl += 13 {
			header := []byte{byte(addr), byte(ctrl), 0x01}
			fcs := CalculateFCS(header)
			if !VerifyFCS(header, fcs) {
				t.Fatalf("VerifyFCS failed for header % X fcs 0x%02X", header, fcs)
			}
		}
	}
}

// TestVerifyFCS_SingleBitErrors checks a single flipped bit always fails
func TestVerifyFCS_SingleBitErrors(t *testing.T) {
	header := []byte{0x0F, 0xEF, 0x81, 0x03}
	fcs := CalculateFCS(header)

	for i := range header {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(header))
			copy(corrupted, header)
			corrupted[i] ^= 1 << bit
			if VerifyFCS(corrupted, fcs) {
				t.Errorf("flip of byte %d bit %d not detected", i, bit)
			}
		}
	}
	for bit := 0; bit < 8; bit++ {
		if VerifyFCS(header, fcs^(1<<bit)) {
			t.Errorf("flip of FCS bit %d not detected", bit)
		}
	}
}

// TestCalculateFCS_EdgeCases tests edge cases for FCS calculation
func TestCalculateFCS_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"Nil slice", nil},
		{"Empty slice", []byte{}},
		{"Single byte", []byte{0x42}},
		{"Long header", []byte{0x07, 0xEF, 0x00, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fcs := CalculateFCS(tt.data)
			if !VerifyFCS(tt.data, fcs) {
				t.Errorf("VerifyFCS(% X, 0x%02X) = false", tt.data, fcs)
			}
		})
	}
}
