package link

// TS 07.10 FCS: CRC-8 with polynomial x^8+x^2+x+1, reflected (0xE0)

var crcTable [256]uint8

func init() {
	const poly uint8 = 0xE0

	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// updateCRC folds data into a running CRC value
func updateCRC(crc uint8, data []byte) uint8 {
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}

// CalculateFCS returns the frame check sequence for the checked header bytes
func CalculateFCS(data []byte) uint8 {
	return 0xFF - updateCRC(0xFF, data)
}

// VerifyFCS reports whether fcs is valid for the checked header bytes
func VerifyFCS(data []byte, fcs uint8) bool {
	crc := updateCRC(0xFF, data)
	return crcTable[crc^fcs] == FCSResidue
}
