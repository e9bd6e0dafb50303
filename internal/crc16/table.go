package crc16

// Table-driven form of the same checksum. The table is derived from Poly at
// startup so the two implementations cannot drift apart.

var table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ Poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
}

// ChecksumTable computes the CRC-16/CCITT of data using the lookup table.
// Produces identical output to Checksum.
func ChecksumTable(data []byte) uint16 {
	crc := uint16(Init)
	for _, b := range data {
		crc = (crc << 8) ^ table[byte(crc>>8)^b]
	}
	return crc
}
