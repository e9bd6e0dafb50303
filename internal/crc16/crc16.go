// Package crc16 implements the CRC-16/CCITT checksum protecting bootloader
// frames and upload chunks.
//
// Parameters:
//   - Polynomial: 0x1021 (x^16 + x^12 + x^5 + 1)
//   - Initial value: 0xFFFF
//   - MSB-first bit processing, no final XOR
//
// The same algorithm covers every integrity check in the protocol: the outer
// frame CRC (computed over the big-endian LENGTH field followed by the
// unescaped payload) and the per-chunk CRC embedded in Data commands.
package crc16

// Algorithm parameters.
const (
	// Poly is the CCITT generator polynomial.
	Poly = 0x1021
	// Init is the seed value for all checksums.
	Init = 0xFFFF
)

// Checksum computes the CRC-16/CCITT of data bit-by-bit.
func Checksum(data []byte) uint16 {
	return Update(Init, data)
}

// Update continues a running CRC over additional bytes.
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Frame computes the CRC protecting one frame: the 16-bit payload length in
// big-endian byte order, followed by the unescaped payload bytes.
func Frame(length uint16, payload []byte) uint16 {
	crc := Update(Init, []byte{byte(length >> 8), byte(length)})
	return Update(crc, payload)
}
