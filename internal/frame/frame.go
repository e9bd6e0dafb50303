// Package frame implements the binary framing layer carrying bootloader
// protocol messages over a byte transport.
//
// Wire format:
//
//	START | LEN_HI | LEN_LO | PAYLOAD (escaped) | CRC_HI | CRC_LO | END
//
// START is 0x7E, END is 0x7F. Payload bytes equal to START, END, or the
// escape marker 0x7D are transmitted as the escape marker followed by the
// byte XOR 0x20. The length field counts unescaped payload bytes and, like
// the CRC, is sent big-endian. The CRC-16 covers LENGTH followed by the
// unescaped payload, so a frame whose length field was corrupted in transit
// fails the integrity check even when the payload survived.
package frame

import (
	"errors"
	"fmt"

	"github.com/tallstad/bootcore/internal/crc16"
)

// Frame markers and limits.
const (
	StartByte  = 0x7E
	EndByte    = 0x7F
	EscapeByte = 0x7D
	// EscapeXOR is applied to a marker byte when it is escaped.
	EscapeXOR = 0x20

	// MaxPayload is the largest payload a single frame may carry.
	MaxPayload = 1024
	// Overhead is the framing cost before escaping: START, two length
	// bytes, two CRC bytes, END.
	Overhead = 6
)

// Framing errors.
var (
	ErrPayloadTooLarge = errors.New("frame: payload exceeds maximum size")
	ErrCRCMismatch     = errors.New("frame: crc mismatch")
	ErrFrameInvalid    = errors.New("frame: malformed frame")
	ErrTimeout         = errors.New("frame: receive timeout")
)

func needsEscape(b byte) bool {
	return b == StartByte || b == EndByte || b == EscapeByte
}

// Encode wraps payload in a complete frame ready to send. Marker bytes in
// the payload are escaped; the length and CRC fields describe the unescaped
// payload.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayload)
	}

	length := uint16(len(payload))
	crc := crc16.Frame(length, payload)

	// Worst case every payload byte is escaped.
	out := make([]byte, 0, len(payload)*2+Overhead)
	out = append(out, StartByte)
	out = append(out, byte(length>>8), byte(length))
	for _, b := range payload {
		if needsEscape(b) {
			out = append(out, EscapeByte, b^EscapeXOR)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, byte(crc>>8), byte(crc))
	out = append(out, EndByte)

	return out, nil
}
