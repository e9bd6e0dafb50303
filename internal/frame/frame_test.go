package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tallstad/bootcore/internal/crc16"
	"github.com/tallstad/bootcore/internal/tick"
)

// feed pushes every byte of data through the parser, failing the test on any
// error, and returns the payload of the single completed frame.
func feed(t *testing.T, p *Parser, data []byte) []byte {
	t.Helper()
	for i, b := range data {
		result, err := p.ProcessByte(b)
		if err != nil {
			t.Fatalf("byte %d (%#02x): unexpected error: %v", i, b, err)
		}
		if result == ResultComplete {
			if i != len(data)-1 {
				t.Fatalf("frame completed early at byte %d of %d", i, len(data))
			}
			return p.Payload()
		}
	}
	t.Fatalf("frame never completed after %d bytes (state %s)", len(data), p.State())
	return nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: []byte{}},
		{name: "single byte", payload: []byte{0x42}},
		{name: "start marker in payload", payload: []byte{0x7E}},
		{name: "end marker in payload", payload: []byte{0x7F}},
		{name: "escape marker in payload", payload: []byte{0x7D}},
		{name: "all reserved bytes", payload: []byte{0x7E, 0x7F, 0x7D, 0x7E, 0x7D, 0x7F}},
		{name: "reserved bytes at boundaries", payload: []byte{0x7E, 0x01, 0x02, 0x7F}},
		{
			name: "binary data",
			payload: func() []byte {
				out := make([]byte, 256)
				for i := range out {
					out[i] = byte(i)
				}
				return out
			}(),
		},
		{
			name: "max payload",
			payload: func() []byte {
				out := make([]byte, MaxPayload)
				for i := range out {
					out[i] = byte(i % 251)
				}
				return out
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			parser := NewParser(tick.NewSimulated(0))
			got := feed(t, parser, encoded)
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(make([]byte, MaxPayload+1))
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestEncodeEscapesMarkers(t *testing.T) {
	encoded, err := Encode([]byte{0x7E})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// START, LEN_HI, LEN_LO, ESC, 0x7E^0x20, CRC_HI, CRC_LO, END
	want := []byte{0x7E, 0x00, 0x01, 0x7D, 0x5E}
	if !bytes.Equal(encoded[:5], want) {
		t.Errorf("escaped prefix = % x, want % x", encoded[:5], want)
	}
	if encoded[len(encoded)-1] != EndByte {
		t.Errorf("last byte = %#02x, want END", encoded[len(encoded)-1])
	}
}

func TestParserCRCMismatch(t *testing.T) {
	encoded, err := Encode([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Corrupt the low CRC byte (second to last).
	encoded[len(encoded)-2] ^= 0xFF

	parser := NewParser(tick.NewSimulated(0))
	var lastErr error
	for _, b := range encoded {
		if _, err := parser.ProcessByte(b); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrCRCMismatch) {
		t.Errorf("got %v, want ErrCRCMismatch", lastErr)
	}
	if parser.State() != StateIdle {
		t.Errorf("parser state = %s, want IDLE after error", parser.State())
	}
}

func TestParserInvalidEndMarker(t *testing.T) {
	encoded, err := Encode([]byte{0x01})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded[len(encoded)-1] = 0x00

	parser := NewParser(tick.NewSimulated(0))
	var lastErr error
	for _, b := range encoded {
		if _, err := parser.ProcessByte(b); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrFrameInvalid) {
		t.Errorf("got %v, want ErrFrameInvalid", lastErr)
	}
}

func TestParserDeclaredLengthTooLarge(t *testing.T) {
	parser := NewParser(tick.NewSimulated(0))
	// START then a length field of MaxPayload+1.
	length := uint16(MaxPayload + 1)
	input := []byte{StartByte, byte(length >> 8), byte(length)}

	var lastErr error
	for _, b := range input {
		if _, err := parser.ProcessByte(b); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrPayloadTooLarge) {
		t.Errorf("got %v, want ErrPayloadTooLarge", lastErr)
	}
}

func TestParserIgnoresNoiseWhenIdle(t *testing.T) {
	parser := NewParser(tick.NewSimulated(0))
	for _, b := range []byte{0x00, 0xFF, 0x55, EndByte, EscapeByte} {
		result, err := parser.ProcessByte(b)
		if err != nil {
			t.Fatalf("noise byte %#02x produced error: %v", b, err)
		}
		if result != ResultPending {
			t.Fatalf("noise byte %#02x produced result %v", b, result)
		}
	}
	if parser.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", parser.State())
	}

	// A real frame after the noise still decodes.
	encoded, _ := Encode([]byte{0xAB})
	got := feed(t, parser, encoded)
	if !bytes.Equal(got, []byte{0xAB}) {
		t.Errorf("payload after noise = % x, want ab", got)
	}
}

func TestParserInterByteTimeout(t *testing.T) {
	clock := tick.NewSimulated(0)
	parser := NewParser(clock)

	// Start a frame, then go quiet past the byte timeout.
	if _, err := parser.ProcessByte(StartByte); err != nil {
		t.Fatalf("start byte: %v", err)
	}
	clock.Advance(DefaultByteTimeout + 1)

	_, err := parser.ProcessByte(0x00)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
	if parser.State() != StateIdle {
		t.Errorf("state = %s, want IDLE after timeout", parser.State())
	}
}

func TestParserTimeoutAcrossTickWraparound(t *testing.T) {
	clock := tick.NewSimulated(0xFFFFFFF0)
	parser := NewParser(clock)

	if _, err := parser.ProcessByte(StartByte); err != nil {
		t.Fatalf("start byte: %v", err)
	}
	// Wraps the 32-bit tick counter; elapsed is still > byte timeout.
	clock.Set(0x00000300)

	_, err := parser.ProcessByte(0x00)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestParserWholeFrameTimeout(t *testing.T) {
	clock := tick.NewSimulated(0)
	parser := NewParser(clock)
	encoded, _ := Encode(bytes.Repeat([]byte{0x11}, 64))

	// Trickle bytes in slowly enough that no single gap exceeds the byte
	// timeout but the total exceeds the frame timeout.
	var lastErr error
	for _, b := range encoded {
		if _, err := parser.ProcessByte(b); err != nil {
			lastErr = err
			break
		}
		clock.Advance(DefaultByteTimeout - 1)
	}
	if !errors.Is(lastErr, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", lastErr)
	}
}

func TestParserBackToBackFrames(t *testing.T) {
	parser := NewParser(tick.NewSimulated(0))
	first, _ := Encode([]byte{0x01, 0x02})
	second, _ := Encode([]byte{0x7D, 0x7E})

	got := feed(t, parser, first)
	if !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("first payload = % x", got)
	}
	got = feed(t, parser, second)
	if !bytes.Equal(got, []byte{0x7D, 0x7E}) {
		t.Errorf("second payload = % x", got)
	}
}

func TestFrameCRCMatchesCodecPackage(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	encoded, _ := Encode(payload)

	// CRC sits in the two bytes before END; no escaping applies here since
	// this payload contains no markers.
	crcHi := encoded[len(encoded)-3]
	crcLo := encoded[len(encoded)-2]
	got := uint16(crcHi)<<8 | uint16(crcLo)
	want := crc16.Frame(uint16(len(payload)), payload)
	if got != want {
		t.Errorf("wire CRC %#04x, want %#04x", got, want)
	}
}
