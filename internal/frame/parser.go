package frame

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/crc16"
	"github.com/tallstad/bootcore/internal/logging"
	"github.com/tallstad/bootcore/internal/tick"
)

// Receive timing defaults. The byte timeout bounds the gap between two
// consecutive bytes of one frame; the frame timeout bounds the whole frame.
const (
	DefaultByteTimeout  = 500  // ms
	DefaultFrameTimeout = 3000 // ms
)

// ParseState identifies what the parser expects next.
type ParseState int

const (
	// StateIdle discards everything except a START byte.
	StateIdle ParseState = iota
	// StateLengthHigh expects the high byte of the payload length.
	StateLengthHigh
	// StateLengthLow expects the low byte of the payload length.
	StateLengthLow
	// StatePayload accumulates payload bytes, unescaping on the fly.
	StatePayload
	// StateCRCHigh expects the high byte of the frame CRC.
	StateCRCHigh
	// StateCRCLow expects the low byte of the frame CRC.
	StateCRCLow
	// StateEnd expects the END marker, which triggers CRC validation.
	StateEnd
)

// String returns a short name for the parse state.
func (s ParseState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLengthHigh:
		return "LENGTH_HIGH"
	case StateLengthLow:
		return "LENGTH_LOW"
	case StatePayload:
		return "PAYLOAD"
	case StateCRCHigh:
		return "CRC_HIGH"
	case StateCRCLow:
		return "CRC_LOW"
	case StateEnd:
		return "END"
	default:
		return fmt.Sprintf("ParseState(%d)", int(s))
	}
}

// Result reports the outcome of feeding one byte to the parser.
type Result int

const (
	// ResultPending means the frame is incomplete; feed more bytes.
	ResultPending Result = iota
	// ResultComplete means a full frame passed validation. The payload is
	// available from Payload until the next ProcessByte call.
	ResultComplete
)

// Parser is a byte-at-a-time frame decoder. It persists across the bytes of
// one frame and resets to idle on completion, error, or inactivity timeout.
// Not safe for concurrent use; the bootloader core is single-threaded by
// design.
type Parser struct {
	state          ParseState
	payload        [MaxPayload]byte
	bytesReceived  uint16
	expectedLength uint16
	receivedCRC    uint16
	escapePending  bool

	frameStart   uint32
	lastActivity uint32

	clock        tick.Source
	byteTimeout  uint32
	frameTimeout uint32
}

// NewParser returns an idle parser using clock for inactivity detection.
func NewParser(clock tick.Source) *Parser {
	return &Parser{
		state:        StateIdle,
		clock:        clock,
		byteTimeout:  DefaultByteTimeout,
		frameTimeout: DefaultFrameTimeout,
	}
}

// SetTimeouts overrides the inter-byte and whole-frame timeout windows.
// A zero value disables the corresponding check.
func (p *Parser) SetTimeouts(byteMs, frameMs uint32) {
	p.byteTimeout = byteMs
	p.frameTimeout = frameMs
}

// State returns the current parse state.
func (p *Parser) State() ParseState { return p.state }

// Reset returns the parser to idle, discarding any partial frame.
func (p *Parser) Reset() {
	p.state = StateIdle
	p.bytesReceived = 0
	p.expectedLength = 0
	p.receivedCRC = 0
	p.escapePending = false
}

// Payload returns a copy of the most recently completed frame's payload.
func (p *Parser) Payload() []byte {
	out := make([]byte, p.expectedLength)
	copy(out, p.payload[:p.expectedLength])
	return out
}

// timedOut checks the inactivity windows. Only meaningful mid-frame.
func (p *Parser) timedOut(now uint32) bool {
	if p.byteTimeout != 0 && tick.Elapsed(p.lastActivity, now) >= p.byteTimeout {
		return true
	}
	if p.frameTimeout != 0 && tick.Elapsed(p.frameStart, now) >= p.frameTimeout {
		return true
	}
	return false
}

// ProcessByte advances the parser by one received byte.
//
// Bytes arriving while idle that are not START are discarded silently; line
// noise between frames is not a framing error. Any error resets the parser
// to idle.
func (p *Parser) ProcessByte(b byte) (Result, error) {
	now := p.clock.Now()

	if p.state != StateIdle && p.timedOut(now) {
		state := p.state
		p.Reset()
		return ResultPending, fmt.Errorf("%w: no activity in state %s", ErrTimeout, state)
	}
	p.lastActivity = now

	switch p.state {
	case StateIdle:
		if b == StartByte {
			p.Reset()
			p.state = StateLengthHigh
			p.frameStart = now
			p.lastActivity = now
		}

	case StateLengthHigh:
		p.expectedLength = uint16(b) << 8
		p.state = StateLengthLow

	case StateLengthLow:
		p.expectedLength |= uint16(b)
		if p.expectedLength > MaxPayload {
			length := p.expectedLength
			p.Reset()
			return ResultPending, fmt.Errorf("%w: declared length %d", ErrPayloadTooLarge, length)
		}
		if p.expectedLength == 0 {
			p.state = StateCRCHigh
		} else {
			p.state = StatePayload
		}

	case StatePayload:
		if b == EscapeByte && !p.escapePending {
			p.escapePending = true
			break
		}
		if p.escapePending {
			b ^= EscapeXOR
			p.escapePending = false
			logging.Debug("frame: unescaped payload byte", zap.Uint8("byte", b))
		}
		p.payload[p.bytesReceived] = b
		p.bytesReceived++
		if p.bytesReceived >= p.expectedLength {
			p.state = StateCRCHigh
		}

	case StateCRCHigh:
		p.receivedCRC = uint16(b) << 8
		p.state = StateCRCLow

	case StateCRCLow:
		p.receivedCRC |= uint16(b)
		p.state = StateEnd

	case StateEnd:
		if b != EndByte {
			p.Reset()
			return ResultPending, fmt.Errorf("%w: expected end marker, got %#02x", ErrFrameInvalid, b)
		}
		calculated := crc16.Frame(p.expectedLength, p.payload[:p.expectedLength])
		if calculated != p.receivedCRC {
			received := p.receivedCRC
			p.Reset()
			return ResultPending, fmt.Errorf("%w: calculated %#04x, received %#04x", ErrCRCMismatch, calculated, received)
		}
		p.state = StateIdle
		p.escapePending = false
		p.bytesReceived = 0
		return ResultComplete, nil

	default:
		p.Reset()
		return ResultPending, fmt.Errorf("%w: parser in unknown state", ErrFrameInvalid)
	}

	return ResultPending, nil
}
