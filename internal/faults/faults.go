// Package faults classifies everything that can go wrong during an update
// session and keeps a bounded history of recorded faults for diagnostics.
// Codes group into classes; the lifecycle state machine maps each class to
// its recovery path.
package faults

// Code identifies a specific fault.
type Code int

const (
	None Code = iota

	// Communication faults.
	UARTTimeout
	UARTFraming
	UARTOverrun
	UARTNoise
	UARTParity

	// Flash operation faults.
	FlashEraseFailed
	FlashWriteFailed
	FlashVerifyFailed
	FlashLocked
	FlashAlignment

	// Data corruption faults.
	CRCMismatch
	InvalidHeader
	InvalidSize
	InvalidMagic
	InvalidVersion

	// Resource faults.
	BufferOverflow
	BufferUnderflow
	MemoryExhausted
	ResourceLocked

	// Protocol faults.
	InvalidCommand
	SequenceError
	StateViolation
	ProtocolVersion

	// Hardware faults.
	HardwareFault
	ClockFailure
	PowerFault
	PeripheralFault

	// Timeout faults.
	OperationTimeout
	ResponseTimeout
	HandshakeTimeout
	TransferTimeout
)

// Class groups codes by the failure domain. The lifecycle state machine
// uses the class to choose an error state.
type Class int

const (
	ClassNone Class = iota
	ClassCommunication
	ClassFlash
	ClassDataCorruption
	ClassResource
	ClassProtocol
	ClassHardware
	ClassTimeout
)

// Class returns the failure domain for a code. Unknown codes classify as
// hardware faults, the most conservative recovery path.
func (c Code) Class() Class {
	switch c {
	case None:
		return ClassNone
	case UARTTimeout, UARTFraming, UARTOverrun, UARTNoise, UARTParity:
		return ClassCommunication
	case FlashEraseFailed, FlashWriteFailed, FlashVerifyFailed, FlashLocked, FlashAlignment:
		return ClassFlash
	case CRCMismatch, InvalidHeader, InvalidSize, InvalidMagic, InvalidVersion:
		return ClassDataCorruption
	case BufferOverflow, BufferUnderflow, MemoryExhausted, ResourceLocked:
		return ClassResource
	case InvalidCommand, SequenceError, StateViolation, ProtocolVersion:
		return ClassProtocol
	case HardwareFault, ClockFailure, PowerFault, PeripheralFault:
		return ClassHardware
	case OperationTimeout, ResponseTimeout, HandshakeTimeout, TransferTimeout:
		return ClassTimeout
	default:
		return ClassHardware
	}
}

// String returns the code's diagnostic name.
func (c Code) String() string {
	switch c {
	case None:
		return "NO_ERROR"
	case UARTTimeout:
		return "UART_TIMEOUT"
	case UARTFraming:
		return "UART_FRAMING"
	case UARTOverrun:
		return "UART_OVERRUN"
	case UARTNoise:
		return "UART_NOISE"
	case UARTParity:
		return "UART_PARITY"
	case FlashEraseFailed:
		return "FLASH_ERASE_FAILED"
	case FlashWriteFailed:
		return "FLASH_WRITE_FAILED"
	case FlashVerifyFailed:
		return "FLASH_VERIFY_FAILED"
	case FlashLocked:
		return "FLASH_LOCKED"
	case FlashAlignment:
		return "FLASH_ALIGNMENT"
	case CRCMismatch:
		return "CRC_MISMATCH"
	case InvalidHeader:
		return "INVALID_HEADER"
	case InvalidSize:
		return "INVALID_SIZE"
	case InvalidMagic:
		return "INVALID_MAGIC"
	case InvalidVersion:
		return "INVALID_VERSION"
	case BufferOverflow:
		return "BUFFER_OVERFLOW"
	case BufferUnderflow:
		return "BUFFER_UNDERFLOW"
	case MemoryExhausted:
		return "MEMORY_EXHAUSTED"
	case ResourceLocked:
		return "RESOURCE_LOCKED"
	case InvalidCommand:
		return "INVALID_COMMAND"
	case SequenceError:
		return "SEQUENCE_ERROR"
	case StateViolation:
		return "STATE_VIOLATION"
	case ProtocolVersion:
		return "PROTOCOL_VERSION"
	case HardwareFault:
		return "HARDWARE_FAULT"
	case ClockFailure:
		return "CLOCK_FAILURE"
	case PowerFault:
		return "POWER_FAULT"
	case PeripheralFault:
		return "PERIPHERAL_FAULT"
	case OperationTimeout:
		return "OPERATION_TIMEOUT"
	case ResponseTimeout:
		return "RESPONSE_TIMEOUT"
	case HandshakeTimeout:
		return "HANDSHAKE_TIMEOUT"
	case TransferTimeout:
		return "TRANSFER_TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}

// String returns the class's diagnostic name.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "NONE"
	case ClassCommunication:
		return "COMMUNICATION"
	case ClassFlash:
		return "FLASH_OPERATION"
	case ClassDataCorruption:
		return "DATA_CORRUPTION"
	case ClassResource:
		return "RESOURCE_EXHAUSTION"
	case ClassProtocol:
		return "PROTOCOL"
	case ClassHardware:
		return "HARDWARE_FAULT"
	case ClassTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Severity grades a recorded fault.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityFatal
)

// String returns the severity's diagnostic name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}
