// Package protocol implements the session layer of the firmware upload
// protocol: command dispatch, upload bookkeeping, and response
// construction. Each decoded frame payload carries one command; every
// command produces exactly one response frame.
package protocol

import "fmt"

// Protocol version reported by the Version command.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// ChunkSize is the fixed upload chunk size in bytes.
const ChunkSize = 256

// SyncBanner is the BootloaderReady response payload.
const SyncBanner = "BOOTLOADER_READY v1.0"

// Command is the first byte of a request frame payload.
type Command byte

const (
	CmdSync Command = iota
	CmdVersion
	CmdStatus
	CmdUploadStart
	CmdData
	CmdUploadComplete
	CmdReset
	CmdPing
)

// String returns the command's wire name.
func (c Command) String() string {
	switch c {
	case CmdSync:
		return "SYNC"
	case CmdVersion:
		return "VERSION"
	case CmdStatus:
		return "STATUS"
	case CmdUploadStart:
		return "UPLOAD_START"
	case CmdData:
		return "DATA"
	case CmdUploadComplete:
		return "UPLOAD_COMPLETE"
	case CmdReset:
		return "RESET"
	case CmdPing:
		return "PING"
	default:
		return fmt.Sprintf("INVALID(0x%02X)", byte(c))
	}
}

// Response is the first byte of a response frame payload.
type Response byte

const (
	RespOK Response = iota
	RespBootloaderReady
	RespVersionInfo
	RespStatusInfo
	RespReadyForData
	RespChunkOk
	RespUploadSuccess
	RespResetting
	RespPong
	RespErrorInvalidCommand
	RespErrorInvalidState
	RespErrorInvalidData
	RespErrorTimeout
	RespErrorHardware
)

// String returns the response's wire name.
func (r Response) String() string {
	switch r {
	case RespOK:
		return "OK"
	case RespBootloaderReady:
		return "BOOTLOADER_READY"
	case RespVersionInfo:
		return "VERSION_INFO"
	case RespStatusInfo:
		return "STATUS_INFO"
	case RespReadyForData:
		return "READY_FOR_DATA"
	case RespChunkOk:
		return "CHUNK_OK"
	case RespUploadSuccess:
		return "UPLOAD_SUCCESS"
	case RespResetting:
		return "RESETTING"
	case RespPong:
		return "PONG"
	case RespErrorInvalidCommand:
		return "ERROR_INVALID_COMMAND"
	case RespErrorInvalidState:
		return "ERROR_INVALID_STATE"
	case RespErrorInvalidData:
		return "ERROR_INVALID_DATA"
	case RespErrorTimeout:
		return "ERROR_TIMEOUT"
	case RespErrorHardware:
		return "ERROR_HARDWARE"
	default:
		return fmt.Sprintf("ERROR(0x%02X)", byte(r))
	}
}

// IsError reports whether the response signals a failure.
func (r Response) IsError() bool { return r >= RespErrorInvalidCommand }

// State is the session-level protocol state.
type State int

const (
	StateIdle State = iota
	StateSync
	StateHandshakeComplete
	StateUploadStart
	StateDataTransfer
	StateUploadComplete
	StateError
)

// String returns a short name for the session state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSync:
		return "SYNC"
	case StateHandshakeComplete:
		return "HANDSHAKE_COMPLETE"
	case StateUploadStart:
		return "UPLOAD_START"
	case StateDataTransfer:
		return "DATA_TRANSFER"
	case StateUploadComplete:
		return "UPLOAD_COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
