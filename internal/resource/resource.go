// Package resource tracks acquired bootloader resources (transport, flash
// contexts, buffers) and guarantees they are released on state transitions,
// errors, and emergency shutdown. Cleanup is idempotent and re-entrancy
// safe.
package resource

import (
	"errors"
)

// Capacity limits.
const (
	MaxResources        = 16
	MaxCleanupFunctions = 8
)

// Registration errors.
var (
	ErrFull             = errors.New("resource: manager full")
	ErrCleanupFuncsFull = errors.New("resource: global cleanup list full")
	ErrNotFound         = errors.New("resource: no such resource")
	ErrCleanupPending   = errors.New("resource: cleanup already in progress")
)

// Type classifies a tracked resource.
type Type int

const (
	TypeNone Type = iota
	TypeTransport
	TypeFlash
	TypeFrameBuffer
	TypeStagingBuffer
	TypeTimeout
	TypeSession
	TypeGeneric
)

// String returns a short name for the resource type.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "NONE"
	case TypeTransport:
		return "TRANSPORT"
	case TypeFlash:
		return "FLASH"
	case TypeFrameBuffer:
		return "FRAME_BUFFER"
	case TypeStagingBuffer:
		return "STAGING_BUFFER"
	case TypeTimeout:
		return "TIMEOUT"
	case TypeSession:
		return "SESSION"
	case TypeGeneric:
		return "GENERIC"
	default:
		return "UNKNOWN"
	}
}

// State tracks a resource through its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
	StateError
	StateCleanupPending
	StateCleanedUp
)

// String returns a short name for the resource state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	case StateCleanupPending:
		return "CLEANUP_PENDING"
	case StateCleanedUp:
		return "CLEANED_UP"
	default:
		return "UNKNOWN"
	}
}

// CleanupFunc releases a resource. It must tolerate being called when the
// resource is already partially released.
type CleanupFunc func() error

// Entry describes one registration. Only Type and Name are required;
// entries without a cleanup func are tracked but release nothing.
type Entry struct {
	Type     Type
	Name     string
	Cleanup  CleanupFunc
	Critical bool
	// AutoCleanup opts the entry into CleanupAll sweeps.
	AutoCleanup bool

	state       State
	initStamp   uint32
	accessStamp uint32
}

// State returns the entry's lifecycle state.
func (e *Entry) State() State { return e.state }
