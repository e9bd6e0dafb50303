// Package flash implements the staging engine that turns an incoming byte
// stream into erased, aligned, verified flash writes. A Device abstracts
// the flash controller; MemDevice is the in-memory implementation used by
// the simulator and tests.
package flash

import "errors"

// Flash geometry.
const (
	PageSize   = 2048
	WriteAlign = 8
	ErasedByte = 0xFF
)

// Flash operation errors.
var (
	ErrLocked      = errors.New("flash: controller locked")
	ErrAlignment   = errors.New("flash: unaligned access")
	ErrOutOfRange  = errors.New("flash: address out of range")
	ErrEraseFailed = errors.New("flash: erase failed")
	ErrWriteFailed = errors.New("flash: write failed")
	ErrVerify      = errors.New("flash: verification mismatch")
	ErrNotErased   = errors.New("flash: write to non-erased flash")
)

// Device is the flash controller contract. Erase and Write require the
// controller to be unlocked; callers bracket operations with Unlock/Lock
// and must release the lock on every exit path.
type Device interface {
	Unlock() error
	Lock() error
	// ErasePage erases the page containing addr. addr must be
	// page-aligned.
	ErasePage(addr uint32) error
	// Write programs len(data) bytes at addr. Both must be multiples of
	// WriteAlign, and the target bytes must be in the erased state.
	Write(addr uint32, data []byte) error
	// Read copies len(buf) bytes from addr into buf.
	Read(addr uint32, buf []byte) error
	// Base and Size delimit the writable region.
	Base() uint32
	Size() uint32
}

// PageBase returns the page-aligned address containing addr.
func PageBase(addr uint32) uint32 {
	return addr - addr%PageSize
}
