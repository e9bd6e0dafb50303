package flash

import (
	"bytes"
	"errors"
	"testing"
)

const testBase = 0x0800F800

func newTestWriter(t *testing.T) (*Writer, *MemDevice) {
	t.Helper()
	dev := NewMemDevice(testBase, 2*PageSize)
	w, err := NewWriter(dev, testBase)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return w, dev
}

func TestStageTenBytesOneWritePlusPaddedFlush(t *testing.T) {
	w, dev := newTestWriter(t)

	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := w.Stage(data); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if dev.WriteCount != 1 {
		t.Fatalf("writes after staging 10 bytes = %d, want 1", dev.WriteCount)
	}
	if got := w.Address(); got != testBase+8 {
		t.Fatalf("address = 0x%08X, want 0x%08X", got, testBase+8)
	}
	if got := w.Pending(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if dev.WriteCount != 2 {
		t.Fatalf("writes after flush = %d, want 2", dev.WriteCount)
	}
	if got := w.Address(); got != testBase+16 {
		t.Fatalf("address after flush = 0x%08X, want 0x%08X", got, testBase+16)
	}

	// Partial buffer padded with the erased value.
	want := append(append([]byte{}, data...), ErasedByte, ErasedByte,
		ErasedByte, ErasedByte, ErasedByte, ErasedByte)
	got := make([]byte, 16)
	if err := dev.Read(testBase, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("flash contents %x, want %x", got, want)
	}
	if w.DataLen() != 10 {
		t.Fatalf("data length = %d, want 10", w.DataLen())
	}
}

func TestEraseOncePerPage(t *testing.T) {
	w, dev := newTestWriter(t)

	chunk := make([]byte, 256)
	for i := 0; i < PageSize/len(chunk); i++ {
		if err := w.Stage(chunk); err != nil {
			t.Fatalf("stage chunk %d: %v", i, err)
		}
	}
	if dev.EraseCount != 1 {
		t.Fatalf("erases within one page = %d, want 1", dev.EraseCount)
	}

	// Crossing into the next page triggers exactly one more erase.
	if err := w.Stage(chunk); err != nil {
		t.Fatalf("stage into second page: %v", err)
	}
	if dev.EraseCount != 2 {
		t.Fatalf("erases after page crossing = %d, want 2", dev.EraseCount)
	}
}

func TestVerify(t *testing.T) {
	w, _ := newTestWriter(t)
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := w.Stage(data); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := w.Verify(testBase, data); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := w.Verify(testBase, []byte{0xDE, 0xAD, 0xBE, 0xEE}); !errors.Is(err, ErrVerify) {
		t.Fatalf("verify of wrong data: got %v, want ErrVerify", err)
	}
	if err := w.Verify(testBase+2*PageSize-2, []byte{1, 2, 3, 4}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("verify out of range: got %v, want ErrOutOfRange", err)
	}
}

func TestReadbackMismatchFailsCommit(t *testing.T) {
	w, dev := newTestWriter(t)
	dev.CorruptWrites = true

	err := w.Stage(make([]byte, 8))
	if !errors.Is(err, ErrVerify) {
		t.Fatalf("stage with corrupted writes: got %v, want ErrVerify", err)
	}
	if dev.Unlocked() {
		t.Fatal("controller left unlocked after failed commit")
	}
}

func TestLockReleasedOnErrorPaths(t *testing.T) {
	w, dev := newTestWriter(t)

	dev.FailErase = true
	if err := w.Stage(make([]byte, 8)); !errors.Is(err, ErrEraseFailed) {
		t.Fatalf("stage with failing erase: got %v, want ErrEraseFailed", err)
	}
	if dev.Unlocked() {
		t.Fatal("controller left unlocked after failed erase")
	}

	dev.FailWrite = true
	if err := w.Stage(make([]byte, 8)); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("stage with failing write: got %v, want ErrWriteFailed", err)
	}
	if dev.Unlocked() {
		t.Fatal("controller left unlocked after failed write")
	}

	// After the injected faults clear, staging succeeds.
	if err := w.Stage(make([]byte, 8)); err != nil {
		t.Fatalf("stage after faults cleared: %v", err)
	}
	if dev.Unlocked() {
		t.Fatal("controller left unlocked after successful commit")
	}
}

func TestWriterReset(t *testing.T) {
	w, _ := newTestWriter(t)
	if err := w.Stage([]byte{1, 2, 3}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := w.Reset(testBase + PageSize); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if w.Pending() != 0 || w.DataLen() != 0 {
		t.Fatal("reset did not clear staging state")
	}
	if got := w.Address(); got != testBase+PageSize {
		t.Fatalf("address after reset = 0x%08X", got)
	}
	if err := w.Reset(testBase + 3); !errors.Is(err, ErrAlignment) {
		t.Fatalf("unaligned reset: got %v, want ErrAlignment", err)
	}
}

func TestNewWriterValidation(t *testing.T) {
	dev := NewMemDevice(testBase, PageSize)
	if _, err := NewWriter(dev, testBase+3); !errors.Is(err, ErrAlignment) {
		t.Fatalf("unaligned start: got %v, want ErrAlignment", err)
	}
	if _, err := NewWriter(dev, testBase+PageSize); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("start past region: got %v, want ErrOutOfRange", err)
	}
}

func TestMemDeviceRules(t *testing.T) {
	dev := NewMemDevice(testBase, PageSize)

	if err := dev.Write(testBase, make([]byte, 8)); !errors.Is(err, ErrLocked) {
		t.Fatalf("write while locked: got %v, want ErrLocked", err)
	}
	if err := dev.ErasePage(testBase); !errors.Is(err, ErrLocked) {
		t.Fatalf("erase while locked: got %v, want ErrLocked", err)
	}

	dev.Unlock()
	if err := dev.Write(testBase+4, make([]byte, 8)); !errors.Is(err, ErrAlignment) {
		t.Fatalf("unaligned write: got %v, want ErrAlignment", err)
	}
	if err := dev.Write(testBase, make([]byte, 5)); !errors.Is(err, ErrAlignment) {
		t.Fatalf("unaligned length: got %v, want ErrAlignment", err)
	}
	if err := dev.ErasePage(testBase + 8); !errors.Is(err, ErrAlignment) {
		t.Fatalf("unaligned erase: got %v, want ErrAlignment", err)
	}

	if err := dev.Write(testBase, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Programming over non-erased flash is refused.
	if err := dev.Write(testBase, make([]byte, 8)); !errors.Is(err, ErrNotErased) {
		t.Fatalf("rewrite without erase: got %v, want ErrNotErased", err)
	}
	if err := dev.ErasePage(testBase); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := dev.Write(testBase, make([]byte, 8)); err != nil {
		t.Fatalf("write after erase: %v", err)
	}
}
