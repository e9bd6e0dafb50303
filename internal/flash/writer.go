package flash

import "fmt"

// Writer accumulates a byte stream into a WriteAlign-sized staging buffer
// and commits aligned, verified writes. The target page is erased exactly
// once before the first write touching it; a new page target resets the
// erase tracking.
type Writer struct {
	dev Device

	staging    [WriteAlign]byte
	stagingLen int
	writeAddr  uint32
	dataLen    uint32

	erasedPage uint32
	pageErased bool
}

// NewWriter returns a writer programming from startAddr on dev. startAddr
// must be WriteAlign-aligned and inside the device region.
func NewWriter(dev Device, startAddr uint32) (*Writer, error) {
	if startAddr%WriteAlign != 0 {
		return nil, ErrAlignment
	}
	if startAddr < dev.Base() || startAddr >= dev.Base()+dev.Size() {
		return nil, ErrOutOfRange
	}
	w := &Writer{dev: dev, writeAddr: startAddr}
	w.resetStaging()
	return w, nil
}

func (w *Writer) resetStaging() {
	for i := range w.staging {
		w.staging[i] = ErasedByte
	}
	w.stagingLen = 0
}

// Stage appends data, committing an aligned write each time the staging
// buffer fills. After a failed commit the buffer keeps its contents, so a
// later Stage or Flush retries the same write.
func (w *Writer) Stage(data []byte) error {
	for _, b := range data {
		if w.stagingLen == WriteAlign {
			if err := w.commit(); err != nil {
				return err
			}
		}
		w.staging[w.stagingLen] = b
		w.stagingLen++
		w.dataLen++
	}
	if w.stagingLen == WriteAlign {
		return w.commit()
	}
	return nil
}

// Flush commits any partial staging buffer, padded with the erased value.
func (w *Writer) Flush() error {
	if w.stagingLen == 0 {
		return nil
	}
	return w.commit()
}

func (w *Writer) commit() error {
	if err := w.ensureErased(); err != nil {
		return err
	}

	if err := w.dev.Unlock(); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	defer w.dev.Lock()

	if err := w.dev.Write(w.writeAddr, w.staging[:]); err != nil {
		return fmt.Errorf("write at 0x%08X: %w", w.writeAddr, err)
	}

	var readback [WriteAlign]byte
	if err := w.dev.Read(w.writeAddr, readback[:]); err != nil {
		return fmt.Errorf("readback at 0x%08X: %w", w.writeAddr, err)
	}
	if readback != w.staging {
		return fmt.Errorf("readback at 0x%08X: %w", w.writeAddr, ErrVerify)
	}

	w.writeAddr += WriteAlign
	w.resetStaging()
	return nil
}

func (w *Writer) ensureErased() error {
	page := PageBase(w.writeAddr)
	if w.pageErased && w.erasedPage == page {
		return nil
	}
	if err := w.dev.Unlock(); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	defer w.dev.Lock()

	if err := w.dev.ErasePage(page); err != nil {
		return fmt.Errorf("erase page 0x%08X: %w", page, err)
	}
	w.erasedPage = page
	w.pageErased = true
	return nil
}

// Verify compares flash contents at addr against expected. The range must
// lie inside the device region.
func (w *Writer) Verify(addr uint32, expected []byte) error {
	if addr < w.dev.Base() || addr+uint32(len(expected)) > w.dev.Base()+w.dev.Size() {
		return ErrOutOfRange
	}
	buf := make([]byte, len(expected))
	if err := w.dev.Read(addr, buf); err != nil {
		return err
	}
	for i := range expected {
		if buf[i] != expected[i] {
			return fmt.Errorf("at 0x%08X: %w", addr+uint32(i), ErrVerify)
		}
	}
	return nil
}

// Address returns the next aligned write address.
func (w *Writer) Address() uint32 { return w.writeAddr }

// DataLen returns the number of payload bytes staged so far, excluding
// padding.
func (w *Writer) DataLen() uint32 { return w.dataLen }

// Pending returns the number of bytes waiting in the staging buffer.
func (w *Writer) Pending() int { return w.stagingLen }

// Reset rewinds the writer to startAddr with an empty staging buffer and
// cleared erase tracking.
func (w *Writer) Reset(startAddr uint32) error {
	if startAddr%WriteAlign != 0 {
		return ErrAlignment
	}
	w.writeAddr = startAddr
	w.dataLen = 0
	w.pageErased = false
	w.resetStaging()
	return nil
}
