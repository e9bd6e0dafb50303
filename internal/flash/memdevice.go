package flash

// MemDevice simulates a flash bank in memory. It enforces the rules real
// flash controllers enforce: no erase or write while locked, aligned writes
// only, and programming only over erased bytes.
//
// The fault-injection fields let tests exercise failure paths.
type MemDevice struct {
	base uint32
	data []byte

	unlocked bool

	// Fault injection. FailErase and FailWrite make the next matching
	// operation fail. CorruptWrites flips the low bit of the first byte
	// of every write after programming, so readback verification trips.
	FailErase     bool
	FailWrite     bool
	CorruptWrites bool

	EraseCount uint32
	WriteCount uint32
}

// NewMemDevice returns a device of size bytes based at base, fully erased.
// size must be a multiple of PageSize.
func NewMemDevice(base, size uint32) *MemDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &MemDevice{base: base, data: data}
}

func (d *MemDevice) Unlock() error {
	d.unlocked = true
	return nil
}

func (d *MemDevice) Lock() error {
	d.unlocked = false
	return nil
}

func (d *MemDevice) ErasePage(addr uint32) error {
	if !d.unlocked {
		return ErrLocked
	}
	if addr%PageSize != 0 {
		return ErrAlignment
	}
	if !d.inRange(addr, PageSize) {
		return ErrOutOfRange
	}
	if d.FailErase {
		d.FailErase = false
		return ErrEraseFailed
	}
	off := addr - d.base
	for i := uint32(0); i < PageSize; i++ {
		d.data[off+i] = ErasedByte
	}
	d.EraseCount++
	return nil
}

func (d *MemDevice) Write(addr uint32, data []byte) error {
	if !d.unlocked {
		return ErrLocked
	}
	if addr%WriteAlign != 0 || len(data)%WriteAlign != 0 {
		return ErrAlignment
	}
	if !d.inRange(addr, uint32(len(data))) {
		return ErrOutOfRange
	}
	if d.FailWrite {
		d.FailWrite = false
		return ErrWriteFailed
	}
	off := addr - d.base
	for i := range data {
		if d.data[off+uint32(i)] != ErasedByte {
			return ErrNotErased
		}
	}
	copy(d.data[off:], data)
	if d.CorruptWrites {
		d.data[off] ^= 0x01
	}
	d.WriteCount++
	return nil
}

func (d *MemDevice) Read(addr uint32, buf []byte) error {
	if !d.inRange(addr, uint32(len(buf))) {
		return ErrOutOfRange
	}
	copy(buf, d.data[addr-d.base:])
	return nil
}

func (d *MemDevice) Base() uint32 { return d.base }

func (d *MemDevice) Size() uint32 { return uint32(len(d.data)) }

// Unlocked reports the current lock state, for tests asserting that
// operations re-lock on every exit path.
func (d *MemDevice) Unlocked() bool { return d.unlocked }

func (d *MemDevice) inRange(addr, length uint32) bool {
	return addr >= d.base && addr+length <= d.base+uint32(len(d.data))
}
