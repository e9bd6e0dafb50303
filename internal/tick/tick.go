// Package tick provides the monotonic millisecond tick source consumed by
// the bootloader core. On hardware this is the SysTick counter; on a host it
// is derived from the monotonic clock. The counter is a uint32 and wraps
// after ~49.7 days, so all elapsed-time math must go through Elapsed.
package tick

import "time"

// Source yields a monotonic millisecond counter. Implementations must never
// go backwards except by wrapping around the uint32 range.
type Source interface {
	Now() uint32
}

// Elapsed returns the milliseconds between start and current, accounting for
// a single wrap of the 32-bit counter.
func Elapsed(start, current uint32) uint32 {
	if current >= start {
		return current - start
	}
	return (^uint32(0) - start) + current + 1
}

// SystemSource derives ticks from the process monotonic clock.
type SystemSource struct {
	origin time.Time
}

// NewSystemSource returns a Source anchored at the time of the call.
func NewSystemSource() *SystemSource {
	return &SystemSource{origin: time.Now()}
}

// Now returns milliseconds since the source was created, truncated to uint32.
func (s *SystemSource) Now() uint32 {
	return uint32(time.Since(s.origin).Milliseconds())
}

// Simulated is a manually advanced Source for tests.
type Simulated struct {
	tick uint32
}

// NewSimulated returns a Simulated source starting at the given tick.
func NewSimulated(start uint32) *Simulated {
	return &Simulated{tick: start}
}

// Now returns the current simulated tick.
func (s *Simulated) Now() uint32 { return s.tick }

// Advance moves the simulated clock forward by ms milliseconds.
func (s *Simulated) Advance(ms uint32) { s.tick += ms }

// Set jumps the simulated clock to an absolute tick value. Used to exercise
// wraparound behavior.
func (s *Simulated) Set(t uint32) { s.tick = t }
