// Package timeout provides watchdog tracking for bounded operations. A
// Context supervises one operation with an expiry deadline, an optional
// early-warning threshold, and a bounded retry budget. A Manager sweeps up
// to eight concurrent contexts and tracks system-wide activity.
//
// All timing uses 32-bit millisecond ticks and survives counter wraparound.
package timeout

import (
	"github.com/tallstad/bootcore/internal/tick"
)

// State tracks where a supervised operation is in its timeout lifecycle.
type State int

const (
	StateDisabled State = iota
	StateActive
	StateWarning
	StateExpired
)

// String returns a short name for the timeout state.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateActive:
		return "ACTIVE"
	case StateWarning:
		return "WARNING"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Context supervises one named operation. The zero value is disabled; use
// New and Start.
type Context struct {
	name      string
	clock     tick.Source
	startTick uint32

	timeoutMs uint32
	warningMs uint32

	retryCount uint8
	maxRetries uint8

	state        State
	enabled      bool
	warningFired bool
	autoReset    bool
}

// New returns a disabled context for the named operation. warningMs of zero
// disables the early warning.
func New(name string, clock tick.Source, timeoutMs, warningMs uint32, maxRetries uint8) *Context {
	return &Context{
		name:       name,
		clock:      clock,
		timeoutMs:  timeoutMs,
		warningMs:  warningMs,
		maxRetries: maxRetries,
	}
}

// NewSimple returns a context with the warning at three quarters of the
// timeout and three retries.
func NewSimple(name string, clock tick.Source, timeoutMs uint32) *Context {
	return New(name, clock, timeoutMs, timeoutMs*3/4, 3)
}

// Start arms the context and clears the retry budget.
func (c *Context) Start() {
	c.startTick = c.clock.Now()
	c.state = StateActive
	c.enabled = true
	c.warningFired = false
	c.retryCount = 0
}

// Restart re-arms the deadline without touching the retry count.
func (c *Context) Restart() {
	c.startTick = c.clock.Now()
	c.state = StateActive
	c.warningFired = false
}

// Stop disarms the context.
func (c *Context) Stop() {
	c.enabled = false
	c.state = StateDisabled
}

// Reset re-arms the deadline and clears the retry budget, leaving the
// context enabled.
func (c *Context) Reset() {
	c.startTick = c.clock.Now()
	c.state = StateActive
	c.warningFired = false
	c.retryCount = 0
}

// Expired reports whether the deadline has passed, latching the state.
func (c *Context) Expired() bool {
	if !c.enabled || c.state == StateDisabled {
		return false
	}
	if tick.Elapsed(c.startTick, c.clock.Now()) >= c.timeoutMs {
		c.state = StateExpired
		return true
	}
	return false
}

// Warning reports whether the warning threshold has been crossed. It fires
// at most once per arming.
func (c *Context) Warning() bool {
	if !c.enabled || c.state == StateDisabled || c.warningMs == 0 {
		return false
	}
	if tick.Elapsed(c.startTick, c.clock.Now()) >= c.warningMs && !c.warningFired {
		c.warningFired = true
		c.state = StateWarning
		return true
	}
	return false
}

// Active reports whether the context is armed and not yet expired.
func (c *Context) Active() bool {
	return c.enabled && (c.state == StateActive || c.state == StateWarning)
}

// Elapsed returns milliseconds since the context was armed.
func (c *Context) Elapsed() uint32 {
	if !c.enabled {
		return 0
	}
	return tick.Elapsed(c.startTick, c.clock.Now())
}

// Remaining returns milliseconds until expiry, or zero once past it.
func (c *Context) Remaining() uint32 {
	if !c.enabled {
		return 0
	}
	elapsed := c.Elapsed()
	if elapsed >= c.timeoutMs {
		return 0
	}
	return c.timeoutMs - elapsed
}

// Configure replaces the deadline, warning threshold, and retry budget.
func (c *Context) Configure(timeoutMs, warningMs uint32, maxRetries uint8) {
	c.timeoutMs = timeoutMs
	c.warningMs = warningMs
	c.maxRetries = maxRetries
}

// SetAutoReset controls whether Manager.Update re-arms this context when
// recent system activity has been recorded.
func (c *Context) SetAutoReset(autoReset bool) {
	c.autoReset = autoReset
}

// Retry consumes one retry and re-arms the deadline. It returns false once
// the budget is exhausted.
func (c *Context) Retry() bool {
	if c.retryCount >= c.maxRetries {
		return false
	}
	c.retryCount++
	c.Restart()
	return true
}

// CanRetry reports whether retry budget remains.
func (c *Context) CanRetry() bool {
	return c.retryCount < c.maxRetries
}

// RetryCount returns the retries consumed since the last Start or Reset.
func (c *Context) RetryCount() uint8 { return c.retryCount }

// State returns the current timeout state.
func (c *Context) State() State { return c.state }

// Name returns the operation name given at construction.
func (c *Context) Name() string { return c.name }
