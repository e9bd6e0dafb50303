package transport

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/logging"
)

// Transport errors.
var (
	ErrTimeout        = errors.New("transport: operation timed out")
	ErrNotInitialized = errors.New("transport: not initialized")
	ErrBusy           = errors.New("transport: busy")
	ErrHardware       = errors.New("transport: hardware failure")
	ErrClosed         = errors.New("transport: closed")
)

// Interface is the contract a transport backend exposes to the core.
// Timeouts are in milliseconds; a zero timeout means poll (return
// immediately with whatever is available).
type Interface interface {
	Init() error
	Send(data []byte, timeoutMs uint32) error
	Receive(buf []byte, timeoutMs uint32) (int, error)
	Available() int
	Flush() error
	Deinit() error
	Name() string
}

// State tracks the lifecycle of a transport adapter.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
	StateError
	StateShutdown
)

// String returns a short name for the transport state.
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
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats accumulates traffic counters across the life of a Context.
type Stats struct {
	BytesSent     uint32
	BytesReceived uint32
	ErrorCount    uint32
	TimeoutCount  uint32
}

// Context wraps a backend, tracking lifecycle state and cumulative traffic
// statistics. All core components hold a *Context, never a raw backend.
type Context struct {
	backend Interface
	state   State
	stats   Stats
}

// NewContext returns an uninitialized adapter around backend.
func NewContext(backend Interface) *Context {
	return &Context{backend: backend, state: StateUninitialized}
}

// Init initializes the underlying backend and marks the adapter ready.
func (c *Context) Init() error {
	if c.state == StateInitialized || c.state == StateActive {
		return nil
	}
	if err := c.backend.Init(); err != nil {
		c.state = StateError
		c.stats.ErrorCount++
		return fmt.Errorf("init %s: %w", c.backend.Name(), err)
	}
	c.state = StateInitialized
	logging.LogTransportEvent(c.backend.Name(), "initialized")
	return nil
}

// Send transmits data, blocking until complete or the timeout elapses.
func (c *Context) Send(data []byte, timeoutMs uint32) error {
	if !c.Initialized() {
		return ErrNotInitialized
	}
	if err := c.backend.Send(data, timeoutMs); err != nil {
		c.recordError(err)
		return err
	}
	c.state = StateActive
	c.stats.BytesSent += uint32(len(data))
	return nil
}

// Receive reads up to len(buf) bytes, blocking until at least one byte
// arrives or the timeout elapses.
func (c *Context) Receive(buf []byte, timeoutMs uint32) (int, error) {
	if !c.Initialized() {
		return 0, ErrNotInitialized
	}
	n, err := c.backend.Receive(buf, timeoutMs)
	if n > 0 {
		c.state = StateActive
		c.stats.BytesReceived += uint32(n)
	}
	if err != nil {
		c.recordError(err)
		return n, err
	}
	return n, nil
}

// Available reports how many bytes can be read without blocking, where the
// backend can know that.
func (c *Context) Available() int {
	if !c.Initialized() {
		return 0
	}
	return c.backend.Available()
}

// Flush discards buffered data in both directions where supported.
func (c *Context) Flush() error {
	if !c.Initialized() {
		return ErrNotInitialized
	}
	return c.backend.Flush()
}

// Deinit shuts the backend down. Safe to call more than once.
func (c *Context) Deinit() error {
	if c.state == StateUninitialized || c.state == StateShutdown {
		c.state = StateShutdown
		return nil
	}
	err := c.backend.Deinit()
	c.state = StateShutdown
	logging.LogTransportEvent(c.backend.Name(), "shut down")
	if err != nil {
		return fmt.Errorf("deinit %s: %w", c.backend.Name(), err)
	}
	return nil
}

// Initialized reports whether the adapter is usable for I/O.
func (c *Context) Initialized() bool {
	return c.state == StateInitialized || c.state == StateActive
}

// State returns the adapter lifecycle state.
func (c *Context) State() State { return c.state }

// Stats returns a copy of the cumulative traffic counters.
func (c *Context) Stats() Stats { return c.stats }

// Name returns the backend's name.
func (c *Context) Name() string { return c.backend.Name() }

func (c *Context) recordError(err error) {
	if errors.Is(err, ErrTimeout) {
		c.stats.TimeoutCount++
		return
	}
	c.stats.ErrorCount++
	logging.Warn("Transport error",
		zap.String("transport", c.backend.Name()),
		zap.Error(err),
	)
}
