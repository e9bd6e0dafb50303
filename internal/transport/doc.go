// Package transport defines the byte transport contract consumed by the
// bootloader core and provides the backends the simulator can run against.
//
// The core never talks to a backend directly: it goes through a Context,
// a thin adapter that tracks lifecycle state and cumulative statistics for
// every send and receive. Backends:
//
//   - Serial: a real serial port via go.bug.st/serial
//   - TCP: a single-client TCP listener, so host tooling can drive the
//     simulator without hardware
//   - Loopback: paired in-memory endpoints for tests
//
// All I/O is blocking-with-timeout. A send or receive returns only when it
// completes or its timeout elapses; there is no overlapping I/O.
package transport
