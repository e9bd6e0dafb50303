package transport

import (
	"sync"
	"time"
)

// Loopback is an in-memory transport endpoint. Pair returns two endpoints
// whose send and receive sides are cross-connected, which is how the tests
// and the simulator's self-test mode stand in for a serial link.
type Loopback struct {
	name string

	mu     sync.Mutex
	rx     []byte
	peer   *Loopback
	opened bool
	closed bool
}

// Pair returns two connected loopback endpoints, conventionally the device
// side and the host side.
func Pair() (*Loopback, *Loopback) {
	a := &Loopback{name: "loopback-device"}
	b := &Loopback{name: "loopback-host"}
	a.peer = b
	b.peer = a
	return a, b
}

// Init marks the endpoint open.
func (l *Loopback) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.opened = true
	return nil
}

// Send delivers data to the peer's receive buffer. Never blocks.
func (l *Loopback) Send(data []byte, timeoutMs uint32) error {
	l.mu.Lock()
	if !l.opened || l.closed {
		l.mu.Unlock()
		return ErrNotInitialized
	}
	peer := l.peer
	l.mu.Unlock()

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return ErrClosed
	}
	peer.rx = append(peer.rx, data...)
	return nil
}

// Receive copies buffered bytes into buf. With a zero timeout it polls; with
// a nonzero timeout it waits in short intervals for data to arrive.
func (l *Loopback) Receive(buf []byte, timeoutMs uint32) (int, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		l.mu.Lock()
		if !l.opened {
			l.mu.Unlock()
			return 0, ErrNotInitialized
		}
		if l.closed {
			l.mu.Unlock()
			return 0, ErrClosed
		}
		if len(l.rx) > 0 {
			n := copy(buf, l.rx)
			l.rx = l.rx[n:]
			l.mu.Unlock()
			return n, nil
		}
		l.mu.Unlock()

		if timeoutMs == 0 || !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// Available reports the number of buffered receive bytes.
func (l *Loopback) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rx)
}

// Flush discards buffered receive bytes.
func (l *Loopback) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = nil
	return nil
}

// Deinit closes the endpoint.
func (l *Loopback) Deinit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.opened = false
	return nil
}

// Name returns the endpoint name.
func (l *Loopback) Name() string { return l.name }
