package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// TCP is a transport backend that listens on an address and serves a single
// client connection. It lets a host tool drive the simulator over a socket
// instead of a serial cable.
type TCP struct {
	addr string

	listener net.Listener
	conn     net.Conn
	reader   *bufio.Reader
}

// NewTCP returns an unopened TCP backend listening on addr, for example
// "127.0.0.1:9000".
func NewTCP(addr string) *TCP {
	return &TCP{addr: addr}
}

// Init starts listening. The first client is accepted lazily on the first
// Send or Receive.
func (t *TCP) Init() error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.addr, err)
	}
	t.listener = ln
	return nil
}

// Addr returns the bound listen address, useful when addr requested port 0.
func (t *TCP) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCP) accept() error {
	if t.conn != nil {
		return nil
	}
	if t.listener == nil {
		return ErrNotInitialized
	}
	conn, err := t.listener.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return nil
}

func (t *TCP) Send(data []byte, timeoutMs uint32) error {
	if err := t.accept(); err != nil {
		return err
	}
	if timeoutMs > 0 {
		deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := t.conn.Write(data); err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

func (t *TCP) Receive(buf []byte, timeoutMs uint32) (int, error) {
	if err := t.accept(); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	if timeoutMs == 0 {
		// A zero timeout is a poll of already buffered bytes.
		deadline = time.Now()
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}
	n, err := t.reader.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return n, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
			return n, ErrClosed
		}
		return n, fmt.Errorf("tcp read: %w", err)
	}
	return n, nil
}

// Available reports the bytes already buffered from the socket.
func (t *TCP) Available() int {
	if t.reader == nil {
		return 0
	}
	return t.reader.Buffered()
}

// Flush discards buffered receive bytes.
func (t *TCP) Flush() error {
	if t.reader == nil {
		return nil
	}
	if n := t.reader.Buffered(); n > 0 {
		if _, err := t.reader.Discard(n); err != nil {
			return fmt.Errorf("tcp flush: %w", err)
		}
	}
	return nil
}

func (t *TCP) Deinit() error {
	var first error
	if t.conn != nil {
		if err := t.conn.Close(); err != nil && first == nil {
			first = err
		}
		t.conn = nil
		t.reader = nil
	}
	if t.listener != nil {
		if err := t.listener.Close(); err != nil && first == nil {
			first = err
		}
		t.listener = nil
	}
	return first
}

func (t *TCP) Name() string { return "tcp:" + t.addr }

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
