package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Serial is a transport backend over a hardware serial port, 8N1 at the
// configured baud rate.
type Serial struct {
	portName string
	baudRate int
	port     serial.Port
}

// NewSerial returns an unopened serial backend for the given port and baud
// rate. Init opens the port.
func NewSerial(portName string, baudRate int) *Serial {
	return &Serial{portName: portName, baudRate: baudRate}
}

// ListPorts returns the names of the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

func (s *Serial) Init() error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portName, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.portName, err)
	}
	s.port = port
	return nil
}

func (s *Serial) Send(data []byte, timeoutMs uint32) error {
	if s.port == nil {
		return ErrNotInitialized
	}
	for len(data) > 0 {
		n, err := s.port.Write(data)
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		data = data[n:]
	}
	return nil
}

func (s *Serial) Receive(buf []byte, timeoutMs uint32) (int, error) {
	if s.port == nil {
		return 0, ErrNotInitialized
	}
	if err := s.port.SetReadTimeout(time.Duration(timeoutMs) * time.Millisecond); err != nil {
		return 0, fmt.Errorf("serial set timeout: %w", err)
	}
	n, err := s.port.Read(buf)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
			return n, ErrClosed
		}
		return n, fmt.Errorf("serial read: %w", err)
	}
	// go.bug.st/serial signals a timeout with a zero-byte read and nil error.
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

// Available always reports zero. The underlying library exposes no
// non-blocking way to count queued bytes, so callers poll Receive instead.
func (s *Serial) Available() int { return 0 }

func (s *Serial) Flush() error {
	if s.port == nil {
		return ErrNotInitialized
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial flush: %w", err)
	}
	return nil
}

func (s *Serial) Deinit() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("serial close: %w", err)
	}
	return nil
}

func (s *Serial) Name() string { return "serial:" + s.portName }
