package grblconn

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport abstracts the byte stream to the controller. Implementations must
// support bounded reads so that every wait in the polling and command paths
// can be cancelled by timeout.
//
// The connection layer serializes all Transport calls through one mutex;
// implementations only need to be safe against concurrent Close.
type Transport interface {
	// Open establishes the link to the controller.
	Open() error
	// Close tears the link down and unblocks pending reads.
	Close() error
	// WriteLine sends one command line, appending the line terminator.
	WriteLine(line string) error
	// WriteBytes sends raw bytes without a terminator, used for realtime
	// control bytes.
	WriteBytes(p []byte) error
	// ReadLine returns the next complete reply line without its terminator.
	// It returns ErrReadTimeout when no complete line arrives in time.
	ReadLine(timeout time.Duration) (string, error)
	// Connected reports whether the link is currently open.
	Connected() bool
}

// SerialTransport implements Transport on a serial port.
type SerialTransport struct {
	mu      sync.Mutex
	device  string
	baud    int
	port    serial.Port
	pending []byte
}

var _ Transport = (*SerialTransport)(nil)

// NewSerialTransport creates a transport for the given serial device path and
// baud rate.
func NewSerialTransport(device string, baud int) *SerialTransport {
	return &SerialTransport{
		device: device,
		baud:   baud,
	}
}

// Open opens the serial port and discards any stale input.
func (t *SerialTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}

	mode := &serial.Mode{BaudRate: t.baud}
	port, err := serial.Open(t.device, mode)
	if err != nil {
		return fmt.Errorf("grblconn: open serial port %s: %w", t.device, err)
	}

	// drop whatever the controller sent before we were listening
	_ = port.ResetInputBuffer()

	t.port = port
	t.pending = t.pending[:0]

	return nil
}

// Close closes the serial port. Pending reads fail once the port is gone.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}

	err := t.port.Close()
	t.port = nil

	if err != nil {
		return fmt.Errorf("grblconn: close serial port %s: %w", t.device, err)
	}

	return nil
}

// Connected reports whether the port is open.
func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port != nil
}

// WriteLine sends one command line terminated by '\n'.
func (t *SerialTransport) WriteLine(line string) error {
	return t.WriteBytes(append([]byte(line), '\n'))
}

// WriteBytes sends raw bytes to the controller.
func (t *SerialTransport) WriteBytes(p []byte) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return ErrTransportClosed
	}

	if _, err := port.Write(p); err != nil {
		return fmt.Errorf("grblconn: serial write: %w", err)
	}

	return nil
}

// ReadLine reads until the next '\n', stripping the terminator and any '\r'.
// Bytes beyond the first line are buffered for the next call.
func (t *SerialTransport) ReadLine(timeout time.Duration) (string, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return "", ErrTransportClosed
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		if line, ok := t.takeLine(); ok {
			return line, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrReadTimeout
		}

		if err := port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("grblconn: set read timeout: %w", err)
		}

		n, err := port.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("grblconn: serial read: %w", err)
		}
		if n == 0 {
			// timeout elapsed without data
			return "", ErrReadTimeout
		}

		t.mu.Lock()
		t.pending = append(t.pending, chunk[:n]...)
		t.mu.Unlock()
	}
}

// takeLine pops one complete line from the pending buffer.
func (t *SerialTransport) takeLine() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := bytes.IndexByte(t.pending, '\n')
	if idx < 0 {
		return "", false
	}

	line := string(bytes.TrimRight(t.pending[:idx], "\r"))
	t.pending = t.pending[idx+1:]

	return line, true
}
