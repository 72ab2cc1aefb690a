package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

var errClosed = errors.New("device: connection closed")

// Conn is the byte-level transport to the tool. Reads are bounded-timeout
// polls that return 0 when no data is pending; writes may be issued
// concurrently with reads from another goroutine.
type Conn interface {
	// ReadAvailable fills buf with whatever bytes are pending, waiting at
	// most the transport's poll timeout. n == 0 with a nil error means the
	// line was idle.
	ReadAvailable(buf []byte) (n int, err error)
	Write(p []byte) (int, error)
	Close() error
}

// SerialConfig holds connection settings for the tool's serial port.
type SerialConfig struct {
	PortPath string
	BaudRate int
}

// pollTimeout bounds each read so the worker can check for cancellation.
const pollTimeout = 50 * time.Millisecond

// SerialConn is the hardware transport over a real serial port, 8N1.
type SerialConn struct {
	port serial.Port

	// The port's read and write sides are independent, but writes can come
	// from any consumer goroutine and must not interleave with each other.
	wmu sync.Mutex
}

// OpenSerial opens the configured port. BaudRate defaults to 115200.
func OpenSerial(cfg SerialConfig) (*SerialConn, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("device: failed to open %s: %w", cfg.PortPath, err)
	}
	if err := port.SetReadTimeout(pollTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("device: failed to set read timeout on %s: %w", cfg.PortPath, err)
	}
	return &SerialConn{port: port}, nil
}

// ReadAvailable reads pending bytes; on timeout it returns 0, nil.
func (c *SerialConn) ReadAvailable(buf []byte) (int, error) {
	return c.port.Read(buf)
}

func (c *SerialConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.port.Write(p)
}

func (c *SerialConn) Close() error {
	return c.port.Close()
}
