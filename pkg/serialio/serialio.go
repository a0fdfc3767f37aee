// Package serialio provides the serial transport the Bpod driver talks
// through, plus discovery of Bpod devices on the serial bus.
package serialio

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the rate the Bpod state machine negotiates.
	DefaultBaudRate = 1312500

	// DefaultTimeout bounds every blocking read.
	DefaultTimeout = 1 * time.Second

	// disconnectByte tells the state machine to end the session. It is
	// written best-effort when the connection closes.
	disconnectByte = 'Z'
)

var (
	ErrTimeout = errors.New("serialio: read timed out")
	ErrClosed  = errors.New("serialio: connection is closed")
)

// Options configure a connection. Zero values select the defaults.
type Options struct {
	BaudRate int
	Timeout  time.Duration
}

// Conn is a duplex byte stream over one serial port.
type Conn struct {
	name    string
	mode    *serial.Mode
	timeout time.Duration
	port    serial.Port
	logger  log.FieldLogger
}

// NewConn creates a connection for the named port. The port is not opened
// until Open is called.
func NewConn(name string, opts Options, logger log.FieldLogger) *Conn {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Conn{
		name:    name,
		mode:    &serial.Mode{BaudRate: opts.BaudRate},
		timeout: opts.Timeout,
		logger:  logger.WithField("port", name),
	}
}

// Name returns the port identifier.
func (c *Conn) Name() string {
	return c.name
}

// Open claims the serial port.
func (c *Conn) Open() error {
	if c.port != nil {
		return nil
	}

	port, err := serial.Open(c.name, c.mode)
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", c.name, err)
	}
	if err := port.SetReadTimeout(c.timeout); err != nil {
		port.Close()
		return fmt.Errorf("setting read timeout: %w", err)
	}

	c.port = port
	c.logger.Debugf("Serial port opened at %d baud", c.mode.BaudRate)
	return nil
}

// Close writes the disconnect byte and releases the port. Closing an
// already-closed connection is a no-op. A failed disconnect write is
// logged, not raised.
func (c *Conn) Close() error {
	if c.port == nil {
		return nil
	}

	if _, err := c.port.Write([]byte{disconnectByte}); err != nil {
		c.logger.Warnf("Failed to write disconnect byte: %v", err)
	}

	err := c.port.Close()
	c.port = nil
	c.logger.Debug("Serial port closed")
	return err
}

// ReadExact blocks until exactly n bytes are available or the read
// timeout elapses.
func (c *Conn) ReadExact(n int) ([]byte, error) {
	if c.port == nil {
		return nil, ErrClosed
	}

	buf := make([]byte, n)
	total := 0
	for total < n {
		k, err := c.port.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("reading from %s: %w", c.name, err)
		}
		if k == 0 {
			// The port read timeout expired without data.
			return nil, fmt.Errorf("%w: got %d of %d bytes", ErrTimeout, total, n)
		}
		total += k
	}
	return buf, nil
}

// Write sends buf to the device and returns the number of bytes written.
func (c *Conn) Write(buf []byte) (int, error) {
	if c.port == nil {
		return 0, ErrClosed
	}

	n, err := c.port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("writing to %s: %w", c.name, err)
	}
	return n, nil
}

// Flush discards any buffered input.
func (c *Conn) Flush() error {
	if c.port == nil {
		return ErrClosed
	}
	return c.port.ResetInputBuffer()
}
