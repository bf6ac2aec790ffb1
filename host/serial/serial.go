// Package serial opens the host side of serial links between fabrics.
package serial

import (
	"io"
	"net"
)

// Port represents a serial port interface.
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - In-memory pipes (for testing and local simulation)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC ignores this)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud applies to links that set no baud rate. USB CDC devices ignore it.
const DefaultBaud = 115200

// DefaultConfig returns the default configuration for device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}

// pipePort is one end of an in-memory link
type pipePort struct {
	net.Conn
}

func (pipePort) Flush() error { return nil }

// Pipe returns two connected ports. Bytes written to one are read from
// the other; writes block until the peer reads them.
func Pipe() (Port, Port) {
	a, b := net.Pipe()
	return pipePort{a}, pipePort{b}
}
