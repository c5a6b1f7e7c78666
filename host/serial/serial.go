// Package serial abstracts the serial link to the encoder interface MCU.
package serial

import "io"

// Port represents a serial port. The abstraction keeps the link layer
// independent of the transport: native serial, USB CDC, or an in-memory
// port for tests.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC ignores this, but real UART bridges do not.
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the configuration used for USB CDC devices.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}
