//go:build rp2040 || rp2350

package main

import "machine"

// On the RP2040 machine.Serial is USB CDC-ACM, not a UART; the descriptors
// come from the TinyGo runtime.

// InitUSB initializes USB serial communication.
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes buffered for reading.
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte.
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes data, returning the count written.
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
