package core

import "tinygo.org/x/drivers"

// SPIBusID identifies a hardware SPI bus configuration.
type SPIBusID uint8

// SPIMode represents SPI clock polarity and phase (0-3).
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIConfig holds the configuration for an SPI bus.
type SPIConfig struct {
	BusID SPIBusID
	Mode  SPIMode
	Rate  uint32 // clock rate in Hz
}

// SPIDriver is the abstract SPI interface that core code uses.
// Platform-specific implementations handle actual hardware control; the
// returned bus satisfies the tinygo drivers SPI interface, so core code and
// chip drivers stay portable between hardware, bit-banged, and test buses.
type SPIDriver interface {
	// ConfigureBus sets up a hardware SPI bus with the given parameters
	// and returns it ready for transfers.
	ConfigureBus(config SPIConfig) (drivers.SPI, error)

	// GetBusInfo returns a map of bus IDs to human-readable descriptions.
	GetBusInfo() map[SPIBusID]string
}

// Global singleton used by core code.
var spiDriver SPIDriver

// SetSPIDriver is called by target-specific code to register its driver.
func SetSPIDriver(d SPIDriver) {
	spiDriver = d
}

// MustSPI returns the configured driver or panics if missing.
func MustSPI() SPIDriver {
	if spiDriver == nil {
		panic("SPI driver not configured")
	}
	return spiDriver
}
