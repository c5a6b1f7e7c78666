package core

import (
	"sync"

	"tinygo.org/x/drivers"
)

// Minimum time chip-select must stay deasserted between transactions on the
// same device, per the LS7366R datasheet (t_CSD/t_CSH are well under 1us).
const interTransactionIdleUS = 1

// SPIBus serializes transactions on one SPI controller shared by several
// devices. The chip-select line is the per-device mutual exclusion on the
// wire; the mutex keeps concurrent callers from interleaving partial
// transactions.
type SPIBus struct {
	mu  sync.Mutex
	spi drivers.SPI
}

// NewSPIBus wraps a configured SPI bus.
func NewSPIBus(spi drivers.SPI) *SPIBus {
	return &SPIBus{spi: spi}
}

// Transaction runs fn with cs asserted (driven low). The line is always
// deasserted afterwards, even when fn fails, and the mandatory
// inter-transaction idle is enforced before the bus is released.
func (b *SPIBus) Transaction(cs GPIOPin, fn func(spi drivers.SPI) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	gpio := MustGPIO()
	if err := gpio.SetPin(cs, false); err != nil {
		return err
	}
	err := fn(b.spi)
	if derr := gpio.SetPin(cs, true); err == nil {
		err = derr
	}
	DelayMicros(interTransactionIdleUS)
	return err
}

// Shared bus registry. Devices configured on the same bus ID get the same
// SPIBus, and with it the same transaction lock.
var (
	spiBusMu sync.Mutex
	spiBuses = make(map[SPIBusID]*SPIBus)
)

// BusForConfig returns the shared SPIBus for config.BusID, configuring the
// controller through the SPI HAL on first use.
func BusForConfig(config SPIConfig) (*SPIBus, error) {
	spiBusMu.Lock()
	defer spiBusMu.Unlock()

	if bus, ok := spiBuses[config.BusID]; ok {
		return bus, nil
	}
	spi, err := MustSPI().ConfigureBus(config)
	if err != nil {
		return nil, err
	}
	bus := NewSPIBus(spi)
	spiBuses[config.BusID] = bus
	return bus, nil
}
