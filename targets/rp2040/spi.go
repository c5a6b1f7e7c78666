//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"
	"sync"

	"tennisbutler/core"
	"tinygo.org/x/drivers"
)

// RP2040/RP2350 SPI bus configurations. Each bus ID names one controller
// plus a pin mux choice; the LS7366R boards in the field are wired to spi0a.
type spiBusConfig struct {
	spi  *machine.SPI
	sck  machine.Pin
	mosi machine.Pin
	miso machine.Pin
	name string
}

var rp2040SPIBuses = map[core.SPIBusID]spiBusConfig{
	// SPI0
	0: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0, name: "spi0a"},
	1: {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4, name: "spi0b"},
	2: {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16, name: "spi0c"},

	// SPI1
	3: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8, name: "spi1a"},
	4: {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12, name: "spi1b"},
}

// RP2040SPIDriver implements core.SPIDriver using TinyGo's machine.SPI.
type RP2040SPIDriver struct {
	mu sync.Mutex

	configured map[core.SPIBusID]*machine.SPI
}

func NewRP2040SPIDriver() *RP2040SPIDriver {
	return &RP2040SPIDriver{
		configured: make(map[core.SPIBusID]*machine.SPI),
	}
}

// ConfigureBus sets up a hardware SPI bus. machine.SPI satisfies the drivers
// SPI interface, so it is returned directly.
func (d *RP2040SPIDriver) ConfigureBus(config core.SPIConfig) (drivers.SPI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if spi, exists := d.configured[config.BusID]; exists {
		return spi, nil
	}

	busConfig, exists := rp2040SPIBuses[config.BusID]
	if !exists {
		return nil, errors.New("invalid SPI bus ID")
	}
	if config.Mode > 3 {
		return nil, errors.New("invalid SPI mode")
	}

	err := busConfig.spi.Configure(machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       busConfig.sck,
		SDO:       busConfig.mosi,
		SDI:       busConfig.miso,
		Mode:      uint8(config.Mode),
	})
	if err != nil {
		return nil, err
	}

	d.configured[config.BusID] = busConfig.spi
	return busConfig.spi, nil
}

// GetBusInfo returns the available bus IDs and their pin mux names.
func (d *RP2040SPIDriver) GetBusInfo() map[core.SPIBusID]string {
	info := make(map[core.SPIBusID]string)
	for id, config := range rp2040SPIBuses {
		info[id] = config.name
	}
	return info
}
