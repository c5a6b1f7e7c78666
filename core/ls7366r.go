package core

import (
	"errors"
	"math"

	"tinygo.org/x/drivers"
)

// LS7366R quadrature counter driver.
//
// The chip accumulates encoder counts in hardware; every operation here is a
// short SPI transaction bracketed by chip-select, run through the shared
// SPIBus so devices on the same controller never interleave.

// CounterWidth selects the CNTR size. The values double as the MDR1 byte
// count code, so the width can be written to the chip directly.
type CounterWidth uint8

const (
	Counter32Bit CounterWidth = LS7366R_MDR1_CNT_4BYTE
	Counter16Bit CounterWidth = LS7366R_MDR1_CNT_2BYTE
)

var (
	ErrNotInitialized  = errors.New("ls7366r: not initialized")
	ErrBadCounterWidth = errors.New("ls7366r: unsupported counter width")
)

// LS7366RConfig describes one counter chip on a shared SPI bus.
type LS7366RConfig struct {
	CSPin GPIOPin
	Width CounterWidth

	// Scale multiplies the raw count before wrapping. Zero means 1.0.
	Scale float64

	// WrapRange folds the scaled count into [0, WrapRange]. Zero or
	// negative disables wrapping.
	WrapRange int32

	// Invert negates the raw count before scaling.
	Invert bool
}

// LS7366R is one counter chip. Not safe for concurrent use by itself; the
// bus transaction lock covers the wire, callers cover the struct.
type LS7366R struct {
	bus         *SPIBus
	cs          GPIOPin
	width       CounterWidth
	scale       float64
	wrapRange   int32
	invert      bool
	initialized bool
}

// NewLS7366R claims the chip-select pin and parks it deasserted. The chip is
// not touched until Initialize.
func NewLS7366R(bus *SPIBus, config LS7366RConfig) (*LS7366R, error) {
	switch config.Width {
	case Counter32Bit, Counter16Bit:
	default:
		return nil, ErrBadCounterWidth
	}
	scale := config.Scale
	if scale == 0 {
		scale = 1.0
	}

	gpio := MustGPIO()
	if err := gpio.ConfigureOutput(config.CSPin); err != nil {
		return nil, err
	}
	// Deasserted before the first transaction, so the chip never sees a
	// partial frame during setup.
	if err := gpio.SetPin(config.CSPin, true); err != nil {
		return nil, err
	}

	return &LS7366R{
		bus:       bus,
		cs:        config.CSPin,
		width:     config.Width,
		scale:     scale,
		wrapRange: config.WrapRange,
		invert:    config.Invert,
	}, nil
}

// Initialize programs the operating mode: x1 quadrature, free-running count,
// index input ignored, and the configured counter width. Each register write
// is its own chip-select frame.
func (e *LS7366R) Initialize() error {
	err := e.bus.Transaction(e.cs, func(spi drivers.SPI) error {
		return spi.Tx([]byte{LS7366R_WR_MDR0, LS7366R_MDR0_QUAD_X1}, nil)
	})
	if err != nil {
		return err
	}
	err = e.bus.Transaction(e.cs, func(spi drivers.SPI) error {
		return spi.Tx([]byte{LS7366R_WR_MDR1, byte(e.width)}, nil)
	})
	if err != nil {
		return err
	}
	e.initialized = true
	return nil
}

// Read latches and returns the current count, inverted and run through
// Format.
func (e *LS7366R) Read() (int32, error) {
	if !e.initialized {
		return 0, ErrNotInitialized
	}
	raw, err := e.readCounter()
	if err != nil {
		return 0, err
	}
	if e.invert {
		raw = -raw
	}
	return e.Format(raw), nil
}

// readCounter issues RD_CNTR and assembles the MSB-first reply. A 16-bit
// counter is sign-extended through int16.
func (e *LS7366R) readCounter() (int32, error) {
	n := 4
	if e.width == Counter16Bit {
		n = 2
	}
	tx := make([]byte, n+1)
	rx := make([]byte, n+1)
	tx[0] = LS7366R_RD_CNTR

	err := e.bus.Transaction(e.cs, func(spi drivers.SPI) error {
		return spi.Tx(tx, rx)
	})
	if err != nil {
		return 0, err
	}

	var v uint32
	for _, b := range rx[1:] {
		v = v<<8 | uint32(b)
	}
	if e.width == Counter16Bit {
		return int32(int16(v)), nil
	}
	return int32(v), nil
}

// Format scales the raw count and folds it into the wrap range. Negative
// counts wrap from the top, so -1 with range 360 reads as 359.
func (e *LS7366R) Format(raw int32) int32 {
	scaled := int32(math.Round(e.scale * float64(raw)))
	if e.wrapRange <= 0 {
		return scaled
	}
	if scaled >= 0 {
		return scaled % e.wrapRange
	}
	return e.wrapRange - (-scaled)%e.wrapRange
}

// Zero clears the counter by loading CNTR from a zeroed DTR.
func (e *LS7366R) Zero() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	err := e.bus.Transaction(e.cs, func(spi drivers.SPI) error {
		return spi.Tx([]byte{LS7366R_WR_DTR, 0, 0, 0, 0}, nil)
	})
	if err != nil {
		return err
	}
	return e.bus.Transaction(e.cs, func(spi drivers.SPI) error {
		return spi.Tx([]byte{LS7366R_LOAD_CNTR}, nil)
	})
}
