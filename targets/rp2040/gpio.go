//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"

	"tennisbutler/core"
)

// RP2040GPIODriver implements core.GPIODriver using TinyGo's machine.Pin.
type RP2040GPIODriver struct{}

func NewRP2040GPIODriver() *RP2040GPIODriver {
	return &RP2040GPIODriver{}
}

const maxGPIOPin = 29

func (d *RP2040GPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin > maxGPIOPin {
		return errors.New("invalid GPIO pin")
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (d *RP2040GPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	if pin > maxGPIOPin {
		return errors.New("invalid GPIO pin")
	}
	machine.Pin(pin).Set(value)
	return nil
}

func (d *RP2040GPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	if pin > maxGPIOPin {
		return false, errors.New("invalid GPIO pin")
	}
	return machine.Pin(pin).Get(), nil
}
