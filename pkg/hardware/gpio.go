// Copyright 2024-2026 Aiku AI

// Package hardware drives the sign's LEDs and reads its buttons through
// periph GPIO pins.
package hardware

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrPinNotFound is returned when no registered pin has the given name.
var ErrPinNotFound = errors.New("gpio pin not found")

// Init loads the host drivers. Pins are only registered after it ran.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return nil
}

func lookup(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return pin, nil
}

// LED is an active-high status light.
type LED struct {
	pin gpio.PinOut
}

// OpenLED looks up a pin by name and configures it as an LED.
func OpenLED(name string) (*LED, error) {
	pin, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return NewLED(pin)
}

// NewLED configures pin as an output, initially off.
func NewLED(pin gpio.PinOut) (*LED, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure LED on %s: %w", pin, err)
	}
	return &LED{pin: pin}, nil
}

func (l *LED) Set(on bool) error {
	if err := l.pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("failed to set LED on %s: %w", l.pin, err)
	}
	return nil
}

// Button is an active-low push button against the internal pull-up.
type Button struct {
	pin gpio.PinIn
}

// OpenButton looks up a pin by name and configures it as a button.
func OpenButton(name string) (*Button, error) {
	pin, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return NewButton(pin)
}

// NewButton configures pin as a pulled-up input without edge detection.
func NewButton(pin gpio.PinIn) (*Button, error) {
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure button on %s: %w", pin, err)
	}
	return &Button{pin: pin}, nil
}

// Pressed reports whether the button pulls the pin low.
func (b *Button) Pressed() bool {
	return b.pin.Read() == gpio.Low
}
