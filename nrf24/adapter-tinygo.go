//go:build tinygo

package nrf24

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

func (p *tinygoPin) Out(l Level) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

func (p *tinygoPin) In(pull Pull) error {
	mode := machine.PinInput
	switch pull {
	case PullUp:
		mode = machine.PinInputPullup
	case PullDown:
		mode = machine.PinInputPulldown
	}
	p.pin.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (p *tinygoPin) Read() Level {
	return Level(p.pin.Get())
}

// tinygoSPI drives the chip select line around every transaction.
type tinygoSPI struct {
	bus *machine.SPI
	cs  machine.Pin
}

func (s *tinygoSPI) Tx(w, r []byte) error {
	s.cs.Low()
	err := s.bus.Tx(w, r)
	s.cs.High()
	return err
}

// NewTinyGo returns an initialized driver on a microcontroller SPI bus.
// Pass machine.NoPin as irqPin when the IRQ line is not wired.
func NewTinyGo(c HardwareConfig, bus *machine.SPI, csPin, cePin, irqPin machine.Pin) (*Driver, error) {
	csPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	csPin.High()

	c.CE = &tinygoPin{pin: cePin}
	if irqPin != machine.NoPin {
		c.IRQ = &tinygoPin{pin: irqPin}
	}

	dev, err := NewWithHardware(c, &tinygoSPI{bus: bus, cs: csPin})
	if err != nil {
		return nil, err
	}
	dev.Init(false)
	if err := dev.Probe(); err != nil {
		return nil, err
	}
	return dev, nil
}
