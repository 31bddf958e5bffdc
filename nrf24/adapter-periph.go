//go:build !tinygo

package nrf24

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/michcald/rfphy"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
}

func (p *realPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func (p *realPin) In(pull Pull) error {
	var pPull gpio.Pull
	switch pull {
	case PullFloat:
		pPull = gpio.Float
	case PullDown:
		pPull = gpio.PullDown
	case PullUp:
		pPull = gpio.PullUp
	default:
		pPull = gpio.PullNoChange
	}
	return p.PinIO.In(pPull, gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

// Config holds the configuration for the Linux/periph.io driver.
type Config struct {
	// CEPin is the GPIO pin number (BCM numbering) for the Chip Enable (CE) pin.
	// Defaults to 25 if not provided.
	CEPin int
	// IRQPin is the GPIO pin number (BCM numbering) for the Interrupt Request (IRQ) pin.
	// Optional. Its level is reported as the GPIO1 status reading.
	IRQPin int
	// SpiBusPath is the path to the SPI bus (e.g., "/dev/spidev0.0").
	// Defaults to "/dev/spidev0.0" if not provided.
	SpiBusPath string
	// SpiClockHz is the SPI clock frequency in Hz.
	// Defaults to 1000000 (1MHz) if not provided.
	SpiClockHz int
	// TxTimeout bounds the wait for a frame to leave the radio.
	// Defaults to 10ms if not provided.
	TxTimeout time.Duration
	// Logger receives driver events.
	// Defaults to rfphy.DefaultLogger() if not provided.
	Logger rfphy.Logger
}

// New opens the SPI bus and pins through periph.io, initializes the radio and
// verifies the wiring. The returned driver is ready to be registered with an
// rfphy.Radio.
func New(c Config) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	if c.SpiBusPath == "" {
		c.SpiBusPath = "/dev/spidev0.0"
	}
	p, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	if c.SpiClockHz == 0 {
		c.SpiClockHz = 1000000
	}
	conn, err := p.Connect(physic.Frequency(c.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}

	if c.CEPin == 0 {
		c.CEPin = 25
	}
	ceName := fmt.Sprintf("GPIO%d", c.CEPin)
	realCe := gpioreg.ByName(ceName)
	if realCe == nil {
		p.Close()
		return nil, fmt.Errorf("failed to open CE pin %s", ceName)
	}

	var irq Pin
	if c.IRQPin != 0 {
		irqName := fmt.Sprintf("GPIO%d", c.IRQPin)
		realIrq := gpioreg.ByName(irqName)
		if realIrq == nil {
			p.Close()
			return nil, fmt.Errorf("failed to open IRQ pin %s", irqName)
		}
		irq = &realPin{PinIO: realIrq}
	}

	dev, err := NewWithHardware(HardwareConfig{
		CE:        &realPin{PinIO: realCe},
		IRQ:       irq,
		TxTimeout: c.TxTimeout,
		Logger:    c.Logger,
	}, conn)
	if err != nil {
		p.Close()
		return nil, err
	}
	dev.closer = p

	dev.Init(false)
	if err := dev.Probe(); err != nil {
		dev.Close()
		return nil, err
	}
	return dev, nil
}
