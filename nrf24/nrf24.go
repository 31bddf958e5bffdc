// Package nrf24 drives an NRF24L01+ transceiver as an rfphy.Driver.
//
// The radio runs with dynamic payloads and without hardware acknowledgements:
// retries and acknowledgement belong to the link layer above the PHY. The four
// rfphy header bytes plus a fixed suffix form the 5 byte pipe address, so only
// frames carrying matching headers are received.
package nrf24

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/michcald/rfphy"
)

var (
	ErrPkg     = errors.New("nrf24dev")
	ErrTimeout = errors.New("timeout waiting for device")
)

type (
	DataRate byte
	PALevel  byte
)

const (
	// DataRate250kbps represents a data rate of 250kbps
	DataRate250kbps DataRate = iota
	// DataRate1mbps represents a data rate of 1mbps
	DataRate1mbps
	// DataRate2mbps represents a data rate of 2mbps
	DataRate2mbps
)

func (d DataRate) String() string {
	switch d {
	case DataRate250kbps:
		return "250kbps"
	case DataRate1mbps:
		return "1mbps"
	case DataRate2mbps:
		return "2mbps"
	default:
		return "unknown"
	}
}

const (
	// PALevelMin represents a power amplifier level of -18dBm
	PALevelMin PALevel = iota
	// PALevelLow represents a power amplifier level of -12dBm
	PALevelLow
	// PALevelHigh represents a power amplifier level of -6dBm
	PALevelHigh
	// PALevelMax represents a power amplifier level of 0dBm
	PALevelMax
)

func (p PALevel) String() string {
	switch p {
	case PALevelMin:
		return "-18dBm"
	case PALevelLow:
		return "-12dBm"
	case PALevelHigh:
		return "-6dBm"
	case PALevelMax:
		return "0dBm"
	default:
		return "unknown"
	}
}

// --- NRF24L01 Registers/Commands/Bits ---

// NRF24 Register Addresses
const (
	_CONFIG     = 0x00
	_EN_AA      = 0x01 // Auto Ack
	_EN_RXADDR  = 0x02
	_SETUP_AW   = 0x03
	_SETUP_RETR = 0x04
	_RF_CH      = 0x05
	_RF_SETUP   = 0x06
	_STATUS     = 0x07
	_RPD        = 0x09
	_RX_ADDR_P0 = 0x0A
	_TX_ADDR    = 0x10
	_DYNPD      = 0x1C // Dynamic Payload Register
	_FEATURE    = 0x1D // Feature Register

	_W_REGISTER         = 0x20
	_R_RX_PL_WID        = 0x60
	_R_RX_PAYLOAD       = 0x61
	_W_TX_PAYLOAD_NOACK = 0xB0
	_FLUSH_TX           = 0xE1
	_FLUSH_RX           = 0xE2
	_NOP                = 0xFF
)

// NRF24 Register Bit Definitions
const (
	_PWR_UP  = 1 << 1
	_PRIM_RX = 1 << 0
	_RX_DR   = 1 << 6
	_TX_DS   = 1 << 5
	_MAX_RT  = 1 << 4
	_EN_CRC  = 1 << 3
	_CRCO    = 1 << 2
	_ERX_P0  = 1 << 0

	_CONT_WAVE  = 1 << 7
	_RF_DR_LOW  = 1 << 5
	_PLL_LOCK   = 1 << 4
	_RF_DR_HIGH = 1 << 3

	_EN_DPL     = 1 << 2 // Enable Dynamic Payload Length
	_EN_DYN_ACK = 1 << 0 // Enable Payload with No ACK
)

const (
	// MaxPayload is the largest frame the radio carries.
	MaxPayload = 32

	addressWidth  = 5
	addressSuffix = 0xE7

	maxChannel       = 124
	baseFrequencyHz  = 2400000000
	channelSpacingHz = 1000000
	stepUnitHz       = 10000

	// RPD only reports whether the last reception was above -64dBm.
	rssiCarrier int8 = -64
	rssiFloor   int8 = -82

	pollInterval     = time.Millisecond
	defaultTxTimeout = 10 * time.Millisecond
)

// HardwareConfig wires the driver to its SPI bus and pins.
type HardwareConfig struct {
	// CE is the Chip Enable pin interface.
	CE Pin
	// IRQ is the Interrupt Request pin interface.
	// Optional. Its level is reported as the GPIO1 status reading.
	IRQ Pin
	// TxTimeout bounds the wait for a frame to leave the radio.
	// Defaults to 10ms if not provided.
	TxTimeout time.Duration
	// Logger receives driver events.
	// Defaults to rfphy.DefaultLogger() if not provided.
	Logger rfphy.Logger
}

// Driver is an NRF24L01+ behind the rfphy.Driver interface.
// All methods are concurrent safe.
type Driver struct {
	mu        sync.Mutex
	conn      SPI
	ce        Pin
	irq       Pin
	closer    io.Closer
	log       rfphy.Logger
	txTimeout time.Duration
	scratch   [MaxPayload + 1]byte // Max payload + 1 status byte

	config rfphy.Config
	mode   rfphy.Mode
	bind   bool
}

// NewWithHardware returns a driver on the provided hardware interfaces.
// It does not touch the radio; Init does.
func NewWithHardware(c HardwareConfig, conn SPI) (*Driver, error) {
	if conn == nil {
		return nil, fmt.Errorf("SPI connection not configured")
	}
	if c.CE == nil {
		return nil, fmt.Errorf("CE pin not configured")
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = defaultTxTimeout
	}
	if c.Logger == nil {
		c.Logger = rfphy.DefaultLogger()
	}

	d := &Driver{
		conn:      conn,
		ce:        c.CE,
		irq:       c.IRQ,
		log:       c.Logger,
		txTimeout: c.TxTimeout,
	}
	d.ce.Out(Low)
	if d.irq != nil {
		d.irq.In(PullUp)
	}
	return d, nil
}

func (d *Driver) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("NRF24L01(Channel=%d, DataRate=%s, PALevel=%s, Mode=%s)",
		rfChannel(d.config), dataRate(d.config), paLevel(d.config, d.bind), d.mode)
}

// Init resets the radio and powers it up in standby. In bind mode the power
// amplifier stays at its minimum level until the next non-bind Init.
func (d *Driver) Init(bind bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCE(false)
	d.writeRegister(_CONFIG, 0)
	d.clearStatus()
	d.flushTX()
	d.flushRX()

	d.writeRegister(_CONFIG, _PWR_UP|_EN_CRC|_CRCO)
	time.Sleep(2 * time.Millisecond) // Wait for oscillator stabilization

	d.writeRegister(_SETUP_AW, addressWidth-2)
	d.writeRegister(_SETUP_RETR, 0)
	d.writeRegister(_EN_AA, 0)
	d.writeRegister(_EN_RXADDR, _ERX_P0)
	d.writeRegister(_FEATURE, _EN_DPL|_EN_DYN_ACK)
	d.writeRegister(_DYNPD, _ERX_P0)

	d.bind = bind
	d.mode = rfphy.ModeStandby
	d.log.Info(fmt.Sprintf("NRF24L01 powered up (bind=%v)", bind))
}

// Probe checks the SPI wiring by reading back a register Init wrote.
func (d *Driver) Probe() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if got := d.readRegister(_SETUP_AW); got != addressWidth-2 {
		return fmt.Errorf("%w: failed to verify NRF24L01 connection: check wiring/power", ErrPkg)
	}
	return nil
}

// ApplyConfig programs channel, power, data rate, address and output mode.
func (d *Driver) ApplyConfig(c rfphy.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.config = c
	d.writeRegister(_RF_CH, rfChannel(c))
	d.writeRegister(_RF_SETUP, rfSetup(dataRate(c), paLevel(c, d.bind), c.DirectOutput))

	addr := address(c.Headers)
	d.writeRegisterN(_TX_ADDR, addr[:])
	d.writeRegisterN(_RX_ADDR_P0, addr[:])

	if c.Modem != nil {
		for _, rv := range c.Modem.Registers {
			d.writeRegister(rv.Addr&0x1F, rv.Value)
		}
	}
}

// SetMode switches between standby, listening and transmit preparation.
func (d *Driver) SetMode(m rfphy.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch m {
	case rfphy.ModeStandby:
		d.setCE(false)
	case rfphy.ModeReceive:
		d.startListening()
	case rfphy.ModeTransmit:
		d.stopListening()
	default:
		d.log.Warn(fmt.Sprintf("ignoring unsupported mode %d", m))
		return
	}
	d.mode = m
}

// Transmit sends f without requesting a hardware acknowledgement and then
// returns the radio to the mode it was in.
func (d *Driver) Transmit(f rfphy.Frame) error {
	n := f.Len()
	if n == 0 {
		return fmt.Errorf("%w: %w", ErrPkg, rfphy.ErrEmptyFrame)
	}
	if n > MaxPayload {
		return fmt.Errorf("%w: %w (%d bytes, limit is %d)", ErrPkg, rfphy.ErrFrameTooLong, n, MaxPayload)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopListening()

	d.scratch[0] = _W_TX_PAYLOAD_NOACK
	copy(d.scratch[1:], f.Payload)
	d.spiTransfer(1 + n)

	d.setCE(true)
	time.Sleep(15 * time.Microsecond)
	d.setCE(false)

	err := d.waitTxDone()
	if d.mode == rfphy.ModeReceive {
		d.startListening()
	}
	if err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	return nil
}

func (d *Driver) waitTxDone() error {
	timeout := time.After(d.txTimeout)
	for {
		select {
		case <-timeout:
			d.clearStatus()
			d.flushTX()
			return fmt.Errorf("%w: %w", ErrPkg, ErrTimeout)
		default:
			status := d.readRegister(_STATUS)
			if status&(_TX_DS|_MAX_RT) != 0 {
				d.clearStatus()
				if status&_MAX_RT != 0 {
					d.flushTX()
					return fmt.Errorf("%w: max retransmissions reached", ErrPkg)
				}
				return nil
			}
			time.Sleep(pollInterval)
		}
	}
}

// Receive reads a frame from the RX FIFO, polling until timeout expires.
func (d *Driver) Receive(timeout time.Duration) (rfphy.Frame, bool) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		payload, ok := d.readDynamic()
		var rssi int8
		if ok {
			rssi = d.rssi()
		}
		d.mu.Unlock()

		if ok {
			return rfphy.Frame{Payload: payload, RSSI: rssi}, true
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return rfphy.Frame{}, false
		}
		time.Sleep(pollInterval)
	}
}

// Status reports the carrier based RSSI and the IRQ pin level. The chip has
// no frequency offset reading, so AFC is always 0.
func (d *Driver) Status() rfphy.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := rfphy.Status{RSSI: d.rssi(), GPIO1: 1}
	if d.irq != nil && d.irq.Read() == Low {
		st.GPIO1 = 0
	}
	return st
}

// Close powers the radio down and releases the SPI port.
// This method is concurrent safe.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCE(false)
	d.writeRegister(_CONFIG, d.readRegister(_CONFIG)&^byte(_PWR_UP))
	d.log.Info("NRF24L01 powered down.")

	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			d.log.Warn("Failed to close SPI port")
			return err
		}
		d.log.Info("SPI bus closed.")
	}
	return nil
}

// --- Configuration mapping ---

// rfChannel places frequency + channel * step on the 1MHz channel raster
// above 2400MHz. Configurations outside the band fall back to the channel index.
func rfChannel(c rfphy.Config) byte {
	f := uint64(c.Frequency) + uint64(c.Channel)*uint64(c.StepSize)*stepUnitHz
	if f >= baseFrequencyHz && f <= baseFrequencyHz+maxChannel*channelSpacingHz {
		return byte((f - baseFrequencyHz) / channelSpacingHz)
	}
	return min(c.Channel, maxChannel)
}

func dataRate(c rfphy.Config) DataRate {
	if c.Modem == nil || c.Modem.BitRate == 0 || c.Modem.BitRate <= 250000 {
		return DataRate250kbps
	}
	if c.Modem.BitRate <= 1000000 {
		return DataRate1mbps
	}
	return DataRate2mbps
}

func paLevel(c rfphy.Config, bind bool) PALevel {
	if bind {
		return PALevelMin
	}
	return PALevel(min(c.Power, byte(PALevelMax)))
}

func rfSetup(rate DataRate, level PALevel, continuousWave bool) byte {
	var v byte
	switch rate {
	case DataRate1mbps:
		// RF_DR_HIGH = 0, RF_DR_LOW = 0
	case DataRate2mbps:
		v |= _RF_DR_HIGH
	case DataRate250kbps:
		v |= _RF_DR_LOW
	}
	v |= byte(level&0x03) << 1
	if continuousWave {
		v |= _CONT_WAVE | _PLL_LOCK
	}
	return v
}

func address(h [rfphy.HeaderLength]byte) [addressWidth]byte {
	return [addressWidth]byte{h[0], h[1], h[2], h[3], addressSuffix}
}

// --- NRF24L01 Core Functions (SPI interaction) ---

func (d *Driver) spiTransfer(len int) (status byte, response []byte) {
	// Perform full-duplex transaction on the scratch buffer
	// We use the same slice for read and write
	slice := d.scratch[:len]
	if err := d.conn.Tx(slice, slice); err != nil {
		d.log.Error("SPI Transfer Error")
		return 0, nil
	}

	if len > 0 {
		return d.scratch[0], d.scratch[1:len]
	}
	return 0, nil
}

func (d *Driver) writeRegister(reg, val byte) {
	d.scratch[0] = _W_REGISTER | reg
	d.scratch[1] = val
	d.spiTransfer(2)
}

func (d *Driver) readRegister(reg byte) byte {
	d.scratch[0] = reg
	d.scratch[1] = _NOP
	_, data := d.spiTransfer(2)
	if len(data) > 0 {
		return data[0]
	}
	return 0
}

func (d *Driver) writeRegisterN(reg byte, data []byte) {
	d.scratch[0] = _W_REGISTER | reg
	copy(d.scratch[1:], data)
	d.spiTransfer(1 + len(data))
}

func (d *Driver) flushTX() {
	d.scratch[0] = _FLUSH_TX
	d.spiTransfer(1)
}

func (d *Driver) flushRX() {
	d.scratch[0] = _FLUSH_RX
	d.spiTransfer(1)
}

func (d *Driver) clearStatus() {
	d.writeRegister(_STATUS, _RX_DR|_TX_DS|_MAX_RT)
}

func (d *Driver) setCE(level bool) {
	if level {
		d.ce.Out(High)
	} else {
		d.ce.Out(Low)
	}
}

func (d *Driver) startListening() {
	d.setCE(false)
	d.writeRegister(_CONFIG, d.readRegister(_CONFIG)|_PRIM_RX)
	d.setCE(true)
	time.Sleep(130 * time.Microsecond)
	d.clearStatus()
}

func (d *Driver) stopListening() {
	d.setCE(false)
	d.writeRegister(_CONFIG, d.readRegister(_CONFIG)&^byte(_PRIM_RX))
}

func (d *Driver) rssi() int8 {
	if d.readRegister(_RPD)&0x01 != 0 {
		return rssiCarrier
	}
	return rssiFloor
}

// --- NRF24L01 Read ---

func (d *Driver) available() bool {
	return ((d.readRegister(_STATUS) >> 1) & 0x07) != 7
}

func (d *Driver) getDynamicPayloadSize() byte {
	// Send command 0x60 and a NOP to get the 1-byte response
	d.scratch[0] = _R_RX_PL_WID
	d.scratch[1] = _NOP
	_, data := d.spiTransfer(2)
	if len(data) > 0 {
		if data[0] > MaxPayload { // Hardware bug/noise check
			d.flushRX()
			return 0
		}
		return data[0]
	}
	return 0
}

func (d *Driver) readDynamic() ([]byte, bool) {
	if !d.available() {
		return nil, false
	}

	size := d.getDynamicPayloadSize()
	if size == 0 {
		// An empty or corrupt entry cannot be popped by reading it, so flush
		// the FIFO or it will be reported as available forever.
		d.flushRX()
		d.clearStatus()
		return nil, false
	}

	d.scratch[0] = _R_RX_PAYLOAD
	for i := 1; i <= int(size); i++ {
		d.scratch[i] = _NOP
	}
	_, data := d.spiTransfer(int(size) + 1)

	// Copy result to safe buffer BEFORE calling clearStatus which reuses scratch
	result := make([]byte, len(data))
	copy(result, data)

	d.clearStatus()
	return result, true
}
