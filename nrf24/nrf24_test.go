package nrf24

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/michcald/rfphy"
)

// --- Mocks ---

// fakeChip emulates the NRF24L01 register file and FIFOs behind the SPI bus.
type fakeChip struct {
	regs   [0x20]byte
	multi  map[byte][]byte // multi-byte registers (addresses)
	rxFIFO [][]byte
	txLog  [][]byte
	trace  []byte
	// stuck makes transmissions never complete.
	stuck bool
}

func newFakeChip() *fakeChip {
	return &fakeChip{multi: make(map[byte][]byte)}
}

func (c *fakeChip) status() byte {
	s := c.regs[_STATUS] & (_RX_DR | _TX_DS | _MAX_RT)
	if len(c.rxFIFO) == 0 {
		s |= 0x07 << 1 // RX_P_NO: RX FIFO empty
	}
	return s
}

func (c *fakeChip) inject(payload []byte) {
	c.rxFIFO = append(c.rxFIFO, append([]byte(nil), payload...))
	c.regs[_STATUS] |= _RX_DR
}

func (c *fakeChip) Tx(w, r []byte) error {
	in := append([]byte(nil), w...)
	c.trace = append(c.trace, in...)
	for i := range r {
		r[i] = 0
	}
	r[0] = c.status()

	cmd := in[0]
	switch {
	case cmd < _W_REGISTER:
		reg := cmd & 0x1F
		if v, ok := c.multi[reg]; ok {
			copy(r[1:], v)
		} else if len(r) > 1 {
			r[1] = c.regs[reg]
			if reg == _STATUS {
				r[1] = c.status()
			}
		}
	case cmd&0xE0 == _W_REGISTER:
		reg := cmd & 0x1F
		switch {
		case len(in) > 2:
			c.multi[reg] = in[1:]
		case reg == _STATUS:
			c.regs[_STATUS] &^= in[1] // write 1 to clear
		default:
			c.regs[reg] = in[1]
		}
	case cmd == _R_RX_PL_WID:
		if len(c.rxFIFO) > 0 {
			r[1] = byte(len(c.rxFIFO[0]))
		}
	case cmd == _R_RX_PAYLOAD:
		if len(c.rxFIFO) > 0 {
			copy(r[1:], c.rxFIFO[0])
			c.rxFIFO = c.rxFIFO[1:]
		}
	case cmd == _W_TX_PAYLOAD_NOACK:
		c.txLog = append(c.txLog, in[1:])
		if !c.stuck {
			c.regs[_STATUS] |= _TX_DS
		}
	case cmd == _FLUSH_RX:
		c.rxFIFO = nil
	}
	return nil
}

type mockPin struct {
	level   Level
	history []Level
	pull    Pull
}

func (m *mockPin) Out(l Level) error {
	m.level = l
	m.history = append(m.history, l)
	return nil
}

func (m *mockPin) In(pull Pull) error {
	m.pull = pull
	return nil
}

func (m *mockPin) Read() Level { return m.level }

func newTestDriver(t *testing.T, irq Pin) (*Driver, *fakeChip, *mockPin) {
	t.Helper()
	chip := newFakeChip()
	ce := &mockPin{}
	dev, err := NewWithHardware(HardwareConfig{
		CE:        ce,
		IRQ:       irq,
		TxTimeout: 5 * time.Millisecond,
		Logger:    rfphy.NopLogger(),
	}, chip)
	if err != nil {
		t.Fatalf("NewWithHardware failed: %v", err)
	}
	dev.Init(false)
	return dev, chip, ce
}

// --- Tests ---

func TestNewWithHardwareValidation(t *testing.T) {
	if _, err := NewWithHardware(HardwareConfig{}, newFakeChip()); err == nil {
		t.Error("expected error without CE pin")
	}
	if _, err := NewWithHardware(HardwareConfig{CE: &mockPin{}}, nil); err == nil {
		t.Error("expected error without SPI connection")
	}

	irq := &mockPin{}
	if _, err := NewWithHardware(HardwareConfig{CE: &mockPin{}, IRQ: irq}, newFakeChip()); err != nil {
		t.Fatalf("NewWithHardware failed: %v", err)
	}
	if irq.pull != PullUp {
		t.Errorf("IRQ pin pull = %d, want PullUp", irq.pull)
	}
}

func TestInit(t *testing.T) {
	dev, chip, ce := newTestDriver(t, nil)

	if got := chip.regs[_CONFIG]; got != _PWR_UP|_EN_CRC|_CRCO {
		t.Errorf("CONFIG = 0x%02X, want 0x%02X", got, _PWR_UP|_EN_CRC|_CRCO)
	}
	if chip.regs[_EN_AA] != 0 {
		t.Errorf("EN_AA = 0x%02X, want auto-ack disabled", chip.regs[_EN_AA])
	}
	if chip.regs[_FEATURE]&_EN_DPL == 0 || chip.regs[_DYNPD]&_ERX_P0 == 0 {
		t.Error("dynamic payloads not enabled on pipe 0")
	}
	if ce.level != Low {
		t.Error("CE should be low in standby after Init")
	}
	if err := dev.Probe(); err != nil {
		t.Errorf("Probe() error = %v", err)
	}

	// A chip that does not answer fails the probe.
	chip.regs[_SETUP_AW] = 0
	if err := dev.Probe(); !errors.Is(err, ErrPkg) {
		t.Errorf("Probe() on silent chip error = %v, want ErrPkg", err)
	}
}

func TestApplyConfig(t *testing.T) {
	tests := []struct {
		name    string
		bind    bool
		cfg     rfphy.Config
		channel byte
		setup   byte
	}{
		{
			name:    "in band frequency",
			cfg:     rfphy.Config{Frequency: 2402000000, Channel: 3, StepSize: 100, Power: 1},
			channel: 5,
			setup:   _RF_DR_LOW | 1<<1,
		},
		{
			name:    "out of band falls back to channel index",
			cfg:     rfphy.Config{Frequency: 433920000, Channel: 200, Power: 9},
			channel: maxChannel,
			setup:   _RF_DR_LOW | 3<<1,
		},
		{
			name:    "modem bit rate selects 2mbps",
			cfg:     rfphy.Config{Channel: 76, Power: 2, Modem: &rfphy.ModemRegs{BitRate: 2000000}},
			channel: 76,
			setup:   _RF_DR_HIGH | 2<<1,
		},
		{
			name:    "bind forces minimum power",
			bind:    true,
			cfg:     rfphy.Config{Channel: 10, Power: 3, Modem: &rfphy.ModemRegs{BitRate: 1000000}},
			channel: 10,
			setup:   0,
		},
		{
			name:    "direct output enables continuous wave",
			cfg:     rfphy.Config{Channel: 1, DirectOutput: true},
			channel: 1,
			setup:   _RF_DR_LOW | _CONT_WAVE | _PLL_LOCK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, chip, _ := newTestDriver(t, nil)
			dev.Init(tt.bind)
			dev.ApplyConfig(tt.cfg)

			if got := chip.regs[_RF_CH]; got != tt.channel {
				t.Errorf("RF_CH = %d, want %d", got, tt.channel)
			}
			if got := chip.regs[_RF_SETUP]; got != tt.setup {
				t.Errorf("RF_SETUP = 0x%02X, want 0x%02X", got, tt.setup)
			}
		})
	}
}

func TestApplyConfigAddressAndModemRegisters(t *testing.T) {
	dev, chip, _ := newTestDriver(t, nil)

	dev.ApplyConfig(rfphy.Config{
		Headers: [rfphy.HeaderLength]byte{'o', 'L', 'R', 'S'},
		Modem: &rfphy.ModemRegs{Registers: []rfphy.RegValue{
			{Addr: _SETUP_RETR, Value: 0x1F},
		}},
	})

	want := []byte{'o', 'L', 'R', 'S', addressSuffix}
	for _, reg := range []byte{_TX_ADDR, _RX_ADDR_P0} {
		if got := chip.multi[reg]; !bytes.Equal(got, want) {
			t.Errorf("address register 0x%02X = %X, want %X", reg, got, want)
		}
	}
	if chip.regs[_SETUP_RETR] != 0x1F {
		t.Errorf("SETUP_RETR = 0x%02X, want modem override 0x1F", chip.regs[_SETUP_RETR])
	}
}

func TestSetMode(t *testing.T) {
	dev, chip, ce := newTestDriver(t, nil)

	dev.SetMode(rfphy.ModeReceive)
	if chip.regs[_CONFIG]&_PRIM_RX == 0 || ce.level != High {
		t.Errorf("receive mode: CONFIG=0x%02X CE=%v, want PRIM_RX and CE high", chip.regs[_CONFIG], ce.level)
	}

	dev.SetMode(rfphy.ModeTransmit)
	if chip.regs[_CONFIG]&_PRIM_RX != 0 || ce.level != Low {
		t.Errorf("transmit mode: CONFIG=0x%02X CE=%v, want PRIM_RX clear and CE low", chip.regs[_CONFIG], ce.level)
	}

	dev.SetMode(rfphy.ModeReceive)
	dev.SetMode(rfphy.ModeStandby)
	if ce.level != Low {
		t.Error("standby should drive CE low")
	}

	dev.SetMode(rfphy.Mode(42))
	if dev.mode != rfphy.ModeStandby {
		t.Errorf("unsupported mode changed driver mode to %s", dev.mode)
	}
}

func TestTransmit(t *testing.T) {
	dev, chip, ce := newTestDriver(t, nil)
	dev.SetMode(rfphy.ModeReceive)
	ce.history = nil

	if err := dev.Transmit(rfphy.Frame{Payload: []byte("hello")}); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if len(chip.txLog) != 1 || string(chip.txLog[0]) != "hello" {
		t.Fatalf("tx FIFO = %q, want [hello]", chip.txLog)
	}
	if !bytes.Contains(chip.trace, []byte{_W_TX_PAYLOAD_NOACK, 'h', 'e', 'l', 'l', 'o'}) {
		t.Errorf("Expected W_TX_PAYLOAD_NOACK with data, got TX trace: %X", chip.trace)
	}
	// CE pulses high to fire the frame and ends high again to resume listening.
	if len(ce.history) < 3 || ce.level != High {
		t.Errorf("CE history = %v, want pulse then listening", ce.history)
	}
	if chip.regs[_CONFIG]&_PRIM_RX == 0 {
		t.Error("driver did not return to receive mode after transmit")
	}
}

func TestTransmitFailure(t *testing.T) {
	dev, chip, _ := newTestDriver(t, nil)

	if err := dev.Transmit(rfphy.Frame{}); !errors.Is(err, rfphy.ErrEmptyFrame) {
		t.Errorf("Transmit(empty) error = %v, want ErrEmptyFrame", err)
	}
	big := rfphy.Frame{Payload: make([]byte, MaxPayload+1)}
	if err := dev.Transmit(big); !errors.Is(err, rfphy.ErrFrameTooLong) {
		t.Errorf("Transmit(33 bytes) error = %v, want ErrFrameTooLong", err)
	}
	if len(chip.txLog) != 0 {
		t.Errorf("rejected frames reached the chip: %q", chip.txLog)
	}

	chip.stuck = true
	err := dev.Transmit(rfphy.Frame{Payload: []byte("timeout")})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Transmit on stuck chip error = %v, want ErrTimeout", err)
	}
}

func TestReceive(t *testing.T) {
	dev, chip, _ := newTestDriver(t, nil)
	dev.SetMode(rfphy.ModeReceive)

	if _, ok := dev.Receive(0); ok {
		t.Fatal("Receive returned a frame from an empty FIFO")
	}

	chip.inject([]byte("world"))
	chip.regs[_RPD] = 0x01

	f, ok := dev.Receive(0)
	if !ok {
		t.Fatal("Expected Receive to return true")
	}
	if string(f.Payload) != "world" {
		t.Errorf("Expected payload 'world', got '%s'", string(f.Payload))
	}
	if f.RSSI != rssiCarrier {
		t.Errorf("RSSI = %d, want %d", f.RSSI, rssiCarrier)
	}
	if chip.regs[_STATUS]&_RX_DR != 0 {
		t.Error("RX_DR not cleared after read")
	}
	if _, ok := dev.Receive(0); ok {
		t.Error("frame read twice")
	}
}

func TestReceiveWaitsForTimeout(t *testing.T) {
	dev, _, _ := newTestDriver(t, nil)

	start := time.Now()
	if _, ok := dev.Receive(10 * time.Millisecond); ok {
		t.Fatal("Receive returned a frame from an empty FIFO")
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Receive returned after %v, want at least the timeout", elapsed)
	}
}

func TestReceiveEmptyEntryIsFlushed(t *testing.T) {
	dev, chip, _ := newTestDriver(t, nil)
	chip.inject(nil)
	chip.trace = nil

	if _, ok := dev.Receive(0); ok {
		t.Fatal("zero length entry returned as a frame")
	}
	if len(chip.rxFIFO) != 0 {
		t.Error("zero length entry left in the FIFO")
	}
	if !bytes.Contains(chip.trace, []byte{_FLUSH_RX}) {
		t.Errorf("expected FLUSH_RX in trace: %X", chip.trace)
	}
}

func TestStatus(t *testing.T) {
	irq := &mockPin{level: High}
	dev, chip, _ := newTestDriver(t, irq)

	st := dev.Status()
	if st.GPIO1 != 1 || st.RSSI != rssiFloor || st.AFC != 0 {
		t.Errorf("Status() = %+v, want GPIO1 1 RSSI %d AFC 0", st, rssiFloor)
	}

	irq.level = Low
	chip.regs[_RPD] = 0x01
	st = dev.Status()
	if st.GPIO1 != 0 || st.RSSI != rssiCarrier {
		t.Errorf("Status() = %+v, want GPIO1 0 RSSI %d", st, rssiCarrier)
	}

	noIRQ, _, _ := newTestDriver(t, nil)
	if got := noIRQ.Status().GPIO1; got != 1 {
		t.Errorf("GPIO1 without IRQ pin = %d, want 1", got)
	}
}

func TestRadioOverNRF24(t *testing.T) {
	dev, chip, _ := newTestDriver(t, nil)

	r := rfphy.NewRadio()
	r.SetLogger(nil)
	r.RegisterDriver(dev)
	r.Init(false)
	r.SetFrequency(2400000000)
	r.SetStepSize(100)
	r.SetChannel(40)
	r.SetHeader(0, 0x12)
	r.SetReceiveMode()

	if got := chip.regs[_RF_CH]; got != 40 {
		t.Errorf("RF_CH = %d, want 40", got)
	}
	if got := chip.multi[_TX_ADDR]; len(got) == 0 || got[0] != 0x12 {
		t.Errorf("TX_ADDR = %X, want first byte 12", got)
	}

	r.SendPacket([]byte{0xAA, 0xBB, 0xCC})
	if len(chip.txLog) != 1 || !bytes.Equal(chip.txLog[0], []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("tx FIFO = %X, want [AABBCC]", chip.txLog)
	}

	chip.inject([]byte{1, 2})
	if n := r.PacketLength(); n != 2 {
		t.Fatalf("PacketLength() = %d, want 2", n)
	}
	buf := make([]byte, 4)
	if n := r.Packet(buf); n != 2 || !bytes.Equal(buf[:2], []byte{1, 2}) {
		t.Errorf("Packet() = %d %X, want 2 0102", n, buf[:n])
	}
}

func TestClose(t *testing.T) {
	dev, chip, _ := newTestDriver(t, nil)
	if err := dev.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if chip.regs[_CONFIG]&_PWR_UP != 0 {
		t.Error("Close() did not power the radio down")
	}
}

func TestStringers(t *testing.T) {
	if DataRate2mbps.String() != "2mbps" || PALevelLow.String() != "-12dBm" {
		t.Error("unexpected stringer output")
	}
	dev, _, _ := newTestDriver(t, nil)
	if s := dev.String(); s == "" {
		t.Error("String() is empty")
	}
}
