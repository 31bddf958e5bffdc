package rfphy

import (
	"fmt"
)

// Radio is the API the link layer drives. It owns the active configuration,
// forwards every call to the registered driver and keeps a single slot cache
// of the last received frame.
//
// A Radio is not safe for concurrent use. It is meant to be driven from one
// control loop; register the driver once at startup and serialize access
// externally if several goroutines need it.
type Radio struct {
	stub   *StubDriver
	driver Driver
	config Config

	status    Status
	cached    Frame
	hasCached bool

	log Logger
}

// NewRadio returns a Radio running on its built-in stub driver with a zero
// configuration.
func NewRadio() *Radio {
	stub := NewStubDriver()
	return &Radio{
		stub:   stub,
		driver: stub,
		status: defaultStatus,
		log:    globalLogger,
	}
}

// SetLogger replaces the logger used by r. nil silences it.
func (r *Radio) SetLogger(l Logger) {
	if l == nil {
		l = &nopLogger{}
	}
	r.log = l
}

// RegisterDriver makes d the active driver and immediately applies the current
// configuration to it. A nil d restores the built-in stub driver.
func (r *Radio) RegisterDriver(d Driver) {
	if d == nil {
		d = r.stub
	}
	r.driver = d
	r.log.Debug(fmt.Sprintf("driver registered: %T", d))
	r.driver.ApplyConfig(r.config)
}

// Driver returns the active driver. It is never nil.
func (r *Radio) Driver() Driver {
	return r.driver
}

// Stub returns the built-in stub driver, active or not.
func (r *Radio) Stub() *StubDriver {
	return r.stub
}

// Init initializes the active driver and re-applies the configuration.
func (r *Radio) Init(bind bool) {
	r.driver.Init(bind)
	r.driver.ApplyConfig(r.config)
}

// Config returns a snapshot of the active configuration.
func (r *Radio) Config() Config {
	return r.config
}

func (r *Radio) apply() {
	r.driver.ApplyConfig(r.config)
}

// SetFrequency sets the base carrier frequency in Hz.
func (r *Radio) SetFrequency(hz uint32) {
	r.config.Frequency = hz
	r.apply()
}

// SetChannel sets the channel index.
func (r *Radio) SetChannel(ch uint8) {
	r.config.Channel = ch
	r.apply()
}

// SetPower sets the transmit power level.
func (r *Radio) SetPower(p uint8) {
	r.config.Power = p
	r.apply()
}

// SetStepSize sets the channel spacing in units of 10 kHz.
func (r *Radio) SetStepSize(step uint8) {
	r.config.StepSize = step
	r.apply()
}

// SetHeader sets header byte i. Indices outside the header are ignored.
func (r *Radio) SetHeader(i int, v byte) {
	_ = r.TrySetHeader(i, v)
}

// TrySetHeader is SetHeader reporting ErrHeaderIndex for an index outside the
// header. The configuration is left untouched in that case.
func (r *Radio) TrySetHeader(i int, v byte) error {
	if i < 0 || i >= HeaderLength {
		return fmt.Errorf("%w: %d", ErrHeaderIndex, i)
	}
	r.config.Headers[i] = v
	r.apply()
	return nil
}

// SetDirectOutput enables or disables raw output mode.
func (r *Radio) SetDirectOutput(enable bool) {
	r.config.DirectOutput = enable
	r.apply()
}

// SetModemRegs selects the modem parameter block. nil restores driver defaults.
func (r *Radio) SetModemRegs(m *ModemRegs) {
	r.config.Modem = m
	r.apply()
}

// SetReadyMode puts the driver in standby.
func (r *Radio) SetReadyMode() {
	r.driver.SetMode(ModeStandby)
}

// SetTransmitMode puts the driver in transmit mode.
func (r *Radio) SetTransmitMode() {
	r.driver.SetMode(ModeTransmit)
}

// SetReceiveMode puts the driver in receive mode.
func (r *Radio) SetReceiveMode() {
	r.driver.SetMode(ModeReceive)
}

// SendPacket transmits p, truncated to MaxPacketLength. Failures are dropped;
// the link layer notices them as missing acknowledgements.
func (r *Radio) SendPacket(p []byte) {
	_ = r.TrySendPacket(p)
}

// TrySendPacket is SendPacket returning the driver's error.
// The frame carries the last known RSSI and AFC rather than fresh readings.
func (r *Radio) TrySendPacket(p []byte) error {
	n := min(len(p), MaxPacketLength)
	f := Frame{
		Payload: append([]byte(nil), p[:n]...),
		RSSI:    r.status.RSSI,
		AFC:     r.status.AFC,
	}
	if err := r.driver.Transmit(f); err != nil {
		r.log.Debug("transmit failed: " + err.Error())
		return err
	}
	return nil
}

// refreshReceiveCache polls the driver only while the slot is empty, so a
// pending frame is never lost to repeated status or length queries.
func (r *Radio) refreshReceiveCache() {
	if r.hasCached {
		return
	}
	f, ok := r.driver.Receive(0)
	if !ok {
		return
	}
	if f.Len() > MaxPacketLength {
		f.Payload = f.Payload[:MaxPacketLength]
	}
	r.cached = f
	r.hasCached = true
	r.status.RSSI = f.RSSI
	r.status.AFC = f.AFC
}

func (r *Radio) refreshStatus() {
	r.status = r.driver.Status()
}

// ClearReceiveCache drops a pending received frame.
func (r *Radio) ClearReceiveCache() {
	r.hasCached = false
	r.cached = Frame{}
}

// PacketLength returns the length of the pending frame, or 0 when none is pending.
func (r *Radio) PacketLength() int {
	r.refreshReceiveCache()
	if !r.hasCached {
		return 0
	}
	return r.cached.Len()
}

// Packet copies the pending frame into buf and consumes it. It returns the
// number of bytes copied. Nothing is consumed when no frame is pending or buf
// is empty.
func (r *Radio) Packet(buf []byte) int {
	r.refreshReceiveCache()
	if !r.hasCached || len(buf) == 0 {
		return 0
	}
	n := copy(buf, r.cached.Payload)
	r.ClearReceiveCache()
	return n
}

// RSSI returns the pending frame's signal strength, or a fresh driver reading
// when no frame is pending.
func (r *Radio) RSSI() uint8 {
	r.refreshReceiveCache()
	if r.hasCached {
		return uint8(r.cached.RSSI)
	}
	r.refreshStatus()
	return uint8(r.status.RSSI)
}

// AFCC returns a fresh frequency offset reading from the driver.
func (r *Radio) AFCC() uint16 {
	r.refreshStatus()
	return uint16(r.status.AFC)
}

// GPIO1 returns a fresh reading of the driver's general purpose input.
func (r *Radio) GPIO1() uint8 {
	r.refreshStatus()
	return r.status.GPIO1
}
