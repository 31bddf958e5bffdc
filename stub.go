package rfphy

import "time"

// defaultStatus is what a radio reports before it has seen any frame.
// The general purpose pin idles high.
var defaultStatus = Status{GPIO1: 1}

// StubDriver is a hardware-free Driver. Every transmitted frame becomes
// immediately receivable, exactly once, so protocol code can run its full
// send and receive path in tests.
type StubDriver struct {
	config Config
	mode   Mode
	rx     Frame
	hasRx  bool
	status Status
}

// NewStubDriver returns a stub driver with nothing pending.
func NewStubDriver() *StubDriver {
	return &StubDriver{status: defaultStatus}
}

// Init drops any pending frame.
func (s *StubDriver) Init(bool) {
	s.hasRx = false
}

// ApplyConfig stores c verbatim.
func (s *StubDriver) ApplyConfig(c Config) {
	s.config = c
}

// SetMode records m. The stub behaves the same in every mode.
func (s *StubDriver) SetMode(m Mode) {
	s.mode = m
}

// Transmit loops f back as the next received frame.
func (s *StubDriver) Transmit(f Frame) error {
	if f.Len() == 0 {
		s.hasRx = false
		return ErrEmptyFrame
	}
	s.rx = f.clone()
	s.hasRx = true
	s.status.RSSI = f.RSSI
	s.status.AFC = f.AFC
	return nil
}

// Receive hands out the looped back frame once. It never waits.
func (s *StubDriver) Receive(time.Duration) (Frame, bool) {
	if !s.hasRx {
		return Frame{}, false
	}
	s.hasRx = false
	return s.rx.clone(), true
}

// Status returns the metadata of the last transmitted frame.
func (s *StubDriver) Status() Status {
	return s.status
}

// Config returns the last configuration applied to the stub.
func (s *StubDriver) Config() Config {
	return s.config
}

// Mode returns the last mode requested.
func (s *StubDriver) Mode() Mode {
	return s.mode
}

// Pending reports whether a looped back frame is waiting to be received.
func (s *StubDriver) Pending() bool {
	return s.hasRx
}
