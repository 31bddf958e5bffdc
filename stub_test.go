package rfphy

import (
	"bytes"
	"errors"
	"testing"
)

func TestStubLoopback(t *testing.T) {
	s := NewStubDriver()

	if _, ok := s.Receive(0); ok {
		t.Fatal("fresh stub reported a pending frame")
	}

	payload := []byte{0x10, 0x20, 0x30}
	if err := s.Transmit(Frame{Payload: payload, RSSI: -42, AFC: 9}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	// The stub must keep its own copy.
	payload[0] = 0xFF

	f, ok := s.Receive(0)
	if !ok {
		t.Fatal("expected looped back frame")
	}
	if !bytes.Equal(f.Payload, []byte{0x10, 0x20, 0x30}) {
		t.Errorf("Receive() payload = %X, want 102030", f.Payload)
	}
	if f.RSSI != -42 || f.AFC != 9 {
		t.Errorf("Receive() metadata = (%d, %d), want (-42, 9)", f.RSSI, f.AFC)
	}
	if _, ok := s.Receive(0); ok {
		t.Error("frame delivered twice")
	}

	st := s.Status()
	if st.RSSI != -42 || st.AFC != 9 || st.GPIO1 != 1 {
		t.Errorf("Status() = %+v, want RSSI -42 AFC 9 GPIO1 1", st)
	}
}

func TestStubEmptyTransmitClearsPending(t *testing.T) {
	s := NewStubDriver()
	if err := s.Transmit(Frame{Payload: []byte{1}}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if err := s.Transmit(Frame{}); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Transmit(empty) error = %v, want ErrEmptyFrame", err)
	}
	if s.Pending() {
		t.Error("empty transmit left a frame pending")
	}
}

func TestStubInitAndConfig(t *testing.T) {
	s := NewStubDriver()
	_ = s.Transmit(Frame{Payload: []byte{1}})
	s.Init(false)
	if s.Pending() {
		t.Error("Init() kept a pending frame")
	}

	c := Config{Frequency: 915000000, Headers: [HeaderLength]byte{'o', 'L', 'R', 'S'}}
	s.ApplyConfig(c)
	if s.Config() != c {
		t.Errorf("Config() = %v, want %v", s.Config(), c)
	}

	s.SetMode(ModeReceive)
	if s.Mode() != ModeReceive {
		t.Errorf("Mode() = %s, want receive", s.Mode())
	}
}

func TestModeString(t *testing.T) {
	tests := map[Mode]string{
		ModeStandby:  "standby",
		ModeReceive:  "receive",
		ModeTransmit: "transmit",
		Mode(9):      "unknown",
	}
	for m, want := range tests {
		if got := m.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", m, got, want)
		}
	}
}
