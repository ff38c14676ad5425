package gpio

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"biss.dev/bus"
)

var pins = bus.StandardPins

func TestSource(t *testing.T) {
	ma := &gpiotest.Pin{N: "MA", L: gpio.Low}
	slo := &gpiotest.Pin{N: "SLO", L: gpio.High}
	idle := &gpiotest.Pin{N: "IDLE"}
	s, err := New(Lines{Clock: ma, Data: slo, Idle: idle}, pins)
	if err != nil {
		t.Fatal(err)
	}
	if ma.L != gpio.High {
		t.Error("MA not driven high")
	}
	if slo.P != gpio.PullUp {
		t.Errorf("SLO pull %v, want %v", slo.P, gpio.PullUp)
	}
	// Configuring the pull-ups raised the inputs.
	if idle.L != gpio.High {
		t.Errorf("IDLE level %v after pull-up", idle.L)
	}
	idle.L = gpio.Low
	s0 := s.Sample(0)
	if !pins.Level(s0, bus.Data) || !pins.Level(s0, bus.Clock) || !pins.Level(s0, bus.Ref) || pins.Level(s0, bus.Idle) {
		t.Errorf("cycle 0: got %04b", s0)
	}

	s.Drive(0, false)
	if ma.L != gpio.Low {
		t.Error("MA not driven low")
	}
	slo.L = gpio.Low
	idle.L = gpio.High
	s1 := s.Sample(1)
	if pins.Level(s1, bus.Data) || pins.Level(s1, bus.Clock) || !pins.Level(s1, bus.Idle) {
		t.Errorf("cycle 1: got %04b", s1)
	}
	// Past cycles are retained.
	if got := s.Sample(0); got != s0 {
		t.Errorf("cycle 0 changed from %04b to %04b", s0, got)
	}
	if got := s.Sample(1); got != s1 {
		t.Errorf("cycle 1 changed from %04b to %04b", s1, got)
	}
}

func TestEcho(t *testing.T) {
	ma := &gpiotest.Pin{N: "MA"}
	slo := &gpiotest.Pin{N: "SLO", L: gpio.High}
	echo := &gpiotest.Pin{N: "ECHO"}
	ref := &gpiotest.Pin{N: "REF"}
	s, err := New(Lines{Clock: ma, Data: slo, Echo: echo, Ref: ref}, pins)
	if err != nil {
		t.Fatal(err)
	}
	// The echo lags the driven clock.
	echo.L = gpio.Low
	v := s.Sample(0)
	if pins.Level(v, bus.Clock) || !pins.Level(v, bus.Ref) {
		t.Errorf("got %04b, want echo low and reference high", v)
	}
}

func TestRequiredLines(t *testing.T) {
	if _, err := New(Lines{Clock: &gpiotest.Pin{N: "MA"}}, pins); err == nil {
		t.Error("accepted missing data line")
	}
	if _, err := New(Lines{Data: &gpiotest.Pin{N: "SLO"}}, pins); err == nil {
		t.Error("accepted missing clock line")
	}
}
