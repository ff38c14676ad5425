package linedelay

import (
	"errors"
	"testing"

	"biss.dev/bus"
)

var pins = bus.StandardPins

func testConfig(qualify bool, timeout uint64) Config {
	return Config{
		Reference: bus.Ref,
		Local:     bus.Clock,
		Qualify:   qualify,
		Timeout:   timeout,
		Pins:      pins,
	}
}

// waveform builds a recording where the reference line rises at refRise,
// the local line at localRise, and the idle line is high from idleFrom.
// Negative cycles mean never.
func waveform(n, refRise, localRise, idleFrom int) *bus.Recording {
	r := bus.NewRecording()
	for c := range n {
		var s bus.Sample
		s = pins.Set(s, bus.Ref, refRise >= 0 && c >= refRise)
		s = pins.Set(s, bus.Clock, localRise >= 0 && c >= localRise)
		s = pins.Set(s, bus.Idle, idleFrom >= 0 && c >= idleFrom)
		r.Hold(s, 1)
	}
	return r
}

func run(t *testing.T, e *Estimator, src bus.Source, n int) []Output {
	t.Helper()
	var outs []Output
	for c := range uint64(n) {
		out := e.Tick(c, src.Sample(c))
		if out.Event != EventNone {
			outs = append(outs, out)
		}
	}
	return outs
}

func TestMeasurement(t *testing.T) {
	tests := []struct {
		name     string
		qualify  bool
		ref      int
		local    int
		idle     int
		want     uint64
		wantIdle State
	}{
		{"lag6", true, 100, 106, 0, 6, CountIdle},
		{"lag6-unqualified", false, 100, 106, -1, 6, CountIdle},
		{"same-cycle", true, 100, 100, 0, 0, CountIdle},
		// The local rise precedes qualification and is still counted.
		{"late-qualify", true, 100, 103, 105, 3, CountIdle},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, err := New(testConfig(test.qualify, 50))
			if err != nil {
				t.Fatal(err)
			}
			outs := run(t, e, waveform(200, test.ref, test.local, test.idle), 200)
			if len(outs) != 1 {
				t.Fatalf("got %d outputs, want 1: %+v", len(outs), outs)
			}
			out := outs[0]
			if out.Event != EventMeasurement || out.Err != nil {
				t.Fatalf("got event %v err %v, want measurement", out.Event, out.Err)
			}
			m := out.Measurement
			if m.Cycles != test.want || m.Raw != uint32(test.want) {
				t.Errorf("got lag %d (raw %#x), want %d", m.Cycles, m.Raw, test.want)
			}
			if m.Active != uint64(test.ref) {
				t.Errorf("got active %d, want %d", m.Active, test.ref)
			}
			if e.State() != test.wantIdle {
				t.Errorf("estimator in %v after measurement", e.State())
			}
		})
	}
}

func TestDelayTimeout(t *testing.T) {
	const timeout = 40
	e, err := New(testConfig(true, timeout))
	if err != nil {
		t.Fatal(err)
	}
	// Reference idle from the first cycle, local line never follows.
	outs := run(t, e, waveform(10*timeout, 0, -1, 0), 10*timeout)
	if len(outs) != 1 {
		t.Fatalf("got %d outputs, want exactly one timeout: %+v", len(outs), outs)
	}
	if outs[0].Event != EventTimeout || !errors.Is(outs[0].Err, ErrDelayTimeout) {
		t.Errorf("got event %v err %v, want timeout", outs[0].Event, outs[0].Err)
	}
	if e.Busy() {
		t.Errorf("estimator did not re-arm, state %v", e.State())
	}
}

func TestLaggingFall(t *testing.T) {
	e, err := New(testConfig(true, 100))
	if err != nil {
		t.Fatal(err)
	}
	// The local line is still high from before the reference's low
	// pulse when the reference returns to idle.
	var (
		r    = bus.NewRecording()
		high = pins.Set(pins.Set(0, bus.Ref, true), bus.Clock, true)
	)
	high = pins.Set(high, bus.Idle, true)
	r.Hold(high, 10)
	r.Hold(pins.Set(high, bus.Ref, false), 3)
	// Reference back to idle at cycle 13; local falls at 20, rises at 23.
	r.Hold(high, 7)
	r.Hold(pins.Set(high, bus.Clock, false), 3)
	r.Hold(high, 20)
	var states []State
	var got []Output
	for c := range uint64(r.Len()) {
		out := e.Tick(c, r.Sample(c))
		if len(states) == 0 || states[len(states)-1] != out.State {
			states = append(states, out.State)
		}
		if out.Event != EventNone {
			got = append(got, out)
		}
	}
	// The first cycle is a reference edge too, with the local line
	// rising alongside it.
	if len(got) != 2 {
		t.Fatalf("got %d outputs, want 2: %+v", len(got), got)
	}
	if m := got[1].Measurement; got[1].Event != EventMeasurement || m.Cycles != 10 {
		t.Errorf("got %+v, want lag 10", got[1])
	}
	sawHi := false
	for _, s := range states {
		if s == CountHi {
			sawHi = true
		}
	}
	if !sawHi {
		t.Errorf("estimator never waited in %v: %v", CountHi, states)
	}
}

func TestUnqualifiedEdges(t *testing.T) {
	e, err := New(testConfig(true, 1000))
	if err != nil {
		t.Fatal(err)
	}
	// A running clock on the reference line with the idle line low
	// yields no measurements.
	r := bus.NewRecording()
	for range 20 {
		r.Hold(pins.Set(0, bus.Ref, true), 9)
		r.Hold(0, 9)
	}
	if outs := run(t, e, r, r.Len()); len(outs) != 0 {
		t.Errorf("got outputs from unqualified edges: %+v", outs)
	}
}

func TestReset(t *testing.T) {
	e, err := New(testConfig(false, 100))
	if err != nil {
		t.Fatal(err)
	}
	src := waveform(200, 10, 30, -1)
	for c := range uint64(20) {
		e.Tick(c, src.Sample(c))
	}
	if !e.Busy() {
		t.Fatalf("estimator not measuring, state %v", e.State())
	}
	e.Reset()
	for c := uint64(20); c < 200; c++ {
		if out := e.Tick(c, src.Sample(c)); out.Event != EventNone {
			t.Fatalf("cycle %d: output %+v after reset", c, out)
		}
	}
}

func TestCompensate(t *testing.T) {
	tests := []struct {
		cycles uint64
		period uint32
		want   uint32
	}{
		{6, 9, 6},
		{0, 9, 0},
		{8, 9, 8},
		{9, 9, 8},
		{1 << 40, 9, 8},
		{5, 0, 0},
	}
	for _, test := range tests {
		got := Compensate(Measurement{Cycles: test.cycles}, test.period)
		if got != test.want {
			t.Errorf("Compensate(%d, %d) = %d, want %d", test.cycles, test.period, got, test.want)
		}
		if test.period > 0 && got > test.period-1 {
			t.Errorf("Compensate(%d, %d) = %d out of range", test.cycles, test.period, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	c := testConfig(true, 0)
	if _, err := New(c); err == nil {
		t.Error("accepted zero timeout")
	}
	c = testConfig(true, 10)
	c.Local = c.Reference
	if _, err := New(c); err == nil {
		t.Error("accepted identical lines")
	}
}
