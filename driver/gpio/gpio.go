// Package gpio runs a bus over GPIO pins: the master clock is driven on an
// output pin and the data, reference and idle lines are read once per
// cycle.
package gpio

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"biss.dev/bus"
)

// Lines are the pins of a bus. Only Clock and Data are required.
type Lines struct {
	// Clock drives MA.
	Clock gpio.PinOut
	// Data reads SLO.
	Data gpio.PinIn
	// Echo reads MA back at the far end of the line. Without it the
	// sample carries the driven level.
	Echo gpio.PinIn
	// Ref reads the reference copy of MA. Without it the sample carries
	// the driven level.
	Ref gpio.PinIn
	// Idle reads an external idle qualifier.
	Idle gpio.PinIn
}

// Names are the periph pin names of a bus, for example "GPIO17".
// Empty names are not opened.
type Names struct {
	Clock, Data, Echo, Ref, Idle string
}

// Source is a live [bus.Source] and [bus.Driver]. Samples are read on
// first request and retained, so repeated requests for a cycle agree.
type Source struct {
	lines Lines
	pins  bus.Pins
	hist  bus.History
	clock bool
}

// New configures the lines and drives MA high.
func New(l Lines, pins bus.Pins) (*Source, error) {
	if l.Clock == nil || l.Data == nil {
		return nil, errors.New("gpio: clock and data pins are required")
	}
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	if err := l.Clock.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("gpio: %s: %w", l.Clock, err)
	}
	for _, in := range []gpio.PinIn{l.Data, l.Echo, l.Ref, l.Idle} {
		if in == nil {
			continue
		}
		if err := in.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("gpio: %s: %w", in, err)
		}
	}
	return &Source{lines: l, pins: pins, clock: true}, nil
}

// Open initializes the host drivers and opens the named pins.
func Open(n Names, pins bus.Pins) (*Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: %w", err)
	}
	byName := func(name string) (gpio.PinIO, error) {
		if name == "" {
			return nil, nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio: no pin %q", name)
		}
		return p, nil
	}
	var l Lines
	var err error
	if l.Clock, err = byName(n.Clock); err != nil {
		return nil, err
	}
	for _, in := range []struct {
		name string
		dst  *gpio.PinIn
	}{
		{n.Data, &l.Data},
		{n.Echo, &l.Echo},
		{n.Ref, &l.Ref},
		{n.Idle, &l.Idle},
	} {
		if *in.dst, err = byName(in.name); err != nil {
			return nil, err
		}
	}
	return New(l, pins)
}

// Sample returns the lines at cycle, reading them if cycle is new.
func (s *Source) Sample(cycle uint64) bus.Sample {
	for s.hist.Next() <= cycle {
		s.hist.Push(s.read())
	}
	v, _ := s.hist.Lookup(cycle)
	return v
}

// Drive sets MA for the cycle.
func (s *Source) Drive(cycle uint64, clock bool) {
	if clock == s.clock {
		return
	}
	s.clock = clock
	// Write errors surface as a missing edge in the following samples.
	s.lines.Clock.Out(gpio.Level(clock))
}

func (s *Source) read() bus.Sample {
	var v bus.Sample
	level := func(p gpio.PinIn) bool {
		if p == nil {
			return s.clock
		}
		return p.Read() == gpio.High
	}
	v = s.pins.Set(v, bus.Data, s.lines.Data.Read() == gpio.High)
	v = s.pins.Set(v, bus.Clock, level(s.lines.Echo))
	v = s.pins.Set(v, bus.Ref, level(s.lines.Ref))
	if s.lines.Idle != nil {
		v = s.pins.Set(v, bus.Idle, s.lines.Idle.Read() == gpio.High)
	}
	return v
}
