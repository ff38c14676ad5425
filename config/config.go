// Package config reads bus configuration files.
//
// A configuration file holds one section per component. Timeouts are in
// cycles and pins lists the bit positions of MA, SLO, REF and IDLE. The
// engine and encoder sections are optional; the encoder key lists the
// position bits, line delay, acknowledge edges and timeout of a simulated
// encoder.
//
//	[master]
//	period=9
//	delay=0
//	bits=8
//	direction=msb
//	[timeouts]
//	ready=1000
//	ack=1000
//	idle=64
//	[pins]
//	pins=2,0,1,3
//	[engine]
//	retries=3
//	compensate=1
//	[encoder]
//	encoder=8,9,1,30
//	position=44
//	step=1
package config

import (
	"fmt"

	"github.com/aamcrae/config"

	"biss.dev/bus"
	"biss.dev/encoder"
	"biss.dev/master"
	"biss.dev/shift"
)

// Bus is the configuration of a bus and the components around it.
type Bus struct {
	Master         master.Config
	Retries        int
	AutoCompensate bool
	// Encoder is nil without an [encoder] section.
	Encoder  *encoder.Config
	Position uint32
	Step     uint32
}

// Default returns the configuration of a simulated 8-bit encoder on the
// standard pins, matching the example above without the encoder section.
func Default() *Bus {
	return &Bus{
		Master: master.Config{
			HalfClockPeriod: 9,
			BitsPerWord:     8,
			Direction:       shift.MSBFirst,
			ReadyTimeout:    1000,
			AckTimeout:      1000,
			IdleTimeout:     64,
			Pins:            bus.StandardPins,
		},
		Retries: 3,
		Step:    1,
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Bus, error) {
	conf, err := config.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b, err := parse(conf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func parse(conf *config.Config) (*Bus, error) {
	b := new(Bus)
	m := &b.Master
	s := conf.GetSection("master")
	if s == nil {
		return nil, fmt.Errorf("no [master] section")
	}
	if err := scan(s, "period", "%d", &m.HalfClockPeriod); err != nil {
		return nil, err
	}
	if err := scan(s, "delay", "%d", &m.SampleDelay); err != nil {
		return nil, err
	}
	if err := scan(s, "bits", "%d", &m.BitsPerWord); err != nil {
		return nil, err
	}
	dir, err := s.GetArg("direction")
	if err != nil {
		return nil, fmt.Errorf("direction: %w", err)
	}
	if m.Direction, err = shift.ParseDirection(dir); err != nil {
		return nil, fmt.Errorf("direction: %w", err)
	}

	s = conf.GetSection("timeouts")
	if s == nil {
		return nil, fmt.Errorf("no [timeouts] section")
	}
	if err := scan(s, "ready", "%d", &m.ReadyTimeout); err != nil {
		return nil, err
	}
	if err := scan(s, "ack", "%d", &m.AckTimeout); err != nil {
		return nil, err
	}
	if err := scan(s, "idle", "%d", &m.IdleTimeout); err != nil {
		return nil, err
	}

	s = conf.GetSection("pins")
	if s == nil {
		return nil, fmt.Errorf("no [pins] section")
	}
	p := &m.Pins
	if err := scan(s, "pins", "%d,%d,%d,%d", &p.Clock, &p.Data, &p.Ref, &p.Idle); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if s := conf.GetSection("engine"); s != nil {
		if err := scan(s, "retries", "%d", &b.Retries); err != nil {
			return nil, err
		}
		if b.Retries < 0 {
			return nil, fmt.Errorf("retries: negative count %d", b.Retries)
		}
		var comp int
		if err := scan(s, "compensate", "%d", &comp); err != nil {
			return nil, err
		}
		b.AutoCompensate = comp != 0
	}

	if s := conf.GetSection("encoder"); s != nil {
		e := &encoder.Config{Pins: m.Pins}
		if err := scan(s, "encoder", "%d,%d,%d,%d", &e.Bits, &e.LineDelay, &e.AckCycles, &e.Timeout); err != nil {
			return nil, err
		}
		if err := scan(s, "position", "%d", &b.Position); err != nil {
			return nil, err
		}
		if err := scan(s, "step", "%d", &b.Step); err != nil {
			return nil, err
		}
		b.Encoder = e
	}
	return b, nil
}

// scan parses a key, requiring every argument to be present.
func scan(s *config.Section, key, format string, args ...any) error {
	n, err := s.Parse(key, format, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if n != len(args) {
		return fmt.Errorf("%s: argument count", key)
	}
	return nil
}
