// Package bus describes the sampled levels of a BiSS-C two-wire bus and
// the sources that supply them, one sample per cycle.
package bus

import (
	"errors"
	"fmt"
)

// Sample is the bit vector of line levels read at a single cycle.
// The meaning of each bit is given by a [Pins] mapping.
type Sample uint32

// Line names one of the bus lines carried in a [Sample].
type Line int

const (
	// Clock is the master clock line, MA.
	Clock Line = iota
	// Data is the encoder acknowledge and data line, SLO.
	Data
	// Ref is the reference timing line used for line delay measurement.
	Ref
	// Idle is the auxiliary line signalling bus idle.
	Idle
)

func (l Line) String() string {
	switch l {
	case Clock:
		return "MA"
	case Data:
		return "SLO"
	case Ref:
		return "REF"
	case Idle:
		return "IDLE"
	default:
		return fmt.Sprintf("Line(%d)", int(l))
	}
}

const sampleBits = 32

// Pins maps each bus line to its bit position in a [Sample].
type Pins struct {
	Clock uint8
	Data  uint8
	Ref   uint8
	Idle  uint8
}

// StandardPins matches the layout of the recorded captures: SLO in bit 0,
// the reference line in bit 1, MA in bit 2 and the idle line in bit 3.
var StandardPins = Pins{
	Data:  0,
	Ref:   1,
	Clock: 2,
	Idle:  3,
}

var errPinCollision = errors.New("bus: lines share a bit")

// Validate reports whether every line has a distinct bit inside a Sample.
func (p Pins) Validate() error {
	bits := []uint8{p.Clock, p.Data, p.Ref, p.Idle}
	var seen uint32
	for i, b := range bits {
		if b >= sampleBits {
			return fmt.Errorf("bus: %v bit %d out of range", Line(i), b)
		}
		if seen&(1<<b) != 0 {
			return fmt.Errorf("%w: %v bit %d", errPinCollision, Line(i), b)
		}
		seen |= 1 << b
	}
	return nil
}

// Bit returns the bit position of line l.
func (p Pins) Bit(l Line) uint8 {
	switch l {
	case Clock:
		return p.Clock
	case Data:
		return p.Data
	case Ref:
		return p.Ref
	case Idle:
		return p.Idle
	}
	panic("bus: invalid line")
}

// Level reports whether line l is high in s.
func (p Pins) Level(s Sample, l Line) bool {
	return s>>p.Bit(l)&0b1 == 0b1
}

// Set returns s with line l driven to level.
func (p Pins) Set(s Sample, l Line, level bool) Sample {
	mask := Sample(1) << p.Bit(l)
	if level {
		return s | mask
	}
	return s &^ mask
}

// Source supplies the bus sample for a cycle. Sources must return the
// same sample when asked again for a cycle they have already produced.
type Source interface {
	Sample(cycle uint64) Sample
}

// Driver is implemented by sources that observe the master clock, such
// as simulated encoders and hardware pins. Drive is called once per cycle
// after the master has computed its clock output for that cycle.
type Driver interface {
	Drive(cycle uint64, clock bool)
}

// SourceFunc adapts a function to a [Source].
type SourceFunc func(cycle uint64) Sample

func (f SourceFunc) Sample(cycle uint64) Sample {
	return f(cycle)
}
