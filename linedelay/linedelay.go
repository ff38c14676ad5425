// Package linedelay measures the propagation delay between a reference
// timing line and the locally observed copy of it, and turns the
// measurement into a sampling phase offset.
//
// The [Estimator] watches the reference line for its entry into idle (a
// rising edge) and counts the cycles until the local line follows. The
// count is kept the way the hardware keeps it: a down-counter x armed to
// all ones at the reference edge and decremented once per cycle, so the
// one's complement ^x is the lag in cycles. Measurement.Raw carries the
// low 32 bits of ^x; a local line that rises in the same cycle as the
// reference reads as zero. The local line is assumed to lag the
// reference; a local line that leads it is reported as a timeout.
package linedelay

import (
	"errors"
	"fmt"

	"biss.dev/bus"
)

// State is a state of the estimator.
type State int

const (
	// CountIdle waits for the reference line to enter idle, counting the
	// cycles it holds its current level.
	CountIdle State = iota
	// WaitIdle waits for the idle window to be qualified by the idle line.
	WaitIdle
	// CountLo counts while the local line is low.
	CountLo
	// CountHi counts while the local line is still high from before the
	// reference edge, waiting for the lagging falling edge.
	CountHi
)

func (s State) String() string {
	switch s {
	case CountIdle:
		return "COUNT_IDLE"
	case WaitIdle:
		return "WAIT_IDLE"
	case CountLo:
		return "COUNT_LO"
	case CountHi:
		return "COUNT_HI"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrDelayTimeout is reported when the local line does not follow the
// reference line within the configured bound. The estimator re-arms.
var ErrDelayTimeout = errors.New("linedelay: timeout")

// Config describes the lines and bound used by an Estimator.
type Config struct {
	Reference bus.Line
	Local     bus.Line
	// Qualify requires the idle line to be high before a reference
	// edge is accepted as the start of an idle window.
	Qualify bool
	// Timeout bounds the cycles counted after a reference edge.
	Timeout uint64
	Pins    bus.Pins
}

func (c Config) Validate() error {
	if c.Timeout == 0 {
		return errors.New("linedelay: zero timeout")
	}
	if c.Reference == c.Local {
		return fmt.Errorf("linedelay: reference and local are both %v", c.Reference)
	}
	return c.Pins.Validate()
}

// Measurement is the result of one idle window.
type Measurement struct {
	// Cycle is the cycle the measurement was emitted.
	Cycle uint64
	// Cycles is the lag of the local line behind the reference line.
	Cycles uint64
	// Raw is the measurement word, the low 32 bits of the complemented
	// down-counter.
	Raw uint32
	// Active is the number of cycles the reference line held its level
	// before entering idle.
	Active uint64
}

// Event is the kind of output produced by a cycle.
type Event int

const (
	EventNone Event = iota
	EventMeasurement
	EventTimeout
)

// Output is the result of a single cycle.
type Output struct {
	State       State
	Event       Event
	Measurement Measurement
	Err         error
}

// Estimator is the line delay measurement state machine. Its state
// persists across idle windows and re-arms itself after each emission.
type Estimator struct {
	cfg   Config
	state State
	// x is the down-counter; y bounds the wait.
	x, y      uint64
	active    uint64
	prevRef   bool
	prevLocal bool
	// captured is set once the local line rose during the window.
	captured bool
	capture  uint64
}

// New returns an armed estimator. Both lines are assumed low before the
// first cycle.
func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg, x: ^uint64(0)}, nil
}

// State returns the current state.
func (e *Estimator) State() State {
	return e.state
}

// Busy reports whether an idle window is being measured.
func (e *Estimator) Busy() bool {
	return e.state != CountIdle
}

// Reset forces the estimator back to CountIdle, discarding any window in
// progress. A new reference edge is needed before the next measurement.
func (e *Estimator) Reset() {
	e.rearm()
}

// Tick advances the estimator by one cycle.
func (e *Estimator) Tick(cycle uint64, s bus.Sample) Output {
	p := e.cfg.Pins
	ref := p.Level(s, e.cfg.Reference)
	local := p.Level(s, e.cfg.Local)
	idle := !e.cfg.Qualify || p.Level(s, bus.Idle)
	refRise := ref && !e.prevRef
	refChange := ref != e.prevRef
	localRise := local && !e.prevLocal
	localFall := !local && e.prevLocal
	e.prevRef, e.prevLocal = ref, local

	out := Output{State: e.state}
	if e.state == CountIdle {
		if !refRise {
			if refChange {
				e.x = ^uint64(0)
			}
			e.x--
			return out
		}
		e.active = ^e.x
		e.x = ^uint64(0)
		e.y = e.cfg.Timeout
		e.captured = false
		e.state = WaitIdle
		// The edge cycle counts as a lag of zero.
		return e.window(cycle, out, idle, ref, local, localRise, localFall)
	}
	e.x--
	e.y--
	return e.window(cycle, out, idle, ref, local, localRise, localFall)
}

// window handles a cycle inside an idle window.
func (e *Estimator) window(cycle uint64, out Output, idle, ref, local, localRise, localFall bool) Output {
	if localRise && !e.captured {
		e.captured, e.capture = true, ^e.x
	}
	switch e.state {
	case WaitIdle:
		if !ref {
			// The reference left idle before the window qualified; it
			// was an ordinary clock edge.
			e.rearm()
			return out
		}
		if !idle {
			break
		}
		switch {
		case e.captured:
			return e.emit(cycle, out)
		case local:
			e.state = CountHi
		default:
			e.state = CountLo
		}
	case CountHi:
		if localFall {
			e.state = CountLo
		}
	case CountLo:
		if e.captured {
			return e.emit(cycle, out)
		}
	}
	if e.y == 0 {
		lag := ^e.x
		e.rearm()
		out.Event = EventTimeout
		out.Err = fmt.Errorf("%w: local line not idle %d cycles after reference", ErrDelayTimeout, lag)
	}
	return out
}

func (e *Estimator) emit(cycle uint64, out Output) Output {
	out.Event = EventMeasurement
	out.Measurement = Measurement{
		Cycle:  cycle,
		Cycles: e.capture,
		Raw:    uint32(e.capture),
		Active: e.active,
	}
	e.rearm()
	return out
}

func (e *Estimator) rearm() {
	e.state = CountIdle
	e.x, e.y = ^uint64(0), 0
	e.captured, e.capture = false, 0
}

// Compensate maps a measurement to a sampling phase offset for a bus
// with the given half clock period: the measured lag in cycles, clamped
// to [0, period-1].
func Compensate(m Measurement, period uint32) uint32 {
	if period == 0 {
		return 0
	}
	return uint32(min(m.Cycles, uint64(period-1)))
}
