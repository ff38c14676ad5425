// Package master implements the cycle-accurate master side of a BiSS-C
// bus: MA clock generation, acknowledge edge detection and shifting in of
// a fixed-width position word.
//
// A [Machine] advances exactly one cycle per call to [Machine.Tick] and
// never blocks. Waiting states simply do not advance until the awaited
// level appears, bounded by the configured timeouts.
package master

import (
	"errors"
	"fmt"

	"biss.dev/bus"
	"biss.dev/shift"
)

// State is a protocol state of the master.
type State int

const (
	Idle State = iota
	WaitReady
	AckFallWait
	AckRiseWait
	StartBit
	DataShift
	Cleanup
	Finis
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case WaitReady:
		return "WAIT_SLO_READY"
	case AckFallWait:
		return "ACK_FALL_WAIT"
	case AckRiseWait:
		return "ACK_RISE_WAIT"
	case StartBit:
		return "START_BIT"
	case DataShift:
		return "DATA_SHIFT"
	case Cleanup:
		return "CLEANUP"
	case Finis:
		return "FINIS"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the states reachable from each state by Tick.
// Reset and Rearm return to Idle from anywhere.
var transitions = [...][]State{
	Idle:        {WaitReady},
	WaitReady:   {AckFallWait, Idle},
	AckFallWait: {AckRiseWait, Idle},
	AckRiseWait: {StartBit, Idle},
	StartBit:    {DataShift},
	DataShift:   {Cleanup, Idle},
	Cleanup:     {Finis, Idle},
	Finis:       {},
}

// CanTransition reports whether Tick may move from s to next.
func CanTransition(s, next State) bool {
	if s < 0 || int(s) >= len(transitions) {
		return false
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

var (
	// ErrProtocolTimeout is reported when the encoder does not signal ready
	// or acknowledge within the configured bound. The acquisition may be
	// retried.
	ErrProtocolTimeout = errors.New("master: protocol timeout")
	// ErrInvariant wraps shift register overruns and underruns. It signals
	// a bug in the state machine; the acquisition must not be retried.
	ErrInvariant = errors.New("master: invariant violation")
	errBusy      = errors.New("master: acquisition in progress")
)

// IsFatal reports whether err is an invariant violation rather than an
// ordinary bus timeout.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// Event is the kind of output produced by a cycle.
type Event int

const (
	EventNone Event = iota
	// EventBit reports a data bit shifted into the word.
	EventBit
	// EventWord reports a completed word.
	EventWord
	// EventError reports a timeout or invariant violation; the machine
	// has returned to Idle.
	EventError
)

// Output is the result of a single cycle.
type Output struct {
	// State is the state that handled the cycle.
	State State
	// Clock is the MA level driven during the cycle.
	Clock bool
	Event Event
	Bit   uint8
	Word  shift.Word
	Err   error
}

// Machine is the master protocol state machine. Machine holds no
// references, so copying a Machine snapshots it.
type Machine struct {
	cfg     Config
	state   State
	clock   bool
	running bool
	// half counts cycles into the current half clock.
	half uint32
	// waited counts cycles spent in the current waiting state.
	waited uint64
	// bits counts down the data bits left to shift.
	bits   int
	reg    shift.Register
	edge   sampler
	offset uint32
}

// New returns an idle machine for the configuration.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{cfg: cfg}
	m.Reset()
	return m, nil
}

// Config returns the machine configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Clock returns the MA level of the most recent cycle.
func (m *Machine) Clock() bool {
	return m.clock
}

// Running reports whether the clock generator is running. The bus is
// idle whenever it is not.
func (m *Machine) Running() bool {
	return m.running
}

// BitsLeft returns the value of the bit counter.
func (m *Machine) BitsLeft() int {
	return m.bits
}

// SetPhaseOffset sets the line delay compensation added to the sample
// delay. It takes effect at the next Start.
func (m *Machine) SetPhaseOffset(offset uint32) {
	m.offset = offset
}

// SampleDelay returns the compensated sample delay used by acquisitions.
func (m *Machine) SampleDelay() uint32 {
	return effectiveDelay(m.cfg, m.offset)
}

// Start begins an acquisition. The machine must be idle.
func (m *Machine) Start() error {
	if m.state != Idle {
		return fmt.Errorf("%w: start in %v", errBusy, m.state)
	}
	if err := m.reg.Reset(int(m.cfg.BitsPerWord), m.cfg.Direction); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	m.edge.reset(m.SampleDelay())
	m.clock, m.running, m.half = true, true, 0
	m.waited, m.bits = 0, 0
	m.state = WaitReady
	return nil
}

// Rearm returns a finished machine to Idle for the next acquisition.
func (m *Machine) Rearm() error {
	switch m.state {
	case Idle:
		return nil
	case Finis:
		m.Reset()
		return nil
	}
	return fmt.Errorf("%w: rearm in %v", errBusy, m.state)
}

// Reset aborts any acquisition and returns to Idle, discarding the
// register contents. It is safe to call between any two cycles.
func (m *Machine) Reset() {
	m.state = Idle
	m.clock, m.running, m.half = true, false, 0
	m.waited, m.bits = 0, 0
	m.reg = shift.Register{}
	m.edge.reset(m.SampleDelay())
}

// Tick advances the machine by one cycle with the bus sample s.
func (m *Machine) Tick(cycle uint64, s bus.Sample) Output {
	m.advanceClock()
	e := m.edge.sample(m.clock, m.cfg.Pins.Level(s, bus.Data))
	out := m.step(e)
	out.Clock = m.clock
	return out
}

// Step is the pure form of Tick: it returns the successor of m and the
// cycle's output, leaving m unchanged.
func Step(m Machine, cycle uint64, s bus.Sample) (Machine, Output) {
	out := m.Tick(cycle, s)
	return m, out
}

func (m *Machine) advanceClock() {
	if !m.running {
		m.clock = true
		return
	}
	m.half++
	if m.half >= m.cfg.HalfClockPeriod {
		m.half = 0
		m.clock = !m.clock
	}
}

func (m *Machine) step(e edges) Output {
	out := Output{State: m.state}
	switch m.state {
	case Idle, Finis:
	case WaitReady:
		if e.data {
			m.enter(AckFallWait)
			break
		}
		out = m.wait(out, m.cfg.ReadyTimeout)
	case AckFallWait:
		// The acknowledge falling edge is sampled on the MA rising edge.
		if e.rising && !e.data {
			m.enter(AckRiseWait)
			break
		}
		out = m.wait(out, m.cfg.AckTimeout)
	case AckRiseWait:
		if e.rising && e.data {
			m.enter(StartBit)
			break
		}
		out = m.wait(out, m.cfg.AckTimeout)
	case StartBit:
		if e.strobe {
			// Discard the framing bit.
			m.bits = int(m.cfg.BitsPerWord)
			m.enter(DataShift)
		}
	case DataShift:
		if !e.strobe || m.bits <= 0 {
			break
		}
		bit := boolToUint8(e.data)
		if err := m.reg.ShiftIn(bit); err != nil {
			return m.fail(out, fmt.Errorf("%w: %w", ErrInvariant, err))
		}
		m.bits--
		out.Event, out.Bit = EventBit, bit
		if m.bits == 0 {
			// Stop the clock; MA returns high on the next cycle.
			m.running = false
			m.enter(Cleanup)
		}
	case Cleanup:
		if m.reg.Len() == 0 {
			return m.fail(out, fmt.Errorf("%w: %w: push without data", ErrInvariant, shift.ErrFifoUnderrun))
		}
		w, err := m.reg.Take()
		if err != nil {
			return m.fail(out, fmt.Errorf("%w: %w", ErrInvariant, err))
		}
		m.enter(Finis)
		out.Event, out.Word = EventWord, w
	}
	return out
}

func (m *Machine) enter(next State) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("master: invalid transition %v -> %v", m.state, next))
	}
	m.state = next
	m.waited = 0
}

// wait counts a cycle spent waiting and times out after bound cycles.
func (m *Machine) wait(out Output, bound uint64) Output {
	m.waited++
	if m.waited < bound {
		return out
	}
	return m.fail(out, fmt.Errorf("%w: %v after %d cycles", ErrProtocolTimeout, m.state, m.waited))
}

func (m *Machine) fail(out Output, err error) Output {
	m.enter(Idle)
	m.Reset()
	out.Event, out.Err = EventError, err
	return out
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
