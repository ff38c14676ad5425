// Package encoder simulates a BiSS-C encoder at the far end of a line, for
// closed-loop runs of the master without hardware.
//
// A request cycle proceeds as follows. While idle the master holds MA high
// and the encoder signals ready by holding SLO high. The master starts
// clocking, and the encoder pulls SLO low on the second rising MA edge
// (acknowledge). After the acknowledge period the encoder sends a start bit,
// a zero CDS bit and the position, most significant bit first, one bit per
// rising MA edge. When the master stops the clock the encoder holds SLO low
// for its timeout period and then signals ready again.
package encoder

import (
	"errors"
	"fmt"

	"biss.dev/bus"
)

type Config struct {
	Pins bus.Pins
	// Bits is the number of position bits in a frame.
	Bits int
	// LineDelay is the round trip delay of the line in cycles. Both the
	// echoed clock and SLO arrive at the master this late.
	LineDelay int
	// AckCycles is the number of rising MA edges SLO stays low after the
	// acknowledge edge.
	AckCycles int
	// Timeout is the number of cycles SLO stays low after a frame. A
	// request is abandoned when MA stays high for as long; it must exceed
	// the master's half clock period.
	Timeout int
	// Stuck is the number of requests to hold in acknowledge until the
	// master gives up.
	Stuck int
}

func (c Config) validate() error {
	switch {
	case c.Bits < 1 || c.Bits > 32:
		return fmt.Errorf("encoder: %d position bits", c.Bits)
	case c.LineDelay < 0:
		return fmt.Errorf("encoder: negative line delay %d", c.LineDelay)
	case c.AckCycles < 1:
		return errors.New("encoder: acknowledge period too short")
	case c.Timeout < 1:
		return errors.New("encoder: zero timeout")
	}
	return c.Pins.Validate()
}

type encoderState int

const (
	stateReady encoderState = iota
	stateAck
	stateStart
	stateFrame
	stateTimeout
)

// levels is the pair of lines leaving the encoder end of the loop.
type levels struct {
	clock, slo bool
}

// Simulator is a [bus.Source] and [bus.Driver] modelling an encoder and
// its line. It is not safe for concurrent use.
type Simulator struct {
	// Position is the value sent in the next frame.
	Position uint32
	// Step is added to Position after each frame.
	Step uint32
	// Sent records the position of every completed frame.
	Sent []uint32

	cfg   Config
	state encoderState
	slo   bool
	prev  bool
	// edges counts rising edges while ready.
	edges int
	// left counts rising edges left in the acknowledge period.
	left int
	// bit indexes the frame; zero is the CDS bit.
	bit     int
	quiet   int
	elapsed int
	stuck   int

	line []levels
	hist bus.History
}

// New returns a ready encoder. Cycle zero samples all lines high.
func New(cfg Config) (*Simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg:   cfg,
		slo:   true,
		prev:  true,
		stuck: cfg.Stuck,
		line:  make([]levels, cfg.LineDelay+1),
	}
	for i := range s.line {
		s.line[i] = levels{clock: true, slo: true}
	}
	s.hist.Push(s.sample(true, s.line[0]))
	return s, nil
}

// Sample returns the lines as seen by the master at cycle. Cycles not
// yet driven repeat the newest sample.
func (s *Simulator) Sample(cycle uint64) bus.Sample {
	if v, ok := s.hist.Lookup(cycle); ok {
		return v
	}
	v, _ := s.hist.Lookup(s.hist.Next() - 1)
	return v
}

// Drive applies the MA level the master drives during cycle. Cycles must
// be driven in order.
func (s *Simulator) Drive(cycle uint64, clock bool) {
	if cycle+1 != s.hist.Next() {
		panic(fmt.Sprintf("encoder: drive of cycle %d, expected %d", cycle, s.hist.Next()-1))
	}
	s.clock(clock)
	n := uint64(len(s.line))
	s.line[cycle%n] = levels{clock: clock, slo: s.slo}
	s.hist.Push(s.sample(clock, s.line[(cycle+1)%n]))
}

func (s *Simulator) sample(ref bool, far levels) bus.Sample {
	p := s.cfg.Pins
	var v bus.Sample
	v = p.Set(v, bus.Ref, ref)
	v = p.Set(v, bus.Clock, far.clock)
	v = p.Set(v, bus.Data, far.slo)
	return v
}

// clock advances the encoder by one cycle of MA.
func (s *Simulator) clock(ma bool) {
	rising := ma && !s.prev
	s.prev = ma
	if ma {
		s.quiet++
	} else {
		s.quiet = 0
	}
	switch s.state {
	case stateReady:
		s.slo = true
		if rising {
			s.edges++
			if s.edges == 2 {
				s.state, s.left, s.slo = stateAck, s.cfg.AckCycles, false
			}
		} else if s.quiet >= s.cfg.Timeout {
			s.edges = 0
		}
		return
	case stateAck:
		if rising && s.stuck == 0 {
			s.left--
			if s.left == 0 {
				s.state, s.slo = stateStart, true
			}
		}
	case stateStart:
		if rising {
			s.state, s.bit, s.slo = stateFrame, 0, false
		}
	case stateFrame:
		if rising {
			s.bit++
			if s.bit > s.cfg.Bits {
				s.Sent = append(s.Sent, s.word())
				s.Position += s.Step
				s.state, s.elapsed, s.slo = stateTimeout, 0, false
				return
			}
			s.slo = s.word()>>(s.cfg.Bits-s.bit)&1 == 1
		}
	case stateTimeout:
		s.elapsed++
		if s.elapsed >= s.cfg.Timeout {
			s.ready()
		}
		return
	}
	if s.quiet >= s.cfg.Timeout {
		// The master abandoned the request.
		if s.state == stateAck && s.stuck > 0 {
			s.stuck--
		}
		s.ready()
	}
}

func (s *Simulator) ready() {
	s.state, s.slo, s.edges = stateReady, true, 0
}

func (s *Simulator) word() uint32 {
	if s.cfg.Bits == 32 {
		return s.Position
	}
	return s.Position & (1<<s.cfg.Bits - 1)
}
