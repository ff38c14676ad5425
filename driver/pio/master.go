package pio

import (
	"fmt"
	"strings"

	"biss.dev/master"
	"biss.dev/shift"
)

// MasterFreq is the state machine clock of the bus master, one cycle per
// state machine instruction cycle.
const MasterFreq = 20_000_000

// maxDelay is the largest instruction delay left beside a single
// mandatory side-set bit.
const maxDelay = 1<<(5-1) - 1

// MasterPins are the GPIOs of a bus driven by a state machine.
type MasterPins struct {
	// Clock is the MA output, driven by side-set.
	Clock uint8
	// Data is the SLO input, used both as IN base and jump pin.
	Data uint8
}

// MasterConfig returns the state machine configuration running
// [MasterProgram] for cfg. The program pulls the bit count from the TX
// FIFO and pushes every word explicitly.
func MasterConfig(cfg master.Config, pins MasterPins) (StateMachineConfig, error) {
	if _, err := MasterProgram(cfg); err != nil {
		return StateMachineConfig{}, err
	}
	c := DefaultStateMachineConfig()
	c.SetSidesetParams(1, false, false)
	c.SidesetBase = pins.Clock
	c.InBase = pins.Data
	c.InCount = 1
	c.JumpPin = pins.Data
	c.PullThreshold = 32
	c.Autopull = true
	c.PushThreshold = 32
	c.InShiftRight = cfg.Direction == shift.LSBFirst
	c.FIFOMode = FIFOJoinNone
	c.Freq = MasterFreq
	c.SetWrap(0, uint8(len(masterInstructions(cfg))-1))
	return c, nil
}

// Word extracts a word from a value pushed by the master program. The
// ISR shifts right for LSB first words, leaving them in the high bits.
func Word(cfg master.Config, rx uint32) shift.Word {
	if cfg.Direction == shift.LSBFirst && cfg.BitsPerWord < 32 {
		rx >>= 32 - uint32(cfg.BitsPerWord)
	}
	if cfg.BitsPerWord < 32 {
		rx &= 1<<cfg.BitsPerWord - 1
	}
	return shift.Word(rx)
}

type instruction struct {
	label  string
	public bool
	op     string
	side   int
	delay  int
}

// masterInstructions lays out the request cycle: wait for SLO ready with
// MA high, clock until the acknowledge falls and rises again, skip the
// framing bit, then sample SLO delay cycles into each low half clock.
func masterInstructions(cfg master.Config) []instruction {
	p, d := int(cfg.HalfClockPeriod), int(cfg.SampleDelay)
	return []instruction{
		{op: "out x, 32", side: 1},
		{op: "wait 1 pin 0", side: 1, delay: p},
		{label: "ack_fall", public: true, op: "nop", side: 0, delay: p},
		{op: "nop", side: 1, delay: p - 1},
		{op: "jmp pin ack_fall", side: 1},
		{label: "ack_rise", op: "nop", side: 0, delay: p},
		{op: "nop", side: 1, delay: p - 2},
		{op: "jmp pin start_bit", side: 1},
		{op: "jmp ack_rise", side: 1},
		{label: "start_bit", public: true, op: "nop", side: 0, delay: p},
		{op: "nop", side: 1, delay: p - 1},
		{op: "jmp x-- data_shift", side: 1},
		{label: "data_shift", op: "nop", side: 0, delay: d},
		{op: "in pins, 1", side: 0, delay: p - d - 1},
		{op: "nop", side: 1, delay: p - 1},
		{op: "jmp x-- data_shift", side: 1},
		{label: "cleanup", public: true, op: "push", side: 1},
		{label: "finis", public: true, op: "nop", side: 1},
	}
}

// MasterProgram returns the pioasm source of a state machine program
// implementing the master for cfg. The bit count loaded from the TX FIFO
// must equal cfg.BitsPerWord; it is never zero, so the final push always
// carries data.
func MasterProgram(cfg master.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.HalfClockPeriod < 2 || cfg.HalfClockPeriod > maxDelay {
		return "", fmt.Errorf("pio: half clock period %d outside [2, %d]", cfg.HalfClockPeriod, maxDelay)
	}
	b := new(strings.Builder)
	b.WriteString(".program biss_master\n.side_set 1\n")
	for _, in := range masterInstructions(cfg) {
		if in.label != "" {
			if in.public {
				b.WriteString("public ")
			}
			fmt.Fprintf(b, "%s:\n", in.label)
		}
		fmt.Fprintf(b, "    %s side %d", in.op, in.side)
		if in.delay > 0 {
			fmt.Fprintf(b, " [%d]", in.delay)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
