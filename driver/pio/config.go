// Package pio describes RP2040 PIO state machine configurations and packs
// them into register values.
package pio

import (
	"errors"
	"fmt"
)

// Below is the API to please pioasm -o go.

// StateMachineConfig represents a configuration
// of a PIO state machine.
// Note that the pioasm tool expects this particular
// type name.
type StateMachineConfig struct {
	SidesetBase     uint8
	SidesetCount    int
	SidesetOptional bool
	SidesetDirs     bool
	OutBase         uint8
	OutCount        int
	InBase          uint8
	InCount         int
	SetBase         uint8
	SetCount        int
	JumpPin         uint8
	FIFOMode        FIFOMode
	PullThreshold   int
	PushThreshold   int
	Autopull        bool
	Autopush        bool
	// InShiftRight and OutShiftRight select the shift directions of the
	// ISR and OSR.
	InShiftRight  bool
	OutShiftRight bool
	Freq          uint32
	Wrap          uint8
	WrapTarget    uint8
}

type FIFOMode uint8

const (
	FIFOJoinNone FIFOMode = iota
	FIFOJoinTX
	FIFOJoinRX
)

func DefaultStateMachineConfig() StateMachineConfig {
	return StateMachineConfig{}
}

func (s *StateMachineConfig) SetWrap(target, wrap uint8) {
	s.WrapTarget = target
	s.Wrap = wrap
}

func (s *StateMachineConfig) SetSidesetParams(sidecount int, optional, pindirs bool) {
	s.SidesetCount = sidecount
	s.SidesetOptional = optional
	s.SidesetDirs = pindirs
}

// Regs is a [StateMachineConfig] packed into the SMx_CLKDIV, SMx_EXECCTRL,
// SMx_SHIFTCTRL and SMx_PINCTRL register values.
type Regs struct {
	ClkDiv    uint32
	ExecCtrl  uint32
	ShiftCtrl uint32
	PinCtrl   uint32
}

// Register field positions.
const (
	clkdivFracPos = 8

	execctrlSideEnPos     = 30
	execctrlSidePindirPos = 29
	execctrlJmpPinPos     = 24
	execctrlWrapTopPos    = 12
	execctrlWrapBottomPos = 7

	shiftctrlFjoinRxPos    = 31
	shiftctrlFjoinTxPos    = 30
	shiftctrlPullThreshPos = 25
	shiftctrlPushThreshPos = 20
	shiftctrlOutShiftdir   = 19
	shiftctrlInShiftdir    = 18
	shiftctrlAutopullPos   = 17
	shiftctrlAutopushPos   = 16

	pinctrlSidesetCountPos = 29
	pinctrlSetCountPos     = 26
	pinctrlOutCountPos     = 20
	pinctrlInBasePos       = 15
	pinctrlSidesetBasePos  = 10
	pinctrlSetBasePos      = 5
	pinctrlOutBasePos      = 0
)

const numPins = 30

var errFreq = errors.New("pio: frequency out of range")

// Build packs c for a system clock of sysFreq Hz.
func (c *StateMachineConfig) Build(sysFreq uint32) (Regs, error) {
	switch {
	case c.OutCount < 0 || 32 < c.OutCount:
		return Regs{}, fmt.Errorf("pio: invalid out count %d", c.OutCount)
	case c.InCount < 0 || 32 < c.InCount:
		return Regs{}, fmt.Errorf("pio: invalid in count %d", c.InCount)
	case c.SidesetCount < 0 || 5 < c.SidesetCount:
		return Regs{}, fmt.Errorf("pio: invalid sideset count %d", c.SidesetCount)
	case c.SetCount < 0 || 5 < c.SetCount:
		return Regs{}, fmt.Errorf("pio: invalid set count %d", c.SetCount)
	case c.Wrap > 31 || c.WrapTarget > 31:
		return Regs{}, fmt.Errorf("pio: wrap %d-%d out of range", c.WrapTarget, c.Wrap)
	}
	for _, p := range []uint8{c.SidesetBase, c.OutBase, c.InBase, c.SetBase, c.JumpPin} {
		if p >= numPins {
			return Regs{}, fmt.Errorf("pio: pin %d out of range", p)
		}
	}
	pullThres, err := pushPullThreshold(c.PullThreshold)
	if err != nil {
		return Regs{}, err
	}
	pushThres, err := pushPullThreshold(c.PushThreshold)
	if err != nil {
		return Regs{}, err
	}
	if c.Freq == 0 {
		return Regs{}, errFreq
	}
	// Compute fractional clock divisor, rounded up.
	clkDiv64 := (uint64(sysFreq)<<clkdivFracPos + uint64(c.Freq) - 1) / uint64(c.Freq)
	if clkDiv64 < 1<<clkdivFracPos || clkDiv64 > 0x1000000 {
		return Regs{}, fmt.Errorf("%w: %d Hz from %d Hz", errFreq, c.Freq, sysFreq)
	}
	// Clock divisor 65536 is encoded as 0.
	clkDiv := uint32(clkDiv64) & 0xffffff
	fjoinRX := uint32(0b0)
	fjoinTX := uint32(0b0)
	switch c.FIFOMode {
	case FIFOJoinNone:
	case FIFOJoinRX:
		fjoinRX = 0b1
	case FIFOJoinTX:
		fjoinTX = 0b1
	default:
		return Regs{}, fmt.Errorf("pio: invalid FIFO mode %d", c.FIFOMode)
	}
	sidesetCount := c.SidesetCount
	if c.SidesetOptional {
		sidesetCount++
	}
	if sidesetCount > 5 {
		return Regs{}, fmt.Errorf("pio: invalid sideset count %d", sidesetCount)
	}
	return Regs{
		ClkDiv: clkDiv << clkdivFracPos,
		PinCtrl: uint32(sidesetCount)<<pinctrlSidesetCountPos |
			uint32(c.SetCount)<<pinctrlSetCountPos |
			uint32(c.OutCount)<<pinctrlOutCountPos |
			uint32(c.InBase)<<pinctrlInBasePos |
			uint32(c.SidesetBase)<<pinctrlSidesetBasePos |
			uint32(c.SetBase)<<pinctrlSetBasePos |
			uint32(c.OutBase)<<pinctrlOutBasePos,
		ShiftCtrl: fjoinRX<<shiftctrlFjoinRxPos |
			fjoinTX<<shiftctrlFjoinTxPos |
			pullThres<<shiftctrlPullThreshPos |
			pushThres<<shiftctrlPushThreshPos |
			boolToUint32(c.OutShiftRight)<<shiftctrlOutShiftdir |
			boolToUint32(c.InShiftRight)<<shiftctrlInShiftdir |
			boolToUint32(c.Autopull)<<shiftctrlAutopullPos |
			boolToUint32(c.Autopush)<<shiftctrlAutopushPos,
		ExecCtrl: uint32(c.WrapTarget)<<execctrlWrapBottomPos |
			uint32(c.Wrap)<<execctrlWrapTopPos |
			uint32(c.JumpPin)<<execctrlJmpPinPos |
			boolToUint32(c.SidesetOptional)<<execctrlSideEnPos |
			boolToUint32(c.SidesetDirs)<<execctrlSidePindirPos,
	}, nil
}

func pushPullThreshold(t int) (uint32, error) {
	if t < 0 || 32 < t {
		return 0, fmt.Errorf("pio: invalid push/pull threshold %d", t)
	}
	// Threshold 32 is encoded as 0.
	return uint32(t & 0b11111), nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
