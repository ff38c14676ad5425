package pio

import (
	"errors"
	"strings"
	"testing"

	"biss.dev/bus"
	"biss.dev/master"
	"biss.dev/shift"
)

func testConfig() master.Config {
	return master.Config{
		HalfClockPeriod: 9,
		SampleDelay:     0,
		BitsPerWord:     8,
		Direction:       shift.MSBFirst,
		ReadyTimeout:    1000,
		AckTimeout:      1000,
		IdleTimeout:     64,
		Pins:            bus.StandardPins,
	}
}

func TestMasterProgram(t *testing.T) {
	cfg := testConfig()
	cfg.SampleDelay = 3
	prog, err := MasterProgram(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		".side_set 1\n",
		"    wait 1 pin 0 side 1 [9]\n",
		"public ack_fall:\n    nop side 0 [9]\n",
		"    nop side 1 [7]\n",
		"data_shift:\n    nop side 0 [3]\n    in pins, 1 side 0 [5]\n",
		"public cleanup:\n    push side 1\n",
	} {
		if !strings.Contains(prog, want) {
			t.Errorf("program lacks %q:\n%s", want, prog)
		}
	}
	if strings.Contains(prog, "[0]") {
		t.Errorf("program contains zero delays:\n%s", prog)
	}
}

func TestMasterProgramLimits(t *testing.T) {
	for _, period := range []uint32{1, 16} {
		cfg := testConfig()
		cfg.HalfClockPeriod = period
		if _, err := MasterProgram(cfg); err == nil {
			t.Errorf("period %d accepted", period)
		}
	}
	cfg := testConfig()
	cfg.SampleDelay = 9
	if _, err := MasterConfig(cfg, MasterPins{}); !errors.Is(err, master.ErrConfiguration) {
		t.Errorf("got %v, want a configuration error", err)
	}
}

func TestMasterConfig(t *testing.T) {
	c, err := MasterConfig(testConfig(), MasterPins{Clock: 2, Data: 0})
	if err != nil {
		t.Fatal(err)
	}
	if c.SidesetBase != 2 || c.SidesetCount != 1 || c.InBase != 0 || c.JumpPin != 0 {
		t.Errorf("got pins %+v", c)
	}
	if c.Freq != MasterFreq || c.PushThreshold != 32 || c.Autopush || !c.Autopull {
		t.Errorf("got FIFO setup %+v", c)
	}
	if c.Wrap != 17 || c.WrapTarget != 0 {
		t.Errorf("got wrap %d-%d", c.WrapTarget, c.Wrap)
	}
	r, err := c.Build(125_000_000)
	if err != nil {
		t.Fatal(err)
	}
	// 125 MHz / 20 MHz is 6.25: integer 6, fraction 64/256.
	if want := uint32(6<<16 | 64<<8); r.ClkDiv != want {
		t.Errorf("got CLKDIV %#x, want %#x", r.ClkDiv, want)
	}
	if got := r.PinCtrl >> pinctrlSidesetCountPos; got != 1 {
		t.Errorf("got sideset count %d", got)
	}
	if got := r.PinCtrl >> pinctrlSidesetBasePos & 0b11111; got != 2 {
		t.Errorf("got sideset base %d", got)
	}
	if got := r.ShiftCtrl >> shiftctrlPushThreshPos & 0b11111; got != 0 {
		t.Errorf("got push threshold field %d, want 0 for 32", got)
	}
	if r.ShiftCtrl&(1<<shiftctrlInShiftdir) != 0 {
		t.Error("MSB first words shift right")
	}
	if got := r.ExecCtrl >> execctrlWrapTopPos & 0b11111; got != 17 {
		t.Errorf("got wrap top %d", got)
	}
}

func TestBuildErrors(t *testing.T) {
	base, err := MasterConfig(testConfig(), MasterPins{Clock: 2})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		modify func(c *StateMachineConfig)
		freq   uint32
	}{
		{"threshold", func(c *StateMachineConfig) { c.PushThreshold = 33 }, 125_000_000},
		{"sideset", func(c *StateMachineConfig) { c.SidesetCount = 5; c.SidesetOptional = true }, 125_000_000},
		{"pin", func(c *StateMachineConfig) { c.JumpPin = 40 }, 125_000_000},
		{"fifo", func(c *StateMachineConfig) { c.FIFOMode = 7 }, 125_000_000},
		{"too-fast", func(c *StateMachineConfig) {}, 10_000_000},
		{"zero-freq", func(c *StateMachineConfig) { c.Freq = 0 }, 125_000_000},
	}
	for _, test := range tests {
		c := base
		test.modify(&c)
		if _, err := c.Build(test.freq); err == nil {
			t.Errorf("%s: accepted %+v", test.name, c)
		}
	}
}

func TestWord(t *testing.T) {
	cfg := testConfig()
	if got := Word(cfg, 0x2c); got != 0x2c {
		t.Errorf("msb8: got %#x", got)
	}
	cfg.Direction = shift.LSBFirst
	if got := Word(cfg, 0x34<<24); got != 0x34 {
		t.Errorf("lsb8: got %#x", got)
	}
	cfg.BitsPerWord = 32
	if got := Word(cfg, 0xdeadbeef); got != 0xdeadbeef {
		t.Errorf("lsb32: got %#x", got)
	}
}
