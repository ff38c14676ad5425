package master

import (
	"errors"
	"fmt"

	"biss.dev/bus"
	"biss.dev/shift"
)

// Config describes one bus instance. Every field must be set explicitly;
// there are no defaults.
type Config struct {
	// HalfClockPeriod is the number of cycles in each half of the MA
	// square wave.
	HalfClockPeriod uint32
	// SampleDelay is the number of cycles between a falling MA edge and
	// the sampling of SLO. It must be less than HalfClockPeriod.
	SampleDelay uint32
	// BitsPerWord is the width of captured words, 8 or 32.
	BitsPerWord uint8
	Direction   shift.Direction
	// ReadyTimeout bounds the wait for the encoder to signal ready.
	ReadyTimeout uint64
	// AckTimeout bounds each of the two acknowledge edge waits.
	AckTimeout uint64
	// IdleTimeout bounds the line delay estimator's wait for the local
	// line to follow the reference line into idle.
	IdleTimeout uint64
	Pins        bus.Pins
}

// ErrConfiguration is wrapped by all configuration validation errors.
var ErrConfiguration = errors.New("master: invalid configuration")

// Validate checks c for consistency before any acquisition starts.
func (c Config) Validate() error {
	switch {
	case c.HalfClockPeriod == 0:
		return fmt.Errorf("%w: zero half clock period", ErrConfiguration)
	case c.SampleDelay >= c.HalfClockPeriod:
		return fmt.Errorf("%w: sample delay %d not below half clock period %d", ErrConfiguration, c.SampleDelay, c.HalfClockPeriod)
	case c.BitsPerWord != 8 && c.BitsPerWord != 32:
		return fmt.Errorf("%w: %d bits per word", ErrConfiguration, c.BitsPerWord)
	case c.Direction != shift.MSBFirst && c.Direction != shift.LSBFirst:
		return fmt.Errorf("%w: shift direction %v", ErrConfiguration, c.Direction)
	case c.ReadyTimeout == 0:
		return fmt.Errorf("%w: zero ready timeout", ErrConfiguration)
	case c.AckTimeout == 0:
		return fmt.Errorf("%w: zero ack timeout", ErrConfiguration)
	case c.IdleTimeout == 0:
		return fmt.Errorf("%w: zero idle timeout", ErrConfiguration)
	case c.IdleTimeout < uint64(c.HalfClockPeriod):
		return fmt.Errorf("%w: idle timeout %d shorter than half clock period %d", ErrConfiguration, c.IdleTimeout, c.HalfClockPeriod)
	}
	if err := c.Pins.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}
