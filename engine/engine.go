// Package engine runs a master and its line delay estimator against a
// sample source, one cycle at a time, and turns their outputs into
// acquisitions.
package engine

import (
	"context"
	"fmt"
	"log"

	"biss.dev/bus"
	"biss.dev/linedelay"
	"biss.dev/master"
	"biss.dev/shift"
	"biss.dev/trace"
)

// Bus is a single bus instance. A Bus is not safe for concurrent use;
// separate buses may run on separate goroutines.
type Bus struct {
	// Retries is the number of times an acquisition that timed out is
	// retried before Acquire gives up. Negative values count as zero.
	Retries int
	// AutoCompensate applies every delay measurement to the phase
	// offset of the following acquisitions.
	AutoCompensate bool
	// Trace records every cycle if set.
	Trace *trace.Trace
	// Logger receives retry and measurement messages if set.
	Logger *log.Logger

	machine   *master.Machine
	estimator *linedelay.Estimator
	src       bus.Source
	drv       bus.Driver
	pins      bus.Pins
	cycle     uint64

	measured bool
	last     linedelay.Measurement
}

// Result is a completed acquisition.
type Result struct {
	Word shift.Word
	// Start is the first cycle of the successful attempt, End the cycle
	// the word was pushed.
	Start, End uint64
	Attempts   int
}

// New returns a bus for cfg reading src. If src also implements
// [bus.Driver] it is driven with the master clock every cycle.
func New(cfg master.Config, src bus.Source) (*Bus, error) {
	m, err := master.New(cfg)
	if err != nil {
		return nil, err
	}
	e, err := linedelay.New(linedelay.Config{
		Reference: bus.Ref,
		Local:     bus.Clock,
		Qualify:   true,
		Timeout:   cfg.IdleTimeout,
		Pins:      cfg.Pins,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	b := &Bus{
		machine:   m,
		estimator: e,
		src:       src,
		pins:      cfg.Pins,
	}
	b.drv, _ = src.(bus.Driver)
	return b, nil
}

// Cycle returns the next cycle to run.
func (b *Bus) Cycle() uint64 {
	return b.cycle
}

// Machine returns the master state machine of the bus.
func (b *Bus) Machine() *master.Machine {
	return b.machine
}

// Measurement returns the most recent line delay measurement.
func (b *Bus) Measurement() (linedelay.Measurement, bool) {
	return b.last, b.measured
}

// Compensate applies the most recent line delay measurement to the phase
// offset of the following acquisitions and returns the offset.
func (b *Bus) Compensate() (uint32, bool) {
	if !b.measured {
		return 0, false
	}
	off := linedelay.Compensate(b.last, b.machine.Config().HalfClockPeriod)
	b.machine.SetPhaseOffset(off)
	return off, true
}

// SetPhaseOffset sets the phase offset of the following acquisitions,
// typically one measured on another bus.
func (b *Bus) SetPhaseOffset(off uint32) {
	b.machine.SetPhaseOffset(off)
}

// Acquire runs one acquisition to completion. Protocol timeouts are
// retried up to Retries times; invariant violations are not. Cancelling
// ctx resets the bus at the next cycle boundary.
func (b *Bus) Acquire(ctx context.Context) (Result, error) {
	var err error
	attempts := max(b.Retries, 0) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		var r Result
		r, err = b.attempt(ctx)
		if err == nil {
			r.Attempts = attempt
			return r, nil
		}
		if master.IsFatal(err) || ctx.Err() != nil {
			return Result{}, err
		}
		b.logf("engine: attempt %d: %v", attempt, err)
	}
	return Result{}, fmt.Errorf("engine: %d attempts: %w", attempts, err)
}

// Run acquires n words, stopping at the first failure.
func (b *Bus) Run(ctx context.Context, n int) ([]Result, error) {
	var results []Result
	for range n {
		r, err := b.Acquire(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (b *Bus) attempt(ctx context.Context) (Result, error) {
	if err := b.machine.Start(); err != nil {
		return Result{}, fmt.Errorf("engine: %w", err)
	}
	r := Result{Start: b.cycle}
	for {
		select {
		case <-ctx.Done():
			b.machine.Reset()
			b.estimator.Reset()
			return Result{}, ctx.Err()
		default:
		}
		out := b.tick()
		switch out.Event {
		case master.EventWord:
			r.Word, r.End = out.Word, b.cycle-1
			if err := b.machine.Rearm(); err != nil {
				return Result{}, fmt.Errorf("engine: %w", err)
			}
			b.settle(ctx)
			return r, nil
		case master.EventError:
			b.settle(ctx)
			return Result{}, out.Err
		}
	}
}

// settle holds the bus idle long enough for the estimator to measure the
// idle window and for the encoder to become ready again.
func (b *Bus) settle(ctx context.Context) {
	n := b.machine.Config().IdleTimeout + 2
	for range n {
		if ctx.Err() != nil {
			return
		}
		b.tick()
	}
}

// tick runs a single cycle.
func (b *Bus) tick() master.Output {
	c := b.cycle
	s := b.src.Sample(c)
	out := b.machine.Tick(c, s)
	if b.drv != nil {
		b.drv.Drive(c, out.Clock)
	}
	s = b.pins.Set(s, bus.Idle, !b.machine.Running())
	est := b.estimator.Tick(c, s)
	switch est.Event {
	case linedelay.EventMeasurement:
		b.last, b.measured = est.Measurement, true
		b.logf("engine: cycle %d: line delay %d cycles", c, est.Measurement.Cycles)
		if b.AutoCompensate {
			b.Compensate()
		}
	case linedelay.EventTimeout:
		b.logf("engine: cycle %d: %v", c, est.Err)
	}
	if b.Trace != nil {
		b.Trace.Add(c, s, out.Clock, out.State.String())
	}
	b.cycle++
	return out
}

func (b *Bus) logf(format string, args ...any) {
	if b.Logger != nil {
		b.Logger.Printf(format, args...)
	}
}
