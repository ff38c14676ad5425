package master

// edges is the per-cycle output of the edge sampler.
type edges struct {
	rising  bool
	falling bool
	// strobe marks the data sampling instant, delay cycles after
	// the last falling edge.
	strobe bool
	data   bool
}

// sampler tracks the previous clock level and times the data strobe.
type sampler struct {
	prev  bool
	armed bool
	since uint32
	delay uint32
}

// reset prepares the sampler for a clock idling high.
func (s *sampler) reset(delay uint32) {
	*s = sampler{prev: true, delay: delay}
}

func (s *sampler) sample(clock, data bool) edges {
	e := edges{
		rising:  clock && !s.prev,
		falling: !clock && s.prev,
		data:    data,
	}
	s.prev = clock
	switch {
	case e.falling:
		s.since, s.armed = 0, true
	case s.armed:
		s.since++
	}
	if s.armed && s.since == s.delay {
		e.strobe = true
		s.armed = false
	}
	return e
}

// effectiveDelay returns the sample delay adjusted by a compensation
// offset, clamped to stay within the low half of the clock.
func effectiveDelay(c Config, offset uint32) uint32 {
	d := uint64(c.SampleDelay) + uint64(offset)
	return uint32(min(d, uint64(c.HalfClockPeriod-1)))
}
