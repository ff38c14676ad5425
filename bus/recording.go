package bus

// Recording is a replayable [Source] backed by a slice of samples,
// indexed from cycle zero. Cycles past the end repeat the last sample.
type Recording struct {
	samples []Sample
}

// NewRecording returns a recording of the given samples.
func NewRecording(samples ...Sample) *Recording {
	return &Recording{samples: samples}
}

// Hold appends n cycles of s.
func (r *Recording) Hold(s Sample, n int) *Recording {
	for range n {
		r.samples = append(r.samples, s)
	}
	return r
}

// Len returns the number of recorded cycles.
func (r *Recording) Len() int {
	return len(r.samples)
}

func (r *Recording) Sample(cycle uint64) Sample {
	if len(r.samples) == 0 {
		return 0
	}
	if cycle >= uint64(len(r.samples)) {
		return r.samples[len(r.samples)-1]
	}
	return r.samples[cycle]
}

// History retains the most recent samples of a live source so that
// repeated requests for a past cycle return the same value.
type History struct {
	samples [historyLen]Sample
	// next is the cycle following the newest retained sample.
	next uint64
	len  int
}

const historyLen = 4096

// Lookup returns the retained sample for cycle, if any.
func (h *History) Lookup(cycle uint64) (Sample, bool) {
	if cycle >= h.next {
		return 0, false
	}
	if h.next-cycle > uint64(h.len) {
		panic("bus: cycle evicted from history")
	}
	return h.samples[cycle%historyLen], true
}

// Next returns the first cycle not yet recorded.
func (h *History) Next() uint64 {
	return h.next
}

// Push records s as the sample of cycle h.Next().
func (h *History) Push(s Sample) {
	h.samples[h.next%historyLen] = s
	h.next++
	h.len = min(h.len+1, historyLen)
}
