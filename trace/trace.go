// Package trace records the per-cycle diagnostic trace of a bus: the cycle,
// the sampled line levels, the driven clock and the master state. Traces
// encode to deterministic CBOR so that replays can be compared byte for
// byte.
package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"biss.dev/bus"
)

// Entry is the trace of a single cycle.
type Entry struct {
	_      struct{} `cbor:",toarray"`
	Cycle  uint64
	Levels bus.Sample
	Clock  bool
	State  string
}

// Trace is an ordered sequence of entries.
type Trace struct {
	Entries []Entry
}

type record struct {
	_       struct{} `cbor:",toarray"`
	Version int
	Entries []Entry
}

const version = 1

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Add appends the trace of a cycle. Cycles must be added in order.
func (t *Trace) Add(cycle uint64, levels bus.Sample, clock bool, state string) {
	if n := len(t.Entries); n > 0 && t.Entries[n-1].Cycle >= cycle {
		panic(fmt.Sprintf("trace: cycle %d added after %d", cycle, t.Entries[n-1].Cycle))
	}
	t.Entries = append(t.Entries, Entry{Cycle: cycle, Levels: levels, Clock: clock, State: state})
}

func (t *Trace) Len() int {
	return len(t.Entries)
}

// Reset discards all entries, keeping the allocated storage.
func (t *Trace) Reset() {
	t.Entries = t.Entries[:0]
}

func (t *Trace) MarshalBinary() ([]byte, error) {
	b, err := encMode.Marshal(record{Version: version, Entries: t.Entries})
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return b, nil
}

func (t *Trace) UnmarshalBinary(b []byte) error {
	var r record
	if err := decMode.Unmarshal(b, &r); err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	if r.Version != version {
		return fmt.Errorf("trace: unsupported version %d", r.Version)
	}
	for i := 1; i < len(r.Entries); i++ {
		if r.Entries[i].Cycle <= r.Entries[i-1].Cycle {
			return fmt.Errorf("trace: entry %d out of order", i)
		}
	}
	t.Entries = r.Entries
	return nil
}

// WriteTo writes the encoded trace to w.
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	b, err := t.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Read decodes a trace written by WriteTo.
func Read(r io.Reader) (*Trace, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	t := new(Trace)
	if err := t.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return t, nil
}

// Digest is the BLAKE2b-256 hash of the encoded trace. Identical runs
// have identical digests.
func (t *Trace) Digest() ([blake2b.Size256]byte, error) {
	b, err := t.MarshalBinary()
	if err != nil {
		return [blake2b.Size256]byte{}, err
	}
	return blake2b.Sum256(b), nil
}

var errLength = errors.New("trace: length mismatch")

// Compare returns the index of the first entry that differs between a and
// b, and an error describing it. It returns -1 and nil for equal traces.
func Compare(a, b *Trace) (int, error) {
	for i := range min(len(a.Entries), len(b.Entries)) {
		if ea, eb := a.Entries[i], b.Entries[i]; ea != eb {
			return i, fmt.Errorf("trace: entry %d: %s != %s", i, ea, eb)
		}
	}
	if n := min(len(a.Entries), len(b.Entries)); len(a.Entries) != len(b.Entries) {
		return n, fmt.Errorf("%w: %d != %d", errLength, len(a.Entries), len(b.Entries))
	}
	return -1, nil
}

func (e Entry) String() string {
	clk := 0
	if e.Clock {
		clk = 1
	}
	return fmt.Sprintf("%d %08X %d %s", e.Cycle, uint32(e.Levels), clk, e.State)
}
