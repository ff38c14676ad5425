// Package shift implements the bounded accumulator that assembles
// sampled bus bits into fixed-width words.
package shift

import (
	"errors"
	"fmt"
)

// Word is a completed, fixed-width value shifted in from the bus.
type Word uint32

// Direction selects where each new bit lands in the word.
type Direction int

const (
	// MSBFirst places each new bit in the most significant unfilled position.
	MSBFirst Direction = iota
	// LSBFirst places each new bit in the least significant unfilled position.
	LSBFirst
)

func (d Direction) String() string {
	switch d {
	case MSBFirst:
		return "msb"
	case LSBFirst:
		return "lsb"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses the String form of a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "msb":
		return MSBFirst, nil
	case "lsb":
		return LSBFirst, nil
	}
	return 0, fmt.Errorf("shift: unknown direction %q", s)
}

var (
	// ErrFifoOverrun is reported when a bit is shifted into a complete word.
	ErrFifoOverrun = errors.New("shift: overrun")
	// ErrFifoUnderrun is reported when a word is taken before it is complete.
	ErrFifoUnderrun = errors.New("shift: underrun")
)

const MaxWidth = 32

// Register accumulates bits into a word of a fixed width. The zero
// Register has zero width and is complete; call Reset before use.
type Register struct {
	acc   uint32
	n     int
	width int
	dir   Direction
}

// Reset empties the register and sets its width and direction.
func (r *Register) Reset(width int, dir Direction) error {
	if width <= 0 || width > MaxWidth {
		return fmt.Errorf("shift: invalid width %d", width)
	}
	if dir != MSBFirst && dir != LSBFirst {
		return fmt.Errorf("shift: invalid direction %v", dir)
	}
	*r = Register{width: width, dir: dir}
	return nil
}

// ShiftIn appends bit, which must be 0 or 1.
func (r *Register) ShiftIn(bit uint8) error {
	if r.IsComplete() {
		return fmt.Errorf("%w: %d of %d bits", ErrFifoOverrun, r.n+1, r.width)
	}
	b := uint32(bit & 0b1)
	switch r.dir {
	case MSBFirst:
		r.acc = r.acc<<1 | b
	case LSBFirst:
		r.acc |= b << r.n
	}
	r.n++
	return nil
}

// IsComplete reports whether width bits have been shifted in.
func (r *Register) IsComplete() bool {
	return r.n == r.width
}

// Len returns the number of accumulated bits.
func (r *Register) Len() int {
	return r.n
}

// Width returns the configured word width.
func (r *Register) Width() int {
	return r.width
}

// Take returns the completed word and empties the register, keeping
// its width and direction.
func (r *Register) Take() (Word, error) {
	if r.n == 0 || !r.IsComplete() {
		return 0, fmt.Errorf("%w: %d of %d bits", ErrFifoUnderrun, r.n, r.width)
	}
	w := Word(r.acc)
	r.acc, r.n = 0, 0
	return w, nil
}
