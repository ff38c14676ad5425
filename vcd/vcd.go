// Package vcd converts between bus traces and Value Change Dump files, the
// format written by logic analyzers and read by waveform viewers.
package vcd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"biss.dev/bus"
	"biss.dev/trace"
)

// Signals names the VCD variable carrying each line.
type Signals map[bus.Line]string

// StandardSignals uses the line names.
var StandardSignals = Signals{
	bus.Clock: "MA",
	bus.Data:  "SLO",
	bus.Ref:   "REF",
	bus.Idle:  "IDLE",
}

// clockOut names the variable of the driven master clock.
const clockOut = "MA_OUT"

// Write dumps a trace, one time unit per cycle. The driven clock is
// written as MA_OUT next to the sampled lines.
func Write(w io.Writer, t *trace.Trace, pins bus.Pins, sig Signals) error {
	lines := []bus.Line{bus.Clock, bus.Data, bus.Ref, bus.Idle}
	type variable struct {
		id    string
		line  bus.Line
		out   bool
		level bool
	}
	var vars []*variable
	for _, l := range lines {
		if _, ok := sig[l]; ok {
			vars = append(vars, &variable{line: l})
		}
	}
	vars = append(vars, &variable{out: true})
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "$timescale 1ns $end")
	fmt.Fprintln(bw, "$scope module bus $end")
	for i, v := range vars {
		v.id = string(rune('!' + i))
		name := clockOut
		if !v.out {
			name = sig[v.line]
		}
		fmt.Fprintf(bw, "$var wire 1 %s %s $end\n", v.id, name)
	}
	fmt.Fprintln(bw, "$upscope $end")
	fmt.Fprintln(bw, "$enddefinitions $end")
	for i, e := range t.Entries {
		stamped := false
		for _, v := range vars {
			level := e.Clock
			if !v.out {
				level = pins.Level(e.Levels, v.line)
			}
			if i > 0 && level == v.level {
				continue
			}
			v.level = level
			if !stamped {
				fmt.Fprintf(bw, "#%d\n", e.Cycle)
				stamped = true
			}
			bit := '0'
			if level {
				bit = '1'
			}
			fmt.Fprintf(bw, "%c%s\n", bit, v.id)
		}
	}
	if n := len(t.Entries); n > 0 {
		fmt.Fprintf(bw, "#%d\n", t.Entries[n-1].Cycle+1)
	}
	return bw.Flush()
}

var errSyntax = errors.New("vcd: syntax error")

type change struct {
	time  uint64
	level bool
}

// Read loads a dump as a replayable recording. Cycle c samples the dump
// at time c*scale. Variables not named in sig are ignored; lines without
// a variable read low.
func Read(r io.Reader, pins bus.Pins, sig Signals, scale float64) (*bus.Recording, error) {
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return nil, fmt.Errorf("vcd: invalid scale %v", scale)
	}
	byName := make(map[string]bus.Line)
	for l, name := range sig {
		byName[name] = l
	}
	ids := make(map[string][]bus.Line)
	changes := make(map[bus.Line][]change)
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, 1<<20)
	sc.Split(bufio.ScanWords)
	next := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("%w: unexpected end of file", errSyntax)
		}
		return sc.Text(), nil
	}
	skip := func() error {
		for {
			tok, err := next()
			if err != nil {
				return err
			}
			if tok == "$end" {
				return nil
			}
		}
	}
	var now uint64
	var last uint64
	for sc.Scan() {
		tok := sc.Text()
		switch {
		case tok == "$var":
			var fields []string
			for {
				f, err := next()
				if err != nil {
					return nil, err
				}
				if f == "$end" {
					break
				}
				fields = append(fields, f)
			}
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: short $var", errSyntax)
			}
			id, name := fields[2], fields[3]
			if l, ok := byName[name]; ok {
				ids[id] = append(ids[id], l)
			}
		case tok == "$dumpvars", tok == "$dumpall", tok == "$dumpon", tok == "$dumpoff", tok == "$end":
		case strings.HasPrefix(tok, "$"):
			if err := skip(); err != nil {
				return nil, err
			}
		case tok[0] == '#':
			t, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: time %q", errSyntax, tok)
			}
			if t < now {
				return nil, fmt.Errorf("%w: time %d before %d", errSyntax, t, now)
			}
			now = t
			last = max(last, t)
		case tok[0] == 'b' || tok[0] == 'B' || tok[0] == 'r' || tok[0] == 'R':
			// Vector and real values carry their identifier separately.
			if _, err := next(); err != nil {
				return nil, err
			}
		default:
			var level bool
			switch tok[0] {
			case '1':
				level = true
			case '0', 'x', 'X', 'z', 'Z':
			default:
				return nil, fmt.Errorf("%w: value %q", errSyntax, tok)
			}
			for _, l := range ids[tok[1:]] {
				changes[l] = append(changes[l], change{now, level})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vcd: %w", err)
	}
	n := uint64(float64(last)/scale) + 1
	rec := bus.NewRecording()
	pos := make(map[bus.Line]int)
	levels := make(map[bus.Line]bool)
	for c := range n {
		t := uint64(float64(c) * scale)
		var s bus.Sample
		for l, cs := range changes {
			i := pos[l]
			for i < len(cs) && cs[i].time <= t {
				levels[l] = cs[i].level
				i++
			}
			pos[l] = i
			s = pins.Set(s, l, levels[l])
		}
		rec.Hold(s, 1)
	}
	return rec, nil
}
