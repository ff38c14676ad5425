// Package serial replays bus samples streamed by a logic capture device
// over a serial link. Each byte carries the eight channels of one cycle.
package serial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/tarm/serial"

	"biss.dev/bus"
)

// Source is a [bus.Source] reading one byte per cycle from a stream. When
// the stream ends, or fails, the last sample is held and Err reports why.
type Source struct {
	r    *bufio.Reader
	hist bus.History
	last bus.Sample
	err  error
}

func New(r io.Reader) *Source {
	return &Source{r: bufio.NewReader(r)}
}

// Sample returns the sample of cycle, reading the stream up to it.
func (s *Source) Sample(cycle uint64) bus.Sample {
	for s.hist.Next() <= cycle {
		if s.err == nil {
			b, err := s.r.ReadByte()
			if err != nil {
				s.err = err
			} else {
				s.last = bus.Sample(b)
			}
		}
		s.hist.Push(s.last)
	}
	v, _ := s.hist.Lookup(cycle)
	return v
}

// Err returns the error that ended the stream, or nil. The end of the
// stream is reported as io.EOF.
func (s *Source) Err() error {
	return s.err
}

// Open opens the capture device, or the platform default device if dev
// is empty.
func Open(dev string, baud int) (io.ReadCloser, error) {
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyACM0", "/dev/ttyUSB0")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("serial: no device specified")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: baud}
		s, err := serial.OpenPort(c)
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("serial: %s: %w", dev, err)
		}
	}
	return nil, firstErr
}
