package main

import (
	"errors"
	"io"
	"testing"

	"biss.dev/bus"
	"biss.dev/config"
)

type closer struct {
	closed bool
}

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestNewBusesFailure(t *testing.T) {
	conf := config.Default()
	var opened []*closer
	errOpen := errors.New("open failed")
	open := func(i int) (bus.Source, io.Closer, error) {
		if i == 2 {
			return nil, nil, errOpen
		}
		c := new(closer)
		opened = append(opened, c)
		return bus.NewRecording(), c, nil
	}
	bs, closers, err := newBuses(conf, 4, open)
	if !errors.Is(err, errOpen) {
		t.Fatalf("got %v, want %v", err, errOpen)
	}
	if bs != nil || closers != nil {
		t.Errorf("got %d buses and %d closers after failure", len(bs), len(closers))
	}
	if len(opened) != 2 {
		t.Fatalf("opened %d sources, want 2", len(opened))
	}
	for i, c := range opened {
		if !c.closed {
			t.Errorf("source %d left open", i)
		}
	}
}

func TestNewBuses(t *testing.T) {
	conf := config.Default()
	conf.Retries = 5
	bs, closers, err := newBuses(conf, 3, func(i int) (bus.Source, io.Closer, error) {
		return bus.NewRecording(), nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) != 3 || len(closers) != 0 {
		t.Fatalf("got %d buses and %d closers", len(bs), len(closers))
	}
	for i, b := range bs {
		if b.Retries != 5 {
			t.Errorf("bus %d: got %d retries", i, b.Retries)
		}
	}
}
