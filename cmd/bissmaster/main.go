// Command bissmaster reads position words from BiSS-C encoders, simulated
// or attached through a capture device or GPIO pins.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"biss.dev/bus"
	"biss.dev/config"
	"biss.dev/driver/gpio"
	"biss.dev/driver/pio"
	"biss.dev/driver/serial"
	"biss.dev/encoder"
	"biss.dev/engine"
	"biss.dev/trace"
	"biss.dev/vcd"
)

var (
	confFile   = flag.String("config", "", "bus configuration file")
	source     = flag.String("source", "sim", "bus source: sim, serial, gpio or vcd")
	device     = flag.String("device", "", "serial device")
	baud       = flag.Int("baud", 115200, "serial baud rate")
	pinNames   = flag.String("pins", "GPIO17,GPIO27,,,", "GPIO pins of MA, SLO, MA echo, REF and IDLE")
	vcdFile    = flag.String("vcd", "", "VCD capture to replay")
	scale      = flag.Float64("scale", 1, "VCD time units per cycle")
	words      = flag.Int("n", 1, "words to acquire per bus")
	buses      = flag.Int("buses", 1, "number of simulated buses")
	traceOut   = flag.String("trace", "", "write the trace of the first bus to file")
	vcdOut     = flag.String("vcdout", "", "write the trace of the first bus as VCD to file")
	compensate = flag.Bool("compensate", false, "compensate measured line delay")
	retries    = flag.Int("retries", -1, "retries per word, overriding the configuration")
	program    = flag.Bool("program", false, "print the PIO program for the configuration and exit")
	verbose    = flag.Bool("v", false, "log retries and measurements")
)

func main() {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bissmaster: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if *program {
		prog, err := pio.MasterProgram(conf.Master)
		if err != nil {
			return err
		}
		fmt.Print(prog)
		return nil
	}
	if *buses < 1 {
		return errors.New("-buses must be positive")
	}
	if *buses > 1 && *source != "sim" {
		return errors.New("-buses requires -source sim")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var t *trace.Trace
	if *traceOut != "" || *vcdOut != "" {
		t = new(trace.Trace)
	}
	bs, closers, err := newBuses(conf, *buses, func(i int) (bus.Source, io.Closer, error) {
		return openSource(conf, i)
	})
	if err != nil {
		return err
	}
	defer closeAll(closers)
	bs[0].Trace = t
	results := make([][]engine.Result, len(bs))
	errs := make([]error, len(bs))
	var wg sync.WaitGroup
	for i, b := range bs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = b.Run(ctx, *words)
		}()
	}
	wg.Wait()
	for i, res := range results {
		for _, r := range res {
			if *buses > 1 {
				fmt.Printf("%d ", i)
			}
			fmt.Printf("%08X\n", uint32(r.Word))
		}
	}
	if t != nil {
		if err := writeTrace(t, conf.Master.Pins); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// newBuses opens n buses. No bus is returned, and every opened source is
// closed, unless all of them open.
func newBuses(conf *config.Bus, n int, open func(i int) (bus.Source, io.Closer, error)) ([]*engine.Bus, []io.Closer, error) {
	var bs []*engine.Bus
	var closers []io.Closer
	for i := range n {
		src, closer, err := open(i)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("bus %d: %w", i, err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		b, err := engine.New(conf.Master, src)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("bus %d: %w", i, err)
		}
		b.Retries = conf.Retries
		b.AutoCompensate = conf.AutoCompensate || *compensate
		if *verbose {
			b.Logger = log.New(os.Stderr, fmt.Sprintf("bus %d: ", i), 0)
		}
		bs = append(bs, b)
	}
	return bs, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

func loadConfig() (*config.Bus, error) {
	var conf *config.Bus
	if *confFile != "" {
		c, err := config.Load(*confFile)
		if err != nil {
			return nil, err
		}
		conf = c
	} else {
		conf = config.Default()
	}
	if *retries >= 0 {
		conf.Retries = *retries
	}
	return conf, nil
}

func openSource(conf *config.Bus, idx int) (bus.Source, io.Closer, error) {
	pins := conf.Master.Pins
	switch *source {
	case "sim":
		ecfg := encoder.Config{
			Pins:      pins,
			Bits:      int(conf.Master.BitsPerWord),
			AckCycles: 1,
			Timeout:   int(conf.Master.IdleTimeout) / 2,
		}
		if conf.Encoder != nil {
			ecfg = *conf.Encoder
		}
		sim, err := encoder.New(ecfg)
		if err != nil {
			return nil, nil, err
		}
		sim.Position = conf.Position + uint32(idx)
		sim.Step = conf.Step
		return sim, nil, nil
	case "serial":
		dev, err := serial.Open(*device, *baud)
		if err != nil {
			return nil, nil, err
		}
		return serial.New(dev), dev, nil
	case "gpio":
		var n gpio.Names
		fields := strings.Split(*pinNames, ",")
		if len(fields) != 5 {
			return nil, nil, fmt.Errorf("-pins: want 5 names, got %d", len(fields))
		}
		n.Clock, n.Data, n.Echo, n.Ref, n.Idle = fields[0], fields[1], fields[2], fields[3], fields[4]
		src, err := gpio.Open(n, pins)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case "vcd":
		f, err := os.Open(*vcdFile)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		rec, err := vcd.Read(f, pins, vcd.StandardSignals, *scale)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", *vcdFile, err)
		}
		return rec, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", *source)
	}
}

func writeTrace(t *trace.Trace, pins bus.Pins) error {
	if *traceOut != "" {
		b, err := t.MarshalBinary()
		if err != nil {
			return err
		}
		if err := os.WriteFile(*traceOut, b, 0o644); err != nil {
			return err
		}
	}
	if *vcdOut != "" {
		f, err := os.Create(*vcdOut)
		if err != nil {
			return err
		}
		if err := vcd.Write(f, t, pins, vcd.StandardSignals); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}
