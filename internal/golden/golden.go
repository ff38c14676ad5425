// Package golden compares bus traces against stored reference traces.
package golden

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"biss.dev/bus"
	"biss.dev/trace"
	"biss.dev/vcd"
)

// CompareTrace compares t with the gzip'ed trace at path, or replaces the
// file if update is set. If dumpDir is not empty, t is written there as a
// VCD file, and so is the stored trace on mismatch.
func CompareTrace(path string, update bool, dumpDir string, pins bus.Pins, t *trace.Trace) error {
	bpath := filepath.Base(path)
	if dumpDir != "" {
		fpath := filepath.Join(dumpDir, bpath+".vcd")
		if err := dumpVCD(fpath, pins, t); err != nil {
			return err
		}
	}
	if update {
		buf := new(bytes.Buffer)
		w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, err := t.WriteTo(w); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return os.WriteFile(path, buf.Bytes(), 0o640)
	}
	golden, err := load(path)
	if err != nil {
		return err
	}
	if _, err := trace.Compare(t, golden); err != nil {
		if dumpDir != "" {
			fpath := filepath.Join(dumpDir, bpath+".orig.vcd")
			if err := dumpVCD(fpath, pins, golden); err != nil {
				return err
			}
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func load(path string) (*trace.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t := new(trace.Trace)
	if err := t.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func dumpVCD(f string, pins bus.Pins, t *trace.Trace) error {
	buf := new(bytes.Buffer)
	if err := vcd.Write(buf, t, pins, vcd.StandardSignals); err != nil {
		return err
	}
	return os.WriteFile(f, buf.Bytes(), 0o640)
}
