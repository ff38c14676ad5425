package trace

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func testTrace(n int) *Trace {
	t := new(Trace)
	for c := range uint64(n) {
		t.Add(c*2, 0b1010, c%2 == 0, "DATA_SHIFT")
	}
	return t
}

func TestEncoding(t *testing.T) {
	tr := testTrace(50)
	buf := new(bytes.Buffer)
	if _, err := tr.WriteTo(buf); err != nil {
		t.Fatal(err)
	}
	got, err := Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if i, err := Compare(tr, got); err != nil {
		t.Errorf("decoded trace differs at %d: %v", i, err)
	}
}

func TestDigest(t *testing.T) {
	d1, err := testTrace(20).Digest()
	if err != nil {
		t.Fatal(err)
	}
	d2, err := testTrace(20).Digest()
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("identical traces have different digests")
	}
	other := testTrace(20)
	other.Entries[7].State = "CLEANUP"
	d3, err := other.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d3 {
		t.Error("different traces have identical digests")
	}
}

func TestCompare(t *testing.T) {
	a := testTrace(10)
	b := testTrace(10)
	b.Entries[4].Clock = !b.Entries[4].Clock
	if i, err := Compare(a, b); i != 4 || err == nil {
		t.Errorf("Compare = %d, %v; want mismatch at 4", i, err)
	}
	if i, err := Compare(a, testTrace(8)); i != 8 || !errors.Is(err, errLength) {
		t.Errorf("Compare = %d, %v; want length mismatch at 8", i, err)
	}
	if i, err := Compare(a, testTrace(10)); i != -1 || err != nil {
		t.Errorf("Compare = %d, %v; want equal", i, err)
	}
}

func TestAddOrder(t *testing.T) {
	tr := testTrace(3)
	defer func() {
		if recover() == nil {
			t.Error("out of order entry accepted")
		}
	}()
	tr.Add(1, 0, true, "IDLE")
}

func TestDecodeErrors(t *testing.T) {
	wrongVersion, err := cbor.Marshal(record{Version: 2})
	if err != nil {
		t.Fatal(err)
	}
	unordered, err := cbor.Marshal(record{Version: version, Entries: []Entry{{Cycle: 5}, {Cycle: 5}}})
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range [][]byte{wrongVersion, unordered, {0xff}} {
		if _, err := Read(bytes.NewReader(b)); err == nil {
			t.Errorf("decoded %x", b)
		}
	}
}

func TestReset(t *testing.T) {
	tr := testTrace(5)
	tr.Reset()
	if tr.Len() != 0 {
		t.Fatalf("%d entries after reset", tr.Len())
	}
	tr.Add(0, 0, true, "IDLE")
	if tr.Len() != 1 {
		t.Errorf("got %d entries, want 1", tr.Len())
	}
}
