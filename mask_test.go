package lerc

import (
	"slices"
	"testing"

	"github.com/pkg/errors"
)

func TestMask_Basics(t *testing.T) {
	m := NewMask(3, 3)
	if got := m.Count(); got != 9 {
		t.Fatalf("Count = %d, want 9", got)
	}
	if !m.AllValid() {
		t.Fatal("new mask not all valid")
	}
	if m.bits[1] != 0x01 {
		t.Fatalf("tail byte = %#x, want 0x01", m.bits[1])
	}

	m.SetValid(1, 2, false)
	if m.Valid(1, 2) || !m.Valid(0, 2) {
		t.Fatal("SetValid did not clear exactly one pixel")
	}
	if m.Count() != 8 || m.AllValid() {
		t.Fatalf("Count = %d after clearing one pixel", m.Count())
	}
	m.SetValid(1, 2, true)
	if !m.AllValid() {
		t.Fatal("SetValid(true) did not restore pixel")
	}

	var none *Mask
	if !none.Valid(5, 5) || !none.AllValid() {
		t.Fatal("nil mask must report every pixel valid")
	}
}

func TestMask_Bytes(t *testing.T) {
	in := []byte{1, 0, 0, 7, 1, 0, 1, 1, 0, 1}
	m, err := MaskFromBytes(5, 2, in)
	if err != nil {
		t.Fatalf("MaskFromBytes: %v", err)
	}
	want := []byte{1, 0, 0, 1, 1, 0, 1, 1, 0, 1}
	if got := m.Bytes(); !slices.Equal(got, want) {
		t.Fatalf("Bytes = %v, want %v", got, want)
	}
	if m.Count() != 6 {
		t.Fatalf("Count = %d, want 6", m.Count())
	}
	if _, err := MaskFromBytes(5, 2, in[:9]); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short input: got %v, want ErrInvalidInput", err)
	}
}

func TestMask_Equal(t *testing.T) {
	a := NewMask(4, 4)
	b := NewMask(4, 4)
	var none *Mask
	if !a.Equal(b) || !a.Equal(none) || !none.Equal(a) || !none.Equal(nil) {
		t.Fatal("all-valid masks must equal each other and nil")
	}
	b.SetValid(3, 3, false)
	if a.Equal(b) || none.Equal(b) || b.Equal(nil) {
		t.Fatal("differing masks reported equal")
	}
	if a.Equal(NewMask(4, 5)) {
		t.Fatal("masks of different extent reported equal")
	}
}

func TestTileRuns(t *testing.T) {
	for _, tc := range []struct {
		valid []bool
		want  []uint64
	}{
		{[]bool{true, true, false, true}, []uint64{2, 1, 1}},
		{[]bool{false, false, true}, []uint64{0, 2, 1}},
		{[]bool{false}, []uint64{0, 1}},
		{[]bool{true, true}, []uint64{2}},
	} {
		if got := tileRuns(tc.valid, nil); !slices.Equal(got, tc.want) {
			t.Errorf("tileRuns(%v) = %v, want %v", tc.valid, got, tc.want)
		}
	}
}

func TestTileMask_RoundTrip(t *testing.T) {
	checker := make([]bool, 64)
	for i := range checker {
		checker[i] = (i/8+i%8)%2 == 0
	}
	corner := make([]bool, 64)
	for i := range corner {
		corner[i] = i != 63
	}
	allValid := make([]bool, 10)
	for i := range allValid {
		allValid[i] = true
	}

	for _, tc := range []struct {
		name  string
		valid []bool
		mode  byte
	}{
		{"all valid", allValid, maskAllValid},
		{"checkerboard", checker, maskBitmap},
		{"one hole", corner, maskRuns},
	} {
		t.Run(tc.name, func(t *testing.T) {
			count := 0
			for _, ok := range tc.valid {
				if ok {
					count++
				}
			}
			var s tileScratch
			bw := newBitWriter(nil, 0)
			if err := writeTileMask(bw, tc.valid, count, &s); err != nil {
				t.Fatalf("writeTileMask: %v", err)
			}
			data := bw.bytes()
			if data[0] != tc.mode {
				t.Fatalf("mode = %d, want %d", data[0], tc.mode)
			}

			br := newBitReader(data)
			got, err := readTileMask(&br, len(tc.valid), &s)
			if err != nil {
				t.Fatalf("readTileMask: %v", err)
			}
			if got != count {
				t.Fatalf("count = %d, want %d", got, count)
			}
			if !slices.Equal(s.valid, tc.valid) {
				t.Fatalf("valid = %v, want %v", s.valid, tc.valid)
			}
			if br.remaining() != 0 {
				t.Fatalf("%d bits left", br.remaining())
			}
		})
	}
}

func TestReadTileMask_Rejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"unknown mode", []byte{9}},
		{"run past tile", []byte{maskRuns, 3, 9}},
		{"empty inner run", []byte{maskRuns, 2, 0, 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var s tileScratch
			br := newBitReader(tc.data)
			if _, err := readTileMask(&br, 4, &s); !errors.Is(err, ErrCorruptBlock) {
				t.Fatalf("got %v, want ErrCorruptBlock", err)
			}
		})
	}
}
