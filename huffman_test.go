package lerc

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/pkg/errors"
)

func TestHistogram(t *testing.T) {
	hist, _ := histogram([]uint32{5, 1, 5, 3, 1, 5}, nil)
	want := []symbolCount{{1, 2}, {3, 1}, {5, 3}}
	if !slices.Equal(hist, want) {
		t.Fatalf("histogram = %v, want %v", hist, want)
	}
}

func TestCodeLengths_TieBreak(t *testing.T) {
	// 7 and 9 tie at the lowest count and merge first; the merged node
	// then ties with 5, which pops first as the smaller symbol.
	hist := []symbolCount{{5, 2}, {7, 1}, {9, 1}}
	pc, ok := buildPrefixCode(hist)
	if !ok {
		t.Fatal("buildPrefixCode failed")
	}
	if want := []uint8{1, 2, 2}; !slices.Equal(pc.lens, want) {
		t.Fatalf("lens = %v, want %v", pc.lens, want)
	}
	if want := []uint32{0b0, 0b10, 0b11}; !slices.Equal(pc.codes, want) {
		t.Fatalf("codes = %b, want %b", pc.codes, want)
	}
}

func TestPrefixCode_Deterministic(t *testing.T) {
	hist := []symbolCount{{0, 1}, {1, 1}, {2, 1}, {3, 1}}
	a, _ := buildPrefixCode(hist)
	b, _ := buildPrefixCode(slices.Clone(hist))
	if !slices.Equal(a.lens, b.lens) || !slices.Equal(a.codes, b.codes) {
		t.Fatalf("identical histograms gave different codes: %v/%v vs %v/%v", a.lens, a.codes, b.lens, b.codes)
	}
	if want := []uint32{0, 1, 2, 3}; !slices.Equal(a.codes, want) {
		t.Fatalf("codes = %v, want %v", a.codes, want)
	}
}

func TestPrefixCode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, tc := range []struct {
		name  string
		width int
		gen   func() uint32
	}{
		{"skewed", 8, func() uint32 {
			if rng.IntN(10) == 0 {
				return uint32(rng.IntN(256))
			}
			return uint32(rng.IntN(3))
		}},
		{"geometric", 12, func() uint32 {
			v := uint32(0)
			for v < 4000 && rng.IntN(2) == 0 {
				v++
			}
			return v
		}},
		{"two symbols", 1, func() uint32 { return uint32(rng.IntN(2)) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			syms := make([]uint32, 1000)
			for i := range syms {
				syms[i] = tc.gen()
			}
			hist, _ := histogram(syms, nil)
			pc, ok := buildPrefixCode(hist)
			if !ok {
				t.Fatal("buildPrefixCode failed")
			}

			bw := newBitWriter(nil, 0)
			if err := pc.writeTable(bw, tc.width); err != nil {
				t.Fatalf("writeTable: %v", err)
			}
			if err := pc.writeSymbols(bw, syms); err != nil {
				t.Fatalf("writeSymbols: %v", err)
			}
			if got, want := bw.bitLen(), tableBits(len(hist), tc.width)+pc.cost(hist); got != want {
				t.Fatalf("wrote %d bits, cost says %d", got, want)
			}
			if pc.cost(hist) < entropyBits(hist, len(syms))-1 {
				t.Fatalf("code cost %d below entropy %d", pc.cost(hist), entropyBits(hist, len(syms)))
			}

			br := newBitReader(bw.bytes())
			dec, err := readPrefixTable(&br, tc.width, len(syms))
			if err != nil {
				t.Fatalf("readPrefixTable: %v", err)
			}
			for i, want := range syms {
				got, err := dec.decode(&br)
				if err != nil {
					t.Fatalf("decode %d: %v", i, err)
				}
				if got != want {
					t.Fatalf("symbol %d = %d, want %d", i, got, want)
				}
			}
		})
	}
}

func TestReadPrefixTable_Rejects(t *testing.T) {
	write := func(width int, entries [][2]uint64) []byte {
		bw := newBitWriter(nil, 0)
		bw.writeBits(uint64(len(entries)-1), uint(width))
		for _, e := range entries {
			bw.writeBits(e[0], uint(width))
			bw.writeBits(e[1], codeLenBits)
		}
		return bw.bytes()
	}
	for _, tc := range []struct {
		name    string
		data    []byte
		n       int
		wantErr error
	}{
		{"over-subscribed", write(4, [][2]uint64{{0, 1}, {1, 1}, {2, 1}}), 10, ErrCorruptBlock},
		{"zero length", write(4, [][2]uint64{{0, 0}, {1, 1}}), 10, ErrCorruptBlock},
		{"too long", write(4, [][2]uint64{{0, 25}, {1, 1}}), 10, ErrCorruptBlock},
		{"unsorted", write(4, [][2]uint64{{3, 1}, {1, 1}}), 10, ErrCorruptBlock},
		{"more symbols than values", write(4, [][2]uint64{{0, 1}, {1, 1}}), 1, ErrCorruptBlock},
		{"short table", write(4, [][2]uint64{{0, 1}, {1, 1}})[:1], 10, ErrCorruptBlock},
		{"empty", nil, 10, ErrTruncatedStream},
	} {
		t.Run(tc.name, func(t *testing.T) {
			br := newBitReader(tc.data)
			if _, err := readPrefixTable(&br, 4, tc.n); !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPrefixDecoder_IncompleteCode(t *testing.T) {
	// A single symbol gets the one-bit code 0; the code 1 is unused.
	dec, err := newPrefixDecoder([]uint32{42}, []uint8{1})
	if err != nil {
		t.Fatalf("newPrefixDecoder: %v", err)
	}
	br := newBitReader([]byte{0b10})
	if got, err := dec.decode(&br); err != nil || got != 42 {
		t.Fatalf("decode = %d, %v", got, err)
	}
	if _, err := dec.decode(&br); err == nil {
		t.Fatal("unused code decoded")
	}
}

func TestEntropyBits(t *testing.T) {
	hist := []symbolCount{{0, 2}, {1, 2}, {2, 2}, {3, 2}}
	if got := entropyBits(hist, 8); got != 16 {
		t.Fatalf("entropyBits = %d, want 16", got)
	}
}
