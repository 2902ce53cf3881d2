package lerc

import (
	"testing"

	"github.com/pkg/errors"
)

func TestBitWriterReader_RoundTrip(t *testing.T) {
	fields := []struct {
		v     uint64
		width uint
	}{
		{0, 0},
		{1, 1},
		{0x5, 3},
		{0x7F, 7},
		{0xABCD, 16},
		{0x1_2345_6789, 33},
		{0x1FF_FFFF_FFFF_FFFF, 57},
		{0xFFFF_FFFF_FFFF_FFFF, 64},
		{0, 5},
	}

	bw := newBitWriter(nil, 0)
	for _, f := range fields {
		if err := bw.writeBits(f.v, f.width); err != nil {
			t.Fatalf("writeBits(%#x, %d): %v", f.v, f.width, err)
		}
	}
	data := bw.bytes()

	br := newBitReader(data)
	for _, f := range fields {
		got, err := br.readBits(f.width)
		if err != nil {
			t.Fatalf("readBits(%d): %v", f.width, err)
		}
		if got != f.v {
			t.Fatalf("readBits(%d) = %#x, want %#x", f.width, got, f.v)
		}
	}
	if br.remaining() >= 8 {
		t.Fatalf("%d bits left over", br.remaining())
	}
}

func TestBitWriter_LSBFirst(t *testing.T) {
	bw := newBitWriter(nil, 0)
	if err := bw.writeBits(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := bw.writeBits(0b10, 2); err != nil {
		t.Fatal(err)
	}
	if err := bw.writeBits(0x1F, 5); err != nil {
		t.Fatal(err)
	}
	if err := bw.writeBits(0x3, 2); err != nil {
		t.Fatal(err)
	}
	got := bw.bytes()
	want := []byte{0b1111_1101, 0b11}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("bytes = %08b, want %08b", got, want)
	}
}

func TestBitWriter_Limit(t *testing.T) {
	bw := newBitWriter(nil, 2)
	if err := bw.writeBits(0xFFFF, 16); err != nil {
		t.Fatalf("writeBits within limit: %v", err)
	}
	if err := bw.writeBits(1, 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("writeBits past limit: got %v, want ErrCapacityExceeded", err)
	}
	if err := bw.writeBytesAligned(1); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("writeBytesAligned past limit: got %v, want ErrCapacityExceeded", err)
	}
	if n := len(bw.bytes()); n != 2 {
		t.Fatalf("writer holds %d bytes after failed writes, want 2", n)
	}
}

func TestBitReader_Truncated(t *testing.T) {
	br := newBitReader([]byte{0xFF})
	if _, err := br.readBits(9); !errors.Is(err, ErrTruncatedStream) {
		t.Fatalf("readBits(9) on one byte: got %v, want ErrTruncatedStream", err)
	}
	if _, err := br.readBits(65); !errors.Is(err, ErrCorruptBlock) {
		t.Fatalf("readBits(65): got %v, want ErrCorruptBlock", err)
	}
	if _, err := br.readBytesAligned(2); !errors.Is(err, ErrTruncatedStream) {
		t.Fatalf("readBytesAligned(2): got %v, want ErrTruncatedStream", err)
	}
	br = newBitReader([]byte{0x80})
	if _, err := br.readUvarint(); !errors.Is(err, ErrTruncatedStream) {
		t.Fatalf("readUvarint on continuation byte: got %v, want ErrTruncatedStream", err)
	}
}

func TestBitstream_AlignedMix(t *testing.T) {
	bw := newBitWriter(nil, 0)
	if err := bw.writeBits(0b101, 3); err != nil {
		t.Fatal(err)
	}
	if err := bw.writeUvarint(300); err != nil {
		t.Fatal(err)
	}
	if err := bw.writeBits(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := bw.writeBytesAligned(0xAB, 0xCD); err != nil {
		t.Fatal(err)
	}
	if got := bw.bitLen(); got != 8+16+8+16 {
		t.Fatalf("bitLen = %d, want %d", got, 8+16+8+16)
	}

	br := newBitReader(bw.bytes())
	if v, _ := br.readBits(3); v != 0b101 {
		t.Fatalf("first field = %b", v)
	}
	if v, err := br.readUvarint(); err != nil || v != 300 {
		t.Fatalf("readUvarint = %d, %v", v, err)
	}
	if v, _ := br.readBit(); v != 1 {
		t.Fatalf("bit = %d", v)
	}
	b, err := br.readBytesAligned(2)
	if err != nil || b[0] != 0xAB || b[1] != 0xCD {
		t.Fatalf("readBytesAligned = %x, %v", b, err)
	}
	if br.remaining() != 0 {
		t.Fatalf("%d bits left", br.remaining())
	}
}
