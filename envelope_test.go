package lerc

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// repetitiveRaster stores verbatim tiles that repeat, which a general
// purpose compressor shrinks well.
func repetitiveRaster() *Raster {
	r := New(Float, 64, 64, 1, 1)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			r.Pix[y*64+x] = float64(float32(float64(x%8*(y%8)) * 0.1))
		}
	}
	return r
}

func TestEnvelope_RoundTrip(t *testing.T) {
	r := repetitiveRaster()
	plain, err := Encode(r, nil, 0, 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, tc := range []struct {
		env   Envelope
		level int
	}{
		{EnvelopeZstd, 0},
		{EnvelopeZstd, 19},
		{EnvelopeDeflate, 0},
		{EnvelopeDeflate, 9},
	} {
		t.Run(tc.env.String(), func(t *testing.T) {
			comp, err := EncodeContext(context.Background(), r, nil, Options{TileSize: 8, Envelope: tc.env, Level: tc.level})
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(comp) >= len(plain) {
				t.Fatalf("enveloped %d bytes, plain %d", len(comp), len(plain))
			}
			info, err := GetInfo(comp)
			if err != nil {
				t.Fatalf("GetInfo: %v", err)
			}
			if info.Envelope != tc.env || info.BlobSize != len(plain) {
				t.Fatalf("info = %+v", info)
			}
			got, m, err := Decode(comp)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			checkDecoded(t, r, nil, got, m, 0)
		})
	}
}

func TestEnvelope_SkippedWhenLarger(t *testing.T) {
	blob := []byte("LeRC tiny")
	for _, env := range []Envelope{EnvelopeNone, EnvelopeZstd, EnvelopeDeflate} {
		out, err := wrapEnvelope(env, 0, blob)
		if err != nil {
			t.Fatalf("%s: %v", env, err)
		}
		if !bytes.Equal(out, blob) {
			t.Fatalf("%s: envelope kept for a %d byte blob", env, len(blob))
		}
	}
}

func TestUnwrapEnvelope_Rejects(t *testing.T) {
	r := repetitiveRaster()
	comp, err := EncodeContext(context.Background(), r, nil, Options{Envelope: EnvelopeZstd})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !isEnvelope(comp) {
		t.Fatal("expected an enveloped blob")
	}

	frame := func(method byte, inner, payloadLen uint64, payload []byte) []byte {
		b := append([]byte(envelopeMagic), method)
		b = binary.AppendUvarint(b, inner)
		b = binary.AppendUvarint(b, payloadLen)
		return append(b, payload...)
	}

	for _, tc := range []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"unknown method", func() []byte { b := bytes.Clone(comp); b[4] = 7; return b }(), ErrUnsupportedVersion},
		{"method none", func() []byte { b := bytes.Clone(comp); b[4] = 0; return b }(), ErrUnsupportedVersion},
		{"garbage payload", frame(1, 100, 4, []byte{1, 2, 3, 4}), ErrCorruptBlock},
		{"garbage deflate", frame(2, 100, 4, []byte{1, 2, 3, 4}), ErrCorruptBlock},
		{"inner too small", frame(1, 3, 0, nil), ErrCorruptBlock},
		{"payload short", frame(1, 100, 50, []byte{1}), ErrTruncatedStream},
		{"inner length mismatch", func() []byte {
			inner, _, err := unwrapEnvelope(comp)
			if err != nil {
				t.Fatalf("unwrap: %v", err)
			}
			payload, err := compressDeflate(inner, 0)
			if err != nil {
				t.Fatalf("deflate: %v", err)
			}
			return frame(2, uint64(len(inner)+1), uint64(len(payload)), payload)
		}(), ErrCorruptBlock},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Decode(tc.data); !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// zstdBomb returns a small zstd stream of n zero bytes. With stream set the
// frame is written by a streaming encoder and does not declare its size.
func zstdBomb(t *testing.T, n int, stream bool) []byte {
	t.Helper()
	zeros := make([]byte, n)
	if !stream {
		return mustNewZstdEncoder().EncodeAll(zeros, nil)
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderConcurrency(1))
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write(zeros); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func TestDecompressZstd_Bounded(t *testing.T) {
	const (
		declared = 100
		actual   = 8 << 20
	)
	for _, tc := range []struct {
		name   string
		stream bool
	}{
		{"sized_frame", false},
		{"streamed_frame", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			payload := zstdBomb(t, actual, tc.stream)
			if len(payload) > 64<<10 {
				t.Fatalf("payload of %d bytes does not compress", len(payload))
			}

			out, err := decompressZstd(payload, declared)
			if err == nil && len(out) > declared+1 {
				t.Fatalf("inflated %d bytes for a %d byte envelope", len(out), declared)
			}

			data := append([]byte(envelopeMagic), byte(EnvelopeZstd))
			data = binary.AppendUvarint(data, declared)
			data = binary.AppendUvarint(data, uint64(len(payload)))
			data = append(data, payload...)
			if _, _, err := unwrapEnvelope(data); !errors.Is(err, ErrCorruptBlock) {
				t.Fatalf("got %v, want ErrCorruptBlock", err)
			}
		})
	}

	// A frame of exactly the declared size still inflates.
	payload := zstdBomb(t, 4096, true)
	out, err := decompressZstd(payload, 4096)
	if err != nil || len(out) != 4096 {
		t.Fatalf("decompressZstd = %d bytes, %v", len(out), err)
	}
}
