package lerc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Envelope selects an optional general-purpose compression pass over the
// whole container. The pass is kept only when it makes the output smaller.
type Envelope uint8

const (
	EnvelopeNone Envelope = iota
	EnvelopeZstd
	EnvelopeDeflate
)

const envelopeMagic = "LeRZ"

func (e Envelope) String() string {
	switch e {
	case EnvelopeNone:
		return "none"
	case EnvelopeZstd:
		return "zstd"
	case EnvelopeDeflate:
		return "deflate"
	}
	return fmt.Sprintf("Envelope(%d)", uint8(e))
}

func (e Envelope) valid() bool { return e <= EnvelopeDeflate }

// maxLevel returns the highest compression level accepted for e.
func (e Envelope) maxLevel() int {
	switch e {
	case EnvelopeZstd:
		return 22
	case EnvelopeDeflate:
		return zlib.BestCompression
	}
	return 0
}

// --- ZSTD helpers ---

// zstdMaxWindow bounds the history a frame may ask the decoder to keep. The
// encoders here never use more than 8 MiB.
const zstdMaxWindow = 32 << 20

func mustNewZstdEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(
		nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithLowerEncoderMem(true),
	)
	if err != nil {
		panic(err)
	}
	return enc
}

func mustNewZstdDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(
		nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxWindow(zstdMaxWindow),
	)
	if err != nil {
		panic(err)
	}
	return dec
}

var zstdEncPool = sync.Pool{
	New: func() any {
		return mustNewZstdEncoder()
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		return mustNewZstdDecoder()
	},
}

// compressZstd compresses data with a pooled encoder, or with a one-off
// encoder when a non-default level is requested.
func compressZstd(data []byte, level int) ([]byte, error) {
	if level == 0 {
		enc := zstdEncPool.Get().(*zstd.Encoder)
		out := enc.EncodeAll(data, nil)
		zstdEncPool.Put(enc)
		return out, nil
	}
	enc, err := zstd.NewWriter(
		nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
	)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// decompressZstd inflates a frame expected to hold size bytes. A frame that
// declares another size is rejected unread, and at most size+1 bytes are
// ever produced.
func decompressZstd(data []byte, size int) ([]byte, error) {
	var fh zstd.Header
	if err := fh.Decode(data); err != nil {
		return nil, err
	}
	if fh.HasFCS && fh.FrameContentSize != uint64(size) {
		return nil, errors.Errorf("frame declares %d bytes", fh.FrameContentSize)
	}

	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer func() {
		dec.Reset(nil)
		zstdDecPool.Put(dec)
	}()
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(dec, int64(size)+1))
}

// --- Deflate helpers ---

func compressDeflate(data []byte, level int) ([]byte, error) {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressDeflate(data []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	// One byte past size is enough to detect a length mismatch.
	return io.ReadAll(io.LimitReader(zr, int64(size)+1))
}

// wrapEnvelope compresses blob with method and frames the result. It returns
// blob itself when the envelope would not make it smaller.
func wrapEnvelope(method Envelope, level int, blob []byte) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch method {
	case EnvelopeNone:
		return blob, nil
	case EnvelopeZstd:
		payload, err = compressZstd(blob, level)
	case EnvelopeDeflate:
		payload, err = compressDeflate(blob, level)
	default:
		return nil, invalidf("unknown envelope %s", method)
	}
	if err != nil {
		return nil, invalidf("%s envelope: %v", method, err)
	}

	out := make([]byte, 0, len(envelopeMagic)+1+2*binary.MaxVarintLen64+len(payload))
	out = append(out, envelopeMagic...)
	out = append(out, byte(method))
	out = binary.AppendUvarint(out, uint64(len(blob)))
	out = binary.AppendUvarint(out, uint64(len(payload)))
	out = append(out, payload...)
	if len(out) >= len(blob) {
		return blob, nil
	}
	return out, nil
}

func isEnvelope(data []byte) bool {
	return len(data) >= len(envelopeMagic) && string(data[:len(envelopeMagic)]) == envelopeMagic
}

// unwrapEnvelope returns the container inside data. Data without an envelope
// is returned unchanged with EnvelopeNone.
func unwrapEnvelope(data []byte) ([]byte, Envelope, error) {
	if !isEnvelope(data) {
		return data, EnvelopeNone, nil
	}
	pos := len(envelopeMagic)
	if len(data) <= pos {
		return nil, EnvelopeNone, truncatedf("read envelope: missing method")
	}
	method := Envelope(data[pos])
	pos++
	if method == EnvelopeNone || !method.valid() {
		return nil, method, unsupportedf("envelope method %d", uint8(method))
	}

	readUvarint := func(label string) (uint64, error) {
		v, n := binary.Uvarint(data[pos:])
		if n == 0 {
			return 0, truncatedf("read envelope: short %s", label)
		}
		if n < 0 {
			return 0, corruptf("read envelope: %s overflows", label)
		}
		pos += n
		return v, nil
	}
	innerLen, err := readUvarint("inner length")
	if err != nil {
		return nil, method, err
	}
	payloadLen, err := readUvarint("payload length")
	if err != nil {
		return nil, method, err
	}
	if uint64(len(data)-pos) < payloadLen {
		return nil, method, truncatedf("envelope payload has %d bytes, declares %d", len(data)-pos, payloadLen)
	}
	if innerLen < headerSize+trailerSize || innerLen > maxBlobSize {
		return nil, method, corruptf("envelope inner length %d", innerLen)
	}
	payload := data[pos : pos+int(payloadLen)]

	var inner []byte
	if method == EnvelopeZstd {
		inner, err = decompressZstd(payload, int(innerLen))
	} else {
		inner, err = decompressDeflate(payload, int(innerLen))
	}
	if err != nil {
		return nil, method, corruptf("%s envelope: %v", method, err)
	}
	if uint64(len(inner)) != innerLen {
		return nil, method, corruptf("%s envelope: inflated to %d bytes, want %d", method, len(inner), innerLen)
	}
	return inner, method, nil
}
