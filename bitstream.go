package lerc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// bitWriter appends bits to a byte slice, lsb-first in each byte.
// A positive limit bounds the number of bytes it may produce.
type bitWriter struct {
	buf   []byte
	acc   uint64
	n     uint // bits pending in acc (0..7 between calls)
	limit int
}

func newBitWriter(buf []byte, limit int) *bitWriter {
	return &bitWriter{buf: buf[:0], limit: limit}
}

func (bw *bitWriter) reset(buf []byte, limit int) {
	bw.buf = buf[:0]
	bw.acc = 0
	bw.n = 0
	bw.limit = limit
}

func (bw *bitWriter) reserve(bits int) error {
	if bw.limit <= 0 {
		return nil
	}
	need := (len(bw.buf)*8 + int(bw.n) + bits + 7) / 8
	if need > bw.limit {
		return errors.Wrapf(ErrCapacityExceeded, "need %d bytes, limit %d", need, bw.limit)
	}
	return nil
}

// writeBits appends the low width bits of v (width 0..64).
func (bw *bitWriter) writeBits(v uint64, width uint) error {
	if width > 56 {
		if err := bw.writeBits(v&0xFFFFFFFF, 32); err != nil {
			return err
		}
		return bw.writeBits(v>>32, width-32)
	}
	if width == 0 {
		return nil
	}
	if err := bw.reserve(int(width)); err != nil {
		return err
	}
	bw.acc |= (v & (1<<width - 1)) << bw.n
	bw.n += width
	for bw.n >= 8 {
		bw.buf = append(bw.buf, byte(bw.acc))
		bw.acc >>= 8
		bw.n -= 8
	}
	return nil
}

// flush writes the pending partial byte, zero padded.
func (bw *bitWriter) flush() {
	if bw.n > 0 {
		bw.buf = append(bw.buf, byte(bw.acc))
		bw.acc = 0
		bw.n = 0
	}
}

// writeBytesAligned flushes any partial byte, then appends b.
func (bw *bitWriter) writeBytesAligned(b ...byte) error {
	if err := bw.reserve(len(b)*8 + int((8-bw.n)%8)); err != nil {
		return err
	}
	bw.flush()
	bw.buf = append(bw.buf, b...)
	return nil
}

func (bw *bitWriter) writeUvarint(v uint64) error {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return bw.writeBytesAligned(tmp[:n]...)
}

// bytes flushes and returns the written data. The slice aliases the writer.
func (bw *bitWriter) bytes() []byte {
	bw.flush()
	return bw.buf
}

// bitLen returns the number of bits written so far.
func (bw *bitWriter) bitLen() int {
	return len(bw.buf)*8 + int(bw.n)
}

// bitReader reads bits from a byte slice, lsb-first in each byte.
type bitReader struct {
	data []byte
	pos  int  // byte cursor
	bit  uint // bit cursor within data[pos] (0..7)
}

func newBitReader(data []byte) bitReader {
	return bitReader{data: data}
}

// remaining returns the number of unread bits.
func (br *bitReader) remaining() int {
	return (len(br.data)-br.pos)*8 - int(br.bit)
}

// readBits returns the next width bits (0..64).
func (br *bitReader) readBits(width uint) (uint64, error) {
	if width > 64 {
		return 0, corruptf("readBits: invalid bit count %d", width)
	}
	if br.remaining() < int(width) {
		return 0, truncatedf("need %d bits, have %d", width, br.remaining())
	}
	return br.readBitsFast(width), nil
}

// readBitsFast is a no-error variant of readBits. The caller must ensure
// there are at least width bits remaining.
func (br *bitReader) readBitsFast(width uint) uint64 {
	var v uint64
	var got uint
	for got < width {
		take := min(8-br.bit, width-got)
		chunk := uint64(br.data[br.pos]>>br.bit) & (1<<take - 1)
		v |= chunk << got
		got += take
		br.bit += take
		if br.bit == 8 {
			br.bit = 0
			br.pos++
		}
	}
	return v
}

func (br *bitReader) readBit() (uint32, error) {
	if br.pos >= len(br.data) {
		return 0, truncatedf("need 1 bit, have 0")
	}
	b := uint32(br.data[br.pos]>>br.bit) & 1
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return b, nil
}

// alignByte skips to the next byte boundary.
func (br *bitReader) alignByte() {
	if br.bit != 0 {
		br.bit = 0
		br.pos++
	}
}

// readBytesAligned aligns to a byte boundary and returns the next n bytes.
// The slice aliases the reader's data.
func (br *bitReader) readBytesAligned(n int) ([]byte, error) {
	br.alignByte()
	if n < 0 || len(br.data)-br.pos < n {
		return nil, truncatedf("need %d bytes, have %d", n, max(len(br.data)-br.pos, 0))
	}
	b := br.data[br.pos : br.pos+n]
	br.pos += n
	return b, nil
}

func (br *bitReader) readByte() (byte, error) {
	b, err := br.readBytesAligned(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (br *bitReader) readUvarint() (uint64, error) {
	br.alignByte()
	if br.pos >= len(br.data) {
		return 0, truncatedf("need varint, have 0 bytes")
	}
	v, n := binary.Uvarint(br.data[br.pos:])
	if n == 0 {
		return 0, truncatedf("short varint")
	}
	if n < 0 {
		return 0, corruptf("varint overflows 64 bits")
	}
	br.pos += n
	return v, nil
}
