package lerc

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Plane kinds, the first byte of every plane sub-block.
const (
	kindConstant byte = iota
	kindPacked
	kindPrefix
	kindVerbatim
)

// Tile mask modes, the first byte of a tile block when the container has a
// mask.
const (
	maskAllValid byte = iota
	maskBitmap
	maskRuns
)

// tileGrid splits a width x height extent into size x size tiles, row-major.
// Edge tiles are clipped, never padded.
type tileGrid struct {
	width, height int
	size          int
	cols, rows    int
}

type tileRect struct {
	x0, y0 int
	w, h   int
}

func newTileGrid(width, height, size int) tileGrid {
	return tileGrid{
		width:  width,
		height: height,
		size:   size,
		cols:   (width + size - 1) / size,
		rows:   (height + size - 1) / size,
	}
}

func (g tileGrid) count() int { return g.cols * g.rows }

func (g tileGrid) rect(i int) tileRect {
	x0 := (i % g.cols) * g.size
	y0 := (i / g.cols) * g.size
	return tileRect{
		x0: x0,
		y0: y0,
		w:  min(g.size, g.width-x0),
		h:  min(g.size, g.height-y0),
	}
}

// tileScratch holds per-worker buffers reused across tiles.
type tileScratch struct {
	valid  []bool
	vals   []float64
	syms   []uint32
	sorted []uint32
	runs   []uint64
	buf    []byte
	bw     bitWriter
}

// tileCoder encodes or decodes the tiles of one raster. For encoding r is the
// source; for decoding it is the destination. valid holds one flag per pixel
// and is nil when every pixel is valid.
type tileCoder struct {
	r       *Raster
	valid   []bool
	hasMask bool
	grid    tileGrid
	q       quantizer
}

// loadMask fills s.valid with the validity of the tile's pixels and returns
// how many are valid.
func (c *tileCoder) loadMask(rc tileRect, s *tileScratch) int {
	s.valid = s.valid[:0]
	count := 0
	for y := rc.y0; y < rc.y0+rc.h; y++ {
		for x := rc.x0; x < rc.x0+rc.w; x++ {
			ok := c.valid == nil || c.valid[y*c.r.Width+x]
			if ok {
				count++
			}
			s.valid = append(s.valid, ok)
		}
	}
	return count
}

// encodeTile returns the block of tile i, or nil for a tile without valid
// pixels. The block does not alias s.
func (c *tileCoder) encodeTile(i int, s *tileScratch) ([]byte, error) {
	rc := c.grid.rect(i)
	count := c.loadMask(rc, s)
	if count == 0 {
		return nil, nil
	}
	s.bw.reset(s.buf, 0)
	if c.hasMask {
		if err := writeTileMask(&s.bw, s.valid, count, s); err != nil {
			return nil, err
		}
	}
	plane := c.r.Width * c.r.Height
	for b := 0; b < c.r.Bands; b++ {
		for d := 0; d < c.r.Depth; d++ {
			s.vals = s.vals[:0]
			k := 0
			for y := rc.y0; y < rc.y0+rc.h; y++ {
				for x := rc.x0; x < rc.x0+rc.w; x++ {
					if s.valid[k] {
						s.vals = append(s.vals, c.r.Pix[(b*plane+y*c.r.Width+x)*c.r.Depth+d])
					}
					k++
				}
			}
			if err := c.writePlane(&s.bw, s.vals, s); err != nil {
				return nil, err
			}
		}
	}
	out := s.bw.bytes()
	s.buf = out
	return bytes.Clone(out), nil
}

// writePlane picks the cheapest representation of vals and writes it.
func (c *tileCoder) writePlane(bw *bitWriter, vals []float64, s *tileScratch) error {
	t := c.r.Type
	n := len(vals)
	st := computeStats(vals)
	if st.finite && st.min == st.max {
		if err := bw.writeBytesAligned(kindConstant); err != nil {
			return err
		}
		return bw.writeBytesAligned(t.appendValue(nil, st.min)...)
	}

	verbatim := n * t.Size()
	syms, maxQ, ok := c.q.quantize(vals, st, s.syms)
	s.syms = syms
	if !ok {
		return writeVerbatim(bw, t, vals)
	}
	width := bitWidth(maxQ)
	if width == 0 {
		if err := bw.writeBytesAligned(kindConstant); err != nil {
			return err
		}
		return bw.writeBytesAligned(t.appendValue(nil, st.min)...)
	}

	kind := kindPacked
	payload := (n*width + 7) / 8
	var pc *prefixCode
	hist, sorted := histogram(syms, s.sorted)
	s.sorted = sorted
	table := tableBits(len(hist), width)
	if (table+entropyBits(hist, n)+7)/8 < payload {
		if code, ok := buildPrefixCode(hist); ok {
			if size := (table + code.cost(hist) + 7) / 8; size < payload {
				kind, payload, pc = kindPrefix, size, code
			}
		}
	}
	if verbatim < t.Size()+1+payload {
		return writeVerbatim(bw, t, vals)
	}

	if err := bw.writeBytesAligned(kind); err != nil {
		return err
	}
	if err := bw.writeBytesAligned(t.appendValue(nil, st.min)...); err != nil {
		return err
	}
	if err := bw.writeBytesAligned(byte(width)); err != nil {
		return err
	}
	if kind == kindPrefix {
		if err := pc.writeTable(bw, width); err != nil {
			return err
		}
		if err := pc.writeSymbols(bw, syms); err != nil {
			return err
		}
	} else {
		for _, q := range syms {
			if err := bw.writeBits(uint64(q), uint(width)); err != nil {
				return err
			}
		}
	}
	bw.flush()
	return nil
}

func writeVerbatim(bw *bitWriter, t DataType, vals []float64) error {
	if err := bw.writeBytesAligned(kindVerbatim); err != nil {
		return err
	}
	raw := make([]byte, 0, len(vals)*t.Size())
	for _, v := range vals {
		raw = t.appendValue(raw, v)
	}
	return bw.writeBytesAligned(raw...)
}

// writeTileMask writes the mask sub-block of a tile with count valid pixels,
// choosing the smaller of a bitmap and a run-length list.
func writeTileMask(bw *bitWriter, valid []bool, count int, s *tileScratch) error {
	if count == len(valid) {
		return bw.writeBytesAligned(maskAllValid)
	}
	s.runs = tileRuns(valid, s.runs[:0])
	runBytes := 0
	for _, r := range s.runs {
		runBytes += uvarintLen(r)
	}
	bitmap := make([]byte, (len(valid)+7)/8)
	if runBytes < len(bitmap) {
		if err := bw.writeBytesAligned(maskRuns); err != nil {
			return err
		}
		for _, r := range s.runs {
			if err := bw.writeUvarint(r); err != nil {
				return err
			}
		}
		return nil
	}
	for i, ok := range valid {
		if ok {
			bitmap[i>>3] |= 1 << (i & 7)
		}
	}
	if err := bw.writeBytesAligned(maskBitmap); err != nil {
		return err
	}
	return bw.writeBytesAligned(bitmap...)
}

// tileRuns returns alternating valid/invalid run lengths, starting with a
// valid run that may be zero.
func tileRuns(valid []bool, runs []uint64) []uint64 {
	state := true
	var n uint64
	for _, ok := range valid {
		if ok != state {
			runs = append(runs, n)
			state, n = ok, 0
		}
		n++
	}
	return append(runs, n)
}

func uvarintLen(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

// readTileMask fills s.valid for a tile of n pixels and returns the number of
// valid pixels.
func readTileMask(br *bitReader, n int, s *tileScratch) (int, error) {
	s.valid = s.valid[:0]
	mode, err := br.readByte()
	if err != nil {
		return 0, err
	}
	switch mode {
	case maskAllValid:
		for range n {
			s.valid = append(s.valid, true)
		}
		return n, nil
	case maskBitmap:
		bitmap, err := br.readBytesAligned((n + 7) / 8)
		if err != nil {
			return 0, err
		}
		count := 0
		for i := range n {
			ok := bitmap[i>>3]&(1<<(i&7)) != 0
			if ok {
				count++
			}
			s.valid = append(s.valid, ok)
		}
		return count, nil
	case maskRuns:
		count := 0
		state := true
		for first := true; len(s.valid) < n; first = false {
			run, err := br.readUvarint()
			if err != nil {
				return 0, err
			}
			if run > uint64(n-len(s.valid)) {
				return 0, corruptf("mask run of %d exceeds tile", run)
			}
			if run == 0 && !first {
				return 0, corruptf("empty mask run")
			}
			for range run {
				s.valid = append(s.valid, state)
			}
			if state {
				count += int(run)
			}
			state = !state
		}
		return count, nil
	}
	return 0, corruptf("unknown mask mode %d", mode)
}

// decodeTile decodes block into the tile's pixels of c.r and, when the
// container has a mask, into c.valid. It returns the tile's valid count.
// Invalid pixels are left at zero.
func (c *tileCoder) decodeTile(i int, block []byte, s *tileScratch) (int, error) {
	count, err := c.decodeTileBlock(i, block, s)
	if errors.Is(err, ErrTruncatedStream) {
		return 0, corruptf("tile %d: %v", i, err)
	}
	if err != nil {
		return 0, errors.WithMessagef(err, "tile %d", i)
	}
	return count, nil
}

func (c *tileCoder) decodeTileBlock(i int, block []byte, s *tileScratch) (int, error) {
	rc := c.grid.rect(i)
	npix := rc.w * rc.h
	if len(block) == 0 {
		if !c.hasMask {
			return 0, corruptf("empty block without a mask")
		}
		return 0, nil
	}
	br := newBitReader(block)
	count := npix
	if c.hasMask {
		var err error
		if count, err = readTileMask(&br, npix, s); err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, corruptf("non-empty block without valid pixels")
		}
	} else {
		s.valid = s.valid[:0]
		for range npix {
			s.valid = append(s.valid, true)
		}
	}

	plane := c.r.Width * c.r.Height
	for b := 0; b < c.r.Bands; b++ {
		for d := 0; d < c.r.Depth; d++ {
			vals, err := c.readPlane(&br, count, s.vals[:0])
			if err != nil {
				return 0, err
			}
			s.vals = vals
			k, j := 0, 0
			for y := rc.y0; y < rc.y0+rc.h; y++ {
				for x := rc.x0; x < rc.x0+rc.w; x++ {
					if s.valid[k] {
						c.r.Pix[(b*plane+y*c.r.Width+x)*c.r.Depth+d] = vals[j]
						j++
					}
					k++
				}
			}
		}
	}
	if br.remaining() != 0 {
		return 0, corruptf("%d trailing bytes in block", (br.remaining()+7)/8)
	}
	if c.hasMask {
		k := 0
		for y := rc.y0; y < rc.y0+rc.h; y++ {
			for x := rc.x0; x < rc.x0+rc.w; x++ {
				c.valid[y*c.r.Width+x] = s.valid[k]
				k++
			}
		}
	}
	return count, nil
}

// readPlane reads one plane sub-block of n samples, appending them to dst.
func (c *tileCoder) readPlane(br *bitReader, n int, dst []float64) ([]float64, error) {
	t := c.r.Type
	kind, err := br.readByte()
	if err != nil {
		return nil, err
	}
	if kind == kindVerbatim {
		raw, err := br.readBytesAligned(n * t.Size())
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(raw); i += t.Size() {
			dst = append(dst, t.value(raw[i:]))
		}
		return dst, nil
	}
	if kind > kindVerbatim {
		return nil, corruptf("unknown plane kind %d", kind)
	}

	raw, err := br.readBytesAligned(t.Size())
	if err != nil {
		return nil, err
	}
	offset := t.value(raw)
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return nil, corruptf("non-finite plane offset")
	}
	if kind == kindConstant {
		for range n {
			dst = append(dst, offset)
		}
		return dst, nil
	}

	wb, err := br.readByte()
	if err != nil {
		return nil, err
	}
	width := int(wb)
	if width == 0 || width > 32 {
		return nil, corruptf("bit width %d out of range", width)
	}
	if kind == kindPacked {
		if br.remaining() < n*width {
			return nil, truncatedf("packed plane needs %d bits, have %d", n*width, br.remaining())
		}
		for range n {
			dst = append(dst, c.q.dequantize(offset, uint32(br.readBitsFast(uint(width)))))
		}
	} else {
		dec, err := readPrefixTable(br, width, n)
		if err != nil {
			return nil, err
		}
		for range n {
			q, err := dec.decode(br)
			if err != nil {
				return nil, err
			}
			dst = append(dst, c.q.dequantize(offset, q))
		}
	}
	br.alignByte()
	return dst, nil
}
