// Package lerc implements LERC (Limited Error Raster Compression), a lossy
// codec for numeric rasters with a user-chosen per-sample error bound.
// The raster is cut into tiles; each tile plane is quantized against its own
// minimum and stored as a constant, bit-packed, prefix-coded or raw block,
// whichever is smallest. A validity mask shared by all bands is carried
// alongside.

package lerc

import (
	"context"
	"io"
	"math"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTileSize is the tile edge used when Options.TileSize is 0.
	DefaultTileSize = 8
	// MaxTileSize is the largest accepted tile edge.
	MaxTileSize = 256

	// DefaultMaxSamples is the largest raster, in samples, a Decoder
	// allocates when its MaxSamples is 0.
	DefaultMaxSamples = 1 << 28
)

// A blob without valid pixels is empty blocks of one byte each whatever its
// band count, so its size says nothing about the raster behind it. Such
// blobs may expand to blankFloor samples or one full tile per body byte.
const (
	blankFloor     = 1 << 20
	blankExpansion = MaxTileSize * MaxTileSize
)

// Options controls encoding.
type Options struct {
	// MaxError is the largest allowed absolute difference between a valid
	// input sample and its decoded value. 0 means lossless.
	MaxError float64
	// TileSize is the tile edge in pixels, 1..MaxTileSize; 0 selects
	// DefaultTileSize.
	TileSize int
	// Envelope optionally compresses the whole container once more.
	Envelope Envelope
	// Level is the envelope compression level; 0 selects its default.
	Level int
}

// DefaultOptions returns lossless options with the default tile size.
func DefaultOptions() Options {
	return Options{TileSize: DefaultTileSize}
}

func (o Options) normalize() (Options, error) {
	if o.TileSize == 0 {
		o.TileSize = DefaultTileSize
	}
	switch {
	case math.IsNaN(o.MaxError) || math.IsInf(o.MaxError, 0) || o.MaxError < 0:
		return o, invalidf("max error %v", o.MaxError)
	case o.TileSize < 1 || o.TileSize > MaxTileSize:
		return o, invalidf("tile size %d out of range 1..%d", o.TileSize, MaxTileSize)
	case !o.Envelope.valid():
		return o, invalidf("unknown envelope %s", o.Envelope)
	case o.Level < 0 || o.Level > o.Envelope.maxLevel():
		return o, invalidf("level %d out of range for %s envelope", o.Level, o.Envelope)
	}
	return o, nil
}

// maskValidity checks m against r and expands it. It returns nil when every
// pixel is valid, so no mask is stored.
func maskValidity(r *Raster, m *Mask) ([]bool, error) {
	if m == nil {
		return nil, nil
	}
	if m.Width != r.Width || m.Height != r.Height {
		return nil, invalidf("mask extent %dx%d, raster %dx%d", m.Width, m.Height, r.Width, r.Height)
	}
	if len(m.bits) != (m.Width*m.Height+7)/8 {
		return nil, invalidf("mask holds %d bytes for %dx%d", len(m.bits), m.Width, m.Height)
	}
	if m.AllValid() {
		return nil, nil
	}
	return m.bools(), nil
}

// rasterStats returns the number of valid pixels and the range of their
// finite samples over all bands.
func rasterStats(r *Raster, valid []bool) (count int, lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	plane := r.Width * r.Height
	for p := 0; p < plane; p++ {
		if valid != nil && !valid[p] {
			continue
		}
		count++
		for b := 0; b < r.Bands; b++ {
			base := (b*plane + p) * r.Depth
			for _, v := range r.Pix[base : base+r.Depth] {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	if lo > hi {
		lo, hi = 0, 0
	}
	return count, lo, hi
}

func cancelled(err error) error {
	return errors.Wrapf(ErrCancelled, "%v", err)
}

// workerCount returns how many goroutines process tiles.
func workerCount(parallel bool, workers, tiles int) int {
	if !parallel {
		return 1
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return max(min(workers, tiles), 1)
}

// tileFunc processes one tile on behalf of a worker.
type tileFunc func(worker, tile int) error

// runTiles calls fn for every tile. With more than one worker, each
// goroutine owns a contiguous stripe of tile indices; the first failure
// cancels the others. A cancelled ctx yields ErrCancelled.
func runTiles(parent context.Context, tiles, workers int, fn tileFunc) error {
	if workers <= 1 {
		if err := runTileStripe(parent, 0, tiles, 0, fn); err != nil {
			if ctxErr := parent.Err(); ctxErr != nil {
				return cancelled(ctxErr)
			}
			return err
		}
		return nil
	}

	g, ctx := errgroup.WithContext(parent)
	perWorker := (tiles + workers - 1) / workers
	for i := range workers {
		t0 := i * perWorker
		if t0 >= tiles {
			break
		}
		t1 := min(t0+perWorker, tiles)

		g.Go(func() error {
			return runTileStripe(ctx, t0, t1, i, fn)
		})
	}
	err := g.Wait()

	if ctxErr := parent.Err(); ctxErr != nil {
		return cancelled(ctxErr)
	}
	return err
}

func runTileStripe(ctx context.Context, t0, t1, worker int, fn tileFunc) error {
	for i := t0; i < t1; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(worker, i); err != nil {
			return err
		}
	}
	return nil
}

// Encoder reuses per-worker scratch buffers across Encode calls to reduce
// allocations. It is not safe for concurrent use. The returned []byte is
// owned by the caller.
type Encoder struct {
	// Parallel enables internal goroutines (per-tile encode).
	// Set to false to encode every tile on the calling goroutine.
	Parallel bool
	// Workers caps the number of goroutines; 0 means runtime.NumCPU().
	Workers int

	scratch []tileScratch
	blocks  [][]byte
	head    []byte
	bw      bitWriter
}

// NewEncoder returns an Encoder with parallel tile encoding enabled.
func NewEncoder() *Encoder {
	return &Encoder{Parallel: true}
}

// Encode compresses r. m may be nil when every pixel is valid.
func (e *Encoder) Encode(ctx context.Context, r *Raster, m *Mask, opts Options) ([]byte, error) {
	return e.encode(ctx, r, m, opts, 0)
}

// EncodeTo encodes r and writes the compressed result to w.
func (e *Encoder) EncodeTo(w io.Writer, r *Raster, m *Mask, opts Options) error {
	data, err := e.Encode(context.Background(), r, m, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return errors.WithStack(err)
}

// encode runs the whole pipeline. A positive limit bounds the size of the
// plain container; enveloped output is checked by the caller.
func (e *Encoder) encode(ctx context.Context, r *Raster, m *Mask, opts Options, limit int) ([]byte, error) {
	if r == nil {
		return nil, invalidf("nil raster")
	}
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if err := r.checkExtent(); err != nil {
		return nil, err
	}
	valid, err := maskValidity(r, m)
	if err != nil {
		return nil, err
	}
	if err := r.validate(valid); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	c := &tileCoder{
		r:       r,
		valid:   valid,
		hasMask: valid != nil,
		grid:    newTileGrid(r.Width, r.Height, opts.TileSize),
		q:       newQuantizer(r.Type, opts.MaxError),
	}
	tiles := c.grid.count()
	workers := workerCount(e.Parallel, e.Workers, tiles)
	for len(e.scratch) < workers {
		e.scratch = append(e.scratch, tileScratch{})
	}
	if cap(e.blocks) < tiles {
		e.blocks = make([][]byte, tiles)
	}
	blocks := e.blocks[:tiles]
	clear(blocks)

	err = runTiles(ctx, tiles, workers, func(worker, i int) error {
		block, err := c.encodeTile(i, &e.scratch[worker])
		blocks[i] = block
		return err
	})
	if err != nil {
		return nil, err
	}

	count, lo, hi := rasterStats(r, valid)
	total := headerSize + trailerSize
	for _, b := range blocks {
		total += uvarintLen(uint64(len(b))) + len(b)
	}
	h := header{
		version:    formatVersion,
		typ:        r.Type,
		bands:      r.Bands,
		width:      r.Width,
		height:     r.Height,
		maxError:   opts.MaxError,
		hasMask:    c.hasMask,
		depth:      r.Depth,
		tileSize:   opts.TileSize,
		validCount: count,
		min:        lo,
		max:        hi,
		blobSize:   uint64(total),
	}

	bwLimit := 0
	if opts.Envelope == EnvelopeNone {
		bwLimit = limit
	}
	e.bw.reset(make([]byte, 0, total), bwLimit)
	e.head = h.appendTo(e.head[:0])
	if err := e.bw.writeBytesAligned(e.head...); err != nil {
		return nil, err
	}
	for _, b := range blocks {
		if err := e.bw.writeUvarint(uint64(len(b))); err != nil {
			return nil, err
		}
		if err := e.bw.writeBytesAligned(b...); err != nil {
			return nil, err
		}
	}
	if err := e.bw.reserve(trailerSize * 8); err != nil {
		return nil, err
	}
	blob := appendTrailer(e.bw.bytes())
	e.bw.reset(nil, 0)
	clear(blocks)

	return wrapEnvelope(opts.Envelope, opts.Level, blob)
}

// Decoder reuses per-worker scratch buffers across Decode calls to reduce
// allocations. It is not safe for concurrent use. The returned raster and
// mask are owned by the caller.
type Decoder struct {
	// Parallel enables internal goroutines (per-tile decode).
	// Set to false to decode every tile on the calling goroutine.
	Parallel bool
	// Workers caps the number of goroutines; 0 means runtime.NumCPU().
	Workers int
	// MaxSamples caps the size of a decoded raster. 0 selects
	// DefaultMaxSamples, lowered for blobs without valid pixels.
	MaxSamples int

	scratch []tileScratch
}

// NewDecoder returns a Decoder with parallel tile decoding enabled.
func NewDecoder() *Decoder {
	return &Decoder{Parallel: true}
}

// Decode decompresses a blob produced by Encode. The mask is nil when the
// blob marks every pixel valid; invalid pixels decode to 0.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*Raster, *Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, cancelled(err)
	}
	inner, _, err := unwrapEnvelope(data)
	if err != nil {
		return nil, nil, err
	}
	h, body, err := checkBlob(inner)
	if err != nil {
		return nil, nil, err
	}

	grid := newTileGrid(h.width, h.height, h.tileSize)
	tiles := grid.count()
	if tiles > len(body) {
		return nil, nil, corruptf("%d tiles in %d bytes", tiles, len(body))
	}
	blocks, err := splitBlocks(body, tiles)
	if err != nil {
		return nil, nil, err
	}
	if err := checkBlocks(h, blocks); err != nil {
		return nil, nil, err
	}
	samples := int64(h.width) * int64(h.height) * int64(h.bands) * int64(h.depth)
	if limit := d.sampleLimit(h, len(body)); samples > limit {
		return nil, nil, errors.Wrapf(ErrCapacityExceeded, "raster of %d samples exceeds the decode limit of %d", samples, limit)
	}

	r := New(h.typ, h.width, h.height, h.bands, h.depth)
	var valid []bool
	if h.hasMask {
		valid = make([]bool, h.width*h.height)
	}
	c := &tileCoder{
		r:       r,
		valid:   valid,
		hasMask: h.hasMask,
		grid:    grid,
		q:       newQuantizer(h.typ, h.maxError),
	}
	workers := workerCount(d.Parallel, d.Workers, tiles)
	for len(d.scratch) < workers {
		d.scratch = append(d.scratch, tileScratch{})
	}
	counts := make([]int, workers)
	err = runTiles(ctx, tiles, workers, func(worker, i int) error {
		n, err := c.decodeTile(i, blocks[i], &d.scratch[worker])
		counts[worker] += n
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	count := 0
	for _, n := range counts {
		count += n
	}
	if count != h.validCount {
		return nil, nil, corruptf("decoded %d valid pixels, header declares %d", count, h.validCount)
	}

	var m *Mask
	if h.hasMask {
		m = maskFromBools(h.width, h.height, valid)
	}
	return r, m, nil
}

// sampleLimit returns the largest raster d allocates for a blob with header h
// and a block region of bodyLen bytes.
func (d *Decoder) sampleLimit(h header, bodyLen int) int64 {
	if d.MaxSamples > 0 {
		return int64(d.MaxSamples)
	}
	if h.validCount == 0 {
		return min(max(blankFloor, int64(bodyLen)*blankExpansion), DefaultMaxSamples)
	}
	return DefaultMaxSamples
}

// checkBlocks rejects block sizes no encoder produces, before the raster is
// allocated. A block with data carries the tile mask mode when the blob has a
// mask and, per plane, a kind byte plus an offset or at least one sample.
func checkBlocks(h header, blocks [][]byte) error {
	minBlock := int64(h.bands) * int64(h.depth) * int64(1+h.typ.Size())
	if h.hasMask {
		minBlock++
	}
	filled := 0
	for i, b := range blocks {
		if len(b) == 0 {
			continue
		}
		if int64(len(b)) < minBlock {
			return corruptf("tile %d block of %d bytes, need at least %d", i, len(b), minBlock)
		}
		filled++
	}
	if (filled == 0) != (h.validCount == 0) {
		return corruptf("%d valid pixels in %d tiles with data", h.validCount, filled)
	}
	return nil
}

// DecodeFrom reads compressed data from r and decodes it.
// It allocates to read the full input; prefer Decode([]byte) when the data
// is already in memory.
func (d *Decoder) DecodeFrom(r io.Reader) (*Raster, *Mask, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return d.Decode(context.Background(), data)
}

// splitBlocks cuts the block region into tiles length-prefixed blocks. The
// region must be consumed exactly.
func splitBlocks(body []byte, tiles int) ([][]byte, error) {
	blocks := make([][]byte, tiles)
	br := newBitReader(body)
	for i := range blocks {
		size, err := br.readUvarint()
		if err != nil {
			return nil, corruptf("tile %d length: %v", i, err)
		}
		if size > uint64(br.remaining()/8) {
			return nil, corruptf("tile %d length %d exceeds remaining %d bytes", i, size, br.remaining()/8)
		}
		if blocks[i], err = br.readBytesAligned(int(size)); err != nil {
			return nil, corruptf("tile %d: %v", i, err)
		}
	}
	if br.remaining() != 0 {
		return nil, corruptf("%d bytes after the last tile", br.remaining()/8)
	}
	return blocks, nil
}

// Encode compresses r with the given error bound and tile size (0 selects
// DefaultTileSize). m may be nil when every pixel is valid.
func Encode(r *Raster, m *Mask, maxError float64, tileSize int) ([]byte, error) {
	return EncodeContext(context.Background(), r, m, Options{MaxError: maxError, TileSize: tileSize})
}

// EncodeContext is Encode with full options and cancellation between tiles.
func EncodeContext(ctx context.Context, r *Raster, m *Mask, opts Options) ([]byte, error) {
	return NewEncoder().Encode(ctx, r, m, opts)
}

// EncodeInto encodes r into dst and returns the number of bytes written.
// If the result does not fit, it returns ErrCapacityExceeded and dst is left
// untouched; EstimateCompressedSizeOptions gives a sufficient size.
func EncodeInto(dst []byte, r *Raster, m *Mask, opts Options) (int, error) {
	out, err := NewEncoder().encode(context.Background(), r, m, opts, len(dst))
	if err != nil {
		return 0, err
	}
	if len(out) > len(dst) {
		return 0, errors.Wrapf(ErrCapacityExceeded, "need %d bytes, have %d", len(out), len(dst))
	}
	return copy(dst, out), nil
}

// Decode decompresses a blob produced by Encode.
func Decode(data []byte) (*Raster, *Mask, error) {
	return DecodeContext(context.Background(), data)
}

// DecodeContext is Decode with cancellation between tiles.
func DecodeContext(ctx context.Context, data []byte) (*Raster, *Mask, error) {
	return NewDecoder().Decode(ctx, data)
}

// EstimateCompressedSize returns an upper bound on the size of Encode's
// output for r at maxError with the default tile size, for any mask.
func EstimateCompressedSize(r *Raster, maxError float64) (int, error) {
	return EstimateCompressedSizeOptions(r, Options{MaxError: maxError})
}

// EstimateCompressedSizeOptions is EstimateCompressedSize for arbitrary
// options. The bound is computed from tile statistics without coding.
func EstimateCompressedSizeOptions(r *Raster, opts Options) (int, error) {
	if r == nil {
		return 0, invalidf("nil raster")
	}
	opts, err := opts.normalize()
	if err != nil {
		return 0, err
	}
	if err := r.checkExtent(); err != nil {
		return 0, err
	}
	if len(r.Pix) != r.Len() {
		return 0, invalidf("have %d samples, want %d", len(r.Pix), r.Len())
	}

	grid := newTileGrid(r.Width, r.Height, opts.TileSize)
	q := newQuantizer(r.Type, opts.MaxError)
	plane := r.Width * r.Height
	vals := make([]float64, 0, grid.size*grid.size)
	total := headerSize + trailerSize
	for i := range grid.count() {
		rc := grid.rect(i)
		npix := rc.w * rc.h
		// mask mode byte and a full bitmap
		block := 1 + (npix+7)/8
		for b := 0; b < r.Bands; b++ {
			for d := 0; d < r.Depth; d++ {
				vals = vals[:0]
				for y := rc.y0; y < rc.y0+rc.h; y++ {
					for x := rc.x0; x < rc.x0+rc.w; x++ {
						vals = append(vals, r.Pix[(b*plane+y*r.Width+x)*r.Depth+d])
					}
				}
				block += 1 + planeBound(q, vals)
			}
		}
		total += uvarintLen(uint64(block)) + block
	}
	return total, nil
}

// planeBound bounds the plane sub-block size, kind byte excluded, for any
// subset of vals. Integer planes always quantize, so their packed size
// bounds every coded form; float planes may fall back to raw storage.
func planeBound(q quantizer, vals []float64) int {
	size := q.typ.Size()
	verbatim := len(vals) * size
	if !q.typ.IsInteger() {
		return verbatim
	}
	st := computeStats(vals)
	if !q.usable() || !st.finite {
		return verbatim
	}
	maxQ := math.Round((st.max - st.min) / q.step)
	if !(maxQ < maxSymbol) {
		return verbatim
	}
	packed := size + 1 + (len(vals)*bitWidth(uint32(maxQ))+7)/8
	return min(verbatim, packed)
}
