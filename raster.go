package lerc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType is the element type of a raster. The numeric codes are stored in
// the container header and must never change.
type DataType uint8

const (
	Char   DataType = iota // int8
	UChar                  // uint8
	Short                  // int16
	UShort                 // uint16
	Int                    // int32
	UInt                   // uint32
	Float                  // float32
	Double                 // float64
)

var dataTypeNames = [...]string{"char", "uchar", "short", "ushort", "int", "uint", "float", "double"}

func (t DataType) String() string {
	if t.valid() {
		return dataTypeNames[t]
	}
	return fmt.Sprintf("DataType(%d)", uint8(t))
}

func (t DataType) valid() bool { return t <= Double }

// Size returns the element size in bytes.
func (t DataType) Size() int {
	switch t {
	case Char, UChar:
		return 1
	case Short, UShort:
		return 2
	case Int, UInt, Float:
		return 4
	case Double:
		return 8
	}
	return 0
}

// IsInteger reports whether t is one of the integer types.
func (t DataType) IsInteger() bool { return t <= UInt }

// bounds returns the representable range of t.
func (t DataType) bounds() (lo, hi float64) {
	switch t {
	case Char:
		return math.MinInt8, math.MaxInt8
	case UChar:
		return 0, math.MaxUint8
	case Short:
		return math.MinInt16, math.MaxInt16
	case UShort:
		return 0, math.MaxUint16
	case Int:
		return math.MinInt32, math.MaxInt32
	case UInt:
		return 0, math.MaxUint32
	case Float:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}

// fits reports whether v is exactly representable in t.
func (t DataType) fits(v float64) bool {
	switch {
	case t == Double:
		return true
	case t == Float:
		return math.IsNaN(v) || float64(float32(v)) == v
	}
	lo, hi := t.bounds()
	return v >= lo && v <= hi && v == math.Trunc(v)
}

// convert rounds v to the nearest value of t, clamping to its range.
// Integer types expect v to be integral already.
func (t DataType) convert(v float64) float64 {
	if t == Double {
		return v
	}
	if t == Float {
		return float64(float32(v))
	}
	lo, hi := t.bounds()
	return math.Min(math.Max(v, lo), hi)
}

// appendValue appends v to dst in t's little-endian encoding.
func (t DataType) appendValue(dst []byte, v float64) []byte {
	switch t {
	case Char:
		return append(dst, byte(int8(v)))
	case UChar:
		return append(dst, uint8(v))
	case Short:
		return binary.LittleEndian.AppendUint16(dst, uint16(int16(v)))
	case UShort:
		return binary.LittleEndian.AppendUint16(dst, uint16(v))
	case Int:
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(v)))
	case UInt:
		return binary.LittleEndian.AppendUint32(dst, uint32(v))
	case Float:
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v)))
	}
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
}

// value decodes one element of t from the start of b.
func (t DataType) value(b []byte) float64 {
	switch t {
	case Char:
		return float64(int8(b[0]))
	case UChar:
		return float64(b[0])
	case Short:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case UShort:
		return float64(binary.LittleEndian.Uint16(b))
	case Int:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case UInt:
		return float64(binary.LittleEndian.Uint32(b))
	case Float:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Sample is the set of Go element types a Raster can be built from.
type Sample interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | float32 | float64
}

// TypeOf returns the DataType matching T.
func TypeOf[T Sample]() DataType {
	var z T
	switch any(z).(type) {
	case int8:
		return Char
	case uint8:
		return UChar
	case int16:
		return Short
	case uint16:
		return UShort
	case int32:
		return Int
	case uint32:
		return UInt
	case float32:
		return Float
	}
	return Double
}

// Raster is a multi-band grid of samples of one element type.
//
// Pix holds every sample as float64, which represents all supported element
// types exactly. Samples are laid out band by band, row by row, with Depth
// values per pixel:
//
//	Pix[((band*Height+y)*Width+x)*Depth+d]
type Raster struct {
	Width, Height int
	Bands         int
	Depth         int
	Type          DataType
	Pix           []float64
}

// New allocates a zero-filled raster.
func New(t DataType, width, height, bands, depth int) *Raster {
	r := &Raster{Width: width, Height: height, Bands: bands, Depth: depth, Type: t}
	if n := r.Len(); n > 0 {
		r.Pix = make([]float64, n)
	}
	return r
}

// NewRaster builds a raster from typed samples laid out like Raster.Pix.
func NewRaster[T Sample](width, height, bands, depth int, data []T) (*Raster, error) {
	r := &Raster{Width: width, Height: height, Bands: bands, Depth: depth, Type: TypeOf[T]()}
	if err := r.checkExtent(); err != nil {
		return nil, err
	}
	if len(data) != r.Len() {
		return nil, invalidf("have %d samples, want %d", len(data), r.Len())
	}
	r.Pix = make([]float64, len(data))
	for i, v := range data {
		r.Pix[i] = float64(v)
	}
	return r, nil
}

// Samples returns a copy of r's samples converted to T. T must match r.Type.
func Samples[T Sample](r *Raster) ([]T, error) {
	if want := TypeOf[T](); r.Type != want {
		return nil, invalidf("raster holds %s samples, not %s", r.Type, want)
	}
	out := make([]T, len(r.Pix))
	for i, v := range r.Pix {
		out[i] = T(v)
	}
	return out, nil
}

// Len returns the number of samples r should hold.
func (r *Raster) Len() int {
	return r.Width * r.Height * r.Bands * r.Depth
}

func (r *Raster) index(band, x, y, d int) int {
	return ((band*r.Height+y)*r.Width+x)*r.Depth + d
}

// At returns the sample of band at (x, y), value d of the pixel.
func (r *Raster) At(band, x, y, d int) float64 {
	return r.Pix[r.index(band, x, y, d)]
}

// Set stores v as the sample of band at (x, y), value d of the pixel.
func (r *Raster) Set(band, x, y, d int, v float64) {
	r.Pix[r.index(band, x, y, d)] = v
}

// maxSamples bounds the extent accepted from callers and from headers.
const maxSamples = 1 << 31

func (r *Raster) checkExtent() error {
	switch {
	case r.Width <= 0 || r.Height <= 0:
		return invalidf("empty extent %dx%d", r.Width, r.Height)
	case r.Bands <= 0 || r.Bands > math.MaxUint16:
		return invalidf("band count %d out of range", r.Bands)
	case r.Depth <= 0 || r.Depth > math.MaxUint16:
		return invalidf("depth %d out of range", r.Depth)
	case int64(r.Width) > math.MaxUint32 || int64(r.Height) > math.MaxUint32:
		return invalidf("extent %dx%d too large", r.Width, r.Height)
	case !r.Type.valid():
		return invalidf("unsupported data type %s", r.Type)
	}
	if n := float64(r.Width) * float64(r.Height) * float64(r.Bands) * float64(r.Depth); n > maxSamples {
		return invalidf("%.0f samples exceed the sample limit", n)
	}
	return nil
}

// validate checks the extent, the sample count and, for every valid pixel,
// that the samples are representable in r.Type. valid may be nil.
func (r *Raster) validate(valid []bool) error {
	if err := r.checkExtent(); err != nil {
		return err
	}
	if len(r.Pix) != r.Len() {
		return invalidf("have %d samples, want %d", len(r.Pix), r.Len())
	}
	if r.Type == Double {
		return nil
	}
	plane := r.Width * r.Height
	for b := 0; b < r.Bands; b++ {
		for p := 0; p < plane; p++ {
			if valid != nil && !valid[p] {
				continue
			}
			base := (b*plane + p) * r.Depth
			for d := 0; d < r.Depth; d++ {
				if v := r.Pix[base+d]; !r.Type.fits(v) {
					return invalidf("band %d pixel %d: %v is not a %s value", b, p, v, r.Type)
				}
			}
		}
	}
	return nil
}
