package lerc

import (
	"math"
	"math/bits"
)

// tileStats describes the valid samples of one plane of a tile.
type tileStats struct {
	min, max float64
	count    int
	// finite is false when a sample is NaN or infinite; such planes are
	// stored verbatim.
	finite bool
}

func computeStats(vals []float64) tileStats {
	st := tileStats{count: len(vals), finite: true}
	if len(vals) == 0 {
		return st
	}
	st.min, st.max = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			st.finite = false
			continue
		}
		st.min = math.Min(st.min, v)
		st.max = math.Max(st.max, v)
	}
	if st.min > st.max {
		st.min, st.max = 0, 0
	}
	return st
}

// maxSymbol bounds quantized values to 32 bits.
const maxSymbol = math.MaxUint32

// quantizer maps samples of one element type to small integers with a
// bounded reconstruction error.
type quantizer struct {
	typ      DataType
	maxError float64
	// step is the quantization step; 0 means lossless float storage.
	step float64
}

// maxIntegerStep exceeds the span of every integer type, so a larger step
// changes nothing but could overflow to +Inf.
const maxIntegerStep = 1 << 32

// deriveStep returns the quantization step for t and maxError.
// Integer types use max(1, floor(2*maxError)), so maxError < 0.5 is lossless.
// Float types use 2*maxError, or 0 when maxError is 0; the result is +Inf
// for a maxError above MaxFloat64/2.
func deriveStep(t DataType, maxError float64) float64 {
	if t.IsInteger() {
		return math.Min(math.Max(1, math.Floor(2*maxError)), maxIntegerStep)
	}
	return 2 * maxError
}

func newQuantizer(t DataType, maxError float64) quantizer {
	return quantizer{typ: t, maxError: maxError, step: deriveStep(t, maxError)}
}

// usable reports whether q can map samples to symbols at all.
func (q quantizer) usable() bool {
	return q.step > 0 && !math.IsInf(q.step, 0)
}

// dequantize reconstructs a sample. Decoder and encoder share it, so the
// encoder can prove the error bound before committing to a representation.
func (q quantizer) dequantize(offset float64, v uint32) float64 {
	z := offset + float64(v)*q.step
	lo, hi := q.typ.bounds()
	return q.typ.convert(math.Min(math.Max(z, lo), hi))
}

// quantize maps vals to symbols relative to st.min and returns the largest
// symbol. ok is false when the plane cannot be quantized within the error
// bound; the caller must then store it verbatim.
func (q quantizer) quantize(vals []float64, st tileStats, dst []uint32) (syms []uint32, maxQ uint32, ok bool) {
	if !q.usable() || !st.finite || len(vals) == 0 {
		return dst, 0, false
	}
	if span := st.max - st.min; !(span/q.step < maxSymbol) {
		return dst, 0, false
	}
	syms = dst[:0]
	for _, v := range vals {
		u := uint32(math.Round((v - st.min) / q.step))
		if !(math.Abs(q.dequantize(st.min, u)-v) <= q.maxError) {
			return syms, 0, false
		}
		maxQ = max(maxQ, u)
		syms = append(syms, u)
	}
	return syms, maxQ, true
}

// bitWidth returns ceil(log2(maxQ+1)), the bits needed per packed symbol.
func bitWidth(maxQ uint32) int {
	return bits.Len32(maxQ)
}
