package lerc

import (
	"cmp"
	"container/heap"
	"math"
	"math/bits"
	"slices"
)

const (
	// maxCodeLen bounds prefix code lengths; a longer code disables prefix
	// coding for the plane.
	maxCodeLen = 24
	// codeLenBits is the width of one code length in the serialized table.
	codeLenBits = 5
)

type symbolCount struct {
	sym   uint32
	count int
}

// histogram counts syms and returns the entries in ascending symbol order.
// scratch is reused for sorting and returned for the next call.
func histogram(syms []uint32, scratch []uint32) ([]symbolCount, []uint32) {
	scratch = append(scratch[:0], syms...)
	slices.Sort(scratch)
	var hist []symbolCount
	for i := 0; i < len(scratch); {
		j := i + 1
		for j < len(scratch) && scratch[j] == scratch[i] {
			j++
		}
		hist = append(hist, symbolCount{sym: scratch[i], count: j - i})
		i = j
	}
	return hist, scratch
}

// entropyBits is the Shannon bound for coding the histogram, rounded up.
// No prefix code can do better, so it is a cheap early-out.
func entropyBits(hist []symbolCount, n int) int {
	var h float64
	for _, e := range hist {
		h -= float64(e.count) * math.Log2(float64(e.count)/float64(n))
	}
	return int(math.Ceil(h))
}

// tableBits is the size of a serialized code-length table.
func tableBits(k, width int) int {
	return width + k*(width+codeLenBits)
}

type huffNode struct {
	count int
	// lo is the histogram index of the smallest symbol in the subtree.
	// Histogram order is symbol order, so ties break by symbol value.
	lo          int
	left, right *huffNode
}

type huffHeap []*huffNode

func (h huffHeap) Len() int { return len(h) }
func (h huffHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}
	return h[i].lo < h[j].lo
}
func (h huffHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *huffHeap) Push(x any)   { *h = append(*h, x.(*huffNode)) }
func (h *huffHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// codeLengths returns the Huffman code length of every histogram entry.
// ok is false when a length exceeds maxCodeLen.
func codeLengths(hist []symbolCount) (lens []uint8, ok bool) {
	lens = make([]uint8, len(hist))
	if len(hist) == 1 {
		lens[0] = 1
		return lens, true
	}
	pq := make(huffHeap, len(hist))
	for i, e := range hist {
		pq[i] = &huffNode{count: e.count, lo: i}
	}
	heap.Init(&pq)
	for pq.Len() > 1 {
		left := heap.Pop(&pq).(*huffNode)
		right := heap.Pop(&pq).(*huffNode)
		heap.Push(&pq, &huffNode{
			count: left.count + right.count,
			lo:    min(left.lo, right.lo),
			left:  left,
			right: right,
		})
	}
	ok = true
	var walk func(n *huffNode, depth int)
	walk = func(n *huffNode, depth int) {
		if n.left == nil {
			if depth > maxCodeLen {
				ok = false
				return
			}
			lens[n.lo] = uint8(depth)
			return
		}
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	walk(pq[0], 0)
	return lens, ok
}

// prefixCode is a canonical prefix code over an ascending symbol list.
// Codes are assigned in (length, symbol) order, so the lengths alone
// determine every code.
type prefixCode struct {
	syms  []uint32
	lens  []uint8
	codes []uint32
}

func newPrefixCode(syms []uint32, lens []uint8) *prefixCode {
	order := make([]int, len(syms))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		if c := cmp.Compare(lens[a], lens[b]); c != 0 {
			return c
		}
		return cmp.Compare(syms[a], syms[b])
	})
	codes := make([]uint32, len(syms))
	var code uint32
	prev := lens[order[0]]
	for i, idx := range order {
		l := lens[idx]
		if i > 0 {
			code = (code + 1) << (l - prev)
		}
		codes[idx] = code
		prev = l
	}
	return &prefixCode{syms: syms, lens: lens, codes: codes}
}

// buildPrefixCode builds the canonical Huffman code for hist.
func buildPrefixCode(hist []symbolCount) (*prefixCode, bool) {
	lens, ok := codeLengths(hist)
	if !ok {
		return nil, false
	}
	syms := make([]uint32, len(hist))
	for i, e := range hist {
		syms[i] = e.sym
	}
	return newPrefixCode(syms, lens), true
}

// cost returns the bits needed to code hist, whose symbols must match pc.
func (pc *prefixCode) cost(hist []symbolCount) int {
	n := 0
	for i, e := range hist {
		n += e.count * int(pc.lens[i])
	}
	return n
}

// writeTable serializes k-1, then every (symbol, length) pair in ascending
// symbol order, each symbol in width bits.
func (pc *prefixCode) writeTable(bw *bitWriter, width int) error {
	if err := bw.writeBits(uint64(len(pc.syms)-1), uint(width)); err != nil {
		return err
	}
	for i, s := range pc.syms {
		if err := bw.writeBits(uint64(s), uint(width)); err != nil {
			return err
		}
		if err := bw.writeBits(uint64(pc.lens[i]), codeLenBits); err != nil {
			return err
		}
	}
	return nil
}

// writeSymbols codes syms, most significant code bit first.
func (pc *prefixCode) writeSymbols(bw *bitWriter, syms []uint32) error {
	for _, s := range syms {
		i, found := slices.BinarySearch(pc.syms, s)
		if !found {
			return corruptf("symbol %d missing from prefix code", s)
		}
		l := uint(pc.lens[i])
		if err := bw.writeBits(uint64(bits.Reverse32(pc.codes[i])>>(32-l)), l); err != nil {
			return err
		}
	}
	return nil
}

// prefixDecoder decodes canonical codes one bit at a time from the
// per-length code counts.
type prefixDecoder struct {
	count  [maxCodeLen + 1]int
	sorted []uint32 // symbols in (length, symbol) order
}

// readPrefixTable reads a table written by writeTable. A plane of n values
// cannot hold more than n distinct symbols.
func readPrefixTable(br *bitReader, width, n int) (*prefixDecoder, error) {
	km1, err := br.readBits(uint(width))
	if err != nil {
		return nil, err
	}
	k := int(km1) + 1
	if k > n {
		return nil, corruptf("prefix table lists %d symbols for %d values", k, n)
	}
	if br.remaining() < k*(width+codeLenBits) {
		return nil, corruptf("prefix table needs %d bits, have %d", k*(width+codeLenBits), br.remaining())
	}
	syms := make([]uint32, k)
	lens := make([]uint8, k)
	for i := range k {
		syms[i] = uint32(br.readBitsFast(uint(width)))
		lens[i] = uint8(br.readBitsFast(codeLenBits))
		if lens[i] == 0 || lens[i] > maxCodeLen {
			return nil, corruptf("code length %d out of range", lens[i])
		}
		if i > 0 && syms[i] <= syms[i-1] {
			return nil, corruptf("prefix table symbols not ascending")
		}
	}
	return newPrefixDecoder(syms, lens)
}

func newPrefixDecoder(syms []uint32, lens []uint8) (*prefixDecoder, error) {
	d := &prefixDecoder{sorted: make([]uint32, 0, len(syms))}
	for _, l := range lens {
		d.count[l]++
	}
	left := 1
	for l := 1; l <= maxCodeLen; l++ {
		left <<= 1
		left -= d.count[l]
		if left < 0 {
			return nil, corruptf("prefix code over-subscribed at length %d", l)
		}
	}
	for l := uint8(1); l <= maxCodeLen; l++ {
		for i, sl := range lens {
			if sl == l {
				d.sorted = append(d.sorted, syms[i])
			}
		}
	}
	return d, nil
}

func (d *prefixDecoder) decode(br *bitReader) (uint32, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= maxCodeLen; l++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		code |= int(b)
		count := d.count[l]
		if code-first < count {
			return d.sorted[index+code-first], nil
		}
		index += count
		first = (first + count) << 1
		code <<= 1
	}
	return 0, corruptf("invalid prefix code")
}
