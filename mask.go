package lerc

// Mask marks which pixels of a raster hold data. It is shared by all bands
// and depth values. A nil *Mask means every pixel is valid.
type Mask struct {
	Width, Height int
	bits          []byte // one bit per pixel, row-major, lsb-first
}

// NewMask returns a mask with every pixel valid.
func NewMask(width, height int) *Mask {
	m := &Mask{Width: width, Height: height, bits: make([]byte, (width*height+7)/8)}
	for i := range m.bits {
		m.bits[i] = 0xFF
	}
	if tail := width * height % 8; tail != 0 {
		m.bits[len(m.bits)-1] = 1<<tail - 1
	}
	return m
}

// MaskFromBytes builds a mask from one byte per pixel, non-zero meaning valid,
// the layout used by the C API.
func MaskFromBytes(width, height int, valid []byte) (*Mask, error) {
	if len(valid) != width*height {
		return nil, invalidf("mask has %d bytes, want %d", len(valid), width*height)
	}
	m := &Mask{Width: width, Height: height, bits: make([]byte, (width*height+7)/8)}
	for i, v := range valid {
		if v != 0 {
			m.bits[i>>3] |= 1 << (i & 7)
		}
	}
	return m, nil
}

func maskFromBools(width, height int, valid []bool) *Mask {
	m := &Mask{Width: width, Height: height, bits: make([]byte, (width*height+7)/8)}
	for i, ok := range valid {
		if ok {
			m.bits[i>>3] |= 1 << (i & 7)
		}
	}
	return m
}

// Valid reports whether pixel (x, y) holds data.
func (m *Mask) Valid(x, y int) bool {
	if m == nil {
		return true
	}
	i := y*m.Width + x
	return m.bits[i>>3]&(1<<(i&7)) != 0
}

// SetValid marks pixel (x, y) as valid or invalid.
func (m *Mask) SetValid(x, y int, valid bool) {
	i := y*m.Width + x
	if valid {
		m.bits[i>>3] |= 1 << (i & 7)
	} else {
		m.bits[i>>3] &^= 1 << (i & 7)
	}
}

// Count returns the number of valid pixels.
func (m *Mask) Count() int {
	n := 0
	for i := 0; i < m.Width*m.Height; i++ {
		if m.bits[i>>3]&(1<<(i&7)) != 0 {
			n++
		}
	}
	return n
}

// AllValid reports whether every pixel is valid. It is true for a nil mask.
func (m *Mask) AllValid() bool {
	return m == nil || m.Count() == m.Width*m.Height
}

// Bytes returns one byte per pixel, 1 for valid and 0 for invalid.
func (m *Mask) Bytes() []byte {
	out := make([]byte, m.Width*m.Height)
	for i := range out {
		if m.bits[i>>3]&(1<<(i&7)) != 0 {
			out[i] = 1
		}
	}
	return out
}

// Equal reports whether m and o mark the same pixels valid. A nil mask equals
// any all-valid mask of the same extent.
func (m *Mask) Equal(o *Mask) bool {
	switch {
	case m == nil && o == nil:
		return true
	case m == nil:
		return o.AllValid()
	case o == nil:
		return m.AllValid()
	case m.Width != o.Width || m.Height != o.Height:
		return false
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Valid(x, y) != o.Valid(x, y) {
				return false
			}
		}
	}
	return true
}

// bools expands the mask to one bool per pixel.
func (m *Mask) bools() []bool {
	out := make([]bool, m.Width*m.Height)
	for i := range out {
		out[i] = m.bits[i>>3]&(1<<(i&7)) != 0
	}
	return out
}
