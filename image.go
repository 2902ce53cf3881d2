package lerc

import (
	"image"
	"image/color"
	"image/draw"
)

// ImageToNRGBA copies any image.Image into an *image.NRGBA with bounds
// starting at (0,0).
func ImageToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// FromImage converts img to a raster. Gray images give one UChar band,
// Gray16 images one UShort band, anything else three UChar bands (R, G, B).
// Fully transparent pixels are marked invalid; the mask is nil when there
// are none.
func FromImage(img image.Image) (*Raster, *Mask) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		r := New(UChar, w, h, 1, 1)
		for y := 0; y < h; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < w; x++ {
				r.Pix[y*w+x] = float64(row[x])
			}
		}
		return r, nil
	case *image.Gray16:
		r := New(UShort, w, h, 1, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r.Pix[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return r, nil
	}

	src := ImageToNRGBA(img)
	r := New(UChar, w, h, 3, 1)
	m := NewMask(w, h)
	transparent := false
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*src.Stride + x*4
			p := y*w + x
			if src.Pix[i+3] == 0 {
				m.SetValid(x, y, false)
				transparent = true
				continue
			}
			r.Pix[p] = float64(src.Pix[i])
			r.Pix[plane+p] = float64(src.Pix[i+1])
			r.Pix[2*plane+p] = float64(src.Pix[i+2])
		}
	}
	if !transparent {
		m = nil
	}
	return r, m
}

// Image converts r back to an image. One UChar band gives *image.Gray and
// one UShort band *image.Gray16; three UChar bands give *image.NRGBA. With a
// mask that marks pixels invalid the result is NRGBA (NRGBA64 for UShort)
// with invalid pixels fully transparent.
func (r *Raster) Image(m *Mask) (image.Image, error) {
	if r.Depth != 1 {
		return nil, invalidf("depth %d has no image form", r.Depth)
	}
	if m != nil && (m.Width != r.Width || m.Height != r.Height) {
		return nil, invalidf("mask extent %dx%d, raster %dx%d", m.Width, m.Height, r.Width, r.Height)
	}
	if m.AllValid() {
		m = nil
	}
	rect := image.Rect(0, 0, r.Width, r.Height)
	plane := r.Width * r.Height

	switch {
	case r.Bands == 1 && r.Type == UChar && m == nil:
		img := image.NewGray(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				img.Pix[y*img.Stride+x] = uint8(r.Pix[y*r.Width+x])
			}
		}
		return img, nil
	case r.Bands == 1 && r.Type == UShort && m == nil:
		img := image.NewGray16(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(r.Pix[y*r.Width+x])})
			}
		}
		return img, nil
	case r.Bands == 1 && r.Type == UShort:
		img := image.NewNRGBA64(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				if !m.Valid(x, y) {
					continue
				}
				v := uint16(r.Pix[y*r.Width+x])
				img.SetNRGBA64(x, y, color.NRGBA64{R: v, G: v, B: v, A: 0xFFFF})
			}
		}
		return img, nil
	case (r.Bands == 1 || r.Bands == 3) && r.Type == UChar:
		img := image.NewNRGBA(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				if !m.Valid(x, y) {
					continue
				}
				p := y*r.Width + x
				i := y*img.Stride + x*4
				v := uint8(r.Pix[p])
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = v, v, v
				if r.Bands == 3 {
					img.Pix[i+1] = uint8(r.Pix[plane+p])
					img.Pix[i+2] = uint8(r.Pix[2*plane+p])
				}
				img.Pix[i+3] = 0xFF
			}
		}
		return img, nil
	}
	return nil, invalidf("%d %s bands have no image form", r.Bands, r.Type)
}
