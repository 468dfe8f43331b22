// Package pixel converts between flat RGBA byte buffers, addressable image
// grids, and premultiplied colour sequences.
//
// A pixel buffer is always straight (non-premultiplied) RGBA, row-major,
// 4 bytes per pixel, with no row padding.
package pixel

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// BytesPerPixel is the RGBA stride of one pixel in a buffer.
const BytesPerPixel = 4

// ErrInvalidBufferSize is returned when a buffer does not hold exactly width*height*4 bytes.
var ErrInvalidBufferSize = errors.New("pixel: invalid buffer size")

// Validate checks the buffer invariant for a width x height image.
func Validate(buf []byte, width, height int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrInvalidBufferSize, width, height)
	}
	if width == 0 || height == 0 {
		if len(buf) != 0 {
			return fmt.Errorf("%w: got %d bytes, want 0 for %dx%d", ErrInvalidBufferSize, len(buf), width, height)
		}
		return nil
	}
	// Bound each factor by the buffer first so width*height*4 cannot overflow.
	pixels := len(buf) / BytesPerPixel
	if width > pixels || height > pixels/width {
		return fmt.Errorf("%w: got %d bytes, too short for %dx%d", ErrInvalidBufferSize, len(buf), width, height)
	}
	if want := width * height * BytesPerPixel; len(buf) != want {
		return fmt.Errorf("%w: got %d bytes, want %d for %dx%d", ErrInvalidBufferSize, len(buf), want, width, height)
	}
	return nil
}

// ToGrid copies buf into a new NRGBA image. Pixel (x, y) is read from
// offset (y*width + x)*4 as R, G, B, A.
func ToGrid(buf []byte, width, height int) (*image.NRGBA, error) {
	if err := Validate(buf, width, height); err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, buf)
	return img, nil
}

// FromGrid flattens an NRGBA image into a new buffer. It honours the image
// stride and origin, so sub-images are flattened correctly.
func FromGrid(img *image.NRGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*BytesPerPixel)
	rowLen := w * BytesPerPixel
	for y := 0; y < h; y++ {
		src := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*rowLen:(y+1)*rowLen], img.Pix[src:src+rowLen])
	}
	return out
}

// Demultiply converts a premultiplied colour back to straight alpha.
// Fully transparent pixels come back as zero RGB; other channels are
// round(c / (a/255)) clamped to 255. Alpha is unchanged.
func Demultiply(c color.RGBA) color.NRGBA {
	switch c.A {
	case 0:
		return color.NRGBA{}
	case 0xff:
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
	}
	return color.NRGBA{
		R: unscale(c.R, c.A),
		G: unscale(c.G, c.A),
		B: unscale(c.B, c.A),
		A: c.A,
	}
}

func unscale(c, a uint8) uint8 {
	v := (uint32(c)*0xff + uint32(a)/2) / uint32(a)
	if v > 0xff {
		return 0xff
	}
	return uint8(v)
}

// FromPremultiplied demultiplies every colour in order and flattens the
// result. The output length is len(pixels)*4.
func FromPremultiplied(pixels []color.RGBA) []byte {
	out := make([]byte, 0, len(pixels)*BytesPerPixel)
	for _, p := range pixels {
		d := Demultiply(p)
		out = append(out, d.R, d.G, d.B, d.A)
	}
	return out
}

// Premultiplied returns the pixels of a premultiplied image as a sequence.
func Premultiplied(img *image.RGBA) []color.RGBA {
	b := img.Bounds()
	out := make([]color.RGBA, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, img.RGBAAt(x, y))
		}
	}
	return out
}

// Normalize copies a clamped byte view into a plain buffer, value for value.
func Normalize(src []uint8) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	return out
}
