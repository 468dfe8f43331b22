// Package surface provides pixel surfaces that frames are read from and
// written to.
package surface

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // register decoders for Load
	_ "image/jpeg"
	"image/png"
	"os"

	"github.com/andresmejia3/blockfx/internal/pixel"
	_ "golang.org/x/image/webp"
)

// ErrOutOfBounds is returned for a region that does not fit the surface.
var ErrOutOfBounds = errors.New("surface: region out of bounds")

// Surface is a readable and writable RGBA pixel area.
type Surface interface {
	// ReadPixels returns the width x height region at (x, y) as a straight-alpha RGBA buffer.
	ReadPixels(x, y, width, height int) ([]byte, error)

	// WritePixels stores a width x height buffer at (x, y).
	WritePixels(buf []byte, width, height, x, y int) error
}

// Canvas is an in-memory surface backed by an NRGBA image.
type Canvas struct {
	img *image.NRGBA
}

// NewCanvas returns a transparent width x height canvas.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{img: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// FromImage copies img into a new canvas with its origin at (0, 0).
func FromImage(img image.Image) *Canvas {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if n, ok := img.(*image.NRGBA); ok {
		// Straight copy; draw.Draw would round-trip through premultiplied colour.
		copy(dst.Pix, pixel.FromGrid(n))
		return &Canvas{img: dst}
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &Canvas{img: dst}
}

// Load decodes a PNG, JPEG, GIF or WebP file into a canvas.
func Load(path string) (*Canvas, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// Width returns the canvas width.
func (c *Canvas) Width() int { return c.img.Rect.Dx() }

// Height returns the canvas height.
func (c *Canvas) Height() int { return c.img.Rect.Dy() }

// Image returns the backing image. It is shared with the canvas.
func (c *Canvas) Image() *image.NRGBA { return c.img }

func (c *Canvas) region(x, y, width, height int) (image.Rectangle, error) {
	r := image.Rect(x, y, x+width, y+height)
	if width < 0 || height < 0 || !r.In(c.img.Rect) {
		return r, fmt.Errorf("%w: %dx%d at (%d,%d) on %dx%d surface",
			ErrOutOfBounds, width, height, x, y, c.Width(), c.Height())
	}
	return r, nil
}

// ReadPixels implements Surface.
func (c *Canvas) ReadPixels(x, y, width, height int) ([]byte, error) {
	r, err := c.region(x, y, width, height)
	if err != nil {
		return nil, err
	}
	if r.Empty() {
		return []byte{}, nil
	}
	return pixel.FromGrid(c.img.SubImage(r).(*image.NRGBA)), nil
}

// WritePixels implements Surface.
func (c *Canvas) WritePixels(buf []byte, width, height, x, y int) error {
	if err := pixel.Validate(buf, width, height); err != nil {
		return err
	}
	r, err := c.region(x, y, width, height)
	if err != nil {
		return err
	}
	rowLen := width * pixel.BytesPerPixel
	for row := 0; row < r.Dy(); row++ {
		off := c.img.PixOffset(r.Min.X, r.Min.Y+row)
		copy(c.img.Pix[off:off+rowLen], buf[row*rowLen:(row+1)*rowLen])
	}
	return nil
}

// SavePNG encodes the canvas as PNG.
func (c *Canvas) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, c.img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
