// Package blocks partitions an RGBA buffer into square blocks and rewrites
// each block with a per-block transform.
package blocks

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/andresmejia3/blockfx/internal/pixel"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidConfig is returned for parameters rejected before any pixel work.
var ErrInvalidConfig = errors.New("blocks: invalid configuration")

// scratchPool recycles the gather/result slices used per block.
var scratchPool = sync.Pool{
	New: func() interface{} { return make([]color.NRGBA, 0, 2*32*32) },
}

// Engine applies block transforms. The zero value processes blocks sequentially.
type Engine struct {
	// Workers is the number of block rows processed concurrently.
	// Values below 2 disable concurrency. Output does not depend on it.
	Workers int
}

// Apply runs kind over src with the sequential engine.
func Apply(src []byte, width, height, size int, kind Kind) ([]byte, error) {
	return Engine{}.Apply(src, width, height, size, kind.Func())
}

// Partition splits a width x height image into size x size blocks in
// row-major order, starting at (0,0). Blocks on the right and bottom edges
// are clipped to the image, so together they cover every pixel exactly once.
// A size larger than the image yields a single block.
func Partition(width, height, size int) []image.Rectangle {
	if size < 1 || width <= 0 || height <= 0 {
		return nil
	}
	size = min(size, max(width, height))
	cols := (width + size - 1) / size
	rows := (height + size - 1) / size
	rects := make([]image.Rectangle, 0, cols*rows)
	for y := 0; y < height; y += size {
		for x := 0; x < width; x += size {
			rects = append(rects, image.Rect(x, y, min(x+size, width), min(y+size, height)))
		}
	}
	return rects
}

// Apply validates src, then writes fn's result for every block into a new
// buffer of the same size. src is never modified and each block only sees
// its own source pixels, so the result is independent of traversal order.
func (e Engine) Apply(src []byte, width, height, size int, fn Func) ([]byte, error) {
	if err := pixel.Validate(src, width, height); err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("%w: square size must be at least 1, got %d", ErrInvalidConfig, size)
	}
	if fn == nil {
		fn = Copy
	}

	size = min(size, max(width, height, 1))

	out := make([]byte, len(src))
	rects := Partition(width, height, size)
	if len(rects) == 0 {
		return out, nil
	}
	cols := (width + size - 1) / size
	rows := len(rects) / cols

	if e.Workers < 2 || rows < 2 {
		applyBlocks(src, out, width, rects, fn)
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(e.Workers)
	for r := 0; r < rows; r++ {
		row := rects[r*cols : (r+1)*cols]
		g.Go(func() error {
			applyBlocks(src, out, width, row, fn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// applyBlocks gathers each block from src, transforms it, and scatters the
// result into the same positions of out. Blocks never overlap, so
// concurrent calls on disjoint rect sets are safe.
func applyBlocks(src, out []byte, width int, rects []image.Rectangle, fn Func) {
	scratch := scratchPool.Get().([]color.NRGBA)
	defer func() { scratchPool.Put(scratch[:0]) }()

	stride := width * pixel.BytesPerPixel
	for _, r := range rects {
		n := r.Dx() * r.Dy()
		if cap(scratch) < 2*n {
			scratch = make([]color.NRGBA, 2*n)
		}
		scratch = scratch[:2*n]
		in, res := scratch[:n], scratch[n:]

		i := 0
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := y*stride + r.Min.X*pixel.BytesPerPixel
			for x := r.Min.X; x < r.Max.X; x++ {
				in[i] = color.NRGBA{R: src[off], G: src[off+1], B: src[off+2], A: src[off+3]}
				off += pixel.BytesPerPixel
				i++
			}
		}

		fn(in, res)

		i = 0
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := y*stride + r.Min.X*pixel.BytesPerPixel
			for x := r.Min.X; x < r.Max.X; x++ {
				p := res[i]
				out[off], out[off+1], out[off+2], out[off+3] = p.R, p.G, p.B, p.A
				off += pixel.BytesPerPixel
				i++
			}
		}
	}
}
