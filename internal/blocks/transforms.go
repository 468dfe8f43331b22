package blocks

import (
	"image/color"
	"strings"
)

// Kind selects the per-block transform.
type Kind uint8

const (
	Identity Kind = iota
	Pixelate
	Greyscale
)

func (k Kind) String() string {
	switch k {
	case Pixelate:
		return "pixelate"
	case Greyscale:
		return "greyscale"
	default:
		return "identity"
	}
}

// ParseKind maps a selector name to a Kind. Unrecognized names select Identity.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pixelate", "pixel":
		return Pixelate
	case "greyscale", "grayscale", "grey", "gray":
		return Greyscale
	default:
		return Identity
	}
}

// KindFromSelector maps the numeric selector used by the browser host
// (0 pixelate, 1 greyscale) to a Kind. Any other value selects Identity.
func KindFromSelector(n int) Kind {
	switch n {
	case 0:
		return Pixelate
	case 1:
		return Greyscale
	default:
		return Identity
	}
}

// Func computes the output pixels of one block. src holds the block's
// original pixels in row-major order; dst has the same length and receives
// the result for the same positions. src must not be modified.
type Func func(src, dst []color.NRGBA)

// Func returns the transform for k. Values outside the enumeration fall
// back to Identity.
func (k Kind) Func() Func {
	switch k {
	case Pixelate:
		return ColorAverage
	case Greyscale:
		return LumaAverage
	default:
		return Copy
	}
}

// ColorAverage fills the block with the rounded per-channel mean of its
// pixels, alpha included.
func ColorAverage(src, dst []color.NRGBA) {
	n := uint64(len(src))
	if n == 0 {
		return
	}
	// uint64: a single block may cover a whole 8K frame.
	var r, g, b, a uint64
	for _, p := range src {
		r += uint64(p.R)
		g += uint64(p.G)
		b += uint64(p.B)
		a += uint64(p.A)
	}
	avg := color.NRGBA{
		R: uint8((r + n/2) / n),
		G: uint8((g + n/2) / n),
		B: uint8((b + n/2) / n),
		A: uint8((a + n/2) / n),
	}
	for i := range dst {
		dst[i] = avg
	}
}

// LumaAverage sets each pixel's R, G and B to the rounded simple average of
// its own three colour channels. Alpha is untouched.
func LumaAverage(src, dst []color.NRGBA) {
	for i, p := range src {
		l := uint8((uint32(p.R) + uint32(p.G) + uint32(p.B) + 1) / 3)
		dst[i] = color.NRGBA{R: l, G: l, B: l, A: p.A}
	}
}

// Copy writes the block unchanged.
func Copy(src, dst []color.NRGBA) {
	copy(dst, src)
}
