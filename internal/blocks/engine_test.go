package blocks

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/andresmejia3/blockfx/internal/pixel"
)

func uniform(w, h int, c color.NRGBA) []byte {
	buf := make([]byte, 0, w*h*4)
	for i := 0; i < w*h; i++ {
		buf = append(buf, c.R, c.G, c.B, c.A)
	}
	return buf
}

func randomImage(seed int64, w, h int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, w*h*4)
	r.Read(buf)
	return buf
}

func at(buf []byte, width, x, y int) color.NRGBA {
	i := (y*width + x) * 4
	return color.NRGBA{R: buf[i], G: buf[i+1], B: buf[i+2], A: buf[i+3]}
}

func TestPartition_Clipping(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		size int
		want []image.Rectangle
	}{
		{
			name: "3x2 by 2 clips right edge",
			w:    3, h: 2, size: 2,
			want: []image.Rectangle{image.Rect(0, 0, 2, 2), image.Rect(2, 0, 3, 2)},
		},
		{
			name: "2x3 by 2 clips bottom edge",
			w:    2, h: 3, size: 2,
			want: []image.Rectangle{image.Rect(0, 0, 2, 2), image.Rect(0, 2, 2, 3)},
		},
		{
			name: "3x3 by 2 clips both edges",
			w:    3, h: 3, size: 2,
			want: []image.Rectangle{
				image.Rect(0, 0, 2, 2), image.Rect(2, 0, 3, 2),
				image.Rect(0, 2, 2, 3), image.Rect(2, 2, 3, 3),
			},
		},
		{
			name: "size larger than image",
			w:    3, h: 2, size: 10,
			want: []image.Rectangle{image.Rect(0, 0, 3, 2)},
		},
		{
			name: "max int size",
			w:    3, h: 2, size: math.MaxInt,
			want: []image.Rectangle{image.Rect(0, 0, 3, 2)},
		},
		{
			name: "empty image",
			w:    0, h: 5, size: 2,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(tt.w, tt.h, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d blocks %v, want %d %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("block %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPartition_CoversEveryPixelOnce(t *testing.T) {
	for _, dims := range [][3]int{{7, 5, 3}, {16, 16, 4}, {10, 1, 3}, {1, 10, 4}, {13, 11, 1}} {
		w, h, size := dims[0], dims[1], dims[2]
		seen := make([]int, w*h)
		for _, r := range Partition(w, h, size) {
			if r.Dx() > size || r.Dy() > size || r.Empty() {
				t.Errorf("%dx%d/%d: bad block %v", w, h, size, r)
			}
			for y := r.Min.Y; y < r.Max.Y; y++ {
				for x := r.Min.X; x < r.Max.X; x++ {
					seen[y*w+x]++
				}
			}
		}
		for i, n := range seen {
			if n != 1 {
				t.Fatalf("%dx%d/%d: pixel %d covered %d times", w, h, size, i, n)
			}
		}
	}
}

func TestApply_Identity(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5, 64} {
		src := randomImage(int64(size), 9, 7)
		out, err := Apply(src, 9, 7, size, Identity)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if !bytes.Equal(out, src) {
			t.Errorf("size %d: identity changed the image", size)
		}
	}
}

func TestApply_PixelateUniform(t *testing.T) {
	c := color.NRGBA{R: 100, G: 150, B: 200, A: 255}
	src := uniform(4, 4, c)

	for _, size := range []int{2, 4} {
		out, err := Apply(src, 4, 4, size, Pixelate)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out, src) {
			t.Errorf("size %d: uniform image changed under pixelate", size)
		}
	}
}

func TestApply_PixelateRoundsHalfUp(t *testing.T) {
	src := []byte{0, 0, 0, 255, 255, 255, 255, 255}
	out, err := Apply(src, 2, 1, 2, Pixelate)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{128, 128, 128, 255, 128, 128, 128, 255}
	if !bytes.Equal(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestApply_PixelateBlockMeans(t *testing.T) {
	const w, h, size = 7, 5, 3
	src := randomImage(7, w, h)
	out, err := Apply(src, w, h, size, Pixelate)
	if err != nil {
		t.Fatal(err)
	}

	for _, r := range Partition(w, h, size) {
		var sum [4]int
		n := r.Dx() * r.Dy()
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				p := at(src, w, x, y)
				sum[0] += int(p.R)
				sum[1] += int(p.G)
				sum[2] += int(p.B)
				sum[3] += int(p.A)
			}
		}
		want := color.NRGBA{
			R: uint8((sum[0] + n/2) / n),
			G: uint8((sum[1] + n/2) / n),
			B: uint8((sum[2] + n/2) / n),
			A: uint8((sum[3] + n/2) / n),
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if got := at(out, w, x, y); got != want {
					t.Fatalf("block %v pixel (%d,%d) = %v, want %v", r, x, y, got, want)
				}
			}
		}
	}
}

func TestApply_Greyscale(t *testing.T) {
	const w, h = 6, 4
	src := randomImage(3, w, h)
	out, err := Apply(src, w, h, 4, Greyscale)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p, s := at(out, w, x, y), at(src, w, x, y)
			if p.R != p.G || p.G != p.B {
				t.Fatalf("pixel (%d,%d) not grey: %v", x, y, p)
			}
			if p.A != s.A {
				t.Fatalf("pixel (%d,%d) alpha changed: %d -> %d", x, y, s.A, p.A)
			}
			if want := uint8((int(s.R) + int(s.G) + int(s.B) + 1) / 3); p.R != want {
				t.Fatalf("pixel (%d,%d) luma = %d, want %d", x, y, p.R, want)
			}
		}
	}
}

func TestApply_DoesNotMutateSource(t *testing.T) {
	src := randomImage(11, 5, 5)
	orig := append([]byte(nil), src...)
	for _, k := range []Kind{Identity, Pixelate, Greyscale} {
		if _, err := Apply(src, 5, 5, 2, k); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(src, orig) {
		t.Error("source buffer was modified")
	}
}

func TestApply_Errors(t *testing.T) {
	src := make([]byte, 4*4*4)
	if _, err := Apply(src, 4, 4, 0, Pixelate); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("size 0: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := Apply(src, 4, 4, -3, Pixelate); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative size: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := Apply(src[:10], 4, 4, 2, Pixelate); !errors.Is(err, pixel.ErrInvalidBufferSize) {
		t.Errorf("short buffer: expected ErrInvalidBufferSize, got %v", err)
	}
}

func TestApply_HugeSquareIsOneBlock(t *testing.T) {
	src := []byte{0, 0, 0, 255, 255, 255, 255, 255}
	for _, e := range []Engine{{}, {Workers: 4}} {
		out, err := e.Apply(src, 2, 1, math.MaxInt, ColorAverage)
		if err != nil {
			t.Fatalf("Workers=%d: %v", e.Workers, err)
		}
		want := []byte{128, 128, 128, 255, 128, 128, 128, 255}
		if !bytes.Equal(out, want) {
			t.Errorf("Workers=%d: got %v, want %v", e.Workers, out, want)
		}
	}
}

func TestColorAverage_LargeBlock(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large allocation in short mode")
	}
	// More pixels than a uint32 channel sum of 255s can hold.
	src := make([]color.NRGBA, 1<<24+1)
	for i := range src {
		src[i] = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	dst := make([]color.NRGBA, 1)
	ColorAverage(src, dst)
	if want := (color.NRGBA{R: 255, G: 255, B: 255, A: 255}); dst[0] != want {
		t.Errorf("got %v, want %v", dst[0], want)
	}
}

func TestKindFromSelector(t *testing.T) {
	tests := map[int]Kind{0: Pixelate, 1: Greyscale, 2: Identity, -1: Identity, 99: Identity}
	for n, want := range tests {
		if got := KindFromSelector(n); got != want {
			t.Errorf("KindFromSelector(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestEngine_ParallelMatchesSequential(t *testing.T) {
	const w, h = 37, 29
	src := randomImage(99, w, h)
	for _, k := range []Kind{Identity, Pixelate, Greyscale} {
		seq, err := Engine{}.Apply(src, w, h, 4, k.Func())
		if err != nil {
			t.Fatal(err)
		}
		par, err := Engine{Workers: 8}.Apply(src, w, h, 4, k.Func())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(seq, par) {
			t.Errorf("%s: parallel output differs from sequential", k)
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"pixelate":  Pixelate,
		"Pixelate":  Pixelate,
		"greyscale": Greyscale,
		"grayscale": Greyscale,
		"identity":  Identity,
		"sepia":     Identity,
		"":          Identity,
	}
	for in, want := range tests {
		if got := ParseKind(in); got != want {
			t.Errorf("ParseKind(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestKind_UnknownFallsBackToIdentity(t *testing.T) {
	src := randomImage(5, 3, 3)
	out, err := Engine{}.Apply(src, 3, 3, 2, Kind(200).Func())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Error("unknown kind did not behave as identity")
	}
}
