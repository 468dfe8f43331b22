package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/blockfx/internal/types"
	"github.com/gogpu/gg"
	"golang.org/x/image/draw"
)

// Visualizer draws landmarks over an image and returns a premultiplied
// image of the same size.
type Visualizer interface {
	Render(img image.Image, coords []types.Point) (*image.RGBA, error)
}

// Edge connects two landmark indices.
type Edge [2]int

// HandEdges connects the 21 hand keypoints (wrist, then four points per finger).
var HandEdges = []Edge{
	{0, 1}, {1, 2}, {2, 3}, {3, 4},
	{0, 5}, {5, 6}, {6, 7}, {7, 8},
	{5, 9}, {9, 10}, {10, 11}, {11, 12},
	{9, 13}, {13, 14}, {14, 15}, {15, 16},
	{13, 17}, {0, 17}, {17, 18}, {18, 19}, {19, 20},
}

// BodyEdges connects the 33 body keypoints.
var BodyEdges = []Edge{
	{0, 1}, {1, 2}, {2, 3}, {3, 7}, {0, 4}, {4, 5}, {5, 6}, {6, 8},
	{9, 10},
	{11, 12}, {11, 13}, {13, 15}, {15, 17}, {15, 19}, {15, 21}, {17, 19},
	{12, 14}, {14, 16}, {16, 18}, {16, 20}, {16, 22}, {18, 20},
	{11, 23}, {12, 24}, {23, 24},
	{23, 25}, {25, 27}, {27, 29}, {29, 31}, {27, 31},
	{24, 26}, {26, 28}, {28, 30}, {30, 32}, {28, 32},
}

// EdgesFor picks a topology by landmark count. Unknown counts draw points only.
func EdgesFor(n int) []Edge {
	switch n {
	case 21:
		return HandEdges
	case 33:
		return BodyEdges
	default:
		return nil
	}
}

// Skeleton renders keypoints as filled circles joined by stroked edges.
type Skeleton struct {
	Radius     float64
	LineWidth  float64
	PointColor color.NRGBA
	EdgeColor  color.NRGBA
}

// DefaultSkeleton returns red joints on green bones.
func DefaultSkeleton() *Skeleton {
	return &Skeleton{
		Radius:     4,
		LineWidth:  2,
		PointColor: color.NRGBA{R: 255, G: 48, B: 48, A: 255},
		EdgeColor:  color.NRGBA{R: 48, G: 255, B: 48, A: 255},
	}
}

func setColor(dc *gg.Context, c color.NRGBA) {
	dc.SetRGBA(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255, float64(c.A)/255)
}

// Render draws coords onto a copy of img.
func (s *Skeleton) Render(img image.Image, coords []types.Point) (*image.RGBA, error) {
	b := img.Bounds()
	dc := gg.NewContextForImage(img)
	defer dc.Close()

	if edges := EdgesFor(len(coords)); len(edges) > 0 {
		setColor(dc, s.EdgeColor)
		dc.SetLineWidth(s.LineWidth)
		for _, e := range edges {
			p, q := coords[e[0]], coords[e[1]]
			dc.DrawLine(p.X, p.Y, q.X, q.Y)
		}
		if err := dc.Stroke(); err != nil {
			return nil, fmt.Errorf("stroke skeleton: %w", err)
		}
	}

	if len(coords) > 0 {
		setColor(dc, s.PointColor)
		for _, p := range coords {
			dc.DrawCircle(p.X, p.Y, s.Radius)
		}
		if err := dc.Fill(); err != nil {
			return nil, fmt.Errorf("fill keypoints: %w", err)
		}
	}

	if err := dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("flush overlay: %w", err)
	}

	// The pixmap reports straight-alpha colours; drawing it into an RGBA
	// premultiplies them.
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), dc.ResizeTarget(), image.Point{}, draw.Src)
	return out, nil
}
