// Package overlay runs pose detection on a frame and renders the primary
// subject's landmarks over it.
package overlay

import (
	"fmt"

	"github.com/andresmejia3/blockfx/internal/detector"
	"github.com/andresmejia3/blockfx/internal/log"
	"github.com/andresmejia3/blockfx/internal/pixel"
)

// Bridge connects the shared detector handle to a visualizer.
type Bridge struct {
	handle *detector.Handle
	vis    Visualizer
}

// NewBridge returns a bridge using h for detection. A nil visualizer uses
// DefaultSkeleton.
func NewBridge(h *detector.Handle, vis Visualizer) *Bridge {
	if vis == nil {
		vis = DefaultSkeleton()
	}
	return &Bridge{handle: h, vis: vis}
}

// Render detects subjects in src and returns src with the first subject's
// landmarks drawn on it, as a straight-alpha RGBA buffer. Additional
// subjects are ignored. Any detection failure fails the whole call.
func (b *Bridge) Render(src []byte, width, height int) ([]byte, error) {
	grid, err := pixel.ToGrid(src, width, height)
	if err != nil {
		return nil, err
	}

	results, err := b.handle.Detect(grid)
	if err != nil {
		return nil, err
	}
	if len(results) > 1 {
		log.Debug("ignoring extra subjects", "detected", len(results))
	}
	coords := results[0].Landmarks.Coords

	rendered, err := b.vis.Render(grid, coords)
	if err != nil {
		return nil, fmt.Errorf("render landmarks: %w", err)
	}
	if rb := rendered.Bounds(); rb.Dx() != width || rb.Dy() != height {
		return nil, fmt.Errorf("visualizer returned %dx%d for a %dx%d frame", rb.Dx(), rb.Dy(), width, height)
	}

	return pixel.FromPremultiplied(pixel.Premultiplied(rendered)), nil
}
