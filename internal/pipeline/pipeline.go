// Package pipeline implements the host-facing operations: read a frame from
// a source surface, transform it, and write it to a destination surface.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/overlay"
	"github.com/andresmejia3/blockfx/internal/surface"
)

// ErrNoDetector is returned by overlay operations on a pipeline built without a bridge.
var ErrNoDetector = errors.New("pipeline: no detector configured")

// Pipeline runs block transforms and, when a bridge is set, landmark overlays.
type Pipeline struct {
	engine blocks.Engine
	bridge *overlay.Bridge
}

// New returns a pipeline. bridge may be nil when overlays are not needed.
func New(engine blocks.Engine, bridge *overlay.Bridge) *Pipeline {
	return &Pipeline{engine: engine, bridge: bridge}
}

// HasOverlay reports whether overlay operations are available.
func (p *Pipeline) HasOverlay() bool { return p.bridge != nil }

// Frame applies kind to a raw RGBA frame.
func (p *Pipeline) Frame(buf []byte, width, height, squareSize int, kind blocks.Kind) ([]byte, error) {
	return p.engine.Apply(buf, width, height, squareSize, kind.Func())
}

// OverlayFrame draws the primary subject's landmarks over a raw RGBA frame.
func (p *Pipeline) OverlayFrame(buf []byte, width, height int) ([]byte, error) {
	if p.bridge == nil {
		return nil, ErrNoDetector
	}
	return p.bridge.Render(buf, width, height)
}

func checkConfig(width, height, squareSize int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: dimensions %dx%d", blocks.ErrInvalidConfig, width, height)
	}
	if squareSize < 1 {
		return fmt.Errorf("%w: square size must be at least 1, got %d", blocks.ErrInvalidConfig, squareSize)
	}
	return nil
}

// Transform reads width x height pixels at (0,0) from src, applies the block
// transform, and writes the result at (0,0) on dst. Surface errors are
// returned unchanged.
func (p *Pipeline) Transform(src, dst surface.Surface, width, height, squareSize int, kind blocks.Kind) error {
	if err := checkConfig(width, height, squareSize); err != nil {
		return err
	}
	buf, err := src.ReadPixels(0, 0, width, height)
	if err != nil {
		return err
	}
	out, err := p.Frame(buf, width, height, squareSize, kind)
	if err != nil {
		return err
	}
	return dst.WritePixels(out, width, height, 0, 0)
}

// TransformWithOverlay has the same surface contract as Transform but
// renders landmarks instead of blocks. squareSize and kind are accepted so
// both operations share a signature; they are not used. Nothing is written
// to dst when detection fails.
func (p *Pipeline) TransformWithOverlay(src, dst surface.Surface, width, height, squareSize int, kind blocks.Kind) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: dimensions %dx%d", blocks.ErrInvalidConfig, width, height)
	}
	if p.bridge == nil {
		return ErrNoDetector
	}
	buf, err := src.ReadPixels(0, 0, width, height)
	if err != nil {
		return err
	}
	out, err := p.bridge.Render(buf, width, height)
	if err != nil {
		return err
	}
	return dst.WritePixels(out, width, height, 0, 0)
}
