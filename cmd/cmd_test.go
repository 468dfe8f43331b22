package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/detector"
	"github.com/andresmejia3/blockfx/internal/overlay"
	"github.com/andresmejia3/blockfx/internal/pipeline"
	"github.com/andresmejia3/blockfx/internal/surface"
	"github.com/andresmejia3/blockfx/internal/types"
)

func writePNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestValidateTransformFlags(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.png")
	writePNG(t, img, 2, 2, color.NRGBA{A: 255})

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{InputPaths: []string{img}, OutputPath: filepath.Join(dir, "out.png"), SquareSize: 4}, false},
		{"no input", Options{OutputPath: "x.png", SquareSize: 4}, true},
		{"missing input", Options{InputPaths: []string{filepath.Join(dir, "nope.png")}, OutputPath: "x.png", SquareSize: 4}, true},
		{"directory input", Options{InputPaths: []string{dir}, OutputPath: "x.png", SquareSize: 4}, true},
		{"zero square", Options{InputPaths: []string{img}, OutputPath: "x.png", SquareSize: 0}, true},
		{"overwrite input", Options{InputPaths: []string{img}, OutputPath: img, SquareSize: 4}, true},
		{"empty output", Options{InputPaths: []string{img}, SquareSize: 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := validateTransformFlags(&opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTransformFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBlockFlags_ZeroSquareIsInvalidConfig(t *testing.T) {
	opts := Options{SquareSize: 0}
	if err := validateBlockFlags(&opts); !errors.Is(err, blocks.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	opts = Options{SquareSize: 2, Kind: "sepia"}
	if err := validateBlockFlags(&opts); err != nil {
		t.Errorf("unknown kind should not be an error: %v", err)
	}
	if opts.Workers != 1 {
		t.Errorf("Workers should default to 1, got %d", opts.Workers)
	}
}

func TestValidateVideoFlags(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	if err := os.WriteFile(in, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := Options{InputPaths: []string{in}, OutputPath: in, SquareSize: 4}
	if err := validateVideoFlags(&opts); err == nil {
		t.Error("expected error when output overwrites input")
	}

	opts = Options{InputPaths: []string{in, in}, OutputPath: "out.mp4", SquareSize: 4}
	if err := validateVideoFlags(&opts); err == nil {
		t.Error("expected error for more than one input")
	}

	opts = Options{InputPaths: []string{in}, OutputPath: "out.mp4", Overlay: true, NumEngines: 0, MaxSide: -3}
	if err := validateVideoFlags(&opts); err != nil {
		t.Fatalf("overlay mode ignores square size: %v", err)
	}
	if opts.NumEngines != 1 || opts.MaxSide != 0 {
		t.Errorf("defaults not applied: %+v", opts)
	}
}

func TestOutputPathFor(t *testing.T) {
	single := Options{InputPaths: []string{"a/b.jpg"}, OutputPath: "out.png"}
	if got := outputPathFor(single, "a/b.jpg"); got != "out.png" {
		t.Errorf("single input: got %q", got)
	}
	batch := Options{InputPaths: []string{"a/b.jpg", "c.webp"}, OutputPath: "dir"}
	if got := outputPathFor(batch, "a/b.jpg"); got != filepath.Join("dir", "b.png") {
		t.Errorf("batch input: got %q", got)
	}
}

func TestResolveAddr(t *testing.T) {
	t.Setenv("BLOCKFX_ADDR", "")
	if got := resolveAddr(""); got != ":8080" {
		t.Errorf("default addr = %q", got)
	}
	t.Setenv("BLOCKFX_ADDR", ":9000")
	if got := resolveAddr(""); got != ":9000" {
		t.Errorf("env addr = %q", got)
	}
	if got := resolveAddr(":7000"); got != ":7000" {
		t.Errorf("flag addr = %q", got)
	}
}

func TestRunTransform_Batch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writePNG(t, a, 4, 4, color.NRGBA{R: 30, G: 60, B: 90, A: 255})
	writePNG(t, b, 3, 2, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	outDir := filepath.Join(dir, "out")

	opts := Options{InputPaths: []string{a, b}, OutputPath: outDir, SquareSize: 2, Kind: "greyscale"}
	if err := runTransform(context.Background(), opts); err != nil {
		t.Fatalf("runTransform failed: %v", err)
	}

	got, err := surface.Load(filepath.Join(outDir, "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	if px := got.Image().NRGBAAt(3, 3); px != (color.NRGBA{R: 60, G: 60, B: 60, A: 255}) {
		t.Errorf("unexpected pixel %v", px)
	}
	if _, err := os.Stat(filepath.Join(outDir, "b.png")); err != nil {
		t.Errorf("second output missing: %v", err)
	}
}

func TestProcessVideoFrame(t *testing.T) {
	frame := bytes.Repeat([]byte{0, 0, 0, 255}, 4)

	p := pipeline.New(blocks.Engine{}, nil)
	out, err := processVideoFrame(p, Options{SquareSize: 2}, blocks.Pixelate, frame, 2, 2)
	if err != nil || !bytes.Equal(out, frame) {
		t.Errorf("block mode: out=%v err=%v", out, err)
	}

	none := detector.Func(func(image.Image) ([]types.DetectionResult, error) { return nil, nil })
	p = pipeline.New(blocks.Engine{}, overlay.NewBridge(detector.NewHandle(none), nil))
	out, err = processVideoFrame(p, Options{Overlay: true}, blocks.Identity, frame, 2, 2)
	if err != nil {
		t.Fatalf("frame without subject should pass through, got %v", err)
	}
	if !bytes.Equal(out, frame) {
		t.Error("frame without subject was modified")
	}

	broken := detector.Func(func(image.Image) ([]types.DetectionResult, error) { return nil, errors.New("crashed") })
	p = pipeline.New(blocks.Engine{}, overlay.NewBridge(detector.NewHandle(broken), nil))
	if _, err := processVideoFrame(p, Options{Overlay: true}, blocks.Identity, frame, 2, 2); !errors.Is(err, detector.ErrDetection) {
		t.Errorf("expected ErrDetection, got %v", err)
	}
}
