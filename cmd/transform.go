package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/surface"
	"github.com/andresmejia3/blockfx/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var transformOpts Options

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Apply a block transform to one or more images",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runTransform(cmd.Context(), transformOpts)
	},
}

func init() {
	transformCmd.Flags().StringSliceVarP(&transformOpts.InputPaths, "input", "i", nil, "Input image(s); repeat or comma-separate for a batch")
	transformCmd.Flags().StringVarP(&transformOpts.OutputPath, "output", "o", "out.png", "Output PNG, or a directory when several inputs are given")
	transformCmd.Flags().IntVarP(&transformOpts.SquareSize, "square", "s", 16, "Block edge length in pixels")
	transformCmd.Flags().StringVarP(&transformOpts.Kind, "kind", "k", "pixelate", "Transform: identity, pixelate, greyscale")
	transformCmd.Flags().IntVarP(&transformOpts.Workers, "workers", "w", 1, "Goroutines used per image for block rows")

	transformCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(transformCmd)
}

// frameOp is one pipeline operation over a pair of surfaces.
type frameOp func(src, dst surface.Surface, width, height int) error

func runTransform(ctx context.Context, opts Options) error {
	if err := validateTransformFlags(&opts); err != nil {
		return err
	}
	p, closeFn, err := newPipeline(ctx, opts, false)
	if err != nil {
		return err
	}
	defer closeFn()

	kind := blocks.ParseKind(opts.Kind)
	return runBatch(ctx, opts, "Transforming", func(src, dst surface.Surface, w, h int) error {
		return p.Transform(src, dst, w, h, opts.SquareSize, kind)
	})
}

// runBatch loads every input, applies op and saves the result as PNG.
func runBatch(ctx context.Context, opts Options, desc string, op frameOp) error {
	bar := progressbar.NewOptions(len(opts.InputPaths),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	for _, in := range opts.InputPaths {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, err := surface.Load(in)
		if err != nil {
			utils.ShowError("Failed to load image", err, nil)
			return err
		}
		dst := surface.NewCanvas(src.Width(), src.Height())
		if err := op(src, dst, src.Width(), src.Height()); err != nil {
			utils.ShowError(fmt.Sprintf("Processing %s failed", in), err, nil)
			return err
		}

		out := outputPathFor(opts, in)
		if err := dst.SavePNG(out); err != nil {
			utils.ShowError("Failed to write output", err, nil)
			return err
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n✅ Wrote %d image(s)\n", len(opts.InputPaths))
	return nil
}

// outputPathFor returns the destination for in. A batch writes
// <output>/<name>.png for each input.
func outputPathFor(opts Options, in string) string {
	if len(opts.InputPaths) == 1 {
		return opts.OutputPath
	}
	base := filepath.Base(in)
	return filepath.Join(opts.OutputPath, strings.TrimSuffix(base, filepath.Ext(base))+".png")
}

// validateInputs checks that every input exists and is a regular file.
func validateInputs(paths []string) error {
	if len(paths) == 0 {
		err := fmt.Errorf("at least one --input is required")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				utils.ShowError("Input file does not exist", err, nil)
				return err
			}
			utils.ShowError("Unable to access input file", err, nil)
			return err
		}
		if info.IsDir() {
			err := fmt.Errorf("%s is a directory", p)
			utils.ShowError("Input path is a directory, expected an image file", err, nil)
			return err
		}
	}
	return nil
}

// validateOutput creates the output directory for a batch and refuses to
// overwrite an input.
func validateOutput(opts *Options) error {
	if opts.OutputPath == "" {
		err := fmt.Errorf("--output must not be empty")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if len(opts.InputPaths) > 1 {
		if err := os.MkdirAll(opts.OutputPath, 0o755); err != nil {
			utils.ShowError("Failed to create output directory", err, nil)
			return err
		}
	}
	for _, in := range opts.InputPaths {
		inAbs, _ := filepath.Abs(in)
		outAbs, _ := filepath.Abs(outputPathFor(*opts, in))
		if inAbs == outAbs {
			err := fmt.Errorf("input and output paths must be different: %s", in)
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
	}
	return nil
}

// validateBlockFlags checks the square size and reports unknown kinds,
// which run as identity.
func validateBlockFlags(opts *Options) error {
	if opts.SquareSize < 1 {
		err := fmt.Errorf("%w: square size must be at least 1, got %d", blocks.ErrInvalidConfig, opts.SquareSize)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if k := blocks.ParseKind(opts.Kind); k == blocks.Identity && !strings.EqualFold(strings.TrimSpace(opts.Kind), "identity") {
		fmt.Fprintf(os.Stderr, "⚠️  Unknown kind %q, using identity\n", opts.Kind)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return nil
}

func validateTransformFlags(opts *Options) error {
	if err := validateInputs(opts.InputPaths); err != nil {
		return err
	}
	if err := validateBlockFlags(opts); err != nil {
		return err
	}
	return validateOutput(opts)
}
