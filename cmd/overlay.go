package cmd

import (
	"context"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/surface"
	"github.com/spf13/cobra"
)

var overlayOpts Options

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Draw detected pose landmarks over one or more images",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runOverlay(cmd.Context(), overlayOpts)
	},
}

func init() {
	overlayCmd.Flags().StringSliceVarP(&overlayOpts.InputPaths, "input", "i", nil, "Input image(s); repeat or comma-separate for a batch")
	overlayCmd.Flags().StringVarP(&overlayOpts.OutputPath, "output", "o", "overlay.png", "Output PNG, or a directory when several inputs are given")
	overlayCmd.Flags().IntVar(&overlayOpts.MaxSide, "max-side", 0, "Downscale detector input so its longer side is at most this many pixels (0 = off)")

	overlayCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(overlayCmd)
}

func runOverlay(ctx context.Context, opts Options) error {
	if err := validateOverlayFlags(&opts); err != nil {
		return err
	}
	p, closeFn, err := newPipeline(ctx, opts, true)
	if err != nil {
		return err
	}
	defer closeFn()

	return runBatch(ctx, opts, "Detecting", func(src, dst surface.Surface, w, h int) error {
		return p.TransformWithOverlay(src, dst, w, h, 1, blocks.Identity)
	})
}

func validateOverlayFlags(opts *Options) error {
	if err := validateInputs(opts.InputPaths); err != nil {
		return err
	}
	if opts.MaxSide < 0 {
		opts.MaxSide = 0
	}
	return validateOutput(opts)
}
