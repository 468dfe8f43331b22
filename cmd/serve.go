package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/blockfx/internal/server"
	"github.com/andresmejia3/blockfx/internal/utils"
	"github.com/spf13/cobra"
)

var (
	serveOpts Options
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve transforms and overlays over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context(), serveOpts)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: $BLOCKFX_ADDR or :8080)")
	serveCmd.Flags().BoolVar(&serveOpts.Overlay, "overlay", true, "Start a detector so /v1/overlay is available")
	serveCmd.Flags().IntVarP(&serveOpts.Workers, "workers", "w", 4, "Goroutines used per request for block rows")
	serveCmd.Flags().IntVar(&serveOpts.MaxSide, "max-side", 640, "Downscale detector input so its longer side is at most this many pixels (0 = off)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, opts Options) error {
	addr := resolveAddr(serveAddr)
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	p, closeFn, err := newPipeline(ctx, opts, opts.Overlay)
	if err != nil {
		return err
	}
	defer closeFn()

	srv, err := server.New(p)
	if err != nil {
		utils.ShowError("Failed to build HTTP host", err, nil)
		return err
	}
	defer srv.Close()

	fmt.Fprintf(os.Stderr, "🌐 Listening on %s\n", addr)
	if err := srv.Listen(ctx, addr); err != nil {
		utils.ShowError("HTTP host stopped", err, nil)
		return err
	}
	return nil
}

// resolveAddr applies the BLOCKFX_ADDR fallback.
func resolveAddr(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("BLOCKFX_ADDR"); env != "" {
		return env
	}
	return ":8080"
}
