package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/detector"
	"github.com/andresmejia3/blockfx/internal/log"
	"github.com/andresmejia3/blockfx/internal/overlay"
	"github.com/andresmejia3/blockfx/internal/pipeline"
	"github.com/andresmejia3/blockfx/internal/utils"
	"github.com/andresmejia3/blockfx/internal/worker"
	"github.com/spf13/cobra"
)

// DefaultDetector is the detector command used when neither --detector nor
// BLOCKFX_DETECTOR is set.
const DefaultDetector = "python3 -u python/pose_worker.py"

// Options holds shared configuration for the transform, overlay, video and serve commands
type Options struct {
	InputPaths []string
	OutputPath string
	SquareSize int
	Kind       string
	NumEngines int
	Workers    int
	Overlay    bool
	MaxSide    int
}

var (
	// detectorCmd is the external detector command line
	detectorCmd string
	// logLevel is the structured log level
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "blockfx",
	Short:   "Block transforms and pose overlays for RGBA frames",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Flags win over the environment
		if logLevel == "" {
			logLevel = os.Getenv("BLOCKFX_LOG_LEVEL")
		}
		if detectorCmd == "" {
			detectorCmd = os.Getenv("BLOCKFX_DETECTOR")
		}
		if detectorCmd == "" {
			detectorCmd = DefaultDetector
		}
		log.Init(logLevel)
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&detectorCmd, "detector", "", "Detector command line (default: $BLOCKFX_DETECTOR or \""+DefaultDetector+"\")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $BLOCKFX_LOG_LEVEL or info)")
}

// openDetector starts one detector process and wraps it in a shared handle.
// The caller owns the handle and must Close it.
func openDetector(ctx context.Context, id, maxSide int) (*detector.Handle, error) {
	argv, err := utils.SplitCommandLine(detectorCmd)
	if err != nil {
		utils.ShowError("Invalid detector command", err, nil)
		return nil, err
	}
	w, err := worker.NewPoseWorker(ctx, id, worker.Config{Command: argv, MaxSide: maxSide})
	if err != nil {
		utils.ShowError("Detector startup failed", err, nil)
		return nil, err
	}
	return detector.NewHandle(w), nil
}

// newPipeline builds a pipeline for opts. When withOverlay is set it also
// starts a detector; the returned close function releases it.
func newPipeline(ctx context.Context, opts Options, withOverlay bool) (*pipeline.Pipeline, func() error, error) {
	engine := blocks.Engine{Workers: opts.Workers}
	if !withOverlay {
		return pipeline.New(engine, nil), func() error { return nil }, nil
	}
	h, err := openDetector(ctx, 0, opts.MaxSide)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(engine, overlay.NewBridge(h, nil)), h.Close, nil
}
