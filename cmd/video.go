package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/detector"
	"github.com/andresmejia3/blockfx/internal/log"
	"github.com/andresmejia3/blockfx/internal/pipeline"
	"github.com/andresmejia3/blockfx/internal/types"
	"github.com/andresmejia3/blockfx/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var videoOpts Options

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Apply a block transform or pose overlay to every frame of a video",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runVideo(cmd.Context(), videoOpts)
	},
}

func init() {
	videoCmd.Flags().StringSliceVarP(&videoOpts.InputPaths, "input", "i", nil, "Path to input video")
	videoCmd.Flags().StringVarP(&videoOpts.OutputPath, "output", "o", "blocked.mp4", "Path to output video")
	videoCmd.Flags().IntVarP(&videoOpts.SquareSize, "square", "s", 16, "Block edge length in pixels")
	videoCmd.Flags().StringVarP(&videoOpts.Kind, "kind", "k", "pixelate", "Transform: identity, pixelate, greyscale")
	videoCmd.Flags().IntVarP(&videoOpts.NumEngines, "engines", "e", 2, "Number of frames processed in parallel")
	videoCmd.Flags().BoolVar(&videoOpts.Overlay, "overlay", false, "Draw pose landmarks instead of block transforms")
	videoCmd.Flags().IntVar(&videoOpts.MaxSide, "max-side", 640, "Downscale detector input so its longer side is at most this many pixels (0 = off)")

	videoCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(videoCmd)
}

// frameBufferPool recycles decoded frame buffers.
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 1024*1024) },
}

type videoResult struct {
	Index int
	Data  []byte
	Raw   []byte // pooled decode buffer, returned once Data is written
}

// processVideoFrame runs one decoded frame through the pipeline. In overlay
// mode a frame without a subject is passed through unchanged.
func processVideoFrame(p *pipeline.Pipeline, opts Options, kind blocks.Kind, frame []byte, width, height int) ([]byte, error) {
	if !opts.Overlay {
		return p.Frame(frame, width, height, opts.SquareSize, kind)
	}
	out, err := p.OverlayFrame(frame, width, height)
	if errors.Is(err, detector.ErrNoDetection) {
		return frame, nil
	}
	return out, err
}

func runVideo(ctx context.Context, opts Options) error {
	// Cancelling kills ffmpeg and the detector if we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateVideoFlags(&opts); err != nil {
		return err
	}
	input := opts.InputPaths[0]

	fps, err := utils.GetVideoFPS(ctx, input)
	if err != nil {
		utils.ShowError("Failed to determine video FPS", err, nil)
		return err
	}
	width, height, err := utils.GetVideoDimensions(ctx, input)
	if err != nil {
		utils.ShowError("Failed to determine video dimensions", err, nil)
		return err
	}
	totalFrames := utils.GetTotalFrames(ctx, input)

	if opts.Overlay {
		fmt.Fprintln(os.Stderr, "🚀 Warming up detector...")
	}
	p, closeFn, err := newPipeline(ctx, opts, opts.Overlay)
	if err != nil {
		return err
	}
	defer closeFn()

	kind := blocks.ParseKind(opts.Kind)
	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan videoResult, opts.NumEngines*2)
	errChan := make(chan error, opts.NumEngines+2)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for task := range taskChan {
				out, err := processVideoFrame(p, opts, kind, task.Data, width, height)
				if err != nil {
					log.Error("frame failed", "engine", id, "frame", task.Index, "err", err)
					select {
					case errChan <- fmt.Errorf("frame %d: %w", task.Index, err):
					default:
					}
					return
				}
				select {
				case resultsChan <- videoResult{Index: task.Index, Data: out, Raw: task.Data}:
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	decoder := utils.NewFFmpegRawDecoder(ctx, input)
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create decoder pipe", err, nil)
		return err
	}
	if err := decoder.Start(); err != nil {
		utils.ShowError("Failed to start decoder", err, nil)
		return err
	}

	encoder := utils.NewFFmpegEncoder(ctx, opts.OutputPath, fps, width, height)
	encoderIn, err := encoder.StdinPipe()
	if err != nil {
		utils.ShowError("Failed to create encoder pipe", err, nil)
		return err
	}
	if err := encoder.Start(); err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}

	go func() {
		defer close(taskChan)
		frameSize := width * height * 4
		idx := 0
		for {
			buf := frameBufferPool.Get().([]byte)
			if cap(buf) < frameSize {
				buf = make([]byte, frameSize)
			}
			buf = buf[:frameSize]

			if _, err := io.ReadFull(decoderOut, buf); err != nil {
				// EOF or a truncated final frame
				frameBufferPool.Put(buf)
				return
			}

			select {
			case taskChan <- types.FrameTask{Index: idx, Data: buf}:
				idx++
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // Spinner mode
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	// Engines finish out of order; buffer until the next index arrives.
	buffer := make(map[int]videoResult)
	nextFrame := 0

	for done := false; !done; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			utils.ShowError("Frame processing failed", err, nil)
			return err
		case res, ok := <-resultsChan:
			if !ok {
				done = true
				break
			}
			buffer[res.Index] = res

			for {
				frame, ok := buffer[nextFrame]
				if !ok {
					break
				}
				delete(buffer, nextFrame)

				if _, err := encoderIn.Write(frame.Data); err != nil {
					utils.ShowError("Encoder write failed", err, nil)
					return err
				}
				frameBufferPool.Put(frame.Raw)

				bar.Add(1)
				nextFrame++
			}
		}
	}

	// A worker may have failed just before resultsChan closed.
	select {
	case err := <-errChan:
		utils.ShowError("Frame processing failed", err, nil)
		return err
	default:
	}

	encoderIn.Close()
	if err := encoder.Wait(); err != nil {
		utils.ShowError("Encoder process failed", err, nil)
		return err
	}
	if err := decoder.Wait(); err != nil {
		utils.ShowError("Decoder process failed", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "\n✅ Wrote %d frame(s) to %s\n", nextFrame, opts.OutputPath)
	return nil
}

func validateVideoFlags(opts *Options) error {
	if err := validateInputs(opts.InputPaths); err != nil {
		return err
	}
	if len(opts.InputPaths) != 1 {
		err := fmt.Errorf("video takes exactly one --input, got %d", len(opts.InputPaths))
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	// Prevent overwriting the input file, which corrupts it mid-read.
	inAbs, _ := filepath.Abs(opts.InputPaths[0])
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.MaxSide < 0 {
		opts.MaxSide = 0
	}
	if opts.Overlay {
		return nil
	}
	return validateBlockFlags(opts)
}
