package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/andresmejia3/blockfx/internal/log"
	"github.com/andresmejia3/blockfx/internal/pixel"
	"github.com/andresmejia3/blockfx/internal/types"
	"github.com/andresmejia3/blockfx/internal/utils" // Using the SafeCommand wrapper
	"golang.org/x/image/draw"
)

const (
	statusOK    = 0
	statusError = 1

	// maxPointsPerResult bounds allocations driven by a corrupt response.
	maxPointsPerResult = 1 << 16
)

// Config controls how the detector process is started and fed.
type Config struct {
	// Command is the detector argv, e.g. ["python3", "-u", "python/pose_worker.py"].
	Command []string
	// MaxSide downscales frames whose longer side exceeds it before sending.
	// Landmarks are mapped back to the original resolution. Zero disables scaling.
	MaxSide int
}

// RemoteError is an error reported by the detector process itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "detector worker error: " + e.Message
}

// PoseWorker talks to an external pose detector over pipes.
type PoseWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	MaxSide  int
}

// NewPoseWorker starts the detector process described by cfg.
func NewPoseWorker(ctx context.Context, id int, cfg Config) (*PoseWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker %d: empty detector command", id)
	}
	proc := utils.NewSafeCommand(ctx, cfg.Command[0], cfg.Command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	log.Info("detector worker started", "id", id, "cmd", cfg.Command[0], "pid", proc.Process.Pid)

	return &PoseWorker{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
		MaxSide:  cfg.MaxSide,
	}, nil
}

// Communicate sends one length-prefixed message and reads one back.
func (w *PoseWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // The process died before answering
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends a raw RGBA frame and decodes the detections.
// Request: [Width u32][Height u32][RGBA bytes]
func (w *PoseWorker) ProcessFrame(frame []byte, width, height int) ([]types.DetectionResult, error) {
	if err := pixel.Validate(frame, width, height); err != nil {
		return nil, err
	}
	req := make([]byte, 8+len(frame))
	binary.BigEndian.PutUint32(req[0:4], uint32(width))
	binary.BigEndian.PutUint32(req[4:8], uint32(height))
	copy(req[8:], frame)

	resp, err := w.Communicate(req)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}
	return parseResponse(resp)
}

// Detect implements detector.Detector.
func (w *PoseWorker) Detect(img image.Image) ([]types.DetectionResult, error) {
	input, sx, sy := prepareInput(img, w.MaxSide)
	b := input.Bounds()
	results, err := w.ProcessFrame(pixel.FromGrid(input), b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	if sx != 1 || sy != 1 {
		for i := range results {
			for j := range results[i].Landmarks.Coords {
				p := &results[i].Landmarks.Coords[j]
				p.X /= sx
				p.Y /= sy
			}
		}
	}
	return results, nil
}

// Close shuts the process down by closing its pipes.
func (w *PoseWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// prepareInput converts img to a tightly packed NRGBA, downscaled so that its
// longer side is at most maxSide. It returns the x and y scale factors applied.
func prepareInput(img image.Image, maxSide int) (*image.NRGBA, float64, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || max(w, h) <= maxSide {
		if n, ok := img.(*image.NRGBA); ok {
			return n, 1, 1
		}
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst, 1, 1
	}

	scale := float64(maxSide) / float64(max(w, h))
	dw := max(1, int(math.Round(float64(w)*scale)))
	dh := max(1, int(math.Round(float64(h)*scale)))
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, float64(dw) / float64(w), float64(dh) / float64(h)
}

// parseResponse decodes a detector reply.
// OK:    [Status:0] [NumResults u32] { [Score f32] [NumPoints u32] { [X f32] [Y f32] [Z f32] } }
// Error: [Status:1] [MsgLen u32] [Msg]
func parseResponse(resp []byte) ([]types.DetectionResult, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty detector response")
	}

	switch status {
	case statusOK:
	case statusError:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("truncated detector error: %w", err)
		}
		if int64(n) > int64(r.Len()) {
			return nil, fmt.Errorf("truncated detector error message")
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, err
		}
		return nil, &RemoteError{Message: string(msg)}
	default:
		return nil, fmt.Errorf("unknown detector status byte %d", status)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("truncated detector response: %w", err)
	}
	// Each result needs at least 8 header bytes
	if int64(count)*8 > int64(r.Len()) {
		return nil, fmt.Errorf("detector response claims %d results in %d bytes", count, r.Len())
	}

	results := make([]types.DetectionResult, 0, count)
	for i := uint32(0); i < count; i++ {
		var hdr struct {
			Score  float32
			Points uint32
		}
		if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
			return nil, fmt.Errorf("truncated result %d: %w", i, err)
		}
		if hdr.Points > maxPointsPerResult || int64(hdr.Points)*12 > int64(r.Len()) {
			return nil, fmt.Errorf("result %d claims %d points in %d bytes", i, hdr.Points, r.Len())
		}
		raw := make([]float32, 3*hdr.Points)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("truncated landmarks for result %d: %w", i, err)
		}
		coords := make([]types.Point, hdr.Points)
		for j := range coords {
			coords[j] = types.Point{
				X: float64(raw[3*j]),
				Y: float64(raw[3*j+1]),
				Z: float64(raw[3*j+2]),
			}
		}
		results = append(results, types.DetectionResult{
			Score:     float64(hdr.Score),
			Landmarks: types.Landmarks{Coords: coords},
		})
	}
	return results, nil
}
