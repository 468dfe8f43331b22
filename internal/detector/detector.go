// Package detector holds the process-wide pose detector behind an
// exclusive-access handle.
package detector

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/blockfx/internal/log"
	"github.com/andresmejia3/blockfx/internal/types"
)

var (
	// ErrDetection is returned when the detector fails internally.
	ErrDetection = errors.New("detector: detection failed")

	// ErrNoDetection is returned when the detector finds no subject.
	ErrNoDetection = errors.New("detector: no subject detected")

	// ErrClosed is returned by a handle after Close.
	ErrClosed = errors.New("detector: handle closed")
)

// Detector is a pose detection backend
type Detector interface {
	// Detect returns every subject found in img, primary subject first
	Detect(img image.Image) ([]types.DetectionResult, error)

	// Close releases resources
	Close() error
}

// Handle serializes access to one Detector. Create it once at startup and
// share the pointer; at most one Detect call runs at a time and callers
// block until the detector is free.
type Handle struct {
	mu     sync.Mutex // Protects inference
	det    Detector
	closed bool
}

// NewHandle wraps d.
func NewHandle(d Detector) *Handle {
	return &Handle{det: d}
}

// Detect runs the detector under the lock. A backend error is wrapped with
// ErrDetection and an empty result is ErrNoDetection.
func (h *Handle) Detect(img image.Image) ([]types.DetectionResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	results, err := h.det.Detect(img)
	log.Debug("detector call finished", "duration", time.Since(start), "results", len(results), "err", err)
	if err != nil {
		if errors.Is(err, ErrDetection) || errors.Is(err, ErrNoDetection) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if len(results) == 0 {
		return nil, ErrNoDetection
	}
	return results, nil
}

// Close waits for any running detection, then closes the detector.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.det.Close()
}

// Func adapts a function to the Detector interface
type Func func(img image.Image) ([]types.DetectionResult, error)

// Detect calls f(img).
func (f Func) Detect(img image.Image) ([]types.DetectionResult, error) { return f(img) }

// Close is a no-op.
func (f Func) Close() error { return nil }
