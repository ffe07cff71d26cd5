// Package framesource abstracts image capture from a physical or simulated
// camera. It mirrors the teacher's serialmux package: a small interface with
// a real, hardware-backed implementation and a deterministic mock used in
// tests and development, both honoring the same (width,height) and error
// contract.
package framesource

import (
	"context"
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// BrightnessMode selects the camera's exposure strategy for a capture.
type BrightnessMode string

const (
	BrightnessNormal   BrightnessMode = "normal"
	BrightnessHDR      BrightnessMode = "hdr"
	BrightnessHighGain BrightnessMode = "high_gain"
)

// Valid reports whether m is one of the known brightness modes.
func (m BrightnessMode) Valid() bool {
	switch m {
	case BrightnessNormal, BrightnessHDR, BrightnessHighGain:
		return true
	}
	return false
}

// CaptureError indicates a hardware fault during capture. The engine treats
// it as a per-cycle failure, not a fatal one.
type CaptureError struct {
	Mode  BrightnessMode
	Focus int
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed (mode=%s focus=%d): %v", e.Mode, e.Focus, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Source captures single frames from a camera. Implementations must return
// frames whose (Width,Height) are stable for the lifetime of the source.
type Source interface {
	// Capture blocks until a frame is available or ctx is done.
	Capture(ctx context.Context, mode BrightnessMode, focus int) (*imageops.Frame, error)

	// Dimensions returns the (width,height) this source produces, or
	// (0,0) if unknown until the first capture.
	Dimensions() (width, height int)

	// Close releases any camera handle held by the source.
	Close() error
}

// AutoOptimizer sweeps focus to maximize QualityAssessor sharpness. It is an
// external-preview concern, not part of the per-cycle inspection loop.
type AutoOptimizer interface {
	AutoOptimize(ctx context.Context, mode BrightnessMode) (focus int, err error)
}
