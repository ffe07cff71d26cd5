package framesource

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

func rectOf(x, y, w, h int) image.Rectangle {
	return image.Rect(x, y, x+w, y+h)
}

// SimulatedSource returns deterministic synthetic frames for development and
// tests, honoring the same (width,height) and CaptureError contract as
// CameraSource. It generates a flat gray field with a bright square so that
// tools have something non-trivial to evaluate, optionally shifted to
// exercise position-adjustment.
type SimulatedSource struct {
	mu          sync.Mutex
	width       int
	height      int
	shiftX      int
	shiftY      int
	failNext    bool
	failPattern map[int]error
	cycle       int
}

// NewSimulatedSource creates a simulated source producing width x height frames.
func NewSimulatedSource(width, height int) *SimulatedSource {
	return &SimulatedSource{width: width, height: height}
}

// Dimensions returns the configured frame size.
func (s *SimulatedSource) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Close is a no-op for the simulated source.
func (s *SimulatedSource) Close() error { return nil }

// SetShift moves the synthetic marker/square by (dx,dy) for subsequent
// captures, used to exercise position-adjustment tools in tests.
func (s *SimulatedSource) SetShift(dx, dy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shiftX, s.shiftY = dx, dy
}

// FailOnCycle makes the Nth capture (1-indexed) return err instead of a frame.
func (s *SimulatedSource) FailOnCycle(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPattern == nil {
		s.failPattern = make(map[int]error)
	}
	s.failPattern[n] = err
}

// Capture returns the next synthetic frame, or a scripted failure.
func (s *SimulatedSource) Capture(ctx context.Context, mode BrightnessMode, focus int) (*imageops.Frame, error) {
	if !mode.Valid() {
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: fmt.Errorf("invalid brightness mode")}
	}

	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	dx, dy := s.shiftX, s.shiftY
	scriptedErr := s.failPattern[cycle]
	s.mu.Unlock()

	if scriptedErr != nil {
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: scriptedErr}
	}

	select {
	case <-ctx.Done():
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: ctx.Err()}
	default:
	}

	mat := gocv.NewMatWithSize(s.height, s.width, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(125, 125, 125, 0))
	drawSquare(&mat, s.width/2+dx-s.width/8, s.height/2+dy-s.height/8, s.width/4, s.height/4)
	return imageops.NewFrame(mat), nil
}

// AutoOptimize returns a fixed mid-range focus value; sharpness does not
// depend on focus in the simulation.
func (s *SimulatedSource) AutoOptimize(ctx context.Context, mode BrightnessMode) (int, error) {
	return 50, nil
}

func drawSquare(mat *gocv.Mat, x, y, w, h int) {
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > mat.Cols() {
		w = mat.Cols() - x
	}
	if y+h > mat.Rows() {
		h = mat.Rows() - y
	}
	if w <= 0 || h <= 0 {
		return
	}
	region := mat.Region(rectOf(x, y, w, h))
	defer region.Close()
	region.SetTo(gocv.NewScalar(220, 220, 220, 0))
}
