package framesource

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// CameraSource captures frames from a V4L2-backed camera device via gocv's
// VideoCapture binding. Brightness mode is mapped onto the device's
// auto-exposure and gain controls; focus is a 0-100 value mapped onto the
// device's absolute focus range.
type CameraSource struct {
	mu       sync.Mutex
	cap      *gocv.VideoCapture
	width    int
	height   int
	deviceID int
}

// OpenCamera opens the given V4L2 device index.
func OpenCamera(deviceID int) (*CameraSource, error) {
	cap, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", deviceID, err)
	}
	w := int(cap.Get(gocv.VideoCaptureFrameWidth))
	h := int(cap.Get(gocv.VideoCaptureFrameHeight))
	return &CameraSource{cap: cap, width: w, height: h, deviceID: deviceID}, nil
}

// Dimensions returns the camera's negotiated frame size.
func (c *CameraSource) Dimensions() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Close releases the underlying video device.
func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cap.Close()
}

// Capture grabs a single frame with the given brightness mode and focus
// applied, and blocks until the driver returns it or ctx is cancelled.
func (c *CameraSource) Capture(ctx context.Context, mode BrightnessMode, focus int) (*imageops.Frame, error) {
	if !mode.Valid() {
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: fmt.Errorf("invalid brightness mode")}
	}
	if focus < 0 || focus > 100 {
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: fmt.Errorf("focus out of range [0,100]")}
	}

	type result struct {
		frame *imageops.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		f, err := c.captureSync(mode, focus)
		done <- result{f, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: ctx.Err()}
	case r := <-done:
		return r.frame, r.err
	}
}

func (c *CameraSource) captureSync(mode BrightnessMode, focus int) (*imageops.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyBrightnessMode(mode)
	c.cap.Set(gocv.VideoCaptureFocus, float64(focus)*6.55) // 0-100 -> device's 0-655 absolute focus range

	mat := gocv.NewMat()
	if ok := c.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: fmt.Errorf("driver returned no frame")}
	}
	if c.width == 0 {
		c.width, c.height = mat.Cols(), mat.Rows()
	} else if mat.Cols() != c.width || mat.Rows() != c.height {
		got := fmt.Sprintf("%dx%d", mat.Cols(), mat.Rows())
		mat.Close()
		return nil, &CaptureError{Mode: mode, Focus: focus, Err: fmt.Errorf("frame size changed to %s, expected %dx%d", got, c.width, c.height)}
	}
	return imageops.NewFrame(mat), nil
}

func (c *CameraSource) applyBrightnessMode(mode BrightnessMode) {
	switch mode {
	case BrightnessNormal:
		c.cap.Set(gocv.VideoCaptureAutoExposure, 1)
		c.cap.Set(gocv.VideoCaptureGain, 0)
	case BrightnessHDR:
		c.cap.Set(gocv.VideoCaptureAutoExposure, 3)
	case BrightnessHighGain:
		c.cap.Set(gocv.VideoCaptureAutoExposure, 1)
		c.cap.Set(gocv.VideoCaptureGain, 80)
	}
}

// AutoOptimize sweeps focus from 0 to 100 and returns the value that
// maximizes Laplacian-variance sharpness. It is a preview-time operation,
// never called from the inspection cycle.
func (c *CameraSource) AutoOptimize(ctx context.Context, mode BrightnessMode) (int, error) {
	best, bestScore := 0, -1.0
	for focus := 0; focus <= 100; focus += 5 {
		frame, err := c.Capture(ctx, mode, focus)
		if err != nil {
			return 0, err
		}
		gray, err := imageops.ToGray(frame)
		if err != nil {
			frame.Close()
			return 0, err
		}
		score, err := imageops.LaplacianVariance(gray)
		gray.Close()
		frame.Close()
		if err != nil {
			return 0, err
		}
		if score > bestScore {
			bestScore, best = score, focus
		}
		select {
		case <-ctx.Done():
			return best, ctx.Err()
		default:
		}
	}
	return best, nil
}
