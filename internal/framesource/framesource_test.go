package framesource

import (
	"context"
	"errors"
	"testing"
)

func TestSimulatedSourceDimensionsStable(t *testing.T) {
	s := NewSimulatedSource(640, 480)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		frame, err := s.Capture(ctx, BrightnessNormal, 50)
		if err != nil {
			t.Fatalf("Capture() error = %v", err)
		}
		if frame.Width != 640 || frame.Height != 480 {
			t.Errorf("Capture() size = %dx%d, want 640x480", frame.Width, frame.Height)
		}
		frame.Close()
	}
}

func TestSimulatedSourceInvalidMode(t *testing.T) {
	s := NewSimulatedSource(640, 480)
	_, err := s.Capture(context.Background(), BrightnessMode("bogus"), 50)
	if err == nil {
		t.Fatal("expected error for invalid brightness mode")
	}
	var captureErr *CaptureError
	if !errors.As(err, &captureErr) {
		t.Errorf("expected *CaptureError, got %T", err)
	}
}

func TestSimulatedSourceFailOnCycle(t *testing.T) {
	s := NewSimulatedSource(320, 240)
	wantErr := errors.New("sensor timeout")
	s.FailOnCycle(3, wantErr)

	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		frame, err := s.Capture(ctx, BrightnessNormal, 10)
		if i == 3 {
			if err == nil {
				t.Fatalf("cycle %d: expected scripted failure", i)
			}
			continue
		}
		if err != nil {
			t.Fatalf("cycle %d: unexpected error %v", i, err)
		}
		frame.Close()
	}
}

func TestBrightnessModeValid(t *testing.T) {
	for _, m := range []BrightnessMode{BrightnessNormal, BrightnessHDR, BrightnessHighGain} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if BrightnessMode("unknown").Valid() {
		t.Error(`"unknown" should not be valid`)
	}
}
