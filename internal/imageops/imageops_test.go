package imageops

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

func solidFrame(w, h int, c color.RGBA) *Frame {
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0))
	return NewFrame(mat)
}

func TestROIValidate(t *testing.T) {
	cases := []struct {
		name    string
		roi     ROI
		w, h    int
		wantErr bool
	}{
		{"fits", ROI{X: 0, Y: 0, W: 10, H: 10}, 10, 10, false},
		{"zero width", ROI{X: 0, Y: 0, W: 0, H: 10}, 10, 10, true},
		{"negative origin", ROI{X: -1, Y: 0, W: 10, H: 10}, 10, 10, true},
		{"overflow", ROI{X: 5, Y: 0, W: 10, H: 10}, 10, 10, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.roi.Validate(tc.w, tc.h)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestROIShift(t *testing.T) {
	r := ROI{X: 10, Y: 20, W: 5, H: 5}
	shifted := r.Shift(3, -4)
	if shifted.X != 13 || shifted.Y != 16 || shifted.W != 5 || shifted.H != 5 {
		t.Errorf("Shift() = %+v, want X=13 Y=16 W=5 H=5", shifted)
	}
}

func TestCropOutOfBounds(t *testing.T) {
	f := solidFrame(20, 20, color.RGBA{R: 255})
	defer f.Close()
	_, err := Crop(f, ROI{X: 15, Y: 15, W: 10, H: 10})
	if err == nil {
		t.Fatal("expected out-of-bounds crop to fail")
	}
}

func TestCropDimensions(t *testing.T) {
	f := solidFrame(100, 80, color.RGBA{G: 255})
	defer f.Close()
	sub, err := Crop(f, ROI{X: 10, Y: 10, W: 30, H: 20})
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	defer sub.Close()
	if sub.Width != 30 || sub.Height != 20 {
		t.Errorf("Crop() size = %dx%d, want 30x20", sub.Width, sub.Height)
	}
}

func TestOtsuThresholdSeparatesBimodal(t *testing.T) {
	mat := gocv.NewMatWithSize(40, 40, gocv.MatTypeCV8UC1)
	defer mat.Close()
	mat.SetTo(gocv.NewScalar(20, 0, 0, 0))
	bright := mat.Region(image.Rect(0, 0, 20, 40))
	bright.SetTo(gocv.NewScalar(220, 0, 0, 0))
	bright.Close()
	f := NewFrame(mat.Clone())
	defer f.Close()

	thresh, mask, err := OtsuThreshold(f)
	if err != nil {
		t.Fatalf("OtsuThreshold() error = %v", err)
	}
	defer mask.Close()
	if thresh < 40 || thresh > 200 {
		t.Errorf("OtsuThreshold() threshold = %v, want roughly between the two modes", thresh)
	}
	count := CountNonZero(mask)
	// Half the pixels (the bright region) should be above threshold.
	if count < 700 || count > 900 {
		t.Errorf("CountNonZero() = %d, want ~800 (20x40 bright half)", count)
	}
}

func TestHuDistanceZeroForIdenticalVectors(t *testing.T) {
	v := [7]float64{0.1, -0.02, 0.003, 0.0004, 0.00005, -0.000006, 0.0000007}
	if d := HuDistance(v, v); d > 1e-9 {
		t.Errorf("HuDistance(v, v) = %v, want ~0", d)
	}
}

func TestClampHSVBoundsWraps(t *testing.T) {
	b := ClampHSVBounds(5, 200, 200, 15, 40, 40)
	if b.LowH <= b.HighH {
		t.Errorf("expected hue wraparound, got LowH=%v HighH=%v", b.LowH, b.HighH)
	}
}
