package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

func flatFrame(w, h int, gray uint8) *imageops.Frame {
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(gray), float64(gray), float64(gray), 0))
	return imageops.NewFrame(mat)
}

func TestScoreFrameMidGrayIsBright(t *testing.T) {
	f := flatFrame(100, 100, 125)
	defer f.Close()

	s, err := ScoreFrame(f)
	if err != nil {
		t.Fatalf("ScoreFrame() error = %v", err)
	}
	if s.Brightness < 99 {
		t.Errorf("Brightness = %.1f, want ~100 for mid-gray field", s.Brightness)
	}
}

func TestScoreFrameBlownOutLowersExposure(t *testing.T) {
	f := flatFrame(100, 100, 255)
	defer f.Close()

	s, err := ScoreFrame(f)
	if err != nil {
		t.Fatalf("ScoreFrame() error = %v", err)
	}
	if s.Exposure > 1 {
		t.Errorf("Exposure = %.1f, want ~0 for fully saturated frame", s.Exposure)
	}
}

func TestScoreFrameFlatFieldIsNotSharp(t *testing.T) {
	f := flatFrame(100, 100, 125)
	defer f.Close()

	s, err := ScoreFrame(f)
	if err != nil {
		t.Fatalf("ScoreFrame() error = %v", err)
	}
	if s.Sharpness != 0 {
		t.Errorf("Sharpness = %.1f, want 0 for a flat field with no edges", s.Sharpness)
	}
}

func TestCompareDimensionMismatchIsInconsistent(t *testing.T) {
	master := flatFrame(100, 100, 125)
	defer master.Close()
	test := flatFrame(50, 50, 125)
	defer test.Close()

	cmp, err := Compare(master, test)
	require.NoError(t, err)
	assert.False(t, cmp.Consistent, "mismatched dimensions must be inconsistent")
	assert.NotEmpty(t, cmp.Issues)
}

func TestCompareIdenticalFramesNoWarnings(t *testing.T) {
	master := flatFrame(100, 100, 125)
	defer master.Close()
	test := flatFrame(100, 100, 125)
	defer test.Close()

	cmp, err := Compare(master, test)
	require.NoError(t, err)
	assert.True(t, cmp.Consistent)
	assert.Empty(t, cmp.Warnings)
}

func TestCompareBrightnessDriftWarns(t *testing.T) {
	master := flatFrame(100, 100, 200)
	defer master.Close()
	test := flatFrame(100, 100, 50)
	defer test.Close()

	cmp, err := Compare(master, test)
	require.NoError(t, err)
	assert.True(t, cmp.Consistent, "brightness drift is advisory only")
	assert.NotEmpty(t, cmp.Warnings)
}
