// Package quality scores captured frames for exposure and focus problems,
// and flags drift between the master frame a program was configured against
// and the frame a running inspection is currently seeing.
package quality

import (
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// Score is a frame's brightness/sharpness/exposure breakdown, each in [0,100].
type Score struct {
	Brightness float64
	Sharpness  float64
	Exposure   float64
	Overall    float64
}

// ScoreFrame computes brightness, sharpness, exposure, and overall score for frame.
func ScoreFrame(frame *imageops.Frame) (Score, error) {
	gray, err := imageops.ToGray(frame)
	if err != nil {
		return Score{}, fmt.Errorf("score frame: %w", err)
	}
	defer gray.Close()

	mean, err := imageops.MeanGray(gray)
	if err != nil {
		return Score{}, fmt.Errorf("score frame: mean: %w", err)
	}
	lapVar, err := imageops.LaplacianVariance(gray)
	if err != nil {
		return Score{}, fmt.Errorf("score frame: laplacian: %w", err)
	}
	// Cuts of 4 and 251 count pixels strictly below 5 and strictly above 250.
	fracLow, fracHigh, err := imageops.ExtremeFractions(gray, 4, 251)
	if err != nil {
		return Score{}, fmt.Errorf("score frame: extremes: %w", err)
	}

	brightness := clamp100(100 * (1 - absf(mean-125)/125))
	sharpness := clamp100(lapVar / 5)
	exposure := clamp100(100 * (1 - fracHigh - fracLow))
	overall := 0.3*brightness + 0.5*sharpness + 0.2*exposure

	return Score{
		Brightness: brightness,
		Sharpness:  sharpness,
		Exposure:   exposure,
		Overall:    overall,
	}, nil
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Comparison reports whether a test frame is still consistent with the
// master frame a program was configured against.
type Comparison struct {
	Consistent bool
	Issues     []string
	Warnings   []string
}

// Compare checks test against master. Dimension mismatch is a hard issue
// (not consistent); brightness drift, sharpness drift, and low overall
// scores are advisory warnings that never block inspection.
func Compare(master, test *imageops.Frame) (Comparison, error) {
	if master.Width != test.Width || master.Height != test.Height {
		return Comparison{
			Consistent: false,
			Issues: []string{fmt.Sprintf(
				"frame size %dx%d does not match master %dx%d",
				test.Width, test.Height, master.Width, master.Height)},
		}, nil
	}

	masterGray, err := imageops.ToGray(master)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare: master gray: %w", err)
	}
	defer masterGray.Close()
	testGray, err := imageops.ToGray(test)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare: test gray: %w", err)
	}
	defer testGray.Close()

	meanMaster, err := imageops.MeanGray(masterGray)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare: mean master: %w", err)
	}
	meanTest, err := imageops.MeanGray(testGray)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare: mean test: %w", err)
	}

	masterScore, err := ScoreFrame(master)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare: score master: %w", err)
	}
	testScore, err := ScoreFrame(test)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare: score test: %w", err)
	}

	var warnings []string
	if meanMaster != 0 && absf(meanMaster-meanTest) > 0.2*absf(meanMaster) {
		warnings = append(warnings, fmt.Sprintf(
			"mean brightness drifted from %.1f to %.1f", meanMaster, meanTest))
	}
	if masterScore.Sharpness != 0 {
		ratio := testScore.Sharpness / masterScore.Sharpness
		if ratio < 0.7 || ratio > 1.3 {
			warnings = append(warnings, fmt.Sprintf(
				"sharpness ratio %.2f outside [0.7,1.3]", ratio))
		}
	}
	if masterScore.Overall < 50 {
		warnings = append(warnings, fmt.Sprintf("master overall score %.1f below 50", masterScore.Overall))
	}
	if testScore.Overall < 50 {
		warnings = append(warnings, fmt.Sprintf("test overall score %.1f below 50", testScore.Overall))
	}

	return Comparison{Consistent: true, Warnings: warnings}, nil
}
