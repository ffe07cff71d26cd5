package tool

import (
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// AreaTool matches pixel count above the master's Otsu threshold, reusing
// that threshold for the test frame so drift in the test scene shows up as
// a falling match rate instead of being re-absorbed by recomputing Otsu.
type AreaTool struct {
	spec        Spec
	state       State
	threshold   float64
	masterArea  int
}

func NewAreaTool(spec Spec) *AreaTool {
	return &AreaTool{spec: spec, state: Unconfigured}
}

func (t *AreaTool) Name() string { return t.spec.Name }
func (t *AreaTool) State() State { return t.state }

func (t *AreaTool) Configure(master *imageops.Frame) error {
	crop, err := imageops.Crop(master, t.spec.ROI)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "area", Err: err}
	}
	defer crop.Close()

	gray, err := imageops.ToGray(crop)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "area", Err: err}
	}
	defer gray.Close()

	threshold, mask, err := imageops.OtsuThreshold(gray)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "area", Err: err}
	}
	defer mask.Close()

	area := imageops.CountNonZero(mask)
	if area == 0 {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "area", Err: fmt.Errorf("master ROI has zero area above Otsu threshold")}
	}

	t.threshold = threshold
	t.masterArea = area
	t.state = Configured
	return nil
}

func (t *AreaTool) Evaluate(test *imageops.Frame, offset Offset) Result {
	if t.state != Configured {
		return notConfiguredResult(fmt.Sprintf("area tool is %s", t.state))
	}

	roi := shiftedROI(t.spec, offset)
	crop, err := imageops.Crop(test, roi)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer crop.Close()

	gray, err := imageops.ToGray(crop)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer gray.Close()

	mask, err := imageops.ThresholdAt(gray, t.threshold)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer mask.Close()

	testArea := imageops.CountNonZero(mask)
	matchingRate := symmetricRatio(testArea, t.masterArea)
	return Result{MatchingRate: matchingRate, Verdict: judge(t.spec, matchingRate)}
}

// symmetricRatio returns 100*min(a,b)/max(a,b), 0 if both are 0.
func symmetricRatio(a, b int) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return 100 * float64(lo) / float64(hi)
}
