package tool

import (
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

const (
	colorHueTol = 15
	colorSatTol = 40
	colorValTol = 40
)

// ColorAreaTool matches the count of pixels within an HSV band derived from
// the master ROI's median color.
type ColorAreaTool struct {
	spec        Spec
	state       State
	bounds      imageops.HSVBounds
	masterCount int
}

func NewColorAreaTool(spec Spec) *ColorAreaTool {
	return &ColorAreaTool{spec: spec, state: Unconfigured}
}

func (t *ColorAreaTool) Name() string { return t.spec.Name }
func (t *ColorAreaTool) State() State { return t.state }

func (t *ColorAreaTool) Configure(master *imageops.Frame) error {
	crop, err := imageops.Crop(master, t.spec.ROI)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "color_area", Err: err}
	}
	defer crop.Close()

	hsv, err := imageops.ToHSV(crop)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "color_area", Err: err}
	}
	defer hsv.Close()

	medians, err := imageops.ChannelMedians(hsv)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "color_area", Err: err}
	}

	bounds := imageops.ClampHSVBounds(medians[0], medians[1], medians[2], colorHueTol, colorSatTol, colorValTol)
	count, err := imageops.CountInHSVRange(hsv, bounds)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "color_area", Err: err}
	}
	if count == 0 {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "color_area", Err: fmt.Errorf("master ROI has zero pixels in its own color band")}
	}

	t.bounds = bounds
	t.masterCount = count
	t.state = Configured
	return nil
}

func (t *ColorAreaTool) Evaluate(test *imageops.Frame, offset Offset) Result {
	if t.state != Configured {
		return notConfiguredResult(fmt.Sprintf("color_area tool is %s", t.state))
	}

	roi := shiftedROI(t.spec, offset)
	crop, err := imageops.Crop(test, roi)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer crop.Close()

	hsv, err := imageops.ToHSV(crop)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer hsv.Close()

	testCount, err := imageops.CountInHSVRange(hsv, t.bounds)
	if err != nil {
		return notConfiguredResult(err.Error())
	}

	matchingRate := 100 * float64(testCount) / float64(t.masterCount)
	if matchingRate > 100 {
		matchingRate = 100
	}
	return Result{MatchingRate: matchingRate, Verdict: judge(t.spec, matchingRate)}
}
