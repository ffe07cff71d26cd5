package tool

import (
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// EdgeCountTool matches Canny edge-pixel density between master and test.
type EdgeCountTool struct {
	spec             Spec
	state            State
	masterEdgePixels int
}

func NewEdgeCountTool(spec Spec) *EdgeCountTool {
	return &EdgeCountTool{spec: spec, state: Unconfigured}
}

func (t *EdgeCountTool) Name() string { return t.spec.Name }
func (t *EdgeCountTool) State() State { return t.state }

func (t *EdgeCountTool) Configure(master *imageops.Frame) error {
	crop, err := imageops.Crop(master, t.spec.ROI)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "edge_count", Err: err}
	}
	defer crop.Close()

	gray, err := imageops.ToGray(crop)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "edge_count", Err: err}
	}
	defer gray.Close()

	edges, err := imageops.Canny(gray, cannyLow, cannyHigh)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "edge_count", Err: err}
	}
	defer edges.Close()

	count := imageops.CountNonZero(edges)
	if count == 0 {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "edge_count", Err: fmt.Errorf("master ROI has zero edge pixels")}
	}

	t.masterEdgePixels = count
	t.state = Configured
	return nil
}

func (t *EdgeCountTool) Evaluate(test *imageops.Frame, offset Offset) Result {
	if t.state != Configured {
		return notConfiguredResult(fmt.Sprintf("edge_count tool is %s", t.state))
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

	edges, err := imageops.Canny(gray, cannyLow, cannyHigh)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer edges.Close()

	testEdgePixels := imageops.CountNonZero(edges)
	matchingRate := symmetricRatio(testEdgePixels, t.masterEdgePixels)
	return Result{MatchingRate: matchingRate, Verdict: judge(t.spec, matchingRate)}
}
