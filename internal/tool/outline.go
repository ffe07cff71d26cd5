package tool

import (
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// cannyLow and cannyHigh are the fixed hysteresis thresholds used by every
// edge-based tool (outline, edge_count). The spec flags per-program tuning
// of these as an open question; we keep them fixed and global for now,
// matching every seed test scenario, and can promote them to Program
// fields later without changing the tool's internals.
const (
	cannyLow  = 50
	cannyHigh = 150
)

// maxHu bounds the outline tool's Hu-distance normalization. Chosen from
// observed log-Hu distances between visually similar shapes (typically
// under 2) vs. clearly different shapes (typically well over 6); values
// above this are treated as a complete mismatch (0% matching on that term).
const maxHu = 6.0

// OutlineTool compares shape via Hu moments and template correlation of the
// Canny edge mask, blended 50/50.
type OutlineTool struct {
	spec     Spec
	state    State
	template *imageops.Frame
	hu       [7]float64
}

// NewOutlineTool returns an unconfigured outline tool for spec.
func NewOutlineTool(spec Spec) *OutlineTool {
	return &OutlineTool{spec: spec, state: Unconfigured}
}

func (t *OutlineTool) Name() string  { return t.spec.Name }
func (t *OutlineTool) State() State  { return t.state }

// Configure extracts the master edge mask and its Hu-moment vector.
func (t *OutlineTool) Configure(master *imageops.Frame) error {
	crop, err := imageops.Crop(master, t.spec.ROI)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "outline", Err: err}
	}
	defer crop.Close()

	gray, err := imageops.ToGray(crop)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "outline", Err: err}
	}
	defer gray.Close()

	edges, err := imageops.Canny(gray, cannyLow, cannyHigh)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "outline", Err: err}
	}

	hu, err := imageops.HuMoments(edges)
	if err != nil {
		edges.Close()
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "outline", Err: err}
	}

	if t.template != nil {
		t.template.Close()
	}
	t.template = edges
	t.hu = hu
	t.state = Configured
	return nil
}

// Evaluate blends a Hu-moment distance score with template correlation of
// the test ROI's edge mask against the master's.
func (t *OutlineTool) Evaluate(test *imageops.Frame, offset Offset) Result {
	if t.state != Configured {
		return notConfiguredResult(fmt.Sprintf("outline tool is %s", t.state))
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

	testHu, err := imageops.HuMoments(edges)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	huScore := 1 - imageops.HuDistance(t.hu, testHu)/maxHu
	if huScore < 0 {
		huScore = 0
	}

	_, _, corrScore, err := imageops.TemplateCorrelate(edges, t.template)
	if err != nil {
		return notConfiguredResult(err.Error())
	}

	matchingRate := 100 * (0.5*huScore + 0.5*corrScore)
	return Result{MatchingRate: matchingRate, Verdict: judge(t.spec, matchingRate)}
}
