package tool

import (
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// searchMargin is the number of pixels the position-adjustment search
// window extends beyond the master ROI on each side.
const searchMargin = 50

// PositionAdjustTool locates the master ROI's content in the test frame via
// template correlation over an expanded search window, producing the
// (dx,dy) offset the engine applies to every other tool for the cycle.
type PositionAdjustTool struct {
	spec     Spec
	state    State
	template *imageops.Frame
}

func NewPositionAdjustTool(spec Spec) *PositionAdjustTool {
	return &PositionAdjustTool{spec: spec, state: Unconfigured}
}

func (t *PositionAdjustTool) Name() string { return t.spec.Name }
func (t *PositionAdjustTool) State() State { return t.state }

func (t *PositionAdjustTool) Configure(master *imageops.Frame) error {
	crop, err := imageops.Crop(master, t.spec.ROI)
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "position_adjust", Err: err}
	}
	gray, err := imageops.ToGray(crop)
	crop.Close()
	if err != nil {
		t.state = FailedToConfigure
		return &ConfigurationError{Kind: "position_adjust", Err: err}
	}

	if t.template != nil {
		t.template.Close()
	}
	t.template = gray
	t.state = Configured
	return nil
}

// searchWindow computes the (clipped) search rectangle and its top-left
// offset relative to the master ROI's origin.
func (t *PositionAdjustTool) searchWindow(frameW, frameH int) (roi imageops.ROI, originDX, originDY int) {
	x0 := t.spec.ROI.X - searchMargin
	y0 := t.spec.ROI.Y - searchMargin
	x1 := t.spec.ROI.X + t.spec.ROI.W + searchMargin
	y1 := t.spec.ROI.Y + t.spec.ROI.H + searchMargin

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > frameW {
		x1 = frameW
	}
	if y1 > frameH {
		y1 = frameH
	}

	return imageops.ROI{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, t.spec.ROI.X - x0, t.spec.ROI.Y - y0
}

// Evaluate returns the offset needed to re-align the master ROI's content
// in the test frame. Offset is always relative to the master ROI's
// un-shifted origin, independent of the incoming offset argument.
func (t *PositionAdjustTool) Evaluate(test *imageops.Frame, _ Offset) Result {
	if t.state != Configured {
		return notConfiguredResult(fmt.Sprintf("position_adjust tool is %s", t.state))
	}

	window, originDX, originDY := t.searchWindow(test.Width, test.Height)
	search, err := imageops.Crop(test, window)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer search.Close()

	searchGray, err := imageops.ToGray(search)
	if err != nil {
		return notConfiguredResult(err.Error())
	}
	defer searchGray.Close()

	matchX, matchY, score, err := imageops.TemplateCorrelate(searchGray, t.template)
	if err != nil {
		return notConfiguredResult(err.Error())
	}

	dx := matchX - originDX
	dy := matchY - originDY
	matchingRate := 100 * score

	verdict := judge(t.spec, matchingRate)
	if verdict == NG {
		// Per-spec: a failed position lock resets the offset used by the
		// rest of the cycle but this tool's own verdict still reports NG.
		dx, dy = 0, 0
	}
	return Result{MatchingRate: matchingRate, Verdict: verdict, Offset: Offset{DX: dx, DY: dy}}
}
