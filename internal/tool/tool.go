// Package tool implements the inspection tool family: five detector kinds
// that share a configure/evaluate lifecycle over a region of interest.
package tool

import (
	"fmt"

	"github.com/lumenforge/visioncheck/internal/imageops"
)

// Verdict is a tool's or cycle's pass/fail judgment.
type Verdict string

const (
	OK Verdict = "OK"
	NG Verdict = "NG"
)

// State is where a tool sits in its configure/evaluate lifecycle.
type State string

const (
	Unconfigured      State = "unconfigured"
	Configured        State = "configured"
	FailedToConfigure State = "failed_to_configure"
)

// ConfigurationError indicates configure() could not extract features from
// the master frame. Per tool, this is the hard correctness point: a tool
// stuck here always matches at 0%.
type ConfigurationError struct {
	Kind string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configure %s tool: %v", e.Kind, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Offset is the (dx,dy) shift applied to a tool's ROI for one cycle, as
// produced by the position-adjustment tool.
type Offset struct {
	DX, DY int
}

// Result is the outcome of one evaluate() call.
type Result struct {
	MatchingRate float64
	Verdict      Verdict
	// Offset is populated only by the position-adjustment tool.
	Offset     Offset
	Diagnostic string
}

// Spec is a tool's static configuration: its kind, ROI, and pass thresholds.
type Spec struct {
	Name        string
	Kind        string
	ROI         imageops.ROI
	Threshold   float64
	UpperLimit  *float64 // nil means no upper bound
}

// judge applies the threshold/upper_limit rule common to every tool.
func judge(spec Spec, matchingRate float64) Verdict {
	if spec.UpperLimit == nil {
		if matchingRate >= spec.Threshold {
			return OK
		}
		return NG
	}
	if matchingRate >= spec.Threshold && matchingRate <= *spec.UpperLimit {
		return OK
	}
	return NG
}

// Tool is the shared lifecycle every detector kind implements.
type Tool interface {
	Name() string
	State() State
	Configure(master *imageops.Frame) error
	Evaluate(test *imageops.Frame, offset Offset) Result
}

func notConfiguredResult(reason string) Result {
	return Result{MatchingRate: 0, Verdict: NG, Diagnostic: reason}
}

func shiftedROI(spec Spec, offset Offset) imageops.ROI {
	return spec.ROI.Shift(offset.DX, offset.DY)
}
