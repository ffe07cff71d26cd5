// Package program defines the Program record: a named inspection
// configuration (trigger, capture settings, ordered tool list, output
// mapping) plus the validation rules every ProgramStore write enforces.
package program

import (
	"fmt"
	"time"

	"github.com/lumenforge/visioncheck/internal/imageops"
	"github.com/lumenforge/visioncheck/internal/outputbank"
	"github.com/lumenforge/visioncheck/internal/tool"
)

// TriggerMode selects how a cycle begins.
type TriggerMode string

const (
	TriggerInternal TriggerMode = "internal"
	TriggerExternal TriggerMode = "external"
)

// Trigger configures cycle timing.
type Trigger struct {
	Mode       TriggerMode
	IntervalMs int // used when Mode == internal, [1,10000]
	DelayMs    int // used when Mode == external, [0,1000]
}

// Capture configures the per-cycle frame capture.
type Capture struct {
	BrightnessMode string // normal | hdr | high_gain
	Focus          int    // [0,100]
}

// OutputAssignment is how one output line is driven from the program verdict.
type OutputAssignment string

const (
	AlwaysOn  OutputAssignment = "always_on"
	AlwaysOff OutputAssignment = "always_off"
	OnOK      OutputAssignment = "ok"
	OnNG      OutputAssignment = "ng"
	NotUsed   OutputAssignment = "not_used"
)

// ToolConfig is the persisted, pre-feature-extraction shape of a tool: the
// fields of tool.Spec plus an ID, serializable without the extracted features.
type ToolConfig struct {
	ID         string
	Name       string
	Kind       string
	ROI        imageops.ROI
	Threshold  float64
	UpperLimit *float64
}

func (c ToolConfig) toSpec() tool.Spec {
	return tool.Spec{Name: c.Name, Kind: c.Kind, ROI: c.ROI, Threshold: c.Threshold, UpperLimit: c.UpperLimit}
}

// Config is the full, pre-ID program configuration as supplied to create/update.
type Config struct {
	Name       string
	Trigger    Trigger
	Capture    Capture
	Tools      []ToolConfig
	Outputs    map[int]OutputAssignment // keys 1..outputbank.NumLines
}

// Program is a persisted, validated program record.
type Program struct {
	ID         string
	Config     Config
	MasterPath string
	Width      int
	Height     int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MaxTools is the maximum number of tools a program may carry, including an
// optional position_adjust tool.
const MaxTools = 16

// Validate checks every §3 invariant that does not require the master image
// itself (dimension checks against the loaded master happen separately, in
// the store, once the master's (W,H) is known).
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("program name must not be empty")
	}
	if err := c.Trigger.validate(); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if err := c.Capture.validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if len(c.Tools) > MaxTools {
		return fmt.Errorf("program has %d tools, max is %d", len(c.Tools), MaxTools)
	}

	positionCount := 0
	for i, tc := range c.Tools {
		if tc.Kind == tool.KindPositionAdjust {
			positionCount++
			if i != 0 {
				return fmt.Errorf("position_adjust tool %q must be at index 0, found at %d", tc.Name, i)
			}
		}
		if tc.Threshold < 0 || tc.Threshold > 100 {
			return fmt.Errorf("tool %q: threshold %.1f out of [0,100]", tc.Name, tc.Threshold)
		}
		if tc.UpperLimit != nil && (*tc.UpperLimit <= tc.Threshold || *tc.UpperLimit > 100) {
			return fmt.Errorf("tool %q: upper_limit %.1f must be in (threshold,100]", tc.Name, *tc.UpperLimit)
		}
	}
	if positionCount > 1 {
		return fmt.Errorf("program has %d position_adjust tools, at most 1 allowed", positionCount)
	}

	if err := c.validateOutputs(); err != nil {
		return err
	}
	return nil
}

func (c Config) validateOutputs() error {
	if len(c.Outputs) != outputbank.NumLines {
		return fmt.Errorf("outputs must map exactly %d lines, got %d", outputbank.NumLines, len(c.Outputs))
	}
	for line := 1; line <= outputbank.NumLines; line++ {
		a, ok := c.Outputs[line]
		if !ok {
			return fmt.Errorf("outputs missing assignment for OUT%d", line)
		}
		switch a {
		case AlwaysOn, AlwaysOff, OnOK, OnNG, NotUsed:
		default:
			return fmt.Errorf("OUT%d: unknown assignment %q", line, a)
		}
	}
	return nil
}

func (t Trigger) validate() error {
	switch t.Mode {
	case TriggerInternal:
		if t.IntervalMs < 1 || t.IntervalMs > 10000 {
			return fmt.Errorf("interval_ms %d out of [1,10000]", t.IntervalMs)
		}
	case TriggerExternal:
		if t.DelayMs < 0 || t.DelayMs > 1000 {
			return fmt.Errorf("delay_ms %d out of [0,1000]", t.DelayMs)
		}
	default:
		return fmt.Errorf("unknown trigger mode %q", t.Mode)
	}
	return nil
}

func (c Capture) validate() error {
	switch c.BrightnessMode {
	case "normal", "hdr", "high_gain":
	default:
		return fmt.Errorf("unknown brightness_mode %q", c.BrightnessMode)
	}
	if c.Focus < 0 || c.Focus > 100 {
		return fmt.Errorf("focus %d out of [0,100]", c.Focus)
	}
	return nil
}

// ValidateROIs checks every tool ROI fits within (width,height) and that a
// position_adjust tool leaves room for its search window. Called once the
// master's dimensions are known.
func (c Config) ValidateROIs(width, height int) error {
	for _, tc := range c.Tools {
		if err := tc.ROI.Validate(width, height); err != nil {
			return fmt.Errorf("tool %q: %w", tc.Name, err)
		}
		if tc.Kind == tool.KindPositionAdjust {
			const margin = 50 // must match tool.searchMargin
			if tc.ROI.X-margin < -width || tc.ROI.Y-margin < -height {
				// The search window is clipped to the frame elsewhere; this
				// check only rejects ROIs that leave no frame at all to search.
				return fmt.Errorf("tool %q: search window has no room in a %dx%d frame", tc.Name, width, height)
			}
		}
	}
	return nil
}

// BuildTools instantiates the concrete tool.Tool for every configured tool, in order.
func (c Config) BuildTools() ([]tool.Tool, error) {
	tools := make([]tool.Tool, 0, len(c.Tools))
	for _, tc := range c.Tools {
		tt, err := tool.New(tc.toSpec())
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", tc.Name, err)
		}
		tools = append(tools, tt)
	}
	return tools, nil
}
