package program

import (
	"testing"

	"github.com/lumenforge/visioncheck/internal/imageops"
	"github.com/lumenforge/visioncheck/internal/outputbank"
	"github.com/lumenforge/visioncheck/internal/tool"
)

func validOutputs() map[int]OutputAssignment {
	m := make(map[int]OutputAssignment, outputbank.NumLines)
	for i := 1; i <= outputbank.NumLines; i++ {
		m[i] = NotUsed
	}
	m[1] = OnOK
	m[2] = OnNG
	return m
}

func baseConfig() Config {
	return Config{
		Name:    "widget-check",
		Trigger: Trigger{Mode: TriggerInternal, IntervalMs: 200},
		Capture: Capture{BrightnessMode: "normal", Focus: 50},
		Tools: []ToolConfig{
			{Name: "area1", Kind: tool.KindArea, ROI: imageops.ROI{X: 0, Y: 0, W: 100, H: 100}, Threshold: 80},
		},
		Outputs: validOutputs(),
	}
}

func TestConfigValidateAccepts(t *testing.T) {
	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestConfigValidateEmptyToolsIsOK(t *testing.T) {
	c := baseConfig()
	c.Tools = nil
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want zero-tool programs to be valid", err)
	}
}

func TestConfigValidateRejectsEmptyName(t *testing.T) {
	c := baseConfig()
	c.Name = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestConfigValidateRejectsPositionAdjustNotFirst(t *testing.T) {
	c := baseConfig()
	c.Tools = append(c.Tools, ToolConfig{Name: "pos1", Kind: tool.KindPositionAdjust, ROI: imageops.ROI{X: 0, Y: 0, W: 50, H: 50}, Threshold: 50})
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for position_adjust tool not at index 0")
	}
}

func TestConfigValidateAcceptsPositionAdjustFirst(t *testing.T) {
	c := baseConfig()
	c.Tools = append([]ToolConfig{
		{Name: "pos1", Kind: tool.KindPositionAdjust, ROI: imageops.ROI{X: 0, Y: 0, W: 50, H: 50}, Threshold: 50},
	}, c.Tools...)
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestConfigValidateRejectsTooManyTools(t *testing.T) {
	c := baseConfig()
	c.Tools = nil
	for i := 0; i < MaxTools+1; i++ {
		c.Tools = append(c.Tools, ToolConfig{Name: "t", Kind: tool.KindArea, ROI: imageops.ROI{X: 0, Y: 0, W: 10, H: 10}, Threshold: 50})
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for exceeding max tools")
	}
}

func TestConfigValidateRejectsBadUpperLimit(t *testing.T) {
	c := baseConfig()
	bad := 50.0
	c.Tools[0].Threshold = 60
	c.Tools[0].UpperLimit = &bad
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for upper_limit <= threshold")
	}
}

func TestConfigValidateRejectsIncompleteOutputs(t *testing.T) {
	c := baseConfig()
	delete(c.Outputs, 3)
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing output assignment")
	}
}

func TestConfigValidateRejectsBadTrigger(t *testing.T) {
	c := baseConfig()
	c.Trigger.IntervalMs = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for interval_ms out of range")
	}
}

func TestBuildToolsConstructsEveryTool(t *testing.T) {
	c := baseConfig()
	tools, err := c.BuildTools()
	if err != nil {
		t.Fatalf("BuildTools() error = %v", err)
	}
	if len(tools) != len(c.Tools) {
		t.Fatalf("got %d tools, want %d", len(tools), len(c.Tools))
	}
	if tools[0].State() != tool.Unconfigured {
		t.Errorf("fresh tool state = %s, want unconfigured", tools[0].State())
	}
}
