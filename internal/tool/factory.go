package tool

import "fmt"

const (
	KindOutline        = "outline"
	KindArea           = "area"
	KindColorArea      = "color_area"
	KindEdgeCount      = "edge"
	KindPositionAdjust = "position_adjust"
)

// New builds the concrete Tool implementation for spec.Kind.
func New(spec Spec) (Tool, error) {
	switch spec.Kind {
	case KindOutline:
		return NewOutlineTool(spec), nil
	case KindArea:
		return NewAreaTool(spec), nil
	case KindColorArea:
		return NewColorAreaTool(spec), nil
	case KindEdgeCount:
		return NewEdgeCountTool(spec), nil
	case KindPositionAdjust:
		return NewPositionAdjustTool(spec), nil
	default:
		return nil, fmt.Errorf("unknown tool kind %q", spec.Kind)
	}
}
