// internal/provider/wire.go
package provider

import "github.com/webpilot-ai/webpilot/api/schemas"

// wireAction is the JSON shape both model vocabularies emit for a single
// action, before normalization.
type wireAction struct {
	Action          string  `json:"action"`
	Coordinate      []int   `json:"coordinate,omitempty"`
	Text            string  `json:"text,omitempty"`
	ScrollDirection string  `json:"scroll_direction,omitempty"`
	ScrollAmount    int     `json:"scroll_amount,omitempty"`
	Duration        float64 `json:"duration,omitempty"`
}

// toAgentAction converts a wire action into the canonical form.
func (w wireAction) toAgentAction() schemas.AgentAction {
	kind := normalizeKind(w.Action)
	a := schemas.AgentAction{
		Kind:            kind,
		ScrollDirection: w.ScrollDirection,
		ScrollAmount:    w.ScrollAmount,
		DurationSec:     w.Duration,
	}
	if len(w.Coordinate) == 2 {
		a.Coordinate = &schemas.Point{X: w.Coordinate[0], Y: w.Coordinate[1]}
	}
	switch kind {
	case schemas.ActionKey:
		a.Key = w.Text
	default:
		a.Text = w.Text
	}
	return a
}
