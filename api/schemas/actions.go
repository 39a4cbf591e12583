// api/schemas/actions.go
package schemas

import (
	"fmt"
	"strings"
)

// ActionKind enumerates the canonical action vocabulary shared by every
// decision provider and every consumer. Providers normalize their native
// vocabularies (e.g. "left_click", "triple_click") into these kinds before
// anything else sees them.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionRightClick  ActionKind = "right_click"
	ActionType        ActionKind = "type"
	ActionKey         ActionKind = "key"
	ActionScroll      ActionKind = "scroll"
	ActionWait        ActionKind = "wait"
	ActionScreenshot  ActionKind = "screenshot"
	ActionDone        ActionKind = "done"
	ActionError       ActionKind = "error"
)

// AgentAction is the canonical decision produced by a provider. It is an
// immutable value: the agent loop copies it into history and never mutates
// a delivered action.
//
// Coordinates are expressed in scaled screenshot space; the action
// translator converts them back to viewport pixels before execution.
type AgentAction struct {
	Kind       ActionKind `json:"kind"`
	Coordinate *Point     `json:"coordinate,omitempty"`
	Text       string     `json:"text,omitempty"`
	Key        string     `json:"key,omitempty"`

	// Scroll parameters. Direction is one of up/down/left/right; Amount is
	// in abstract wheel units (one unit is ~100 viewport pixels).
	ScrollDirection string `json:"scroll_direction,omitempty"`
	ScrollAmount    int    `json:"scroll_amount,omitempty"`

	// DurationSec bounds a wait action, in seconds.
	DurationSec float64 `json:"duration,omitempty"`
}

// Point is a coordinate pair in scaled screenshot space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Signature returns a normalized textual identity for loop detection: two
// actions with equal signatures are considered "the same action" when
// checking for stagnation.
func (a AgentAction) Signature() string {
	var b strings.Builder
	b.WriteString(string(a.Kind))
	if a.Coordinate != nil {
		fmt.Fprintf(&b, "@%d,%d", a.Coordinate.X, a.Coordinate.Y)
	}
	if a.Text != "" {
		b.WriteString(":" + a.Text)
	}
	if a.Key != "" {
		b.WriteString(":" + strings.ToLower(a.Key))
	}
	if a.Kind == ActionScroll {
		fmt.Fprintf(&b, ":%s/%d", a.ScrollDirection, a.ScrollAmount)
	}
	return b.String()
}

// Summary renders a short human-readable description for logs, events and
// textual action history.
func (a AgentAction) Summary() string {
	parts := []string{string(a.Kind)}
	if a.Coordinate != nil {
		parts = append(parts, fmt.Sprintf("at (%d, %d)", a.Coordinate.X, a.Coordinate.Y))
	}
	if a.Text != "" {
		text := a.Text
		if len(text) > 40 {
			text = text[:40] + "..."
		}
		parts = append(parts, fmt.Sprintf("%q", text))
	}
	if a.Key != "" {
		parts = append(parts, a.Key)
	}
	if a.Kind == ActionScroll {
		amount := a.ScrollAmount
		if amount == 0 {
			amount = 3
		}
		dir := a.ScrollDirection
		if dir == "" {
			dir = "down"
		}
		parts = append(parts, fmt.Sprintf("%s %d", dir, amount))
	}
	return strings.Join(parts, " ")
}

// HistoryEntry records one executed step of a task. The history is
// append-only; stateless providers receive it as a compact textual summary
// rather than as images.
type HistoryEntry struct {
	Step    int         `json:"step"`
	Action  AgentAction `json:"action"`
	Outcome string      `json:"outcome,omitempty"`
}
