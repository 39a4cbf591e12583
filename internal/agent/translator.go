// internal/agent/translator.go
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
)

const (
	// scrollPixelsPerUnit converts abstract scroll units to wheel pixels.
	scrollPixelsPerUnit = 100
	defaultScrollUnits  = 3
	defaultWait         = time.Second
)

// keyNames folds the model-side key vocabulary ("ctrl+a", "Return") into
// the names the driver dispatches.
var keyNames = map[string]string{
	"ctrl":       "Control",
	"control":    "Control",
	"cmd":        "Meta",
	"super":      "Meta",
	"meta":       "Meta",
	"alt":        "Alt",
	"option":     "Alt",
	"shift":      "Shift",
	"enter":      "Enter",
	"return":     "Enter",
	"tab":        "Tab",
	"escape":     "Escape",
	"esc":        "Escape",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"space":      " ",
	"arrowup":    "ArrowUp",
	"up":         "ArrowUp",
	"arrowdown":  "ArrowDown",
	"down":       "ArrowDown",
	"arrowleft":  "ArrowLeft",
	"left":       "ArrowLeft",
	"arrowright": "ArrowRight",
	"right":      "ArrowRight",
	"home":       "Home",
	"end":        "End",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
	"page_up":    "PageUp",
	"page_down":  "PageDown",
}

var modifierNames = map[string]bool{
	"Control": true,
	"Alt":     true,
	"Shift":   true,
	"Meta":    true,
}

// Translator is a pure mapping from canonical actions to driver commands.
// It owns all coordinate scaling and parameter clamping so the loop and
// the replay interpreter behave identically.
type Translator struct {
	scaler  *browser.Scaler
	maxWait time.Duration
}

// NewTranslator binds a translator to a viewport scaler. maxWait clamps
// wait actions; zero means 5 seconds.
func NewTranslator(scaler *browser.Scaler, maxWait time.Duration) *Translator {
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &Translator{scaler: scaler, maxWait: maxWait}
}

// Translate converts one action into zero or more driver commands.
// Terminal and observation-only kinds (done, error, screenshot) produce no
// commands.
func (tr *Translator) Translate(a schemas.AgentAction) ([]browser.Command, error) {
	switch a.Kind {
	case schemas.ActionClick, schemas.ActionDoubleClick, schemas.ActionRightClick:
		if a.Coordinate == nil {
			return nil, fmt.Errorf("%s: action %s requires coordinates", ErrCodeInvalidParameters, a.Kind)
		}
		vp := tr.scaler.ToViewport(*a.Coordinate)
		cmd := browser.Command{
			Op:         browser.OpClick,
			X:          float64(vp.X),
			Y:          float64(vp.Y),
			ClickCount: 1,
		}
		switch a.Kind {
		case schemas.ActionDoubleClick:
			cmd.ClickCount = 2
		case schemas.ActionRightClick:
			cmd.Button = "right"
		}
		return []browser.Command{cmd}, nil

	case schemas.ActionType:
		if a.Text == "" {
			return nil, fmt.Errorf("%s: type action requires text", ErrCodeInvalidParameters)
		}
		return []browser.Command{{Op: browser.OpType, Text: a.Text}}, nil

	case schemas.ActionKey:
		if a.Key == "" {
			return nil, fmt.Errorf("%s: key action requires a key", ErrCodeInvalidParameters)
		}
		key, mods, err := normalizeCombo(a.Key)
		if err != nil {
			return nil, err
		}
		return []browser.Command{{Op: browser.OpKey, Key: key, Modifiers: mods}}, nil

	case schemas.ActionScroll:
		return []browser.Command{tr.scrollCommand(a)}, nil

	case schemas.ActionWait:
		d := time.Duration(a.DurationSec * float64(time.Second))
		if d <= 0 {
			d = defaultWait
		}
		if d > tr.maxWait {
			d = tr.maxWait
		}
		return []browser.Command{{Op: browser.OpWait, Duration: d}}, nil

	case schemas.ActionScreenshot, schemas.ActionDone, schemas.ActionError:
		return nil, nil

	default:
		return nil, fmt.Errorf("%s: unknown action %q", ErrCodeUnknownAction, a.Kind)
	}
}

func (tr *Translator) scrollCommand(a schemas.AgentAction) browser.Command {
	// Default anchor is the viewport center.
	var anchor schemas.Point
	if a.Coordinate != nil {
		anchor = tr.scaler.ToViewport(*a.Coordinate)
	} else {
		w, h := tr.scaler.ModelSize()
		anchor = tr.scaler.ToViewport(schemas.Point{X: w / 2, Y: h / 2})
	}

	units := a.ScrollAmount
	if units <= 0 {
		units = defaultScrollUnits
	}
	pixels := float64(units * scrollPixelsPerUnit)

	cmd := browser.Command{Op: browser.OpScroll, X: float64(anchor.X), Y: float64(anchor.Y)}
	switch a.ScrollDirection {
	case "up":
		cmd.DeltaY = -pixels
	case "left":
		cmd.DeltaX = -pixels
	case "right":
		cmd.DeltaX = pixels
	default: // down
		cmd.DeltaY = pixels
	}
	return cmd
}

// normalizeCombo splits "ctrl+shift+a" into a key and its modifiers,
// translating every part to the driver vocabulary. The last part is the
// key; everything before it must be a modifier.
func normalizeCombo(combo string) (string, []string, error) {
	parts := strings.Split(combo, "+")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if mapped, ok := keyNames[strings.ToLower(p)]; ok {
			p = mapped
		}
		if p == "" {
			return "", nil, fmt.Errorf("%s: malformed key combo %q", ErrCodeInvalidParameters, combo)
		}
		normalized = append(normalized, p)
	}

	key := normalized[len(normalized)-1]
	var mods []string
	if len(normalized) > 1 {
		mods = normalized[:len(normalized)-1]
	}
	for _, m := range mods {
		if !modifierNames[m] {
			return "", nil, fmt.Errorf("%s: %q is not a modifier in combo %q", ErrCodeInvalidParameters, m, combo)
		}
	}
	return key, mods, nil
}
