// internal/workflow/distill.go
package workflow

import (
	"fmt"
	"strings"

	"github.com/webpilot-ai/webpilot/internal/browser"
)

// Distill converts raw recorded events into clean workflow steps:
//
//   - a click immediately followed by typing on the same element is
//     dropped (it only focused the field)
//   - consecutive input events on the same element merge, keeping the
//     final value
//   - Backspace/Delete presses are dropped (typo corrections)
//   - hash-only navigations carrying compose-style ids are dropped
//   - repeated typing into the same field keeps only the last value
func Distill(events []browser.RawEvent, startURL string) []Step {
	if len(events) == 0 {
		return nil
	}

	var raw []Step
	for i := 0; i < len(events); i++ {
		ev := events[i]
		switch ev.Type {
		case "navigate":
			if ev.URL == "" || ev.URL == startURL || isEphemeralNavigation(ev.URL, startURL) {
				continue
			}
			raw = append(raw, Step{
				Action:      StepNavigate,
				URL:         ev.URL,
				Description: fmt.Sprintf("Navigate to %s", ev.URL),
			})

		case "click":
			// A click that just focuses the field the user types into
			// next carries no information.
			if next := nextNonCorrection(events, i+1); next != nil &&
				next.Type == "input" && elementsMatch(ev.Element, next.Element) {
				continue
			}
			elem := convertElement(ev.Element)
			raw = append(raw, Step{
				Action:      StepClick,
				Coordinates: []int{ev.X, ev.Y},
				Element:     elem,
				Description: fmt.Sprintf("Click %s", elem.Describe()),
			})

		case "input":
			text := ev.Value
			elemData := ev.Element
			// Merge the burst of per-keystroke input events, skipping
			// correction keys interleaved between them.
			j := i + 1
			for j < len(events) {
				n := events[j]
				if n.Type == "input" && elementsMatch(elemData, n.Element) {
					text = n.Value
					elemData = n.Element
					j++
				} else if n.Type == "key" && isCorrectionKey(n.Key) {
					j++
				} else {
					break
				}
			}
			i = j - 1

			if text == "" {
				continue
			}
			elem := convertElement(elemData)
			raw = append(raw, Step{
				Action:      StepType,
				Text:        text,
				Element:     elem,
				Description: fmt.Sprintf("Type '%s' in %s", text, elem.Describe()),
			})

		case "key":
			if ev.Key == "" || isCorrectionKey(ev.Key) {
				continue
			}
			raw = append(raw, Step{
				Action:      StepKey,
				Key:         ev.Key,
				Element:     convertElement(ev.Element),
				Description: fmt.Sprintf("Press %s", ev.Key),
			})
		}
	}

	return deduplicateSteps(raw)
}

// deduplicateSteps removes redundant steps: repeated typing into the
// same field keeps only the last value, and clicks on fields that get
// typed into are dropped.
func deduplicateSteps(steps []Step) []Step {
	var result []Step
	typedFields := map[string]string{}

	for _, step := range steps {
		switch step.Action {
		case StepType:
			key := step.Element.fieldKey()
			if key != "" {
				if prev, ok := typedFields[key]; ok && prev == step.Text {
					continue
				}
				typedFields[key] = step.Text
				kept := result[:0]
				for _, s := range result {
					if s.Action == StepType && s.Element.fieldKey() == key {
						continue
					}
					kept = append(kept, s)
				}
				result = kept
			}
			result = append(result, step)

		case StepClick:
			if key := step.Element.fieldKey(); key != "" {
				if _, ok := typedFields[key]; ok {
					continue
				}
			}
			result = append(result, step)

		default:
			result = append(result, step)
		}
	}
	return result
}

// isEphemeralNavigation detects hash-only URL changes carrying long
// generated ids, like webmail compose windows. Recording them would
// bake a one-time id into the workflow.
func isEphemeralNavigation(url, startURL string) bool {
	baseNew, fragment, hasFragment := strings.Cut(url, "#")
	baseStart, _, _ := strings.Cut(startURL, "#")
	if baseNew != baseStart || !hasFragment {
		return false
	}
	if _, id, ok := strings.Cut(fragment, "compose="); ok && len(id) > 20 {
		return true
	}
	return false
}

// nextNonCorrection finds the next event within a small lookahead that
// is not a correction key press.
func nextNonCorrection(events []browser.RawEvent, start int) *browser.RawEvent {
	end := start + 5
	if end > len(events) {
		end = len(events)
	}
	for j := start; j < end; j++ {
		if events[j].Type == "key" && isCorrectionKey(events[j].Key) {
			continue
		}
		return &events[j]
	}
	return nil
}

func isCorrectionKey(key string) bool {
	return key == "Backspace" || key == "Delete"
}

func elementsMatch(a, b browser.ElementInfo) bool {
	return convertElement(a).matches(convertElement(b))
}

// convertElement maps the recorder's capture descriptor onto the
// persisted workflow descriptor.
func convertElement(e browser.ElementInfo) ElementInfo {
	return ElementInfo{
		Tag:             e.Tag,
		Text:            e.Text,
		AriaLabel:       e.AriaLabel,
		Placeholder:     e.Placeholder,
		Role:            e.Role,
		Name:            e.Name,
		InputType:       e.InputType,
		Tooltip:         e.Tooltip,
		Title:           e.Title,
		ContentEditable: e.ContentEditable,
		ParentContext:   e.ParentContext,
		Label:           e.Label,
	}
}
