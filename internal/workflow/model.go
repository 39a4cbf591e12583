// internal/workflow/model.go
package workflow

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ElementInfo describes the DOM element a recorded step targeted. The
// descriptors are advisory hints for replay, never strict locators.
type ElementInfo struct {
	Tag             string `yaml:"tag,omitempty"`
	Text            string `yaml:"text,omitempty"`
	AriaLabel       string `yaml:"aria_label,omitempty"`
	Placeholder     string `yaml:"placeholder,omitempty"`
	Role            string `yaml:"role,omitempty"`
	Name            string `yaml:"name,omitempty"`
	InputType       string `yaml:"input_type,omitempty"`
	Tooltip         string `yaml:"tooltip,omitempty"`
	Title           string `yaml:"title,omitempty"`
	ContentEditable bool   `yaml:"contenteditable,omitempty"`
	ParentContext   string `yaml:"parent_context,omitempty"`
	Label           string `yaml:"label,omitempty"`
}

// Describe returns a short human-readable identifier for the element,
// used in step descriptions.
func (e ElementInfo) Describe() string {
	switch {
	case e.AriaLabel != "":
		return fmt.Sprintf("'%s'", e.AriaLabel)
	case e.Tooltip != "":
		return fmt.Sprintf("'%s'", e.Tooltip)
	case e.Title != "":
		return fmt.Sprintf("'%s'", e.Title)
	case e.Text != "":
		text := e.Text
		if len(text) > 40 {
			text = text[:40] + "..."
		}
		return fmt.Sprintf("'%s'", text)
	case e.Placeholder != "":
		return fmt.Sprintf("'%s' field", e.Placeholder)
	case e.Role != "":
		return e.Role
	case e.Tag != "":
		return e.Tag
	default:
		return "element"
	}
}

// describeDetailed builds the richer description used in AI replay
// instructions: a primary identifier plus surrounding context.
func (e ElementInfo) describeDetailed() string {
	var parts []string

	switch {
	case e.AriaLabel != "":
		parts = append(parts, fmt.Sprintf("the element labeled '%s'", e.AriaLabel))
	case e.Tooltip != "":
		parts = append(parts, fmt.Sprintf("the element with tooltip '%s'", e.Tooltip))
	case e.Title != "":
		parts = append(parts, fmt.Sprintf("the element titled '%s'", e.Title))
	case e.Text != "":
		text := e.Text
		if len(text) > 50 {
			text = text[:50]
		}
		parts = append(parts, fmt.Sprintf("the element with text '%s'", text))
	case e.Role != "":
		parts = append(parts, fmt.Sprintf("the %s element", e.Role))
	case e.Tag != "":
		parts = append(parts, fmt.Sprintf("the %s", e.Tag))
	default:
		parts = append(parts, "the element")
	}

	if e.Role != "" && !strings.Contains(parts[0], e.Role) {
		parts = append(parts, fmt.Sprintf("role: %s", e.Role))
	}
	if e.ParentContext != "" {
		parts = append(parts, fmt.Sprintf("inside the '%s' area", e.ParentContext))
	}
	return strings.Join(parts, ", ")
}

// describeField names an input field for AI replay instructions.
func (e ElementInfo) describeField() string {
	switch {
	case e.AriaLabel != "":
		return fmt.Sprintf("the '%s' field", e.AriaLabel)
	case e.Label != "":
		return fmt.Sprintf("the '%s' field", e.Label)
	case e.Placeholder != "":
		return fmt.Sprintf("the field with placeholder '%s'", e.Placeholder)
	case e.Name != "":
		return fmt.Sprintf("the '%s' field", e.Name)
	case e.ParentContext != "":
		return fmt.Sprintf("the input field inside '%s'", e.ParentContext)
	default:
		return "the text field"
	}
}

// fieldKey identifies an input field for matching and deduplication.
// Empty when the element carries no usable identifier.
func (e ElementInfo) fieldKey() string {
	switch {
	case e.AriaLabel != "":
		return e.AriaLabel
	case e.Name != "":
		return e.Name
	case e.Placeholder != "":
		return e.Placeholder
	default:
		return ""
	}
}

// matches reports whether two descriptors plausibly refer to the same
// element, compared on their stable identifying attributes.
func (e ElementInfo) matches(other ElementInfo) bool {
	pairs := [][2]string{
		{e.AriaLabel, other.AriaLabel},
		{e.Name, other.Name},
		{e.Placeholder, other.Placeholder},
		{e.Label, other.Label},
		{e.Tooltip, other.Tooltip},
	}
	for _, p := range pairs {
		if p[0] != "" && p[0] == p[1] {
			return true
		}
	}
	return false
}

// Step action kinds persisted in workflow files.
const (
	StepClick    = "click"
	StepType     = "type"
	StepKey      = "key"
	StepNavigate = "navigate"
)

// Step is one recorded interaction.
type Step struct {
	Action      string      `yaml:"action"`
	Description string      `yaml:"description,omitempty"`
	Coordinates []int       `yaml:"coordinates,omitempty,flow"`
	Text        string      `yaml:"text,omitempty"`
	Key         string      `yaml:"key,omitempty"`
	URL         string      `yaml:"url,omitempty"`
	Element     ElementInfo `yaml:"element,omitempty"`
}

// Parameter declares a substitutable value a workflow accepts. Steps
// reference parameters as {{name}} tokens in their text and URLs.
type Parameter struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label,omitempty"`
	Default  string `yaml:"default,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

// Workflow is a named, replayable sequence of recorded steps.
type Workflow struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	RecordedAt  string      `yaml:"recorded_at,omitempty"`
	StartURL    string      `yaml:"start_url,omitempty"`
	Parameters  []Parameter `yaml:"parameters,omitempty"`
	Steps       []Step      `yaml:"steps"`
}

// New builds a workflow stamped with the current time.
func New(name, description, startURL string, steps []Step) *Workflow {
	return &Workflow{
		Name:        name,
		Description: description,
		RecordedAt:  time.Now().UTC().Format(time.RFC3339),
		StartURL:    startURL,
		Steps:       steps,
	}
}

// MarshalYAMLBytes serializes the workflow for storage.
func (w *Workflow) MarshalYAMLBytes() ([]byte, error) {
	return yaml.Marshal(w)
}

// ParseYAML deserializes a workflow file.
func ParseYAML(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid workflow yaml: %w", err)
	}
	if w.Name == "" {
		return nil, fmt.Errorf("invalid workflow yaml: missing name")
	}
	return &w, nil
}

// Instruction renders the workflow as a numbered natural-language task
// for AI-mode replay of the whole sequence.
func (w *Workflow) Instruction() string {
	var b strings.Builder

	if w.Description != "" {
		fmt.Fprintf(&b, "Task: %s\n", w.Description)
	} else {
		fmt.Fprintf(&b, "Task: Replay recorded workflow '%s'\n", w.Name)
	}
	if w.StartURL != "" {
		fmt.Fprintf(&b, "Starting page: %s\n", w.StartURL)
	}
	b.WriteString("\n")
	b.WriteString("Follow these steps in order. Use the screenshot to find each element. " +
		"The hints about screen position and element context should help you locate them.\n\n")

	for i, step := range w.Steps {
		b.WriteString(step.Instruction(i + 1))
		b.WriteString("\n")
	}

	b.WriteString("\nAfter completing ALL steps above, report that the task is done. " +
		"Do not add extra steps that were not listed.")
	return b.String()
}

// Instruction renders one numbered step line for an AI prompt.
func (s Step) Instruction(num int) string {
	switch s.Action {
	case StepClick:
		line := fmt.Sprintf("%d. CLICK: %s", num, s.Element.describeDetailed())
		if len(s.Coordinates) == 2 {
			line += fmt.Sprintf("\n   (approximate position: x=%d, y=%d)", s.Coordinates[0], s.Coordinates[1])
		}
		return line
	case StepType:
		line := fmt.Sprintf("%d. TYPE: '%s' into %s", num, s.Text, s.Element.describeField())
		if s.Element.ContentEditable {
			line += "\n   (this is a rich text field, not a regular input)"
		}
		return line
	case StepKey:
		return fmt.Sprintf("%d. PRESS: %s key", num, s.Key)
	case StepNavigate:
		return fmt.Sprintf("%d. NAVIGATE: Go to %s", num, s.URL)
	default:
		return fmt.Sprintf("%d. %s", num, s.Description)
	}
}
