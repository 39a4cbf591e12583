// internal/workflow/model_test.go
package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLRoundTrip(t *testing.T) {
	w := New("login", "Log into the portal", "https://portal.example.com", []Step{
		{
			Action:      StepClick,
			Coordinates: []int{120, 340},
			Element:     ElementInfo{Tag: "button", Text: "Sign in"},
			Description: "Click 'Sign in'",
		},
		{
			Action:      StepType,
			Text:        "alice",
			Element:     ElementInfo{Tag: "input", Name: "username", Placeholder: "Username"},
			Description: "Type 'alice' in 'Username' field",
		},
		{Action: StepKey, Key: "Enter", Description: "Press Enter"},
	})
	w.Parameters = []Parameter{{Name: "username", Required: true}}

	data, err := w.MarshalYAMLBytes()
	require.NoError(t, err)

	got, err := ParseYAML(data)
	require.NoError(t, err)
	assert.Equal(t, w.Name, got.Name)
	assert.Equal(t, w.StartURL, got.StartURL)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, []int{120, 340}, got.Steps[0].Coordinates)
	assert.Equal(t, "username", got.Steps[1].Element.Name)
	assert.True(t, got.Parameters[0].Required)
}

func TestParseYAMLRejectsNameless(t *testing.T) {
	_, err := ParseYAML([]byte("description: no name here\nsteps: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")
}

func TestInstructionRendering(t *testing.T) {
	w := New("compose", "Send a status email", "https://mail.example.com", []Step{
		{
			Action:      StepClick,
			Coordinates: []int{40, 200},
			Element:     ElementInfo{AriaLabel: "Compose", Role: "button", ParentContext: "Main menu"},
		},
		{
			Action:  StepType,
			Text:    "weekly update",
			Element: ElementInfo{AriaLabel: "Subject"},
		},
		{
			Action:  StepType,
			Text:    "all good",
			Element: ElementInfo{ContentEditable: true, ParentContext: "Message Body"},
		},
		{Action: StepKey, Key: "Enter"},
		{Action: StepNavigate, URL: "https://mail.example.com/sent"},
	})

	got := w.Instruction()
	assert.Contains(t, got, "Task: Send a status email")
	assert.Contains(t, got, "Starting page: https://mail.example.com")
	assert.Contains(t, got, "1. CLICK: the element labeled 'Compose', role: button, inside the 'Main menu' area")
	assert.Contains(t, got, "(approximate position: x=40, y=200)")
	assert.Contains(t, got, "2. TYPE: 'weekly update' into the 'Subject' field")
	assert.Contains(t, got, "(this is a rich text field, not a regular input)")
	assert.Contains(t, got, "4. PRESS: Enter key")
	assert.Contains(t, got, "5. NAVIGATE: Go to https://mail.example.com/sent")
	assert.True(t, strings.HasSuffix(got, "Do not add extra steps that were not listed."))
}

func TestInstructionFallsBackToWorkflowName(t *testing.T) {
	w := New("nightly-check", "", "", nil)
	assert.Contains(t, w.Instruction(), "Task: Replay recorded workflow 'nightly-check'")
}

func TestDescribePriorities(t *testing.T) {
	assert.Equal(t, "'Send'", ElementInfo{AriaLabel: "Send", Text: "ignored"}.Describe())
	assert.Equal(t, "'Save draft'", ElementInfo{Tooltip: "Save draft"}.Describe())
	assert.Equal(t, "'Search' field", ElementInfo{Placeholder: "Search"}.Describe())
	assert.Equal(t, "button", ElementInfo{Role: "button"}.Describe())
	assert.Equal(t, "div", ElementInfo{Tag: "div"}.Describe())
	assert.Equal(t, "element", ElementInfo{}.Describe())

	long := strings.Repeat("x", 60)
	assert.Equal(t, "'"+strings.Repeat("x", 40)+"...'", ElementInfo{Text: long}.Describe())
}
