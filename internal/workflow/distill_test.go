// internal/workflow/distill_test.go
package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/internal/browser"
)

func TestDistillDropsFocusClickBeforeTyping(t *testing.T) {
	field := browser.ElementInfo{Tag: "input", Name: "q", Placeholder: "Search"}
	steps := Distill([]browser.RawEvent{
		{Type: "click", X: 100, Y: 50, Element: field},
		{Type: "input", Value: "golang", Element: field},
	}, "")

	require.Len(t, steps, 1)
	assert.Equal(t, StepType, steps[0].Action)
	assert.Equal(t, "golang", steps[0].Text)
	assert.Equal(t, "q", steps[0].Element.Name)
}

func TestDistillMergesKeystrokeBursts(t *testing.T) {
	field := browser.ElementInfo{Tag: "input", Name: "subject"}
	steps := Distill([]browser.RawEvent{
		{Type: "input", Value: "h", Element: field},
		{Type: "input", Value: "he", Element: field},
		{Type: "input", Value: "hel", Element: field},
		{Type: "key", Key: "Backspace", Element: field},
		{Type: "input", Value: "hello", Element: field},
	}, "")

	require.Len(t, steps, 1)
	assert.Equal(t, "hello", steps[0].Text)
}

func TestDistillDropsStandaloneCorrections(t *testing.T) {
	steps := Distill([]browser.RawEvent{
		{Type: "key", Key: "Backspace"},
		{Type: "key", Key: "Delete"},
		{Type: "key", Key: "Enter"},
	}, "")

	require.Len(t, steps, 1)
	assert.Equal(t, StepKey, steps[0].Action)
	assert.Equal(t, "Enter", steps[0].Key)
}

func TestDistillNavigations(t *testing.T) {
	start := "https://mail.example.com/u/0/#inbox"
	steps := Distill([]browser.RawEvent{
		{Type: "navigate", URL: start},
		{Type: "navigate", URL: "https://mail.example.com/u/0/#inbox?compose=DmwnWslzCnrMjZQQQQQQQQQ"},
		{Type: "navigate", URL: "https://other.example.com/page"},
	}, start)

	require.Len(t, steps, 1, "start url and ephemeral compose hash are dropped")
	assert.Equal(t, StepNavigate, steps[0].Action)
	assert.Equal(t, "https://other.example.com/page", steps[0].URL)
}

func TestDistillDeduplicatesRetypedFields(t *testing.T) {
	to := browser.ElementInfo{Tag: "input", AriaLabel: "To"}
	subject := browser.ElementInfo{Tag: "input", AriaLabel: "Subject"}
	steps := Distill([]browser.RawEvent{
		{Type: "input", Value: "bob@example.com", Element: to},
		{Type: "input", Value: "first subject", Element: subject},
		{Type: "click", X: 1, Y: 2, Element: to},
		{Type: "input", Value: "carol@example.com", Element: to},
	}, "")

	require.Len(t, steps, 2, "re-typed field keeps only the final value; the focusing click is dropped")
	assert.Equal(t, "first subject", steps[0].Text)
	assert.Equal(t, "carol@example.com", steps[1].Text)
	assert.Equal(t, "To", steps[1].Element.AriaLabel)
}

func TestDistillKeepsMeaningfulClicks(t *testing.T) {
	steps := Distill([]browser.RawEvent{
		{Type: "click", X: 10, Y: 20, Element: browser.ElementInfo{Tag: "button", Text: "Submit"}},
	}, "")

	require.Len(t, steps, 1)
	assert.Equal(t, StepClick, steps[0].Action)
	assert.Equal(t, []int{10, 20}, steps[0].Coordinates)
	assert.Equal(t, "Click 'Submit'", steps[0].Description)
}

func TestDistillEmptyInput(t *testing.T) {
	assert.Nil(t, Distill(nil, ""))
	assert.Empty(t, Distill([]browser.RawEvent{{Type: "input", Value: "", Element: browser.ElementInfo{Name: "x"}}}, ""))
}
