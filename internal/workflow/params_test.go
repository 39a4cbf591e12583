// internal/workflow/params_test.go
package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramWorkflow() *Workflow {
	w := New("greet", "Greet {{name}} on {{site}}", "https://{{site}}/home", []Step{
		{Action: StepType, Text: "Hello {{name}}", Description: "Type greeting"},
		{Action: StepNavigate, URL: "https://{{site}}/send?to={{name}}"},
	})
	w.Parameters = []Parameter{
		{Name: "name", Required: true},
		{Name: "site", Default: "example.com"},
	}
	return w
}

func TestSubstituteResolvesValuesAndDefaults(t *testing.T) {
	got := paramWorkflow().Substitute(map[string]string{"name": "Ada"})

	assert.Equal(t, "Greet Ada on example.com", got.Description)
	assert.Equal(t, "https://example.com/home", got.StartURL)
	assert.Equal(t, "Hello Ada", got.Steps[0].Text)
	assert.Equal(t, "https://example.com/send?to=Ada", got.Steps[1].URL)
}

func TestSubstituteValuesOverrideDefaults(t *testing.T) {
	got := paramWorkflow().Substitute(map[string]string{"name": "Ada", "site": "mail.test"})
	assert.Equal(t, "https://mail.test/home", got.StartURL)
}

func TestSubstituteUnknownTokensPassThrough(t *testing.T) {
	w := New("x", "", "", []Step{{Action: StepType, Text: "Hi {{missing}}"}})
	got := w.Substitute(map[string]string{"name": "Ada"})
	assert.Equal(t, "Hi {{missing}}", got.Steps[0].Text)
}

func TestSubstituteDoesNotMutateOriginal(t *testing.T) {
	w := paramWorkflow()
	_ = w.Substitute(map[string]string{"name": "Ada"})
	assert.Equal(t, "Hello {{name}}", w.Steps[0].Text)
	assert.Equal(t, "https://{{site}}/home", w.StartURL)
}

func TestMissingParameters(t *testing.T) {
	w := paramWorkflow()

	missing := w.MissingParameters(nil)
	require.Equal(t, []string{"name"}, missing, "required without default must be supplied")

	assert.Empty(t, w.MissingParameters(map[string]string{"name": "Ada"}))
	assert.Equal(t, []string{"name"}, w.MissingParameters(map[string]string{"name": ""}),
		"empty values do not satisfy a required parameter")
}
