// internal/workflow/params.go
package workflow

import (
	"regexp"
	"sort"
)

var tokenRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// MissingParameters returns the declared required parameters that are
// neither supplied nor defaulted, sorted by name. A non-empty result
// must refuse the run at admission.
func (w *Workflow) MissingParameters(values map[string]string) []string {
	var missing []string
	for _, p := range w.Parameters {
		if !p.Required || p.Default != "" {
			continue
		}
		if v, ok := values[p.Name]; !ok || v == "" {
			missing = append(missing, p.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Substitute returns a copy of the workflow with {{name}} tokens in
// step text, URLs, descriptions, and the start URL replaced. Lookup
// order is supplied values, then declared defaults. Tokens that resolve
// to nothing pass through literally so a stray template in recorded
// text never corrupts the step.
func (w *Workflow) Substitute(values map[string]string) *Workflow {
	resolve := func(name string) (string, bool) {
		if v, ok := values[name]; ok && v != "" {
			return v, true
		}
		for _, p := range w.Parameters {
			if p.Name == name && p.Default != "" {
				return p.Default, true
			}
		}
		return "", false
	}

	expand := func(s string) string {
		return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
			name := tokenRe.FindStringSubmatch(tok)[1]
			if v, ok := resolve(name); ok {
				return v
			}
			return tok
		})
	}

	out := *w
	out.StartURL = expand(w.StartURL)
	out.Description = expand(w.Description)
	out.Steps = make([]Step, len(w.Steps))
	for i, step := range w.Steps {
		step.Text = expand(step.Text)
		step.URL = expand(step.URL)
		step.Description = expand(step.Description)
		out.Steps[i] = step
	}
	return &out
}
