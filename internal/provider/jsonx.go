// internal/provider/jsonx.go
package provider

import (
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSONRe   = regexp.MustCompile(`\{[^{}]*\}`)
)

// extractObject pulls the first JSON object out of free-form model output.
// It tries, in order: the whole text, a markdown-fenced block, and the
// first brace-delimited fragment.
func extractObject(text string, out any) bool {
	text = strings.TrimSpace(text)
	if json.Unmarshal([]byte(text), out) == nil {
		return true
	}
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if json.Unmarshal([]byte(m[1]), out) == nil {
			return true
		}
	}
	if m := bareJSONRe.FindString(text); m != "" {
		if json.Unmarshal([]byte(m), out) == nil {
			return true
		}
	}
	return false
}
