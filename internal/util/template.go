package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderTemplate renders a template string with the given data. Config
// templates are user-supplied, so directives that could execute or include
// arbitrary templates are rejected up front.
func RenderTemplate(tmpl string, data any) (string, error) {
	forbidden := []string{"{{call", "{{define", "{{template", "{{block"}
	for _, directive := range forbidden {
		if strings.Contains(tmpl, directive) {
			return "", fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}

	t, err := template.New("prompt").
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// TruncateString truncates a string to maxLen runes, appending an ellipsis.
// Runes rather than bytes, so multi-byte UTF-8 survives intact.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// CountWords returns the number of whitespace-separated words in s
func CountWords(s string) int {
	return len(strings.Fields(s))
}
