package expr

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Data is the payload available to guard expressions and interpolated
// strings: workflow and job identity, the instance's matrix combination,
// the trigger event, and the merged environment.
type Data struct {
	Workflow string
	Job      string
	Matrix   map[string]string
	Event    EventData
	Env      map[string]string
}

// EventData is the trigger event as seen by templates.
type EventData struct {
	Name   string
	Ref    string
	Branch string
	Tag    string
}

func newTemplate(name string) *template.Template {
	return template.New(name).Funcs(sprig.FuncMap())
}

// Check parses s as a template without executing it.
func Check(s string) error {
	if _, err := newTemplate("check").Parse(s); err != nil {
		return fmt.Errorf("parsing template: %w", err)
	}
	return nil
}

// CheckGuard parses a guard expression without executing it.
func CheckGuard(cond string) error {
	if _, err := newTemplate("guard").Parse(wrapGuard(cond)); err != nil {
		return fmt.Errorf("parsing guard: %w", err)
	}
	return nil
}

// Render expands the template string s with data.
func Render(s string, data Data) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	tmpl, err := newTemplate("render").Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return b.String(), nil
}

// RenderAll renders every value of a string map, returning a new map.
// A nil input yields a nil map.
func RenderAll(m map[string]string, data Data) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		rendered, err := Render(v, data)
		if err != nil {
			return nil, fmt.Errorf("rendering %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

// EvalBool evaluates a guard expression against data. An empty expression
// is true. The expression must produce a boolean-ish result ("true",
// "false", "1", ...); anything else is an error.
func EvalBool(cond string, data Data) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		return true, nil
	}

	tmpl, err := newTemplate("guard").Parse(wrapGuard(cond))
	if err != nil {
		return false, fmt.Errorf("parsing guard: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return false, fmt.Errorf("evaluating guard: %w", err)
	}

	result, err := strconv.ParseBool(strings.TrimSpace(b.String()))
	if err != nil {
		return false, fmt.Errorf("guard %q did not evaluate to a boolean (got %q)", cond, b.String())
	}
	return result, nil
}

// wrapGuard turns a bare expression into a template. Guards written with
// explicit {{ }} delimiters are used as-is.
func wrapGuard(cond string) string {
	if strings.Contains(cond, "{{") {
		return cond
	}
	return "{{ " + cond + " }}"
}
