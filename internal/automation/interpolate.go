package automation

import (
	"regexp"

	"profile-launcher/internal/core"
)

var variablePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Interpolate replaces {{name}} references with values from vars. Unknown
// names are left as written.
func Interpolate(s string, vars map[string]string) string {
	if len(vars) == 0 {
		return s
	}
	return variablePattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := variablePattern.FindStringSubmatch(ref)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return ref
	})
}

// interpolateSpec returns a copy of spec with every string parameter resolved
func interpolateSpec(spec core.StepSpec, vars map[string]string) core.StepSpec {
	spec.URL = Interpolate(spec.URL, vars)
	spec.Selector = Interpolate(spec.Selector, vars)
	spec.Value = Interpolate(spec.Value, vars)
	spec.Path = Interpolate(spec.Path, vars)
	spec.Attribute = Interpolate(spec.Attribute, vars)
	spec.Variable = Interpolate(spec.Variable, vars)
	spec.Expression = Interpolate(spec.Expression, vars)
	return spec
}
