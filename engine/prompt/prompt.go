// Package prompt builds the text prompts sent to the generative model.
// Each call site has a built-in default template and a fixed set of
// named placeholders; callers may override the template per request.
// Structured inputs are rendered to human-readable text before
// substitution: the model performs better on natural language than on
// embedded structured data.
package prompt

import "strings"

// Build substitutes {name} placeholders in template with the given
// values. Placeholders without a value are left as literal text so the
// model sees them verbatim; this is deliberate leniency toward
// caller-supplied templates, not an error.
func Build(template string, values map[string]string) string {
	if len(values) == 0 {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for name, v := range values {
		pairs = append(pairs, "{"+name+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Or returns the custom template when non-empty, else the default.
func Or(custom, def string) string {
	if custom != "" {
		return custom
	}
	return def
}
