package automation

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render substitutes {{ path }} placeholders with fact values. Unknown
// paths render as the empty string so operator typos degrade to blanks
// instead of failing the whole action.
func Render(tmpl string, facts Facts) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := facts.lookup(path)
		if !ok {
			return ""
		}
		return renderValue(v)
	})
}
