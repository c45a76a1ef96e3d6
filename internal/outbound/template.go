// ABOUTME: Message template rendering with {{placeholder}} substitution
// ABOUTME: Unknown placeholders stay literal so typos surface in transcripts

package outbound

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// Render substitutes {{name}} placeholders from vars. Placeholders with no
// matching variable are left untouched.
func Render(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}
