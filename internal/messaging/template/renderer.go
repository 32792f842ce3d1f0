// Package template implements the placeholder substitution applied to a
// message's subject and body at dispatch time.
package template

import "strings"

// Render replaces every {{name}} placeholder with vars["name"]. A
// placeholder with no matching key is left verbatim so a missing variable
// shows up in the delivered mail instead of silently rendering empty text.
// No escaping is performed; body content is expected to already be safe
// HTML.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
