package rules

import (
	"fmt"
	"regexp"
	"strings"
)

var templateRef = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Lookup resolves a dot-path against a payload map. It returns the value and
// whether the full path was present. Intermediate segments must be maps.
func Lookup(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Render substitutes every {{path}} reference in tmpl with the value found at
// that dot-path in payload. Unresolvable references are left as-is so the
// rendered output makes the miss visible instead of silently dropping it.
func Render(tmpl string, payload map[string]any) string {
	return templateRef.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := templateRef.FindStringSubmatch(match)[1]
		if val, ok := Lookup(payload, path); ok {
			return fmt.Sprintf("%v", val)
		}
		return match
	})
}

// ResolveValue resolves a condition or action value against a payload. A
// string consisting of exactly one {{path}} reference resolves to the typed
// payload value, preserving numerics for relational comparisons. Any other
// string is rendered as a template. Non-strings pass through as literals.
func ResolveValue(value any, payload map[string]any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}

	trimmed := strings.TrimSpace(s)
	if m := templateRef.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		if resolved, found := Lookup(payload, m[1]); found {
			return resolved
		}
		return nil
	}

	return Render(s, payload)
}

// RenderPayload renders every string value in data against payload, walking
// nested maps. Non-string leaves are copied untouched.
func RenderPayload(data map[string]any, payload map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	rendered := make(map[string]any, len(data))
	for key, val := range data {
		switch v := val.(type) {
		case string:
			rendered[key] = ResolveValue(v, payload)
		case map[string]any:
			rendered[key] = RenderPayload(v, payload)
		default:
			rendered[key] = val
		}
	}
	return rendered
}
