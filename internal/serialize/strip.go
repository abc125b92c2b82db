package serialize

// childClauses cannot be evaluated against a single document.
var childClauses = map[string]bool{
	"has_child":  true,
	"has_parent": true,
	"nested":     true,
}

// StripChildQueries returns a copy of query with every has_child,
// has_parent, and nested clause removed at any depth. List members that
// become empty objects are dropped.
func StripChildQueries(query map[string]any) map[string]any {
	return stripMap(query)
}

func stripMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if childClauses[k] {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return stripMap(val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if m, ok := item.(map[string]any); ok && len(m) > 0 {
				stripped := stripMap(m)
				if len(stripped) == 0 {
					continue
				}
				out = append(out, stripped)
				continue
			}
			out = append(out, stripValue(item))
		}
		return out
	default:
		return v
	}
}
