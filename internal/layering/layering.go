// Package layering folds loosely typed configuration layers, such as the
// built in defaults, a parsed YAML file and environment overrides, into one
// map.
package layering

// Layer is one named source of settings.
type Layer struct {
	Name   string
	Values map[string]any
}

// Merge folds layers from weakest (first) to strongest (last). Nested maps
// merge key by key; any other value in a stronger layer replaces the weaker
// one, slices included. Inputs are never mutated.
func Merge(layers ...Layer) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		out = mergeInto(out, layer.Values)
	}
	return out
}

// Origins maps every leaf key, in dotted form, to the name of the strongest
// layer that set it.
func Origins(layers ...Layer) map[string]string {
	out := map[string]string{}
	for _, layer := range layers {
		recordOrigins(out, "", layer.Name, layer.Values)
	}
	return out
}

func mergeInto(weak, strong map[string]any) map[string]any {
	out := make(map[string]any, len(weak)+len(strong))
	for key, value := range weak {
		out[key] = value
	}
	for key, value := range strong {
		nested, ok := value.(map[string]any)
		existing, weakOK := out[key].(map[string]any)
		if ok && weakOK {
			out[key] = mergeInto(existing, nested)
			continue
		}
		out[key] = clone(value)
	}
	return out
}

func recordOrigins(out map[string]string, prefix, name string, values map[string]any) {
	for key, value := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			recordOrigins(out, path, name, nested)
			continue
		}
		out[path] = name
	}
}

func clone(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			out[key] = clone(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = clone(inner)
		}
		return out
	default:
		return value
	}
}
