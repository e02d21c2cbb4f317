package cache

import "encoding/json"

// JSONClone copies v through a JSON round trip. Values that fail to encode
// or decode, or that encode to null, are returned unchanged.
func JSONClone[V any](v V) V {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return v
	}
	var out V
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// cloneOption resolves a clone function stored by a non-generic option.
func cloneOption[V any](fn any, def func(V) V) func(V) V {
	if f, ok := fn.(func(V) V); ok && f != nil {
		return f
	}
	return def
}

func identity[V any](v V) V { return v }
