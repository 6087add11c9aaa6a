// Package normalize converts object graphs into plain nested maps and slices.
package normalize

import (
	"encoding/json"
	"fmt"
)

// Serializable is implemented by values that know how to render themselves as plain data.
// The returned value may itself contain Serializable values; they are expanded in turn.
type Serializable interface {
	Serialize() (any, error)
}

// maxDepth bounds recursion on self-referencing graphs
const maxDepth = 64

// Normalize walks v and returns a tree made only of map[string]any, []any and scalars.
// Serializable values are expanded, raw JSON is decoded and typed maps/slices of
// Serializable are walked element by element.
func Normalize(v any) (any, error) {
	return visit(v, 0)
}

func visit(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("normalize: nesting deeper than %d levels", maxDepth)
	}

	switch val := v.(type) {
	case nil:
		return nil, nil

	case Serializable:
		out, err := val.Serialize()
		if err != nil {
			return nil, fmt.Errorf("serialize %T: %w", val, err)
		}
		return visit(out, depth+1)

	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return nil, fmt.Errorf("decode raw json: %w", err)
		}
		return visit(decoded, depth+1)

	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := visit(item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil

	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := visit(item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil

	case []Serializable:
		items := make([]any, len(val))
		for i := range val {
			items[i] = val[i]
		}
		return visit(items, depth)

	case []map[string]any:
		items := make([]any, len(val))
		for i := range val {
			items[i] = val[i]
		}
		return visit(items, depth)

	default:
		return v, nil
	}
}

// Prune drops empty values from maps and slices: nil, "", 0, false, and empty
// collections. A map entry is also dropped when pruning its value leaves it empty.
func Prune(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if IsEmpty(item) {
				continue
			}
			pruned := Prune(item)
			if IsEmpty(pruned) {
				continue
			}
			out[k] = pruned
		}
		return out

	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if IsEmpty(item) {
				continue
			}
			out = append(out, Prune(item))
		}
		return out

	default:
		return v
	}
}

// IsEmpty reports whether v counts as empty for Prune
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case int:
		return val == 0
	case int64:
		return val == 0
	case float64:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
