package document

import (
	"fmt"
	"sort"
)

// WalkLeaves visits every scalar leaf reachable from v (nil, bool, float64,
// string), calling visit with its full dotted path. v is assumed to sit at
// prefix. Map keys are visited in sorted order so callers that build
// postings from the walk get deterministic iteration.
func WalkLeaves(v Value, prefix string, visit func(path string, leaf Value)) {
	switch t := v.(type) {
	case map[string]Value:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			WalkLeaves(t[k], p, visit)
		}
	case []Value:
		for i, el := range t {
			WalkLeaves(el, fmt.Sprintf("%s[%d]", prefix, i), visit)
		}
	default:
		visit(prefix, v)
	}
}
