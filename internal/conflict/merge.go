package conflict

import (
	"fmt"
	"sort"
)

// textMarker separates the two contributions when free-text fields are
// concatenated during a merge.
const textMarker = "\n---\n"

// textFields are the payload keys treated as free text. Everything else
// merges as a scalar or a collection.
var textFields = map[string]bool{
	"text":        true,
	"body":        true,
	"comment":     true,
	"note":        true,
	"description": true,
}

// mergeChange produces the deterministic field-level merge of the
// current payload and an incoming change:
//
//   - collection-valued fields are unioned; the result is sorted so the
//     set does not depend on which proposal arrived first
//   - free-text fields concatenate current then incoming, separated by
//     a marker (append order is proposal order: current holds the
//     earlier applied change)
//   - every other field takes the incoming value
//
// Fields present only in the current payload are kept.
func mergeChange(current, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(incoming))
	for k, v := range current {
		out[k] = v
	}
	for k, in := range incoming {
		cur, exists := out[k]
		if !exists {
			out[k] = in
			continue
		}
		switch {
		case isSlice(cur) && isSlice(in):
			out[k] = unionSlices(toSlice(cur), toSlice(in))
		case textFields[k]:
			cs, cok := cur.(string)
			is, iok := in.(string)
			if cok && iok && cs != is {
				out[k] = cs + textMarker + is
			} else {
				out[k] = in
			}
		default:
			out[k] = in
		}
	}
	return out
}

func isSlice(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	}
	return false
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return nil
}

// unionSlices merges two collections, deduplicating by the canonical
// string form of each element and sorting by it, so the union is
// independent of merge order.
func unionSlices(a, b []any) []any {
	seen := make(map[string]any, len(a)+len(b))
	for _, e := range a {
		seen[fmt.Sprint(e)] = e
	}
	for _, e := range b {
		key := fmt.Sprint(e)
		if _, ok := seen[key]; !ok {
			seen[key] = e
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}
