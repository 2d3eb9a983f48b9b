package backend

import (
	"sort"
	"strings"
)

// A leaf is a single scalar value somewhere inside a document, identified by
// its field name and its nesting depth. The same field name can occur many
// times, in list items or in different branches of the document.
type leaf struct {
	name  string
	depth int
	value interface{}
}

// collectLeaves walks a decoded JSON value and appends one leaf per scalar.
// Object keys are visited in sorted order so that the result is deterministic.
func collectLeaves(obj interface{}, name string, depth int, leaves *[]leaf) {
	switch value := obj.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			collectLeaves(value[key], key, depth+1, leaves)
		}
	case []interface{}:
		for _, item := range value {
			collectLeaves(item, name, depth+1, leaves)
		}
	default:
		*leaves = append(*leaves, leaf{name: name, depth: depth, value: obj})
	}
}

// cleanSearchValue normalizes a leaf value for searching. Strings are
// lowercased, searches are case insensitive.
func cleanSearchValue(value interface{}) interface{} {
	if s, ok := value.(string); ok {
		return strings.ToLower(s)
	}
	return value
}

// flattenForGin returns one single-key object per leaf of the document.
// Stored as a JSONB array, the GIN index on it answers exact-match searches
// with a containment query. The result is never nil, an empty document
// flattens to an empty array.
func flattenForGin(doc interface{}) []map[string]interface{} {
	var leaves []leaf
	collectLeaves(doc, "", 0, &leaves)
	out := make([]map[string]interface{}, 0, len(leaves))
	for _, lf := range leaves {
		out = append(out, map[string]interface{}{lf.name: cleanSearchValue(lf.value)})
	}
	return out
}

// flattenForLists distributes the leaves of a document over a minimal number
// of flat rows: the i-th occurrence of a field name lands in row i. Leaves
// are ordered by name and then by depth, so values from parallel list items
// line up in the same row. The rows feed the auxiliary table used by
// non-exact search operators.
func flattenForLists(doc interface{}) []map[string]interface{} {
	var leaves []leaf
	collectLeaves(doc, "", 0, &leaves)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].name != leaves[j].name {
			return leaves[i].name < leaves[j].name
		}
		return leaves[i].depth < leaves[j].depth
	})
	rows := []map[string]interface{}{}
	seen := map[string]int{}
	for _, lf := range leaves {
		i := seen[lf.name]
		seen[lf.name] = i + 1
		if i >= len(rows) {
			rows = append(rows, map[string]interface{}{})
		}
		rows[i][lf.name] = cleanSearchValue(lf.value)
	}
	return rows
}
