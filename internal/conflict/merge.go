package conflict

import (
	"fmt"
	"reflect"
	"strings"
)

// Keys with this prefix are internal bookkeeping and never merged.
const metadataPrefix = "_"

// threeWayMerge reconciles generic JSON-shaped values (maps, lists,
// primitives). With an ancestor it can tell "only one side changed" apart
// from a genuine two-sided conflict; without one it degrades to remote as
// the base with every non-metadata local key overlaid.
func threeWayMerge(local, remote, ancestor any, tb TieBreak) any {
	if reflect.DeepEqual(local, remote) {
		return deepCopy(local)
	}

	lm, lok := local.(map[string]any)
	rm, rok := remote.(map[string]any)
	if lok && rok {
		if am, ok := ancestor.(map[string]any); ok {
			return mergeMaps(lm, rm, am, tb)
		}
		return overlayMaps(lm, rm)
	}

	ll, lok := local.([]any)
	rl, rok := remote.([]any)
	if lok && rok {
		al, _ := ancestor.([]any)
		return mergeLists(ll, rl, al, tb)
	}

	// Differing primitives (or mismatched shapes): tie-break.
	if tb == TieBreakRemote {
		return deepCopy(remote)
	}
	return deepCopy(local)
}

// overlayMaps is the two-way fallback: remote is the base, local wins on
// every non-metadata key collision.
func overlayMaps(local, remote map[string]any) map[string]any {
	out := copyMap(remote)
	for key, lv := range local {
		if strings.HasPrefix(key, metadataPrefix) {
			continue
		}
		out[key] = deepCopy(lv)
	}
	return out
}

func mergeMaps(local, remote, ancestor map[string]any, tb TieBreak) map[string]any {
	out := copyMap(remote)

	for key, lv := range local {
		if strings.HasPrefix(key, metadataPrefix) {
			continue
		}

		av, inAncestor := ancestor[key]
		rv, inRemote := remote[key]

		if inRemote && reflect.DeepEqual(lv, rv) {
			out[key] = deepCopy(lv)
			continue
		}

		localChanged := !inAncestor || !reflect.DeepEqual(lv, av)

		if !inRemote {
			// Local addition, or remote deleted the key.
			if !inAncestor {
				out[key] = deepCopy(lv)
			} else if localChanged && tb != TieBreakRemote {
				// Local changed what remote deleted.
				out[key] = deepCopy(lv)
			}
			continue
		}

		remoteChanged := !inAncestor || !reflect.DeepEqual(rv, av)

		switch {
		case localChanged && !remoteChanged:
			out[key] = deepCopy(lv)
		case !localChanged && remoteChanged:
			// Remote's value is already in the base.
		default:
			// Both changed to different values: recurse.
			out[key] = mergeValue(lv, rv, av, tb)
		}
	}

	return out
}

func mergeValue(lv, rv, av any, tb TieBreak) any {
	if lm, ok := lv.(map[string]any); ok {
		if rm, ok := rv.(map[string]any); ok {
			if am, ok := av.(map[string]any); ok {
				return mergeMaps(lm, rm, am, tb)
			}
			return overlayMaps(lm, rm)
		}
	}

	if ll, ok := lv.([]any); ok {
		if rl, ok := rv.([]any); ok {
			al, _ := av.([]any)
			return mergeLists(ll, rl, al, tb)
		}
	}

	if tb == TieBreakRemote {
		return deepCopy(rv)
	}
	return deepCopy(lv)
}

func mergeLists(local, remote, ancestor []any, tb TieBreak) []any {
	if isIDList(local) && isIDList(remote) {
		return mergeListsByID(local, remote, ancestor, tb)
	}

	// Plain lists: union, then drop elements one side deleted relative to
	// the ancestor.
	union := make([]any, 0, len(local)+len(remote))
	for _, e := range local {
		union = append(union, deepCopy(e))
	}
	for _, e := range remote {
		if !containsValue(local, e) && !containsValue(union, e) {
			union = append(union, deepCopy(e))
		}
	}

	if len(ancestor) == 0 {
		return union
	}

	out := union[:0]
	for _, e := range union {
		deleted := containsValue(ancestor, e) &&
			(!containsValue(local, e) || !containsValue(remote, e))
		if !deleted {
			out = append(out, e)
		}
	}
	return out
}

// mergeListsByID unions elements by their "id" field. Shared IDs are merged
// three-way against the ancestor element carrying the same ID; one-sided
// elements are kept; ancestor elements missing from both sides are gone.
func mergeListsByID(local, remote, ancestor []any, tb TieBreak) []any {
	remoteByID := indexByID(remote)
	ancestorByID := indexByID(ancestor)

	out := make([]any, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local))

	for _, le := range local {
		id := elementID(le)
		seen[id] = true
		if re, ok := remoteByID[id]; ok {
			var ae any
			if a, ok := ancestorByID[id]; ok {
				ae = a
			}
			out = append(out, threeWayMerge(le, re, ae, tb))
			continue
		}
		out = append(out, deepCopy(le))
	}

	for _, re := range remote {
		if !seen[elementID(re)] {
			out = append(out, deepCopy(re))
		}
	}

	return out
}

func isIDList(list []any) bool {
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m["id"]; !ok {
			return false
		}
	}
	return len(list) > 0
}

func indexByID(list []any) map[string]any {
	out := make(map[string]any, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			if _, ok := m["id"]; ok {
				out[elementID(e)] = e
			}
		}
	}
	return out
}

func elementID(e any) string {
	m, ok := e.(map[string]any)
	if !ok {
		return ""
	}
	// IDs may arrive as strings or JSON numbers.
	return fmt.Sprint(m["id"])
}

func containsValue(list []any, v any) bool {
	for _, e := range list {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

// deepCopy copies JSON-shaped values. Scalars and unrecognized types are
// returned as-is.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
