package memory

import (
	"sort"
	"strconv"

	"github.com/antoniostano/mnemo/internal/extract"
)

// MergeExtraction reconciles an extracted preference payload with a stored
// profile and returns the merged copy. The policy is total, so there is no
// conflict error path:
//
//   - scalar fields: a non-null new value wins (last-write-wins), a
//     null/absent value never erases what is already known
//   - list fields: set union, duplicates collapse, nothing is removed
//
// Re-merging the same payload is a no-op, so retries and duplicate
// deliveries are harmless.
func MergeExtraction(stored Profile, prefs extract.Preferences) Profile {
	merged := stored.Clone()
	if merged.Facts == nil {
		merged.Facts = make(map[string]string)
	}
	if merged.ListFacts == nil {
		merged.ListFacts = make(map[string][]string)
	}

	setScalar(merged.Facts, "name", prefs.Name)
	setScalar(merged.Facts, "preferred_branch", prefs.PreferredBranch)
	setScalar(merged.Facts, "service_preference", prefs.ServicePreference)

	if len(prefs.PainPoints) > 0 {
		merged.ListFacts["pain_points"] = unionSorted(merged.ListFacts["pain_points"], prefs.PainPoints)
	}

	for key, value := range prefs.Extra {
		switch v := value.(type) {
		case string:
			if v != "" {
				merged.Facts[key] = v
			}
		case bool:
			merged.Facts[key] = strconv.FormatBool(v)
		case float64:
			merged.Facts[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					items = append(items, s)
				}
			}
			if len(items) > 0 {
				merged.ListFacts[key] = unionSorted(merged.ListFacts[key], items)
			}
		default:
			// Nested objects have no declared meaning in the profile
			// schema; keep them out rather than guess at a flattening.
		}
	}

	return merged
}

func setScalar(facts map[string]string, key string, value *string) {
	if value == nil || *value == "" {
		return
	}
	facts[key] = *value
}

// unionSorted merges two string sets into a sorted, de-duplicated slice.
// Sorting keeps repeated merges byte-identical, which makes idempotence
// observable in tests and in the store.
func unionSorted(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, lists := range [][]string{existing, incoming} {
		for _, v := range lists {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
