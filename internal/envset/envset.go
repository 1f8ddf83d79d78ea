// Package envset combines ordered selections of named environment variable
// sets into a single process environment.
package envset

import (
	"strings"

	"modelzoo/pkg/types"
)

// Merge folds the selected definitions into one mapping. A variable that
// appears in more than one definition takes the comma-join of its values in
// selection order; variables appearing once pass through unchanged. An empty
// selection yields an empty map (the process inherits only the ambient
// environment).
func Merge(selected []types.EnvironmentDefinition) map[string]string {
	out := make(map[string]string, len(selected))
	for _, def := range selected {
		// Keys visited in sorted order so repeated merges of the same
		// selection are identical.
		for _, k := range sortedKeys(def.Vars) {
			v := def.Vars[k]
			if prev, ok := out[k]; ok {
				out[k] = prev + "," + v
				continue
			}
			out[k] = v
		}
	}
	return out
}

// CombinedName is the display label for a selection, e.g. "P40/0+P40/1".
func CombinedName(selected []types.EnvironmentDefinition) string {
	names := make([]string, 0, len(selected))
	for _, def := range selected {
		names = append(names, def.Name)
	}
	return strings.Join(names, "+")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort; variable sets are tiny
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
