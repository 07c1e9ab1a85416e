package autodetect

import (
	"sort"

	"github.com/lockplane/migrator/database"
)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameIndex(a, b database.Index) bool {
	return a.Unique == b.Unique && sameStrings(a.Columns, b.Columns)
}

func sameConstraint(a, b database.Constraint) bool {
	return a.Equal(b)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
