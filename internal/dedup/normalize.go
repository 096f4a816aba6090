package dedup

import (
	"strings"
)

// NormalizeName canonicalizes a name for comparison: case-folded, leading and
// trailing space trimmed, internal whitespace collapsed to single spaces.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// normalizeSet normalizes every name and drops empties and duplicates,
// preserving first-seen order.
func normalizeSet(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		norm := NormalizeName(n)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// intersects reports whether the two normalized sets share any name, and
// returns the first shared one.
func intersects(a, b []string) (string, bool) {
	if len(a) == 0 || len(b) == 0 {
		return "", false
	}
	set := make(map[string]struct{}, len(b))
	for _, n := range b {
		set[n] = struct{}{}
	}
	for _, n := range a {
		if _, ok := set[n]; ok {
			return n, true
		}
	}
	return "", false
}
