// Package materialize promotes approved entity candidates into permanent
// corpus records. A batch commits or rolls back as a whole.
package materialize

import (
	"strings"
	"unicode"
)

// Slugify lowercases name and collapses every run of non-alphanumeric runes
// into a single hyphen. Letters outside ASCII are kept as-is.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}
