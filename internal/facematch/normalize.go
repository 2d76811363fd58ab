package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeGroupID derives the identity key of a group from its display name.
// Only letters, digits, spaces, hyphens and underscores survive; trailing spaces
// are trimmed and inner spaces become underscores. "Třída 5.A" -> "Trida_5A".
func NormalizeGroupID(name string) string {
	name = RemoveDiacritics(name)
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimRight(b.String(), " "), " ", "_")
}

// SafeFilename reduces an uploaded filename to a flat ASCII name that is safe
// to use as a path component. Returns "" when nothing usable remains.
func SafeFilename(name string) string {
	name = RemoveDiacritics(name)
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)

	var b strings.Builder
	for _, field := range strings.Fields(name) {
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		for _, r := range field {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_') {
				b.WriteRune(r)
			}
		}
	}
	return strings.Trim(b.String(), "._")
}
