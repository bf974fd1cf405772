package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var trademarks = strings.NewReplacer("™", "", "®", "", "©", "")

// foldAccents removes combining marks: "Pokémon" becomes "Pokemon".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeTitle is the case-insensitive, whitespace-trimmed form used for title
// matching.
func NormalizeTitle(title string) string {
	title = trademarks.Replace(title)
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Slugify derives a URL slug: lowercase, spaces and separators become hyphens, other
// punctuation is stripped.
func Slugify(title string) string {
	title = foldAccents(trademarks.Replace(title))

	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			pendingHyphen = true
		}
	}

	if b.Len() == 0 {
		return "game"
	}
	return b.String()
}
