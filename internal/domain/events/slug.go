package events

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 255

var foldMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify turns a title into a URL slug: accents are folded to ASCII,
// anything other than letters, digits, underscores and hyphens is dropped,
// and runs of whitespace or hyphens become a single hyphen.
// Titles without any ASCII word characters produce "".
func Slugify(title string) string {
	folded, _, err := transform.String(foldMarks, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r > unicode.MaxASCII:
			continue
		case r == '_' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9'):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			pendingDash = true
		}
	}

	slug := strings.Trim(b.String(), "-_")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-_")
	}
	return slug
}
