package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Text strips all HTML and returns plain text with entities decoded, so a
// title like "Q&A night" round-trips unchanged.
// Templates escape the result again, so stored text never carries entities.
// Use for: event titles, descriptions, locations, usernames, profile fields.
func Text(input string) string {
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(input)))
}
