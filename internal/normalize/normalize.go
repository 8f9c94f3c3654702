package normalize

import "strings"

// Username returns a normalized form of a username suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the name.
func Username(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// Email returns a normalized form of an email address suitable for
// storage and comparisons.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
