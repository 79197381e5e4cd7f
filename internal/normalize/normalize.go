package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons: surrounding whitespace trimmed and the
// address lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Code normalizes a user-typed one-time code before comparison.
func Code(c string) string {
	return strings.TrimSpace(c)
}

// Text trims surrounding whitespace from free-form message text. A message
// that is empty after this pass is rejected before any safety check runs.
func Text(t string) string {
	return strings.TrimSpace(t)
}
