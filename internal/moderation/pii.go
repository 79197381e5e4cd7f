// Package moderation implements the content safety filter: regex-based PII
// detection and toxicity scoring through an external moderation service.
package moderation

import "regexp"

// Detected PII kinds, recorded in the violation log.
const (
	KindEmail = "email"
	KindPhone = "phone"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// Phone-like: an optional leading +, then at least nine characters of
	// digits and common separators bounded by digits. Loose on purpose;
	// false positives cost a retry, false negatives leak contact details.
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
)

// Detection describes the first PII match found in a candidate text.
type Detection struct {
	Kind string
	Text string
}

// DetectPII scans text for email-like and phone-like substrings and returns
// the first match. Pure function, no side effects.
func DetectPII(text string) (*Detection, bool) {
	if m := emailPattern.FindString(text); m != "" {
		return &Detection{Kind: KindEmail, Text: m}, true
	}
	if m := phonePattern.FindString(text); m != "" {
		return &Detection{Kind: KindPhone, Text: m}, true
	}
	return nil, false
}
