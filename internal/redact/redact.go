// Package redact masks credentials and PII before text leaves the process
// through logs or client-visible error details.
package redact

import (
	"regexp"
	"unicode/utf8"
)

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`)
	keyPattern    = regexp.MustCompile(`\b(?:sk|ek)[-_][A-Za-z0-9_\-]{8,}`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Secrets masks bearer tokens and API keys.
func Secrets(input string) string {
	out := bearerPattern.ReplaceAllString(input, "Bearer [REDACTED]")
	return keyPattern.ReplaceAllString(out, "[REDACTED_KEY]")
}

// PII masks common high-risk PII patterns.
func PII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones so card numbers are not classified as phones.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Text applies both Secrets and PII.
func Text(input string) string {
	out, _ := PII(Secrets(input))
	return out
}

// Body redacts an upstream response body and cuts it to at most n bytes.
// The cut never splits a UTF-8 sequence.
func Body(body []byte, n int) string {
	if n < 0 {
		n = 0
	}
	if len(body) > n {
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n]
	}
	return Text(string(body))
}
