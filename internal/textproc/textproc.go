// Package textproc prepares raw user text for storage: canonical Unicode
// form, whitespace cleanup, length limits, a rough token count and PII
// masking. Every function here is total and never fails.
package textproc

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLength is the sanitize limit used when none is configured.
const DefaultMaxLength = 8000

// Ellipsis replaces the tail of truncated text.
const Ellipsis = "…"

// Sentinels substituted for masked PII.
const (
	EmailSentinel = "<email>"
	PhoneSentinel = "<phone>"
)

var (
	email     = regexp.MustCompile(`\b[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}\b`)
	phone     = regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`)
)

// Normalize returns the NFC form of s.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// Sanitize trims s, removes invisible characters, collapses whitespace runs
// to one space and truncates to maxLen runes. Truncated text keeps maxLen-1
// runes followed by Ellipsis. maxLen <= 0 selects DefaultMaxLength.
func Sanitize(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	s = strings.Map(dropInvisible, s)
	s = strings.Join(strings.Fields(s), " ")

	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-1]) + Ellipsis
}

// dropInvisible removes format characters (zero-width spaces and joiners,
// word joiner, soft hyphen, BOM, bidi marks) and control characters other
// than whitespace, which strings.Fields collapses instead.
func dropInvisible(r rune) rune {
	if unicode.Is(unicode.Cf, r) || (unicode.IsControl(r) && !unicode.IsSpace(r)) {
		return -1
	}
	return r
}

// EstimateTokens approximates the token count as ceil(runes/4), at least 1.
func EstimateTokens(s string) int {
	n := (utf8.RuneCountInString(s) + 3) / 4
	return max(1, n)
}

// ─── PII ─────────────────────────────────────────────────────────────────────

// PIIMode selects how ingest treats personal data.
type PIIMode string

// Supported PII modes.
const (
	PIIStore  PIIMode = "store"  // pass through unchanged
	PIIMask   PIIMode = "mask"   // replace emails and phones with sentinels
	PIIIgnore PIIMode = "ignore" // pass through, no detection
)

// ParsePIIMode validates a configured mode name.
func ParsePIIMode(s string) (PIIMode, error) {
	switch m := PIIMode(strings.ToLower(strings.TrimSpace(s))); m {
	case PIIStore, PIIMask, PIIIgnore:
		return m, nil
	default:
		return "", fmt.Errorf("textproc: unknown pii mode %q (want store, mask or ignore)", s)
	}
}

// ApplyPII handles s according to mode and reports whether anything was
// replaced. Unknown modes behave like PIIMask.
func ApplyPII(s string, mode PIIMode) (string, bool) {
	switch mode {
	case PIIStore, PIIIgnore:
		return s, false
	default:
		return MaskPII(s)
	}
}

// MaskPII replaces email-like and phone-like substrings with EmailSentinel
// and PhoneSentinel. Emails are masked first so their digits are never read
// as a phone number.
func MaskPII(s string) (string, bool) {
	masked := email.ReplaceAllString(s, EmailSentinel)
	masked = maskPhones(masked)
	return masked, masked != s
}

// maskPhones replaces phone matches that are not glued to further digits.
func maskPhones(s string) string {
	locs := phone.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if start > 0 && isDigit(s[start-1]) {
			continue
		}
		if end < len(s) && isDigit(s[end]) {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(PhoneSentinel)
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
