package memtools

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/textproc"
)

// Detail levels for read tools.
//   - summary: ids, roles and timestamps only
//   - standard: content snippets (default)
//   - full: complete content
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

const snippetLength = 200

// DetailLevelValues returns the enum values for tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel defaults to standard for empty or unrecognized values.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// SummaryFooter is appended to summary-mode responses.
const SummaryFooter = "\n---\n💡 Use detail_level: standard or full for more detail."

// NavigationHint returns a footer when results were capped by the limit.
// A result set that filled the limit exactly is reported as capped, since
// more rows may exist.
func NavigationHint(showing, limit int, hint string) string {
	if showing == 0 || showing < limit {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("\n📊 Showing the first %d. %s", showing, hint)
	}
	return fmt.Sprintf("\n📊 Showing the first %d.", showing)
}

// TokenFooter reports the approximate size of a response.
func TokenFooter(text string) string {
	return fmt.Sprintf("\n📏 ~%s tokens", formatNumber(textproc.EstimateTokens(text)))
}

// render applies the detail level to content.
func render(content, level string) string {
	switch level {
	case DetailSummary:
		return ""
	case DetailFull:
		return content
	default:
		return snippet(content, snippetLength)
	}
}

// snippet cuts s to at most n runes, marking the cut with an ellipsis.
func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + textproc.Ellipsis
}

// formatNumber formats an integer with comma separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

// finish appends the summary footer when applicable and the token footer.
func finish(b *strings.Builder, level string) string {
	if level == DetailSummary {
		b.WriteString(SummaryFooter)
	}
	body := b.String()
	return body + TokenFooter(body)
}
