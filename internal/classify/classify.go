// Package classify labels free text with a fixed set of rules.
//
// Classify is a pure function: the same text always yields the same
// Classification and no state is kept between calls.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Label is the outcome category of a classification.
type Label string

// Labels, in the order rules are tried.
const (
	LabelPreference Label = "preference"
	LabelFact       Label = "fact"
	LabelSemantic   Label = "semantic"
	LabelIgnore     Label = "ignore"
)

// Structured data keys.
const (
	KeyAvoidDays = "avoid_days"
	HintContact  = "contact"
	HintDateRef  = "date_ref"
)

// semanticMinLen is the length above which unmatched text counts as semantic.
const semanticMinLen = 40

// Classification is the result of Classify. Data is nil when a rule carries
// no structured payload.
type Classification struct {
	Label      Label          `json:"label"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
}

// PreferenceKV returns the key and value a preference rule extracted, if any.
func (c Classification) PreferenceKV() (string, any, bool) {
	if c.Label != LabelPreference || c.Data == nil {
		return "", nil, false
	}
	key, ok := c.Data["key"].(string)
	if !ok || key == "" {
		return "", nil, false
	}
	value, ok := c.Data["value"]
	if !ok || value == nil {
		return "", nil, false
	}
	return key, value, true
}

var (
	avoidDay = regexp.MustCompile(`(?i)\bavoids?\s+(?:meetings\s+)?(?:on\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	prefCue  = regexp.MustCompile(`(?i)\b(?:i\s+prefer|i\s+like|i\s+usually)\b`)
	contact  = regexp.MustCompile(`(?i)\bmy\s+(?:email|phone)\b`)
	dateRef  = regexp.MustCompile(`\b(?:on|at)\s+\d{4}-\d{2}-\d{2}\b`)
)

// Classify applies the rules in order; the first match wins.
//
//  1. empty or whitespace-only: ignore, 1.0
//  2. weekday avoidance: preference, 0.9, {key: avoid_days, value: [Day]}
//  3. "I prefer" / "I like" / "I usually": preference, 0.7
//  4. "my email" / "my phone": fact, 0.7, {hint: contact}
//  5. "on|at YYYY-MM-DD": fact, 0.7, {hint: date_ref}
//  6. longer than 40 characters: semantic, 0.6
//  7. otherwise: ignore, 0.5
func Classify(text string) Classification {
	text = strings.TrimSpace(text)
	if text == "" {
		return Classification{Label: LabelIgnore, Confidence: 1.0}
	}

	if m := avoidDay.FindStringSubmatch(text); m != nil {
		return Classification{
			Label:      LabelPreference,
			Confidence: 0.9,
			Data: map[string]any{
				"key":   KeyAvoidDays,
				"value": []string{capitalize(m[1])},
			},
		}
	}
	if prefCue.MatchString(text) {
		return Classification{Label: LabelPreference, Confidence: 0.7}
	}

	if contact.MatchString(text) {
		return Classification{Label: LabelFact, Confidence: 0.7, Data: map[string]any{"hint": HintContact}}
	}
	if dateRef.MatchString(text) {
		return Classification{Label: LabelFact, Confidence: 0.7, Data: map[string]any{"hint": HintDateRef}}
	}

	if utf8.RuneCountInString(text) > semanticMinLen {
		return Classification{Label: LabelSemantic, Confidence: 0.6}
	}
	return Classification{Label: LabelIgnore, Confidence: 0.5}
}

func capitalize(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
