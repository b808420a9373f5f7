package services

import (
	"regexp"
	"strings"
)

// Generated search queries must work regardless of when they run, so
// date-relative language is scrubbed after generation no matter what the
// backend returned.
var (
	yearPattern     = regexp.MustCompile(`\b\d{4}\b`)
	temporalPhrases = regexp.MustCompile(`(?i)\bthis year\b`)
	temporalWords   = regexp.MustCompile(`(?i)\b(recent|latest|new|current|today|upcoming|modern|emerging)\b`)
	spaceRunPattern = regexp.MustCompile(`\s{2,}`)
)

// ScrubTemporal removes 4-digit year tokens and temporal adjectives from a
// query, collapsing the whitespace left behind.
func ScrubTemporal(query string) string {
	query = temporalPhrases.ReplaceAllString(query, "")
	query = yearPattern.ReplaceAllString(query, "")
	query = temporalWords.ReplaceAllString(query, "")
	query = spaceRunPattern.ReplaceAllString(query, " ")
	return strings.TrimSpace(query)
}

// ScrubTemporalAll scrubs every query and drops any left empty.
func ScrubTemporalAll(queries []string) []string {
	scrubbed := make([]string, 0, len(queries))
	for _, query := range queries {
		if clean := ScrubTemporal(query); clean != "" {
			scrubbed = append(scrubbed, clean)
		}
	}
	return scrubbed
}
