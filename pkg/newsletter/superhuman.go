package newsletter

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var superhumanSections = []string{
	"TODAY IN AI",
	"FROM THE FRONTIER",
	"AI & TECH NEWS",
	"PRODUCTIVITY",
	"SOCIAL SIGNALS",
}

// itemLeadPattern matches the start of a Superhuman item line: either a
// numbered entry ("1. ", "2) ") or an emoji bullet.
var itemLeadPattern = regexp.MustCompile(`^(\d+[.)]\s+|[\p{So}\p{Sk}]\s*)`)

// SuperhumanFormat extracts items from the Superhuman AI digest, which lists
// entries as numbered or emoji-bulleted lines with the target URL embedded in
// each line.
type SuperhumanFormat struct {
	logger *zap.Logger
}

func NewSuperhumanFormat(logger *zap.Logger) *SuperhumanFormat {
	return &SuperhumanFormat{logger: logger}
}

func (f *SuperhumanFormat) Name() string { return "superhuman" }

func (f *SuperhumanFormat) Match(sender string) bool {
	return strings.Contains(strings.ToLower(sender), "superhuman")
}

func (f *SuperhumanFormat) Extract(body string) Extraction {
	prepared := PrepareBody(body)
	sections := splitSections(prepared, superhumanSections)
	if len(sections) == 0 {
		return Extraction{Sections: map[string]string{"": prepared}}
	}

	extraction := Extraction{Sections: make(map[string]string, len(sections))}
	for _, section := range sections {
		extraction.Sections[section.heading] = section.text
		extraction.Items = append(extraction.Items, f.extractItems(section)...)
	}

	f.logger.Debug("Extracted newsletter items",
		zap.String("format", f.Name()),
		zap.Int("sections", len(sections)),
		zap.Int("items", len(extraction.Items)))

	return extraction
}

// extractItems treats every numbered or emoji-led line as an item. The URL
// may sit on the item line itself or on the following line; items that never
// resolve a URL are kept with an empty URL since the source field tolerates a
// textual fallback.
func (f *SuperhumanFormat) extractItems(section bodySection) []Item {
	var items []Item
	var pending *Item

	for _, line := range strings.Split(section.text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if itemLeadPattern.MatchString(line) {
			if pending != nil {
				items = append(items, *pending)
			}
			title := cleanTitle(urlPattern.ReplaceAllString(line, ""))
			if title == "" {
				pending = nil
				continue
			}
			pending = &Item{
				Title:    title,
				URL:      NormalizeURL(urlPattern.FindString(line)),
				Category: section.heading,
			}
			continue
		}

		// Continuation line: adopt a URL for the pending item if it has none.
		if pending != nil && pending.URL == "" {
			if match := urlPattern.FindString(line); match != "" {
				pending.URL = NormalizeURL(match)
			}
		}
	}
	if pending != nil {
		items = append(items, *pending)
	}

	return items
}
