package newsletter

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const alphaSignalShortenerHost = "link.alphasignal.ai"

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	popularityPattern = regexp.MustCompile(`([\d,.]+[KkMm]?)\s*(likes|upvotes|points|stars|views)`)
)

// alphaSignalSections are the digest's headings in display order.
var alphaSignalSections = []string{
	"TOP NEWS",
	"TRENDING SIGNALS",
	"TOP TUTORIALS",
	"HOW TO",
}

// AlphaSignalFormat extracts items from the AlphaSignal tech digest. Items
// carry their link through the digest's shortener, so every URL is reduced to
// its canonical https://link.alphasignal.ai/<code> form.
type AlphaSignalFormat struct {
	logger *zap.Logger
}

func NewAlphaSignalFormat(logger *zap.Logger) *AlphaSignalFormat {
	return &AlphaSignalFormat{logger: logger}
}

func (f *AlphaSignalFormat) Name() string { return "alphasignal" }

func (f *AlphaSignalFormat) Match(sender string) bool {
	return strings.Contains(strings.ToLower(sender), "alphasignal")
}

// Extract splits the prepared body on the digest's section headings and pulls
// one item per shortener link, titling it from the nearest preceding text
// line. A failure to parse one item skips that item only.
func (f *AlphaSignalFormat) Extract(body string) Extraction {
	prepared := PrepareBody(body)
	sections := splitSections(prepared, alphaSignalSections)
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

func (f *AlphaSignalFormat) extractItems(section bodySection) []Item {
	var items []Item
	var lastText string

	for _, line := range strings.Split(section.text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		match := urlPattern.FindString(line)
		if match == "" || !strings.Contains(match, alphaSignalShortenerHost) {
			// A text line is a candidate title for the next link.
			lastText = line
			continue
		}

		title := strings.TrimSpace(urlPattern.ReplaceAllString(line, ""))
		if title == "" {
			title = lastText
		}
		if title == "" {
			continue
		}

		item := Item{
			Title:    cleanTitle(title),
			URL:      CanonicalShortenerURL(match, alphaSignalShortenerHost),
			Category: section.heading,
		}
		if pop := popularityPattern.FindString(line + " " + lastText); pop != "" {
			item.Popularity = pop
		}
		items = append(items, item)
		lastText = ""
	}

	return items
}

// bodySection is one heading-delimited region of a digest body.
type bodySection struct {
	heading string
	text    string
}

// splitSections walks the body line by line, starting a new section whenever
// a line equals one of the known headings (case-insensitive). Text before the
// first heading is discarded; bodies with no headings return nil.
func splitSections(body string, headings []string) []bodySection {
	known := make(map[string]string, len(headings))
	for _, h := range headings {
		known[strings.ToUpper(h)] = h
	}

	var sections []bodySection
	var current *bodySection
	var buf strings.Builder

	flush := func() {
		if current != nil {
			current.text = buf.String()
			sections = append(sections, *current)
			buf.Reset()
		}
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if heading, ok := known[strings.ToUpper(trimmed)]; ok {
			flush()
			current = &bodySection{heading: heading}
			continue
		}
		if current != nil {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()

	return sections
}

var (
	numberingPattern = regexp.MustCompile(`^\d+[.)]\s+`)
	bulletPattern    = regexp.MustCompile(`^[\p{So}\p{Sk}►▸•*-]+\s*`)
)

// cleanTitle strips leading numbering and bullet or emoji markers.
func cleanTitle(title string) string {
	title = numberingPattern.ReplaceAllString(title, "")
	title = bulletPattern.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}
