package newsletter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	softBreakPattern = regexp.MustCompile(`=\r?\n`)
	hexEscapePattern = regexp.MustCompile(`=([0-9A-Fa-f]{2})`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
)

// DecodeQuotedPrintable resolves quoted-printable escapes left in a body.
// Fetched bodies are sometimes only partially decoded upstream, so this runs
// over plain text rather than assuming a well-formed QP stream: soft line
// breaks are removed and =XX hex escapes are replaced byte for byte. Each
// escape is one raw byte of the underlying UTF-8 stream, so the replacement
// must stay at the byte level; going through a rune would re-encode values
// above 0x7F and garble multi-byte sequences.
func DecodeQuotedPrintable(body string) string {
	body = softBreakPattern.ReplaceAllString(body, "")
	return string(hexEscapePattern.ReplaceAllFunc([]byte(body), func(escape []byte) []byte {
		value, err := strconv.ParseUint(string(escape[1:]), 16, 8)
		if err != nil {
			return escape
		}
		return []byte{byte(value)}
	}))
}

// HTMLToText renders an HTML body as plain text with block elements separated
// by newlines, so section-heading patterns can match line by line. Anchor
// targets are appended after the link text since digest items carry their URL
// in the href rather than the visible text. Returns the input unchanged when
// it does not parse as HTML.
func HTMLToText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	doc.Find("script, style, head").Remove()

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.HasPrefix(href, "http") {
			return
		}
		sel.AppendHtml(" " + href + " ")
	})

	doc.Find("br").Each(func(_ int, sel *goquery.Selection) {
		sel.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	text := doc.Text()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	return strings.TrimSpace(blankRunPattern.ReplaceAllString(text, "\n\n"))
}

// PrepareBody runs the standard decode pipeline for an email body: resolve
// quoted-printable leftovers, then flatten HTML to line-oriented text when
// the body looks like HTML.
func PrepareBody(body string) string {
	decoded := DecodeQuotedPrintable(body)
	if strings.Contains(decoded, "<html") || strings.Contains(decoded, "<body") ||
		strings.Contains(decoded, "<div") || strings.Contains(decoded, "<table") {
		return HTMLToText(decoded)
	}
	return decoded
}
