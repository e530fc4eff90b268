package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Canonicalize strips HTML, collapses whitespace and truncates to maxChars runes.
// The same input always yields the same output.
func Canonicalize(text string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(StripHTML(text)), " ")
	if maxChars > 0 && utf8.RuneCountInString(collapsed) > maxChars {
		collapsed = strings.TrimSpace(string([]rune(collapsed)[:maxChars]))
	}
	return collapsed
}

// StripHTML returns the text content of an HTML fragment.
// Scripts and styles are dropped, entities are decoded and block boundaries become spaces.
func StripHTML(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}

	// Separate adjacent elements so "<p>a</p><p>b</p>" does not become "ab"
	spaced := strings.ReplaceAll(text, "<", " <")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaced))
	if err != nil {
		return text
	}
	doc.Find("script, style, noscript").Remove()

	return doc.Text()
}
