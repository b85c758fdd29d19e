package news

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var cdataRe = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)

// CleanText strips CDATA wrappers, markup and entities from feed text and
// collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = cdataRe.ReplaceAllString(s, "$1")

	text := s
	if strings.ContainsAny(s, "<&") {
		// the parser decodes entities exactly once
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			doc.Find("script, style").Remove()
			text = doc.Text()
		} else {
			text = html.UnescapeString(s)
		}
	}

	return strings.Join(strings.Fields(text), " ")
}
