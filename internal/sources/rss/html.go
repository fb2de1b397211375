package rss

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips markup from an entry body and collapses whitespace.
func PlainText(body string) string {
	if !strings.Contains(body, "<") {
		return strings.Join(strings.Fields(body), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.Join(strings.Fields(body), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// FirstImage returns the first <img> source in body, honouring common
// lazy-loading attributes.
func FirstImage(body string) string {
	if !strings.Contains(strings.ToLower(body), "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src", "data-original"} {
			if v, ok := s.Attr(attr); ok && strings.HasPrefix(v, "http") {
				src = v
				return false
			}
		}
		return true
	})
	return src
}
