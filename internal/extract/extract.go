// Package extract turns fetched markup into page records and outbound links.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// Untitled is used when a page has neither a <title> nor an <h1>.
const Untitled = "Untitled"

// Ellipsis marks a truncated snippet.
const Ellipsis = "..."

// chrome lists elements whose text never belongs in a page summary.
var chrome = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"nav":      {},
	"footer":   {},
	"header":   {},
}

// hidden lists elements whose text is never rendered.
var hidden = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

// Page extracts the summary record for pageURL and every resolvable link in body.
func Page(body []byte, pageURL string, descLen int) (crawler.PageRecord, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.PageRecord{}, nil, fmt.Errorf("parse markup: %w: %w", crawler.ErrParse, err)
	}

	links := Links(doc, pageURL)
	record := crawler.PageRecord{
		URL:         pageURL,
		Title:       Title(doc),
		Description: Description(doc),
		Snippet:     Snippet(text(doc.Selection, chrome), descLen),
	}
	return record, links, nil
}

// Title returns the document title, falling back to the first heading.
func Title(doc *goquery.Document) string {
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := collapse(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return Untitled
}

// Description returns the meta description, then the Open Graph description.
func Description(doc *goquery.Document) string {
	for _, selector := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.TrimSpace(s.AttrOr("content", ""))
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// Links returns absolute http(s) targets of every anchor, in document order.
func Links(doc *goquery.Document, pageURL string) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs, ok := crawler.ResolveLink(pageURL, href); ok {
			links = append(links, abs)
		}
	})
	return links
}

// Text returns the whitespace-collapsed body text without page chrome.
func Text(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w: %w", crawler.ErrParse, err)
	}
	return text(doc.Selection, chrome), nil
}

// VisibleText returns all rendered text, including navigation and footers.
func VisibleText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w: %w", crawler.ErrParse, err)
	}
	return text(doc.Selection, hidden), nil
}

// Snippet returns text unchanged when it fits in n runes. Otherwise it cuts at
// n runes, backs off to the last word boundary, and appends Ellipsis.
func Snippet(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	cut := runes[:n]
	if !unicode.IsSpace(runes[n]) {
		if i := lastSpace(cut); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + Ellipsis
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}

func text(sel *goquery.Selection, skip map[string]struct{}) string {
	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, ok := skip[strings.ToLower(n.Data)]; ok {
				return
			}
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(words, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
