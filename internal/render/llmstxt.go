// Package render formats extracted pages as an llms.txt document.
package render

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// Length limits applied to summaries in the document.
const (
	SummaryLength     = 200
	LinkSummaryLength = 150
)

// mainSection collects pages that sit at the site root.
const mainSection = "Main"

// secondaryPatterns mark sections that are listed under "## Optional".
var secondaryPatterns = []string{
	"privacy", "terms", "legal", "cookie", "disclaimer",
	"sitemap", "changelog", "release",
	"contributing", "code-of-conduct", "governance", "license",
	"about", "team", "career", "job", "contact", "company",
	"twitter", "github", "linkedin", "facebook", "social",
	"archive", "old", "legacy", "deprecated",
}

// LLMSTxt implements crawler.Renderer. The first page is treated as the home page.
type LLMSTxt struct{}

var _ crawler.Renderer = LLMSTxt{}

// Render builds the document for baseURL from pages.
func (LLMSTxt) Render(baseURL string, pages []crawler.PageRecord) ([]byte, error) {
	return []byte(Document(baseURL, pages)), nil
}

// Document returns the llms.txt text.
func Document(baseURL string, pages []crawler.PageRecord) string {
	if len(pages) == 0 {
		return fmt.Sprintf("# %s\n\n> No content available", baseURL)
	}

	home := pages[0]
	summary := home.Description
	if summary == "" {
		summary = truncate(home.Snippet, SummaryLength)
	}
	lines := []string{"# " + home.Title, "", "> " + summary, ""}

	sections := map[string][]string{}
	for _, p := range pages[1:] {
		name := sectionOf(baseURL, p.URL)
		sections[name] = append(sections[name], linkLine(p))
	}
	if len(sections) == 0 {
		return strings.Join(lines, "\n")
	}

	var primary, secondary []string
	for name := range sections {
		if isSecondary(name) {
			secondary = append(secondary, name)
		} else {
			primary = append(primary, name)
		}
	}
	sort.Strings(primary)
	sort.Strings(secondary)

	title := cases.Title(language.English)
	for _, name := range primary {
		heading := title.String(strings.NewReplacer("-", " ", "_", " ").Replace(name))
		lines = append(lines, "## "+heading, "")
		lines = append(lines, sections[name]...)
		lines = append(lines, "")
	}
	if len(secondary) > 0 {
		lines = append(lines, "## Optional", "")
		for _, name := range secondary {
			lines = append(lines, sections[name]...)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func sectionOf(baseURL, pageURL string) string {
	rest := strings.Trim(strings.ReplaceAll(pageURL, baseURL, ""), "/")
	first, _, _ := strings.Cut(rest, "/")
	if first == "" || first == "http:" || first == "https:" {
		return mainSection
	}
	return first
}

func linkLine(p crawler.PageRecord) string {
	line := fmt.Sprintf("- [%s](%s)", p.Title, p.URL)
	if p.Description == "" {
		return line
	}
	desc := truncate(p.Description, LinkSummaryLength)
	if desc != p.Description {
		desc += "..."
	}
	return line + ": " + desc
}

func isSecondary(section string) bool {
	lower := strings.ToLower(section)
	for _, pattern := range secondaryPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
