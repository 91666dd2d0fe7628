// Package detector decides whether a fetched body holds real page content or
// needs to be re-fetched through the rendering tier.
package detector

import (
	"strings"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/extract"
)

// Default thresholds for the meaningful-content check.
const (
	DefaultMinBodyLength = 100
	DefaultMinTextLength = 200
)

// DefaultIndicators are phrases that mark bot walls and interstitials.
var DefaultIndicators = []string{
	"access denied",
	"blocked",
	"captcha",
	"cloudflare",
	"please verify you are human",
	"robot or human",
	"security check",
}

// templateMarkers show unrendered server or client templates.
var templateMarkers = []string{"{{", "{%"}

// Heuristic implements crawler.ContentChecker with rule-based checks.
type Heuristic struct {
	MinBodyLength int
	MinTextLength int
	Indicators    []string
}

// NewHeuristic creates a detector. Zero thresholds fall back to the defaults.
func NewHeuristic(minBody, minText int) *Heuristic {
	if minBody <= 0 {
		minBody = DefaultMinBodyLength
	}
	if minText <= 0 {
		minText = DefaultMinTextLength
	}
	return &Heuristic{
		MinBodyLength: minBody,
		MinTextLength: minText,
		Indicators:    DefaultIndicators,
	}
}

var _ crawler.ContentChecker = (*Heuristic)(nil)

// Meaningful reports whether body is long enough, free of block-page
// phrases and template syntax, and carries enough visible text.
func (h *Heuristic) Meaningful(body []byte) bool {
	if len(strings.TrimSpace(string(body))) < h.MinBodyLength {
		return false
	}
	text, err := extract.VisibleText(body)
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, indicator := range h.Indicators {
		if strings.Contains(lower, indicator) {
			return false
		}
	}
	for _, marker := range templateMarkers {
		if strings.Contains(text, marker) {
			return false
		}
	}
	return len([]rune(text)) > h.MinTextLength
}
