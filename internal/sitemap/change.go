package sitemap

import (
	"context"
	"time"
)

// Parser is the single-sitemap parse the change detector depends on.
type Parser interface {
	Parse(ctx context.Context, sitemapURL string) (Tree, bool)
}

// ChangeDetector decides whether a site needs a real recrawl based on its
// sentinel sitemap alone.
type ChangeDetector struct {
	parser Parser
}

// NewChangeDetector builds a ChangeDetector.
func NewChangeDetector(parser Parser) *ChangeDetector {
	return &ChangeDetector{parser: parser}
}

// HasChanged reports whether the newest <lastmod> reachable from sentinelURL
// is strictly after lastKnown. Unparseable sitemaps, sitemaps without any
// <lastmod>, and a missing lastKnown all count as changed.
func (c *ChangeDetector) HasChanged(ctx context.Context, sentinelURL string, lastKnown *time.Time) (bool, *time.Time) {
	tree, ok := c.parser.Parse(ctx, sentinelURL)
	if !ok || tree.Newest == nil {
		return true, nil
	}
	if lastKnown == nil {
		return true, tree.Newest
	}
	return StripZone(*tree.Newest).After(StripZone(*lastKnown)), tree.Newest
}
