// Package sitemap discovers crawlable URLs from sitemaps.org documents and
// detects whether a site's sitemap reports new modifications.
package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// DefaultCandidates are tried in order; the first parseable document wins.
var DefaultCandidates = []string{"/sitemap_index.xml", "/sitemap.xml"}

// Defaults bounding index recursion.
const (
	DefaultMaxDepth     = 4
	DefaultMaxDocuments = 100
)

// Entry is one <url> element of a leaf sitemap.
type Entry struct {
	URL             string
	LastModified    *time.Time
	ChangeFrequency string
	Priority        *float64
}

// Tree is the flattened content of a sitemap and all of its children.
type Tree struct {
	Entries   []Entry
	Newest    *time.Time
	Documents int
}

// Result is what Discover reports for a site.
type Result struct {
	URLs               []string
	NewestLastModified *time.Time
	// Found is false when no candidate produced a parseable document.
	Found  bool
	Source string
}

// Config controls discovery.
type Config struct {
	Candidates   []string
	MaxDepth     int
	MaxDocuments int
}

// Discoverer fetches and parses sitemaps through a Tier-1 fetcher.
type Discoverer struct {
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// NewDiscoverer builds a Discoverer.
func NewDiscoverer(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) *Discoverer {
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = DefaultMaxDocuments
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Discover tries the candidate paths under baseURL and returns the
// normalized, deduplicated, in-scope page URLs of the first one that parses.
// A site without a usable sitemap yields Found == false, never an error.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) Result {
	base := crawler.Normalize(baseURL)
	for _, candidate := range d.cfg.Candidates {
		if ctx.Err() != nil {
			return Result{}
		}
		sitemapURL := base + candidate
		tree, ok := d.Parse(ctx, sitemapURL)
		if !ok {
			continue
		}
		return Result{
			URLs:               scope(base, tree.Entries),
			NewestLastModified: tree.Newest,
			Found:              true,
			Source:             sitemapURL,
		}
	}
	return Result{}
}

// Parse fetches sitemapURL and resolves index documents recursively. It
// returns false only when the root document itself is unusable; failed
// child branches contribute nothing.
func (d *Discoverer) Parse(ctx context.Context, sitemapURL string) (Tree, bool) {
	w := &walker{d: d, seen: make(map[string]struct{})}
	root, err := w.fetch(ctx, sitemapURL)
	if err != nil {
		d.logger.Debug("sitemap unavailable", zap.String("url", sitemapURL), zap.Error(err))
		return Tree{}, false
	}
	var tree Tree
	w.walk(ctx, root, 0, &tree)
	tree.Documents = w.documents
	return tree, true
}

type walker struct {
	d         *Discoverer
	seen      map[string]struct{}
	documents int
}

func (w *walker) fetch(ctx context.Context, sitemapURL string) (*xmlquery.Node, error) {
	w.seen[crawler.Normalize(sitemapURL)] = struct{}{}
	w.documents++
	resp, err := w.d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: sitemapURL})
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	return parseDocument(resp.Body)
}

func (w *walker) walk(ctx context.Context, root *xmlquery.Node, depth int, tree *Tree) {
	switch root.Data {
	case "urlset":
		for _, entry := range leafEntries(root) {
			tree.Entries = append(tree.Entries, entry)
			tree.Newest = later(tree.Newest, entry.LastModified)
		}
	case "sitemapindex":
		if depth >= w.d.cfg.MaxDepth {
			w.d.logger.Debug("sitemap index too deep", zap.Int("depth", depth))
			return
		}
		for _, child := range childLocations(root) {
			if ctx.Err() != nil || w.documents >= w.d.cfg.MaxDocuments {
				return
			}
			if _, dup := w.seen[crawler.Normalize(child)]; dup {
				continue
			}
			node, err := w.fetch(ctx, child)
			if err != nil {
				w.d.logger.Debug("sitemap branch skipped", zap.String("url", child), zap.Error(err))
				continue
			}
			w.walk(ctx, node, depth+1, tree)
		}
	}
}

// parseDocument returns the root element of a sitemap or sitemap index.
func parseDocument(body []byte) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrParse, err)
	}
	root := xmlquery.FindOne(doc, "/*")
	if root == nil {
		return nil, fmt.Errorf("%w: empty document", crawler.ErrParse)
	}
	if root.Data != "urlset" && root.Data != "sitemapindex" {
		return nil, fmt.Errorf("%w: unexpected root element %q", crawler.ErrParse, root.Data)
	}
	return root, nil
}

func leafEntries(root *xmlquery.Node) []Entry {
	var entries []Entry
	for _, n := range xmlquery.Find(root, "*[local-name()='url']") {
		loc := childText(n, "loc")
		if loc == "" {
			continue
		}
		entry := Entry{
			URL:             loc,
			LastModified:    ParseLastModified(childText(n, "lastmod")),
			ChangeFrequency: childText(n, "changefreq"),
		}
		if raw := childText(n, "priority"); raw != "" {
			if p, err := strconv.ParseFloat(raw, 64); err == nil && p >= 0 && p <= 1 {
				entry.Priority = &p
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func childLocations(root *xmlquery.Node) []string {
	var locs []string
	for _, n := range xmlquery.Find(root, "*[local-name()='sitemap']") {
		if loc := childText(n, "loc"); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs
}

func childText(n *xmlquery.Node, name string) string {
	child := xmlquery.FindOne(n, "*[local-name()='"+name+"']")
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

// scope normalizes entries and keeps unique same-site URLs that are not skipped.
func scope(base string, entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	urls := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !crawler.SameSite(base, entry.URL) || crawler.ShouldSkip(entry.URL) {
			continue
		}
		u := crawler.Normalize(entry.URL)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

func later(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.After(*current) {
		t := *candidate
		return &t
	}
	return current
}
