package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// SiteStore keeps schedule rows keyed by base URL.
type SiteStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]crawler.Site
	byURL  map[string]int64
}

var _ crawler.SiteStore = (*SiteStore)(nil)

// NewSiteStore constructs an empty SiteStore.
func NewSiteStore() *SiteStore {
	return &SiteStore{
		byID:  make(map[int64]crawler.Site),
		byURL: make(map[string]int64),
	}
}

// UpsertSite inserts or refreshes the row for site.BaseURL.
func (s *SiteStore) UpsertSite(_ context.Context, site crawler.SiteUpsert) (int64, error) {
	if site.BaseURL == "" {
		return 0, fmt.Errorf("base url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byURL[site.BaseURL]
	row := s.byID[id]
	if !ok {
		s.nextID++
		id = s.nextID
		s.byURL[site.BaseURL] = id
		row = crawler.Site{ID: id, BaseURL: site.BaseURL}
	}
	row.PageBudget = site.PageBudget
	row.DescriptionLength = site.DescriptionLength
	row.RecrawlIntervalMinutes = site.RecrawlIntervalMinutes
	row.SentinelURL = site.SentinelURL
	row.LatestContentHash = site.ContentHash
	row.PublishedURL = site.PublishedURL
	row.LastCrawledAt = pointerTime(site.CrawledAt)
	row.NextCrawlAt = pointerTime(site.NextCrawlAt)
	s.byID[id] = row
	return id, nil
}

// UpdateSchedule applies a recrawl decision.
func (s *SiteStore) UpdateSchedule(_ context.Context, update crawler.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[update.SiteID]
	if !ok {
		return fmt.Errorf("site %d: %w", update.SiteID, crawler.ErrNotFound)
	}
	row.NextCrawlAt = pointerTime(update.NextCrawlAt)
	if update.SitemapLastModified != nil {
		row.SitemapLastModified = update.SitemapLastModified
	}
	row.AvgChangeIntervalMinutes = update.AvgChangeIntervalMinutes
	row.LastChangedAt = update.LastChangedAt
	if update.ContentHash != "" {
		row.LatestContentHash = update.ContentHash
	}
	if update.PublishedURL != "" {
		row.PublishedURL = update.PublishedURL
	}
	if update.CrawledAt != nil {
		row.LastCrawledAt = update.CrawledAt
	}
	s.byID[update.SiteID] = row
	return nil
}

// DueSites lists rows with no next crawl time or one at or before now.
func (s *SiteStore) DueSites(_ context.Context, now time.Time) ([]crawler.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []crawler.Site
	for _, row := range s.byID {
		if row.NextCrawlAt == nil || !row.NextCrawlAt.After(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// Get returns the row for baseURL.
func (s *SiteStore) Get(baseURL string) (crawler.Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[baseURL]
	if !ok {
		return crawler.Site{}, false
	}
	return s.byID[id], true
}
