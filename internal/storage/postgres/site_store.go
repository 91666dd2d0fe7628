package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

const defaultSitesTable = "crawl_sites"

// SiteStore keeps one schedule row per published site.
type SiteStore struct {
	db    DB
	table string
}

var _ crawler.SiteStore = (*SiteStore)(nil)

// NewSiteStore wraps an open pool. An empty table selects crawl_sites.
func NewSiteStore(db DB, table string) (*SiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultSitesTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SiteStore{db: db, table: table}, nil
}

// UpsertSite inserts or refreshes the row for site.BaseURL and returns its id.
func (s *SiteStore) UpsertSite(ctx context.Context, site crawler.SiteUpsert) (int64, error) {
	if site.BaseURL == "" {
		return 0, fmt.Errorf("base url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	base_url,
	recrawl_interval_minutes,
	max_pages,
	desc_length,
	sentinel_url,
	latest_llms_hash,
	latest_llms_url,
	last_crawled_at,
	next_crawl_at,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$8)
ON CONFLICT (base_url) DO UPDATE SET
	recrawl_interval_minutes = EXCLUDED.recrawl_interval_minutes,
	max_pages = EXCLUDED.max_pages,
	desc_length = EXCLUDED.desc_length,
	sentinel_url = EXCLUDED.sentinel_url,
	latest_llms_hash = EXCLUDED.latest_llms_hash,
	latest_llms_url = EXCLUDED.latest_llms_url,
	last_crawled_at = EXCLUDED.last_crawled_at,
	next_crawl_at = EXCLUDED.next_crawl_at,
	updated_at = EXCLUDED.updated_at
RETURNING id`, s.table)

	var id int64
	err := s.db.QueryRow(ctx, query,
		site.BaseURL,
		site.RecrawlIntervalMinutes,
		site.PageBudget,
		site.DescriptionLength,
		site.SentinelURL,
		site.ContentHash,
		site.PublishedURL,
		site.CrawledAt,
		site.NextCrawlAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert site: %w", err)
	}
	return id, nil
}

// UpdateSchedule writes a recrawl decision. Empty hash and URL keep the stored values.
func (s *SiteStore) UpdateSchedule(ctx context.Context, update crawler.ScheduleUpdate) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	next_crawl_at = $2,
	sitemap_newest_lastmod = COALESCE($3, sitemap_newest_lastmod),
	avg_change_interval_minutes = $4,
	last_changed_at = $5,
	latest_llms_hash = COALESCE(NULLIF($6, ''), latest_llms_hash),
	latest_llms_url = COALESCE(NULLIF($7, ''), latest_llms_url),
	last_crawled_at = COALESCE($8, last_crawled_at),
	updated_at = now()
WHERE id = $1`, s.table)

	tag, err := s.db.Exec(ctx, query,
		update.SiteID,
		update.NextCrawlAt,
		update.SitemapLastModified,
		update.AvgChangeIntervalMinutes,
		update.LastChangedAt,
		update.ContentHash,
		update.PublishedURL,
		update.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("site %d: %w", update.SiteID, crawler.ErrNotFound)
	}
	return nil
}

// DueSites lists sites whose next crawl is unset or at or before now.
func (s *SiteStore) DueSites(ctx context.Context, now time.Time) ([]crawler.Site, error) {
	query := fmt.Sprintf(`
SELECT
	id,
	base_url,
	max_pages,
	desc_length,
	recrawl_interval_minutes,
	avg_change_interval_minutes,
	COALESCE(sentinel_url, ''),
	COALESCE(latest_llms_hash, ''),
	COALESCE(latest_llms_url, ''),
	sitemap_newest_lastmod,
	last_changed_at,
	last_crawled_at,
	next_crawl_at
FROM %s
WHERE next_crawl_at IS NULL OR next_crawl_at <= $1
ORDER BY next_crawl_at NULLS FIRST, id`, s.table)

	rows, err := s.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due sites: %w", err)
	}
	defer rows.Close()

	var sites []crawler.Site
	for rows.Next() {
		var site crawler.Site
		if err := rows.Scan(
			&site.ID,
			&site.BaseURL,
			&site.PageBudget,
			&site.DescriptionLength,
			&site.RecrawlIntervalMinutes,
			&site.AvgChangeIntervalMinutes,
			&site.SentinelURL,
			&site.LatestContentHash,
			&site.PublishedURL,
			&site.SitemapLastModified,
			&site.LastChangedAt,
			&site.LastCrawledAt,
			&site.NextCrawlAt,
		); err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site rows: %w", err)
	}
	return sites, nil
}

// wrapRowErr maps pgx.ErrNoRows to crawler.ErrNotFound.
func wrapRowErr(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, crawler.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
