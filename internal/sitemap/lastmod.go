package sitemap

import (
	"strings"
	"time"
)

// lastModLayouts are the W3C datetime profiles seen in real sitemaps.
var lastModLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseLastModified parses a <lastmod> value into an instant expressed in UTC,
// or nil when the value is empty or unrecognized. Values without an offset are
// read as UTC.
func ParseLastModified(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			instant := t.UTC()
			return &instant
		}
	}
	return nil
}

// StripZone keeps t's wall clock and relabels it as UTC, without converting.
func StripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
