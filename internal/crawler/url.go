package crawler

import (
	"net/url"
	"path"
	"strings"
)

// MaxQueryLength is the longest raw query string a crawlable URL may carry.
const MaxQueryLength = 50

// skipRoots are leading path segments that never lead to content pages.
var skipRoots = map[string]struct{}{
	"logout":   {},
	"login":    {},
	"signin":   {},
	"signup":   {},
	"admin":    {},
	"wp-admin": {},
	"feed":     {},
	"rss":      {},
}

// skipNamespaces are skipped only when more path follows them, so /docs/api
// is a page while /api/v1/users is an endpoint.
var skipNamespaces = map[string]struct{}{
	"api":     {},
	"jobs":    {},
	"careers": {},
}

// skipExtensions are binary assets, documents, and feeds. ".xml" also covers
// sitemap*.xml.
var skipExtensions = map[string]struct{}{
	".pdf": {}, ".zip": {}, ".gz": {}, ".tar": {}, ".rar": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".ico": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".exe": {}, ".dmg": {}, ".css": {}, ".js": {}, ".xml": {}, ".rss": {}, ".atom": {},
}

// Normalize reduces a URL to scheme, host, and path with the query, fragment,
// and trailing slashes removed. Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return strings.TrimRight(raw, "/")
	}
	p := strings.TrimRight(u.EscapedPath(), "/")
	if u.Scheme == "" && u.Host == "" {
		return p
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme + "://" + canonicalHost(scheme, u.Host) + p
}

// SameSite reports whether a and b share a host. Scheme and path are ignored.
func SameSite(a, b string) bool {
	ha, hb := host(a), host(b)
	return ha != "" && ha == hb
}

// ShouldSkip reports whether raw points at a non-content resource: an
// overlong query, an auth/admin/API/jobs/feed path, or a binary extension.
func ShouldSkip(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return true
	}
	if len(u.RawQuery) > MaxQueryLength {
		return true
	}
	p := strings.ToLower(u.Path)
	segments := strings.Split(strings.Trim(p, "/"), "/")
	if _, ok := skipRoots[segments[0]]; ok {
		return true
	}
	for i, segment := range segments[:len(segments)-1] {
		if _, ok := skipNamespaces[segment]; ok && segments[i+1] != "" {
			return true
		}
	}
	_, ok := skipExtensions[path.Ext(path.Base(p))]
	return ok
}

// ResolveLink resolves href against the page it was found on. It returns false
// for empty, non-http(s), or unparsable references.
func ResolveLink(pageURL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

func host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return canonicalHost(strings.ToLower(u.Scheme), u.Host)
}

func canonicalHost(scheme, h string) string {
	h = strings.ToLower(h)
	switch {
	case scheme == "http" && strings.HasSuffix(h, ":80"):
		h = strings.TrimSuffix(h, ":80")
	case scheme == "https" && strings.HasSuffix(h, ":443"):
		h = strings.TrimSuffix(h, ":443")
	}
	return h
}
