// Package groundtruth selects the authoritative source bundle backing a
// generated task and caches the fetched artifacts locally.
package groundtruth

import (
	"net/url"
	"strings"

	"queryforge/internal/search"
)

// Source is one reference document: the primary artifact or a supporting
// citation.
type Source struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet,omitempty"`
	Origin      string `json:"source,omitempty"`
	Date        string `json:"date,omitempty"`
	SearchQuery string `json:"search_query,omitempty"`
}

// FromResult converts a search hit into a Source.
func FromResult(r search.Result) Source {
	return Source{
		Title:       r.Title,
		URL:         r.URL,
		Snippet:     r.Snippet,
		Origin:      r.Source,
		Date:        r.Date,
		SearchQuery: r.SearchQuery,
	}
}

// Bundle pairs the primary artifact with up to a few supporting sources.
// Degraded marks a bundle whose primary failed viability and was taken from
// the raw result list as a last resort.
type Bundle struct {
	Primary    Source   `json:"primary"`
	Supporting []Source `json:"supporting,omitempty"`
	Degraded   bool     `json:"degraded,omitempty"`
}

var skipDomains = []string{"duckduckgo.com", "r.jina.ai", "apps.apple.com", "itunes.apple.com"}

var skipExtensions = []string{
	".ico", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
	".css", ".js", ".ttf", ".woff", ".woff2",
}

// IsViable reports whether a URL can serve as a reference source: a local
// file or an http(s) page that is neither a proxy mirror nor a static asset.
func IsViable(raw string) bool {
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme == "file" {
		return true
	}
	if !strings.HasPrefix(parsed.Scheme, "http") {
		return false
	}
	host := strings.ToLower(parsed.Host)
	for _, banned := range skipDomains {
		if host == banned || strings.HasSuffix(host, "."+banned) {
			return false
		}
	}
	path := strings.ToLower(parsed.Path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// primaryRank orders candidates by artifact quality: explicit PDFs first,
// code repositories second, model hubs third, generic pages last. Shorter
// URLs win within a rank.
func primaryRank(raw string) (int, int) {
	if raw == "" {
		return 99, 99
	}
	u := strings.ToLower(raw)
	switch {
	case strings.HasSuffix(u, ".pdf") || strings.Contains(u, "/pdf"):
		return 0, len(u)
	case strings.Contains(u, "github.com") || strings.Contains(u, "gitlab.com") || strings.Contains(u, "bitbucket.org"):
		return 1, len(u)
	case strings.Contains(u, "huggingface.co"):
		return 2, len(u)
	}
	return 5, len(u)
}
