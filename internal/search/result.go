// Package search issues evidence-discovery queries against a fallback chain
// of web search backends, with per-query relaxation and retry.
package search

import "strings"

// Result is the normalized representation of a single search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	Source      string `json:"source,omitempty"`
	Date        string `json:"date,omitempty"`
	SearchQuery string `json:"search_query,omitempty"`
}

// Key is the dedup identity of a hit: the URL when present, otherwise
// title+snippet.
func (r Result) Key() string {
	if r.URL != "" {
		return r.URL
	}
	return r.Title + "|" + r.Snippet
}

// skipExtensions are asset suffixes that never carry usable evidence.
var skipExtensions = []string{
	".ico", ".png", ".jpg", ".jpeg", ".svg", ".gif", ".webp",
	".css", ".js", ".ttf", ".woff", ".txt",
}

// shouldSkipURL filters out proxy mirrors and static assets at ingestion
// time, before dedup and aggregation.
func shouldSkipURL(url string) bool {
	lowered := strings.ToLower(url)
	if strings.Contains(lowered, "duckduckgo.com") || strings.Contains(lowered, "r.jina.ai") {
		return true
	}
	for _, ext := range skipExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}
