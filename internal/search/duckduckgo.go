package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const duckduckgoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoBackend scrapes the HTML-only DuckDuckGo frontend. It needs no
// credentials and serves as the last-resort tier.
type DuckDuckGoBackend struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewDuckDuckGoBackend(httpClient *http.Client) *DuckDuckGoBackend {
	return &DuckDuckGoBackend{
		endpoint:   duckduckgoEndpoint,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (b *DuckDuckGoBackend) Name() string { return "duckduckgo" }

func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	if opts.Market != "" && opts.Language != "" {
		params.Set("kl", opts.Market+"-"+opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; queryforge/1.0)")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Msg: "duckduckgo request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Msg: fmt.Sprintf("duckduckgo returned status %d", resp.StatusCode)}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, &Error{Msg: "parsing duckduckgo response", Err: err}
	}

	results := parseDuckDuckGoResults(doc, query)
	if opts.Count > 0 && len(results) > opts.Count {
		results = results[:opts.Count]
	}
	return results, nil
}

// parseDuckDuckGoResults walks the parsed document collecting result anchors
// and their sibling snippets.
func parseDuckDuckGoResults(doc *html.Node, query string) []Result {
	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			link := resolveDuckDuckGoLink(attrValue(n, "href"))
			if link != "" && !shouldSkipURL(link) {
				results = append(results, Result{
					Title:       nodeText(n),
					URL:         link,
					Source:      "duckduckgo",
					SearchQuery: query,
				})
			}
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(results) > 0 {
			if last := &results[len(results)-1]; last.Snippet == "" {
				last.Snippet = nodeText(n)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return results
}

// resolveDuckDuckGoLink unwraps the /l/?uddg= redirect that the HTML
// frontend places around every external link.
func resolveDuckDuckGoLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		return href
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, candidate := range strings.Fields(attrValue(n, "class")) {
		if candidate == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
